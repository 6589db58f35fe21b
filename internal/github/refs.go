package github

import (
	"context"
	"net/http"

	apperrors "github.com/fortify-rocks/fix-agent/internal/errors"
)

// createOrUpdateRef points refs/heads/<branch> at commitSHA. An existing
// reference is force-updated; the fix branch is always replaceable.
func (c *Client) createOrUpdateRef(ctx context.Context, httpc *http.Client, owner, repo, branch, commitSHA string) error {
	payload := map[string]string{
		"ref": "refs/heads/" + branch,
		"sha": commitSHA,
	}
	status, body, err := c.doJSON(ctx, httpc, http.MethodPost, c.repoEndpoint(owner, repo, "/git/refs"), payload)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusCreated:
		c.logger.InfoContext(ctx, "created branch reference", "branch", branch)
		return nil
	case http.StatusUnprocessableEntity, http.StatusConflict:
		return c.forceUpdateRef(ctx, httpc, owner, repo, branch, commitSHA)
	default:
		return apperrors.Internalf("create ref %s: status %d: %s", branch, status, apiMessage(body))
	}
}

func (c *Client) forceUpdateRef(ctx context.Context, httpc *http.Client, owner, repo, branch, commitSHA string) error {
	payload := map[string]any{
		"sha":   commitSHA,
		"force": true,
	}
	url := c.repoEndpoint(owner, repo, "/git/refs/heads/"+branch)
	status, body, err := c.doJSON(ctx, httpc, http.MethodPatch, url, payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return apperrors.Internalf("update ref %s: status %d: %s", branch, status, apiMessage(body))
	}
	c.logger.InfoContext(ctx, "force-updated branch reference", "branch", branch)
	return nil
}
