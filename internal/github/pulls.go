package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fortify-rocks/fix-agent/internal/core"
	apperrors "github.com/fortify-rocks/fix-agent/internal/errors"
)

// CreatePullRequest opens a pull request from spec.Head into spec.Base.
func (c *Client) CreatePullRequest(ctx context.Context, spec core.PullRequestSpec) (*core.PullRequest, error) {
	if spec.Token == "" {
		return nil, apperrors.Unauthorized("no access token for pull request")
	}
	owner, repo, err := ParseRepoURL(spec.RepoURL)
	if err != nil {
		return nil, err
	}

	payload := map[string]string{
		"title": spec.Title,
		"body":  spec.Body,
		"head":  spec.Head,
		"base":  spec.Base,
	}
	httpc := c.httpFor(ctx, spec.Token)
	status, body, err := c.doJSON(ctx, httpc, http.MethodPost, c.repoEndpoint(owner, repo, "/pulls"), payload)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, apperrors.Internalf("create pull request: status %d: %s", status, apiMessage(body))
	}

	var created struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("decode pull request response: %w", err)
	}
	c.logger.InfoContext(ctx, "created pull request",
		"repository", owner+"/"+repo,
		"number", created.Number,
		"url", created.HTMLURL)
	return &core.PullRequest{Number: created.Number, HTMLURL: created.HTMLURL}, nil
}
