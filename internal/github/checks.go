package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fortify-rocks/fix-agent/internal/core"
	apperrors "github.com/fortify-rocks/fix-agent/internal/errors"
)

func checkRunPayload(spec core.CheckRunSpec) map[string]any {
	payload := map[string]any{
		"name":   spec.Name,
		"status": spec.Status,
	}
	if spec.HeadSha != "" {
		payload["head_sha"] = spec.HeadSha
	}
	if spec.Conclusion != "" {
		payload["conclusion"] = spec.Conclusion
	}
	if spec.Summary != "" {
		payload["output"] = map[string]string{
			"title":   spec.Name,
			"summary": spec.Summary,
		}
	}
	return payload
}

// CreateCheckRun creates a check run against the head commit and returns
// its id for later updates.
func (c *Client) CreateCheckRun(ctx context.Context, spec core.CheckRunSpec) (int64, error) {
	if spec.Token == "" {
		return 0, apperrors.Unauthorized("no access token for check run")
	}
	owner, repo, err := ParseRepoURL(spec.RepoURL)
	if err != nil {
		return 0, err
	}

	httpc := c.httpFor(ctx, spec.Token)
	status, body, err := c.doJSON(ctx, httpc, http.MethodPost,
		c.repoEndpoint(owner, repo, "/check-runs"), checkRunPayload(spec))
	if err != nil {
		return 0, err
	}
	if status != http.StatusCreated {
		return 0, apperrors.Internalf("create check run: status %d: %s", status, apiMessage(body))
	}

	var created struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return 0, fmt.Errorf("decode check run response: %w", err)
	}
	return created.ID, nil
}

// UpdateCheckRun advances the status or conclusion of an existing check run.
func (c *Client) UpdateCheckRun(ctx context.Context, spec core.CheckRunSpec) error {
	if spec.Token == "" {
		return apperrors.Unauthorized("no access token for check run")
	}
	owner, repo, err := ParseRepoURL(spec.RepoURL)
	if err != nil {
		return err
	}

	httpc := c.httpFor(ctx, spec.Token)
	url := c.repoEndpoint(owner, repo, fmt.Sprintf("/check-runs/%d", spec.ID))
	status, body, err := c.doJSON(ctx, httpc, http.MethodPatch, url, checkRunPayload(spec))
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return apperrors.Internalf("update check run %d: status %d: %s", spec.ID, status, apiMessage(body))
	}
	return nil
}
