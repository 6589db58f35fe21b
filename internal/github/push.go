package github

import (
	"context"
	"fmt"
	"strings"

	"github.com/fortify-rocks/fix-agent/internal/core"
	apperrors "github.com/fortify-rocks/fix-agent/internal/errors"
	"github.com/fortify-rocks/fix-agent/internal/gitx"
)

// PushBranch materializes the branch on the remote without a credentialed
// local remote: it uploads the commit's object graph through the REST API
// and then creates or force-updates the branch reference. If any of that
// fails outright it falls back to a native push with a token-embedded
// remote URL.
func (c *Client) PushBranch(ctx context.Context, req core.PushRequest) error {
	if req.Token == "" {
		return apperrors.Unauthorized("no access token for push")
	}
	owner, repo, err := ParseRepoURL(req.RepoURL)
	if err != nil {
		return err
	}
	local := &gitx.Repo{Dir: req.RepoDir}

	commitSHA := req.CommitSha
	if commitSHA == "" {
		commitSHA, err = local.Head(ctx)
		if err != nil {
			return fmt.Errorf("resolve head: %w", err)
		}
	}

	if err := c.pushViaAPI(ctx, local, owner, repo, req.Branch, commitSHA, req.Token); err != nil {
		c.logger.WarnContext(ctx, "object-level push failed, falling back to native push",
			"branch", req.Branch, "error", err)
		return c.nativePush(ctx, local, owner, repo, req.Branch, req.Token)
	}
	return nil
}

func (c *Client) pushViaAPI(ctx context.Context, local *gitx.Repo, owner, repo, branch, commitSHA, token string) error {
	treeSHA, err := local.TreeOfCommit(ctx, commitSHA)
	if err != nil {
		return fmt.Errorf("resolve commit tree: %w", err)
	}

	plan, err := buildUploadPlan(ctx, local, commitSHA, treeSHA)
	if err != nil {
		return fmt.Errorf("build upload plan: %w", err)
	}

	httpc := c.httpFor(ctx, token)
	c.logger.InfoContext(ctx, "uploading git objects",
		"repository", owner+"/"+repo,
		"blobs", len(plan.Blobs),
		"trees", len(plan.Trees),
		"commits", len(plan.Commits))
	c.uploadObjects(ctx, httpc, owner, repo, local, plan)

	return c.createOrUpdateRef(ctx, httpc, owner, repo, branch, commitSHA)
}

// nativePush embeds the token in the origin URL just long enough to push,
// then restores the original URL on every path so the token never lands in
// the persisted git configuration.
func (c *Client) nativePush(ctx context.Context, local *gitx.Repo, owner, repo, branch, token string) error {
	originalURL, err := local.RemoteURL(ctx)
	if err != nil {
		return fmt.Errorf("read remote url: %w", err)
	}
	authURL := fmt.Sprintf("https://%s@github.com/%s/%s.git", token, owner, repo)
	if err := local.SetRemoteURL(ctx, authURL); err != nil {
		return redactToken(fmt.Errorf("set remote url: %w", err), token)
	}

	pushErr := local.Push(ctx, branch)

	// Restore even when the push failed; use a fresh context so shutdown
	// cannot leave the token behind.
	restoreCtx := ctx
	if restoreCtx.Err() != nil {
		restoreCtx = context.WithoutCancel(ctx)
	}
	if err := local.SetRemoteURL(restoreCtx, originalURL); err != nil {
		c.logger.WarnContext(ctx, "failed to restore original remote url", "error", redactToken(err, token))
	}

	if pushErr != nil {
		return redactToken(fmt.Errorf("native push %s: %w", branch, pushErr), token)
	}
	c.logger.InfoContext(ctx, "pushed branch via native git", "branch", branch)
	return nil
}

// redactToken scrubs the access token from error text before it can reach
// logs or job records.
func redactToken(err error, token string) error {
	if err == nil || token == "" {
		return err
	}
	msg := strings.ReplaceAll(err.Error(), token, "****")
	if msg == err.Error() {
		return err
	}
	return fmt.Errorf("%s", msg)
}
