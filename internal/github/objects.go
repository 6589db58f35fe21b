package github

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/fortify-rocks/fix-agent/internal/gitx"
)

// uploadPlan is the set of object SHAs to materialize on the remote for one
// push, grouped by type so they can go up in dependency order.
type uploadPlan struct {
	Blobs   []string
	Trees   []string
	Commits []string
}

func (p *uploadPlan) total() int {
	return len(p.Blobs) + len(p.Trees) + len(p.Commits)
}

// buildUploadPlan walks the local object graph from the pushed commit: every
// blob under its tree, the tree and commit themselves, and the commits and
// trees of up to parentDepth parent generations. Parent blobs are skipped.
func buildUploadPlan(ctx context.Context, repo *gitx.Repo, commitSHA, treeSHA string) (*uploadPlan, error) {
	plan := &uploadPlan{
		Trees:   []string{treeSHA},
		Commits: []string{commitSHA},
	}

	blobs, err := repo.TreeBlobs(ctx, treeSHA)
	if err != nil {
		return nil, err
	}
	plan.Blobs = dedupe(blobs)

	parents, err := repo.RecentParents(ctx, commitSHA, parentDepth)
	if err != nil {
		return nil, err
	}
	for _, parent := range parents {
		plan.Commits = append(plan.Commits, parent)
		// A shallow clone usually lacks parent objects entirely.
		tree, err := repo.TreeOfCommit(ctx, parent)
		if err != nil {
			continue
		}
		plan.Trees = append(plan.Trees, tree)
	}
	plan.Trees = dedupe(plan.Trees)
	plan.Commits = dedupe(plan.Commits)
	return plan, nil
}

func dedupe(shas []string) []string {
	seen := make(map[string]struct{}, len(shas))
	out := shas[:0]
	for _, sha := range shas {
		if _, ok := seen[sha]; ok {
			continue
		}
		seen[sha] = struct{}{}
		out = append(out, sha)
	}
	return out
}

// uploadObjects sends the plan in strict dependency order: blobs, then
// trees, then commits. Individual failures are logged and skipped rather
// than aborting the batch; the later ref update surfaces anything that
// truly went missing.
func (c *Client) uploadObjects(ctx context.Context, httpc *http.Client, owner, repo string, local *gitx.Repo, plan *uploadPlan) {
	failed := 0
	for _, sha := range plan.Blobs {
		if !c.uploadObject(ctx, httpc, owner, repo, local, sha) {
			failed++
		}
	}
	for _, sha := range plan.Trees {
		if !c.uploadObject(ctx, httpc, owner, repo, local, sha) {
			failed++
		}
	}
	for _, sha := range plan.Commits {
		if !c.uploadObject(ctx, httpc, owner, repo, local, sha) {
			failed++
		}
	}

	c.logger.InfoContext(ctx, "git object upload finished",
		"repository", owner+"/"+repo,
		"total", plan.total(),
		"failed", failed)
}

// uploadObject sends one object. Objects missing locally are treated as
// already satisfied remotely, as are remote conflicts on existing SHAs.
func (c *Client) uploadObject(ctx context.Context, httpc *http.Client, owner, repo string, local *gitx.Repo, sha string) bool {
	objType, exists, err := local.ObjectType(ctx, sha)
	if err != nil {
		c.logger.WarnContext(ctx, "object type lookup failed", "sha", short(sha), "error", err)
		return false
	}
	if !exists {
		return true
	}

	content, err := local.ObjectContent(ctx, sha)
	if err != nil {
		c.logger.WarnContext(ctx, "object read failed", "sha", short(sha), "error", err)
		return true
	}

	switch objType {
	case "blob":
		return c.uploadBlob(ctx, httpc, owner, repo, content, sha)
	case "tree":
		return c.uploadTree(ctx, httpc, owner, repo, content, sha)
	case "commit":
		return c.uploadCommit(ctx, httpc, owner, repo, content, sha)
	default:
		c.logger.WarnContext(ctx, "skipping unknown object type", "sha", short(sha), "type", objType)
		return true
	}
}

func (c *Client) uploadBlob(ctx context.Context, httpc *http.Client, owner, repo, content, sha string) bool {
	payload := map[string]string{
		"content":  base64.StdEncoding.EncodeToString([]byte(content)),
		"encoding": "base64",
	}
	return c.postObject(ctx, httpc, owner, repo, "/git/blobs", payload, "blob", sha)
}

func (c *Client) uploadTree(ctx context.Context, httpc *http.Client, owner, repo, content, sha string) bool {
	entries := gitx.ParseTree(content)
	tree := make([]map[string]string, 0, len(entries))
	for _, entry := range entries {
		tree = append(tree, map[string]string{
			"path": entry.Path,
			"mode": entry.Mode,
			"type": entry.Type,
			"sha":  entry.SHA,
		})
	}
	return c.postObject(ctx, httpc, owner, repo, "/git/trees", map[string]any{"tree": tree}, "tree", sha)
}

func (c *Client) uploadCommit(ctx context.Context, httpc *http.Client, owner, repo, content, sha string) bool {
	commit, err := gitx.ParseCommit(content)
	if err != nil {
		c.logger.WarnContext(ctx, "commit parse failed", "sha", short(sha), "error", err)
		return true
	}
	parents := commit.Parents
	if parents == nil {
		parents = []string{}
	}
	payload := map[string]any{
		"message":   commit.Message,
		"tree":      commit.Tree,
		"parents":   parents,
		"author":    signaturePayload(commit.Author),
		"committer": signaturePayload(commit.Committer),
	}
	return c.postObject(ctx, httpc, owner, repo, "/git/commits", payload, "commit", sha)
}

func (c *Client) postObject(ctx context.Context, httpc *http.Client, owner, repo, path string, payload any, kind, sha string) bool {
	status, body, err := c.doJSON(ctx, httpc, http.MethodPost, c.repoEndpoint(owner, repo, path), payload)
	if err != nil {
		c.logger.WarnContext(ctx, "object upload failed", "kind", kind, "sha", short(sha), "error", err)
		return false
	}
	switch {
	case status == http.StatusCreated:
		return true
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		// Already present remotely.
		return true
	default:
		c.logger.WarnContext(ctx, "object upload rejected",
			"kind", kind, "sha", short(sha), "status", status, "message", apiMessage(body))
		return false
	}
}

func signaturePayload(sig gitx.Signature) map[string]string {
	name := sig.Name
	email := sig.Email
	if name == "" {
		name = "Fortify Fix Agent"
		email = "fix-agent@fortify.rocks"
	}
	return map[string]string{
		"name":  name,
		"email": email,
		"date":  sig.Date.UTC().Format(time.RFC3339),
	}
}

func short(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
