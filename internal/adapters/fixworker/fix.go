package fixworker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fortify-rocks/fix-agent/internal/core"
	"github.com/fortify-rocks/fix-agent/internal/domain/model"
	apperrors "github.com/fortify-rocks/fix-agent/internal/errors"
	"github.com/fortify-rocks/fix-agent/internal/gitx"
)

const (
	commitAuthorName  = "Fortify Fix Agent"
	commitAuthorEmail = "fix-agent@fortify.rocks"

	// Generated branches always live under this namespace, whatever
	// prefix the payload asks for.
	branchNamespace = "fortify/"

	shortIDLen = 8
)

// handleFixJob drives the fix pipeline: clone, generate, apply, commit,
// push, pull request. Every stage is preceded by a cancellation
// checkpoint. The workspace is removed on all exits.
func (r *Runner) handleFixJob(ctx context.Context, job *model.Job) (any, error) {
	data, err := job.FixData()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid fix payload")
	}
	if err := data.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid fix payload")
	}
	logger := r.logger.With("job_id", job.ID, "file", data.Vulnerability.FilePath)

	workspace, err := os.MkdirTemp(r.workspace, "fix-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workspace); err != nil {
			logger.Warn("failed to remove workspace", "dir", workspace, "error", err)
		}
	}()

	if err := r.checkpoint(ctx, job.ID); err != nil {
		return nil, err
	}
	cloneCtx, cancel := context.WithTimeout(ctx, r.cloneTimeout)
	repo, err := gitx.Clone(cloneCtx, data.RepositoryURL, data.Branch, filepath.Join(workspace, "repo"))
	cancel()
	if err != nil {
		return nil, fmt.Errorf("clone repository: %w", err)
	}

	if err := r.checkpoint(ctx, job.ID); err != nil {
		return nil, err
	}
	suggestion, err := r.generator.GenerateFix(ctx, core.FixRequest{
		Vulnerability: data.Vulnerability,
		WorkspaceDir:  repo.Dir,
	})
	if err != nil {
		return nil, fmt.Errorf("generate fix: %w", err)
	}

	if err := r.checkpoint(ctx, job.ID); err != nil {
		return nil, err
	}
	modified, err := applyFix(repo.Dir, data.Vulnerability, suggestion)
	if err != nil {
		return nil, fmt.Errorf("apply fix: %w", err)
	}

	if err := r.checkpoint(ctx, job.ID); err != nil {
		return nil, err
	}
	branch := data.Branch
	if data.FixOptions.CreateBranch {
		branch = fixBranchName(r.branchPrefix, data, job.ID)
		if err := repo.CheckoutNewBranch(ctx, branch); err != nil {
			return nil, fmt.Errorf("create branch: %w", err)
		}
	}
	for _, path := range modified {
		if err := repo.Add(ctx, path); err != nil {
			return nil, fmt.Errorf("stage %s: %w", path, err)
		}
	}
	if err := repo.Commit(ctx, fixCommitMessage(data.Vulnerability), commitAuthorName, commitAuthorEmail); err != nil {
		return nil, fmt.Errorf("commit fix: %w", err)
	}
	sha, err := repo.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve commit sha: %w", err)
	}

	if err := r.checkpoint(ctx, job.ID); err != nil {
		return nil, err
	}
	token, err := r.tokenFor(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if err := r.deliverer.PushBranch(ctx, core.PushRequest{
		RepoDir:   repo.Dir,
		RepoURL:   data.RepositoryURL,
		Branch:    branch,
		CommitSha: sha,
		Token:     token,
	}); err != nil {
		return nil, fmt.Errorf("push branch: %w", err)
	}

	result := &model.FixResult{
		Success:       true,
		BranchName:    branch,
		CommitSha:     sha,
		FilesModified: modified,
		FixApplied:    suggestion.Summary,
		Confidence:    suggestion.Confidence,
	}

	if data.FixOptions.CreatePullRequest {
		if err := r.checkpoint(ctx, job.ID); err != nil {
			return nil, err
		}
		pr, err := r.deliverer.CreatePullRequest(ctx, core.PullRequestSpec{
			RepoURL: data.RepositoryURL,
			Token:   token,
			Title:   pullRequestTitle(data),
			Body:    pullRequestBody(data, job.ID),
			Head:    branch,
			Base:    data.Branch,
		})
		if err != nil {
			return nil, fmt.Errorf("create pull request: %w", err)
		}
		result.PullRequestURL = pr.HTMLURL
		result.PullRequestID = pr.Number
		logger.InfoContext(ctx, "pull request opened", "pr", pr.Number, "url", pr.HTMLURL)
	}

	return result, nil
}

// applyFix materializes the suggestion in the working tree. A collaborator
// that wrote files is trusted; otherwise the fix content is inserted
// directly above the reported vulnerable line.
func applyFix(repoDir string, vuln model.VulnerabilityData, suggestion *core.FixSuggestion) ([]string, error) {
	if suggestion.WroteFiles {
		if len(suggestion.FilesModified) == 0 {
			return nil, fmt.Errorf("collaborator reported writes but listed no files")
		}
		return suggestion.FilesModified, nil
	}
	if suggestion.Content == "" {
		return nil, fmt.Errorf("empty fix content for %s", vuln.FilePath)
	}

	target := filepath.Join(repoDir, filepath.FromSlash(vuln.FilePath))
	original, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", vuln.FilePath, err)
	}

	lines := strings.Split(string(original), "\n")
	at := vuln.StartLine - 1
	if at < 0 || at >= len(lines) {
		return nil, fmt.Errorf("line %d out of range for %s (%d lines)",
			vuln.StartLine, vuln.FilePath, len(lines))
	}

	insert := strings.Split(strings.TrimRight(suggestion.Content, "\n"), "\n")
	patched := make([]string, 0, len(lines)+len(insert))
	patched = append(patched, lines[:at]...)
	patched = append(patched, insert...)
	patched = append(patched, lines[at:]...)

	if err := os.WriteFile(target, []byte(strings.Join(patched, "\n")), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", vuln.FilePath, err)
	}
	return []string{vuln.FilePath}, nil
}

// fixBranchName builds {prefix}/{category}-{file}-{jobid8}, forcing the
// prefix under the fortify/ namespace so generated branches are always
// recognizable and safe to prune.
func fixBranchName(defaultPrefix string, data *model.FixJobData, jobID string) string {
	prefix := data.FixOptions.BranchPrefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	if !strings.HasPrefix(prefix, branchNamespace) {
		prefix = branchNamespace + prefix
	}

	category := strings.ToLower(data.Vulnerability.Category)
	if category == "" {
		category = "security"
	}
	file := strings.ReplaceAll(filepath.Base(data.Vulnerability.FilePath), ".", "-")

	return fmt.Sprintf("%s/%s-%s-%s", prefix, category, file, shortID(jobID))
}

func shortID(id string) string {
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}
	return id
}

func fixCommitMessage(vuln model.VulnerabilityData) string {
	return fmt.Sprintf(
		"Fix: %s\n\nAutomatically generated fix for %s severity %s vulnerability.\n\nFixed by Fortify Fix Agent",
		vuln.Title, vuln.Severity, vuln.Category)
}

func pullRequestTitle(data *model.FixJobData) string {
	if data.FixOptions.PRTitle != "" {
		return data.FixOptions.PRTitle
	}
	return "Fix: " + data.Vulnerability.Title
}

func pullRequestBody(data *model.FixJobData, jobID string) string {
	if data.FixOptions.PRDescription != "" {
		return data.FixOptions.PRDescription
	}
	vuln := data.Vulnerability
	return fmt.Sprintf(`## Security Fix: %s Vulnerability

**Vulnerability Details:**
- **Severity:** %s
- **Category:** %s
- **File:** `+"`%s`"+`
- **Line:** %d

**Description:**
%s

**Fix Applied:**
This pull request contains an automated fix generated by Fortify's security remediation system.

**Verification:**
Please review the changes and run your test suite to ensure the fix doesn't break existing functionality.

---

*This pull request was automatically generated by [Fortify Fix Agent](https://fortify.rocks)*
*Fix Job ID: `+"`%s`"+`*
`, vuln.Category, vuln.Severity, vuln.Category, vuln.FilePath, vuln.StartLine, vuln.Description, jobID)
}
