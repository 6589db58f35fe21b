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

const checkRunName = "Fortify Security Scan"

// handleScanJob clones the repository, hands it to the scan collaborator,
// and records the findings summary. When the job carries pull request
// context a GitHub check run tracks the scan; check run failures never
// fail the scan itself.
func (r *Runner) handleScanJob(ctx context.Context, job *model.Job) (any, error) {
	data, err := job.ScanData()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid scan payload")
	}
	if err := data.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid scan payload")
	}
	logger := r.logger.With("job_id", job.ID, "repository", data.RepositoryURL)

	check := r.startCheckRun(ctx, job.ID, data)

	workspace, err := os.MkdirTemp(r.workspace, "scan-*")
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
		r.finishCheckRun(ctx, check, nil, err)
		return nil, fmt.Errorf("clone repository: %w", err)
	}

	commitSha := data.CommitSha
	if commitSha == "" {
		if head, err := repo.Head(ctx); err == nil {
			commitSha = head
		}
	}

	if err := r.checkpoint(ctx, job.ID); err != nil {
		return nil, err
	}
	report, err := r.analyzer.AnalyzeRepository(ctx, repo.Dir)
	if err != nil {
		r.finishCheckRun(ctx, check, nil, err)
		return nil, fmt.Errorf("analyze repository: %w", err)
	}

	logger.InfoContext(ctx, "scan finished",
		"findings", len(report.Findings), "commit", commitSha)
	r.finishCheckRun(ctx, check, report, nil)

	return &model.ScanResult{
		FindingsCount: len(report.Findings),
		Summary:       report.Summary,
		CommitSha:     commitSha,
	}, nil
}

// checkRunHandle carries the context needed to update one check run.
type checkRunHandle struct {
	id      int64
	repoURL string
	headSha string
	token   string
}

// startCheckRun opens an in-progress check run when the scan has pull
// request context and a usable token. Best effort; a nil handle disables
// the later update.
func (r *Runner) startCheckRun(ctx context.Context, jobID string, data *model.ScanJobData) *checkRunHandle {
	if data.PRNumber == 0 || data.CommitSha == "" {
		return nil
	}
	token, err := r.tokenFor(ctx, jobID)
	if err != nil {
		r.logger.WarnContext(ctx, "no token for check run, skipping",
			"job_id", jobID, "error", err)
		return nil
	}

	id, err := r.deliverer.CreateCheckRun(ctx, core.CheckRunSpec{
		RepoURL: data.RepositoryURL,
		Token:   token,
		Name:    checkRunName,
		HeadSha: data.CommitSha,
		Status:  "in_progress",
		Summary: "Analyzing your code for security vulnerabilities",
	})
	if err != nil {
		r.logger.WarnContext(ctx, "create check run failed",
			"job_id", jobID, "error", err)
		return nil
	}
	return &checkRunHandle{
		id:      id,
		repoURL: data.RepositoryURL,
		headSha: data.CommitSha,
		token:   token,
	}
}

// finishCheckRun closes the check run: success with no findings, failure
// with findings or a scan error.
func (r *Runner) finishCheckRun(ctx context.Context, check *checkRunHandle, report *core.ScanReport, scanErr error) {
	if check == nil {
		return
	}

	conclusion := "success"
	summary := "Your code passed all security checks"
	switch {
	case scanErr != nil:
		conclusion = "failure"
		summary = "Scan failed: " + scanErr.Error()
	case len(report.Findings) > 0:
		conclusion = "failure"
		summary = formatFindingsSummary(report)
	}

	if err := r.deliverer.UpdateCheckRun(ctx, core.CheckRunSpec{
		RepoURL:    check.repoURL,
		Token:      check.token,
		Name:       checkRunName,
		HeadSha:    check.headSha,
		Status:     "completed",
		Conclusion: conclusion,
		Summary:    summary,
		ID:         check.id,
	}); err != nil {
		r.logger.WarnContext(ctx, "update check run failed",
			"check_run_id", check.id, "error", err)
	}
}

func formatFindingsSummary(report *core.ScanReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d security issues.\n", len(report.Findings))
	for _, f := range report.Findings {
		fmt.Fprintf(&b, "\n- **%s** (%s, %s) in `%s`", f.Title, f.Severity, f.Category, f.FilePath)
		if f.StartLine > 0 {
			fmt.Fprintf(&b, " line %d", f.StartLine)
		}
	}
	if report.Summary != "" {
		fmt.Fprintf(&b, "\n\n%s", report.Summary)
	}
	return b.String()
}
