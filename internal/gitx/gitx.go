// Package gitx wraps the git binary for the small set of local repository
// operations the fix pipeline needs: cloning, branching, committing, and
// reading loose objects for the REST push path.
package gitx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// git exits 128 when asked about an object it does not have. Shallow
// clones hit this constantly.
const missingObjectExitCode = 128

// Repo is a local working copy rooted at Dir.
type Repo struct {
	Dir string
}

// Clone makes a shallow single-branch clone of url at branch into dest.
// The caller bounds the wait through ctx.
func Clone(ctx context.Context, url, branch, dest string) (*Repo, error) {
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", "--branch", branch, url, dest)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("clone %s: %w", url, ctx.Err())
		}
		return nil, fmt.Errorf("clone %s: %w: %s", url, err, strings.TrimSpace(stderr.String()))
	}
	return &Repo{Dir: dest}, nil
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// CheckoutNewBranch creates and checks out a branch at the current HEAD.
func (r *Repo) CheckoutNewBranch(ctx context.Context, name string) error {
	_, err := r.run(ctx, "checkout", "-b", name)
	return err
}

// Add stages one path.
func (r *Repo) Add(ctx context.Context, path string) error {
	_, err := r.run(ctx, "add", path)
	return err
}

// Commit records the staged changes. Author identity comes from -c flags so
// commits work in clones with no configured user.
func (r *Repo) Commit(ctx context.Context, message, authorName, authorEmail string) error {
	_, err := r.run(ctx,
		"-c", "user.name="+authorName,
		"-c", "user.email="+authorEmail,
		"commit", "-m", message)
	return err
}

// Head returns the SHA of the current commit.
func (r *Repo) Head(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ObjectType returns the type of a loose object. The second return value is
// false when the object is absent locally, which a shallow clone makes
// routine rather than exceptional.
func (r *Repo) ObjectType(ctx context.Context, sha string) (string, bool, error) {
	out, err := r.run(ctx, "cat-file", "-t", sha)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == missingObjectExitCode {
			return "", false, nil
		}
		return "", false, err
	}
	return strings.TrimSpace(out), true, nil
}

// ObjectContent returns the pretty-printed content of an object.
func (r *Repo) ObjectContent(ctx context.Context, sha string) (string, error) {
	return r.run(ctx, "cat-file", "-p", sha)
}

// TreeBlobs returns every blob SHA referenced recursively by the tree.
func (r *Repo) TreeBlobs(ctx context.Context, treeSHA string) ([]string, error) {
	out, err := r.run(ctx, "ls-tree", "-r", treeSHA)
	if err != nil {
		return nil, err
	}
	var blobs []string
	for _, entry := range ParseTree(out) {
		if entry.Type == "blob" {
			blobs = append(blobs, entry.SHA)
		}
	}
	return blobs, nil
}

// RecentParents returns the parent commit SHAs reachable from commitSHA
// within the given number of generations, excluding commitSHA itself.
func (r *Repo) RecentParents(ctx context.Context, commitSHA string, generations int) ([]string, error) {
	out, err := r.run(ctx, "rev-list", "--parents", "-n", fmt.Sprint(generations), commitSHA)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{commitSHA: {}}
	var parents []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		for _, sha := range fields[1:] {
			if _, ok := seen[sha]; ok {
				continue
			}
			seen[sha] = struct{}{}
			parents = append(parents, sha)
		}
	}
	return parents, nil
}

// TreeOfCommit reads the tree SHA out of a commit object.
func (r *Repo) TreeOfCommit(ctx context.Context, commitSHA string) (string, error) {
	content, err := r.ObjectContent(ctx, commitSHA)
	if err != nil {
		return "", err
	}
	commit, err := ParseCommit(content)
	if err != nil {
		return "", fmt.Errorf("commit %s: %w", commitSHA, err)
	}
	return commit.Tree, nil
}

// RemoteURL returns the fetch URL of the origin remote.
func (r *Repo) RemoteURL(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "remote", "get-url", "origin")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// SetRemoteURL rewrites the origin remote URL.
func (r *Repo) SetRemoteURL(ctx context.Context, url string) error {
	_, err := r.run(ctx, "remote", "set-url", "origin", url)
	return err
}

// Push pushes one branch to origin. Output stays captured so credentialed
// remote URLs never reach the logs.
func (r *Repo) Push(ctx context.Context, branch string) error {
	_, err := r.run(ctx, "push", "origin", branch)
	return err
}
