// Package github implements the GitHub REST delivery client: object-level
// branch pushes, pull request creation, and check-run status reporting.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/fortify-rocks/fix-agent/config"
	"github.com/fortify-rocks/fix-agent/internal/core"
	apperrors "github.com/fortify-rocks/fix-agent/internal/errors"
)

// parentDepth bounds how many parent generations of the pushed commit get
// their commit and tree objects uploaded. Parent blobs are assumed present
// on the remote already.
const parentDepth = 5

// ClientOptions groups dependencies for Client.
type ClientOptions struct {
	Config config.GitHubConfig
	Logger *slog.Logger
}

// Client talks to the GitHub REST API. Tokens are supplied per call since
// each job carries its own tenant credential.
type Client struct {
	baseURL string
	timeout time.Duration
	logger  *slog.Logger
}

var _ core.Deliverer = (*Client)(nil)

// NewClient constructs a new Client.
func NewClient(opts ClientOptions) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(opts.Config.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	timeout := opts.Config.APITimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		timeout: timeout,
		logger:  logger.With("component", "github_client"),
	}
}

// httpFor builds a token-authenticated HTTP client for one call sequence.
func (c *Client) httpFor(ctx context.Context, token string) *http.Client {
	base := &http.Client{Timeout: c.timeout}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	client.Timeout = c.timeout
	return client
}

// doJSON issues one API request and returns the status code and raw body.
func (c *Client) doJSON(ctx context.Context, httpc *http.Client, method, url string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal %s %s: %w", method, url, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build %s %s: %w", method, url, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s %s response: %w", method, url, err)
	}
	return resp.StatusCode, raw, nil
}

// apiMessage pulls the "message" field out of an error response body.
func apiMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Message == "" {
		return strings.TrimSpace(string(body))
	}
	return payload.Message
}

var (
	httpsRepoRe = regexp.MustCompile(`^https://github\.com/([^/]+)/([^/]+?)(?:\.git)?/?$`)
	sshRepoRe   = regexp.MustCompile(`^git@github\.com:([^/]+)/([^/]+?)(?:\.git)?/?$`)
)

// ParseRepoURL extracts the owner and repository name from an HTTPS or SSH
// GitHub repository URL.
func ParseRepoURL(repoURL string) (owner, repo string, err error) {
	for _, re := range []*regexp.Regexp{httpsRepoRe, sshRepoRe} {
		if m := re.FindStringSubmatch(strings.TrimSpace(repoURL)); m != nil {
			return m[1], m[2], nil
		}
	}
	return "", "", apperrors.Validationf("unsupported repository URL %q", repoURL)
}

func (c *Client) repoEndpoint(owner, repo, path string) string {
	return fmt.Sprintf("%s/repos/%s/%s%s", c.baseURL, owner, repo, path)
}
