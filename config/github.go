package config

import (
	"strings"
	"time"
)

// GitHubConfig contains GitHub API client configuration.
type GitHubConfig struct {
	// BaseURL is the GitHub REST API base. Point at a GitHub Enterprise
	// instance by overriding this.
	BaseURL string `env:"API_BASE_URL" envDefault:"https://api.github.com"`

	// Token is the fallback token used when no per-tenant credential
	// is found for a repository.
	Token string `env:"TOKEN" envDefault:""`

	// APITimeout bounds a single REST call.
	APITimeout time.Duration `env:"API_TIMEOUT" envDefault:"30s"`
}

// Sanitize applies guardrails to GitHub configuration values.
func (g *GitHubConfig) Sanitize() {
	g.BaseURL = strings.TrimRight(strings.TrimSpace(g.BaseURL), "/")
	if g.BaseURL == "" {
		g.BaseURL = "https://api.github.com"
	}
	if g.APITimeout <= 0 {
		g.APITimeout = 30 * time.Second
	}
}

// WebhookConfig contains webhook ingestion configuration.
type WebhookConfig struct {
	// Secret is the shared HMAC secret used to verify X-Hub-Signature-256.
	// An empty secret disables verification: every delivery is accepted and
	// a warning is logged on each one. Set it in production.
	Secret string `env:"SECRET" envDefault:""`
}

// AIConfig contains configuration for the fix generation collaborator.
type AIConfig struct {
	// APIKey authenticates against the completion API. When empty the
	// worker falls back to placeholder fix annotations.
	APIKey string `env:"API_KEY" envDefault:""`

	// Model is the completion model used for fix generation.
	Model string `env:"MODEL" envDefault:"gpt-4o"`

	// BaseURL overrides the completion API endpoint for self-hosted
	// gateways.
	BaseURL string `env:"BASE_URL" envDefault:""`

	// Timeout bounds a single fix generation request.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"120s"`
}

// Sanitize applies guardrails to AI configuration values.
func (a *AIConfig) Sanitize() {
	if a.Model == "" {
		a.Model = "gpt-4o"
	}
	if a.Timeout <= 0 {
		a.Timeout = 120 * time.Second
	}
}
