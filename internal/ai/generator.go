// Package ai implements the external fix-generation collaborator: an
// OpenAI-compatible chat completion client plus a deterministic placeholder
// used when no backend is configured or a request fails.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fortify-rocks/fix-agent/config"
	"github.com/fortify-rocks/fix-agent/internal/core"
)

const maxCompletionTokens = 2048

// Generator produces fixes through an OpenAI-compatible chat completion
// endpoint.
type Generator struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

var _ core.FixGenerator = (*Generator)(nil)

// GeneratorOptions groups dependencies for Generator.
type GeneratorOptions struct {
	Config config.AIConfig
	Logger *slog.Logger
}

// NewGenerator constructs a Generator. An empty API key is an error; use
// NewPlaceholder (or WithFallback) when no backend is configured.
func NewGenerator(opts GeneratorOptions) (*Generator, error) {
	if opts.Config.APIKey == "" {
		return nil, errors.New("ai generator: api key is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Generator{
		client: openai.NewClientWithConfig(clientConfig(opts.Config)),
		model:  opts.Config.Model,
		logger: logger.With("component", "fix_generator"),
	}, nil
}

// clientConfig builds the completion client configuration. The HTTP client
// timeout bounds every request, including calls made with no context
// deadline.
func clientConfig(cfg config.AIConfig) openai.ClientConfig {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	c.HTTPClient = &http.Client{Timeout: timeout}
	return c
}

// suggestionPayload is the JSON shape the model is asked to return.
type suggestionPayload struct {
	Content    string  `json:"content"`
	Summary    string  `json:"summary"`
	Confidence float64 `json:"confidence"`
}

// GenerateFix asks the model for a minimal fix to the vulnerability.
func (g *Generator) GenerateFix(ctx context.Context, req core.FixRequest) (*core.FixSuggestion, error) {
	completion := openai.ChatCompletionRequest{
		Model: g.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(req.Vulnerability)},
		},
		MaxTokens: maxCompletionTokens,
	}

	resp, err := g.client.CreateChatCompletion(ctx, completion)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	var payload suggestionPayload
	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decode fix suggestion: %w", err)
	}
	if payload.Content == "" {
		return nil, errors.New("fix suggestion has no content")
	}
	if payload.Confidence <= 0 || payload.Confidence > 1 {
		payload.Confidence = 0.5
	}

	g.logger.DebugContext(ctx, "fix suggestion generated",
		"file", req.Vulnerability.FilePath,
		"confidence", payload.Confidence)
	return &core.FixSuggestion{
		Content:    payload.Content,
		Summary:    payload.Summary,
		Confidence: payload.Confidence,
	}, nil
}

// fallbackGenerator tries the primary generator and degrades to the
// fallback on failure, so the pipeline keeps producing demonstrable fixes
// even with no AI backend reachable.
type fallbackGenerator struct {
	primary  core.FixGenerator
	fallback core.FixGenerator
	logger   *slog.Logger
}

// WithFallback wraps primary so that any generation failure degrades to
// fallback. A nil primary uses fallback directly.
func WithFallback(primary, fallback core.FixGenerator, logger *slog.Logger) core.FixGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	if primary == nil {
		return fallback
	}
	return &fallbackGenerator{primary: primary, fallback: fallback, logger: logger}
}

func (f *fallbackGenerator) GenerateFix(ctx context.Context, req core.FixRequest) (*core.FixSuggestion, error) {
	suggestion, err := f.primary.GenerateFix(ctx, req)
	if err == nil {
		return suggestion, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	f.logger.WarnContext(ctx, "fix generation failed, using placeholder",
		"file", req.Vulnerability.FilePath, "error", err)
	return f.fallback.GenerateFix(ctx, req)
}
