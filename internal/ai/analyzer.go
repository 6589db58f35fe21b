package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fortify-rocks/fix-agent/internal/core"
	"github.com/fortify-rocks/fix-agent/internal/domain/model"
)

const scanSystemPrompt = `You are a security engineer auditing a code base. You are given a ` +
	`sample of source files from a repository. Respond with a JSON object containing ` +
	`"findings" (an array of objects with "title", "filePath", "startLine", "severity", ` +
	`"category", "description" and "recommendation") and "summary" (one paragraph on ` +
	`the overall security posture). Report only concrete, evidenced vulnerabilities.`

const (
	maxAnalyzedFiles    = 40
	maxPreviewBytes     = 4096
	maxScanOutputTokens = 4096
)

// Directories that never contain first-party source worth scanning.
var skippedDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	"vendor":       {},
	"dist":         {},
	"build":        {},
	"target":       {},
}

var sourceExtensions = map[string]struct{}{
	".go": {}, ".py": {}, ".js": {}, ".jsx": {}, ".ts": {}, ".tsx": {},
	".java": {}, ".rb": {}, ".php": {}, ".cs": {}, ".c": {}, ".cc": {},
	".cpp": {}, ".h": {}, ".rs": {}, ".sql": {}, ".sh": {}, ".yaml": {},
	".yml": {}, ".tf": {},
}

// Analyzer audits a cloned repository through an OpenAI-compatible chat
// completion endpoint. Only a bounded sample of files is sent.
type Analyzer struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

var _ core.ScanAnalyzer = (*Analyzer)(nil)

// NewAnalyzer constructs an Analyzer sharing the generator configuration.
func NewAnalyzer(opts GeneratorOptions) (*Analyzer, error) {
	if opts.Config.APIKey == "" {
		return nil, errors.New("ai analyzer: api key is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		client: openai.NewClientWithConfig(clientConfig(opts.Config)),
		model:  opts.Config.Model,
		logger: logger.With("component", "scan_analyzer"),
	}, nil
}

type scanPayload struct {
	Findings []scanFinding `json:"findings"`
	Summary  string        `json:"summary"`
}

type scanFinding struct {
	Title          string `json:"title"`
	FilePath       string `json:"filePath"`
	StartLine      int    `json:"startLine"`
	Severity       string `json:"severity"`
	Category       string `json:"category"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation"`
}

// AnalyzeRepository samples source files from dir and asks the model for a
// findings report.
func (a *Analyzer) AnalyzeRepository(ctx context.Context, dir string) (*core.ScanReport, error) {
	files, err := collectSources(dir)
	if err != nil {
		return nil, fmt.Errorf("collect sources: %w", err)
	}
	if len(files) == 0 {
		return &core.ScanReport{Summary: "No source files found to analyze"}, nil
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     a.model,
		MaxTokens: maxScanOutputTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: scanSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildScanPrompt(files)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("scan completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("scan completion returned no choices")
	}

	var payload scanPayload
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &payload); err != nil {
		return nil, fmt.Errorf("decode scan report: %w", err)
	}

	report := &core.ScanReport{Summary: payload.Summary}
	for _, f := range payload.Findings {
		report.Findings = append(report.Findings, f.toModel())
	}
	if report.Summary == "" {
		report.Summary = fmt.Sprintf("Found %d vulnerabilities", len(report.Findings))
	}

	a.logger.InfoContext(ctx, "repository analyzed",
		"files_sampled", len(files), "findings", len(report.Findings))
	return report, nil
}

// PlaceholderAnalyzer reports zero findings with a file-count summary when
// no AI backend is configured.
type PlaceholderAnalyzer struct{}

var _ core.ScanAnalyzer = PlaceholderAnalyzer{}

// NewPlaceholderAnalyzer constructs the placeholder analyzer.
func NewPlaceholderAnalyzer() PlaceholderAnalyzer {
	return PlaceholderAnalyzer{}
}

// AnalyzeRepository counts source files and records that no automated
// analysis ran.
func (PlaceholderAnalyzer) AnalyzeRepository(_ context.Context, dir string) (*core.ScanReport, error) {
	files, err := collectSources(dir)
	if err != nil {
		return nil, fmt.Errorf("collect sources: %w", err)
	}
	return &core.ScanReport{
		Summary: fmt.Sprintf(
			"Reviewed %d source files; no automated analysis available, manual review recommended",
			len(files)),
	}, nil
}

type fallbackAnalyzer struct {
	primary  core.ScanAnalyzer
	fallback core.ScanAnalyzer
	logger   *slog.Logger
}

// WithAnalyzerFallback wraps primary so that any analysis failure degrades
// to fallback. A nil primary uses fallback directly.
func WithAnalyzerFallback(primary, fallback core.ScanAnalyzer, logger *slog.Logger) core.ScanAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if primary == nil {
		return fallback
	}
	return &fallbackAnalyzer{primary: primary, fallback: fallback, logger: logger}
}

func (f *fallbackAnalyzer) AnalyzeRepository(ctx context.Context, dir string) (*core.ScanReport, error) {
	report, err := f.primary.AnalyzeRepository(ctx, dir)
	if err == nil {
		return report, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	f.logger.WarnContext(ctx, "repository analysis failed, using placeholder", "error", err)
	return f.fallback.AnalyzeRepository(ctx, dir)
}

type sourceFile struct {
	path    string
	preview string
}

// collectSources walks dir for source files, returning a bounded sample
// with truncated previews. Paths are relative to dir and sorted for
// deterministic prompts.
func collectSources(dir string) ([]sourceFile, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if _, skip := skippedDirs[d.Name()]; skip {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := sourceExtensions[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	if len(paths) > maxAnalyzedFiles {
		paths = paths[:maxAnalyzedFiles]
	}

	files := make([]sourceFile, 0, len(paths))
	for _, rel := range paths {
		content, err := os.ReadFile(filepath.Join(dir, rel))
		if err != nil {
			continue
		}
		if len(content) > maxPreviewBytes {
			content = content[:maxPreviewBytes]
		}
		files = append(files, sourceFile{path: rel, preview: string(content)})
	}
	return files, nil
}

func buildScanPrompt(files []sourceFile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Audit the following %d source files for security vulnerabilities.\n", len(files))
	for _, f := range files {
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", f.path, f.preview)
	}
	return b.String()
}

func (f scanFinding) toModel() model.VulnerabilityData {
	return model.VulnerabilityData{
		Title:          f.Title,
		FilePath:       f.FilePath,
		StartLine:      f.StartLine,
		Severity:       f.Severity,
		Category:       f.Category,
		Description:    f.Description,
		Recommendation: f.Recommendation,
	}
}
