package testutil

import (
	"encoding/json"
	"fmt"

	"github.com/fortify-rocks/fix-agent/internal/domain/model"
)

// FixJobDataBuilder provides a fluent interface for building fix job
// payloads for testing.
type FixJobDataBuilder struct {
	data model.FixJobData
}

// NewFixJobData creates a builder with sensible defaults.
func NewFixJobData() *FixJobDataBuilder {
	return &FixJobDataBuilder{
		data: model.FixJobData{
			VulnerabilityID: "vuln-1",
			RepositoryURL:   "https://github.com/acme/app.git",
			Branch:          "main",
			Vulnerability: model.VulnerabilityData{
				Title:          "SQL Injection",
				FilePath:       "src/db/query.js",
				StartLine:      42,
				EndLine:        42,
				CodeSnippet:    `db.query("SELECT * FROM users WHERE id = " + id)`,
				Severity:       "HIGH",
				Category:       "injection",
				Description:    "User input concatenated into a SQL statement",
				Recommendation: "Use parameterized queries",
			},
			FixOptions: model.FixOptions{
				CreateBranch:      true,
				BranchPrefix:      "fix",
				CreatePullRequest: true,
				PRTitle:           "Fix SQL injection in query.js",
				PRDescription:     "Replaces string concatenation with a parameterized query.",
			},
		},
	}
}

// WithRepository sets the repository URL.
func (b *FixJobDataBuilder) WithRepository(url string) *FixJobDataBuilder {
	b.data.RepositoryURL = url
	return b
}

// WithBranch sets the source branch.
func (b *FixJobDataBuilder) WithBranch(branch string) *FixJobDataBuilder {
	b.data.Branch = branch
	return b
}

// WithFilePath sets the vulnerable file path.
func (b *FixJobDataBuilder) WithFilePath(path string) *FixJobDataBuilder {
	b.data.Vulnerability.FilePath = path
	return b
}

// WithCategory sets the vulnerability category.
func (b *FixJobDataBuilder) WithCategory(category string) *FixJobDataBuilder {
	b.data.Vulnerability.Category = category
	return b
}

// WithStartLine sets the vulnerable line number.
func (b *FixJobDataBuilder) WithStartLine(line int) *FixJobDataBuilder {
	b.data.Vulnerability.StartLine = line
	return b
}

// WithPullRequest toggles PR creation.
func (b *FixJobDataBuilder) WithPullRequest(create bool) *FixJobDataBuilder {
	b.data.FixOptions.CreatePullRequest = create
	return b
}

// Build returns the payload struct.
func (b *FixJobDataBuilder) Build() model.FixJobData {
	return b.data
}

// BuildJSON returns the payload marshaled for a CreateJobRequest.
func (b *FixJobDataBuilder) BuildJSON() json.RawMessage {
	raw, err := json.Marshal(b.data)
	if err != nil {
		panic(fmt.Sprintf("marshal fix job data: %v", err))
	}
	return raw
}

// BuildRequest wraps the payload in a CreateJobRequest.
func (b *FixJobDataBuilder) BuildRequest() *model.CreateJobRequest {
	return &model.CreateJobRequest{
		Type:    model.JobTypeFixVulnerability,
		Payload: b.BuildJSON(),
	}
}

// ScanJobRequest returns a minimal valid scan_repository CreateJobRequest.
func ScanJobRequest(repoURL string) *model.CreateJobRequest {
	payload, err := json.Marshal(model.ScanJobData{RepositoryURL: repoURL, Branch: "main"})
	if err != nil {
		panic(fmt.Sprintf("marshal scan job data: %v", err))
	}
	return &model.CreateJobRequest{
		Type:    model.JobTypeScanRepository,
		Payload: payload,
	}
}
