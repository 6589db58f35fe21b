package ai

import (
	"fmt"
	"strings"

	"github.com/fortify-rocks/fix-agent/internal/domain/model"
)

const systemPrompt = `You are a security engineer generating minimal, targeted fixes for ` +
	`vulnerabilities in source code. Respond with a JSON object containing ` +
	`"content" (the replacement or inserted code), "summary" (one sentence on what ` +
	`changed and why), and "confidence" (0.0 to 1.0). Never change behavior beyond ` +
	`what the fix requires.`

// categoryGuidance maps vulnerability categories to fix guidance included
// in the prompt.
var categoryGuidance = map[string]string{
	"INJECTION":          "Use parameterized queries, input validation, and proper escaping",
	"AUTHENTICATION":     "Implement proper authentication checks, secure session management",
	"AUTHORIZATION":      "Add proper access controls and permission checks",
	"CRYPTOGRAPHY":       "Use secure cryptographic algorithms and proper key management",
	"DATA_EXPOSURE":      "Remove sensitive data exposure and add proper access controls",
	"BUSINESS_LOGIC":     "Fix logical flaws that could be exploited",
	"CONFIGURATION":      "Secure configuration settings and remove hardcoded secrets",
	"DEPENDENCY":         "Update vulnerable dependencies or add security patches",
	"INPUT_VALIDATION":   "Add proper input validation and sanitization",
	"OUTPUT_ENCODING":    "Implement proper output encoding to prevent XSS",
	"SESSION_MANAGEMENT": "Secure session handling and management",
}

func guidanceFor(category string) string {
	if g, ok := categoryGuidance[strings.ToUpper(category)]; ok {
		return g
	}
	return "Apply security best practices for this vulnerability type"
}

func buildUserPrompt(v model.VulnerabilityData) string {
	endLine := v.EndLine
	if endLine < v.StartLine {
		endLine = v.StartLine
	}
	snippet := v.CodeSnippet
	if snippet == "" {
		snippet = "Code snippet not available"
	}

	var b strings.Builder
	b.WriteString("Generate a precise security fix for this vulnerability.\n\n")
	fmt.Fprintf(&b, "Type: %s\nSeverity: %s\nFile: %s\nLines: %d-%d\nTitle: %s\n",
		v.Category, v.Severity, v.FilePath, v.StartLine, endLine, v.Title)
	if v.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", v.Description)
	}
	if v.Recommendation != "" {
		fmt.Fprintf(&b, "Recommendation: %s\n", v.Recommendation)
	}
	fmt.Fprintf(&b, "\nVulnerable code:\n```\n%s\n```\n", snippet)
	fmt.Fprintf(&b, "\nFocus areas for %s vulnerabilities: %s\n", v.Category, guidanceFor(v.Category))
	return b.String()
}
