// Package extract turns raw model output into the persisted bug report body.
package extract

import (
	"regexp"
	"strings"

	"github.com/screenbug/backend/internal/models"
)

// FooterHeading opens the provenance section appended to every report.
const FooterHeading = "### Attachment: Screen Recording"

// severityPattern matches "Severity: Major", "**Severity**: critical", "severity - minor" and similar.
var severityPattern = regexp.MustCompile(`(?i)severity\W*(critical|major|minor)\b`)

// Result is the extracted report body.
type Result struct {
	Severity models.Severity
	Markdown string
}

// Severity returns the first severity token found in text, or Minor when none is present.
func Severity(text string) models.Severity {
	m := severityPattern.FindStringSubmatch(text)
	if m == nil {
		return models.SeverityMinor
	}
	sev, ok := models.ParseSeverity(m[1])
	if !ok {
		return models.SeverityMinor
	}
	return sev
}

// Footer returns the markdown footer linking back to the recording.
func Footer(publicURL string) string {
	return "\n\n---\n" + FooterHeading + "\n[View Original Recording](" + publicURL + ")"
}

// Extract classifies text and appends the recording footer. It has no side effects.
func Extract(text, publicURL string) Result {
	return Result{
		Severity: Severity(text),
		Markdown: text + Footer(publicURL),
	}
}

// Title returns the report title for a recording title, falling back to the default.
func Title(recordingTitle *string) string {
	if recordingTitle == nil || strings.TrimSpace(*recordingTitle) == "" {
		return models.DefaultReportTitle
	}
	return strings.TrimSpace(*recordingTitle)
}
