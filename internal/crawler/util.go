package crawler

import (
	"regexp"
	"strings"
)

const maxFilenameComponent = 80

var (
	nonWordRun    = regexp.MustCompile(`[^A-Za-z0-9_]+`)
	underscoreRun = regexp.MustCompile(`_+`)
)

// sanitizeFilenameComponent reduces free text to [A-Za-z0-9_], at most 80
// characters, falling back to "data" when nothing survives.
func sanitizeFilenameComponent(value string) string {
	out := nonWordRun.ReplaceAllString(value, "_")
	out = underscoreRun.ReplaceAllString(out, "_")
	out = strings.Trim(out, "_")
	if len(out) > maxFilenameComponent {
		out = out[:maxFilenameComponent]
	}
	if out == "" {
		return "data"
	}
	return out
}
