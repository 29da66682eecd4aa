package bot

import (
	"fmt"
	"strings"

	"webwatch_bot/internal/model"
)

// FormatTargetList formats a chat's tracked pages for display.
func FormatTargetList(targets []model.Target) string {
	if len(targets) == 0 {
		return "You are not tracking any URLs. Use /track <url> <minutes> to start."
	}

	var b strings.Builder
	b.WriteString("Tracked URLs:\n")
	for _, t := range targets {
		quiet := "OFF"
		if t.QuietHours {
			quiet = "ON"
		}
		fmt.Fprintf(&b, "\n%s\n   every %d min, quiet hours: %s\n", t.URL, t.IntervalMinutes, quiet)
		if t.LastCheckAt != nil {
			fmt.Fprintf(&b, "   last check: %s\n", t.LastCheckAt.Format("2006-01-02 15:04 UTC"))
		}
	}
	return b.String()
}

// FormatDocumentList formats the result of a one-shot /documents extraction.
func FormatDocumentList(files []model.ExtractedFile) string {
	if len(files) == 0 {
		return "No files found on this website."
	}

	var b strings.Builder
	b.WriteString("Files found:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "%s (%s): %s\n", f.Name, f.Type, f.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}
