package views

import (
	"strings"
	"time"

	"github.com/rivo/tview"
)

// sanitizeForTerminal drops the codepoints tcell cannot lay out reliably:
// emoji skin tone modifiers, zero width joiners and variation selectors.
// A composed emoji degrades to its base glyph.
func sanitizeForTerminal(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 0x1F3FB && r <= 0x1F3FF,
			r == 0x200D,
			r >= 0xFE00 && r <= 0xFE0F,
			r >= 0xE0100 && r <= 0xE01EF:
			return -1
		}
		return r
	}, s)
}

// clean prepares untrusted text for a dynamic-color widget.
func clean(s string) string {
	return tview.Escape(sanitizeForTerminal(strings.ReplaceAll(s, "\n", " ")))
}

// formatTimestamp shows the time for today and the date otherwise.
func formatTimestamp(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	now = now.Local()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
