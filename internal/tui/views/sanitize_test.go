package views

import (
	"testing"
	"time"
)

func TestSanitizeForTerminal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"skin tone", "\U0001F44D\U0001F3FB", "\U0001F44D"},
		{"zwj family", "\U0001F468\u200d\U0001F469", "\U0001F468\U0001F469"},
		{"variation selector", "\u2764\ufe0f", "\u2764"},
		{"accents kept", "olá", "olá"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeForTerminal(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCleanEscapesTags(t *testing.T) {
	if got := clean("[red]hi\nthere"); got != "[red[]hi there" {
		t.Errorf("clean = %q", got)
	}
}

func TestFormatTimestamp(t *testing.T) {
	now := time.Date(2024, 5, 1, 18, 0, 0, 0, time.Local)
	tests := []struct {
		in   time.Time
		want string
	}{
		{time.Time{}, ""},
		{time.Date(2024, 5, 1, 9, 30, 0, 0, time.Local), "09:30"},
		{time.Date(2024, 4, 30, 9, 30, 0, 0, time.Local), "04/30"},
	}
	for _, tt := range tests {
		if got := formatTimestamp(tt.in, now); got != tt.want {
			t.Errorf("formatTimestamp(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
