// Package ui holds the widgets shared by the TUI views.
package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

// Theme holds the TUI colors.
type Theme struct {
	Bg        tcell.Color
	Fg        tcell.Color
	Border    tcell.Color
	Title     tcell.Color
	HeaderFg  tcell.Color
	CursorFg  tcell.Color
	CursorBg  tcell.Color
	Key       tcell.Color
	Own       tcell.Color
	Muted     tcell.Color
	Pending   tcell.Color
	Failed    tcell.Color
	Good      tcell.Color
	Warn      tcell.Color
	Broadcast tcell.Color
}

// DefaultTheme returns the dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		Bg:        tcell.ColorBlack,
		Fg:        tcell.ColorCadetBlue,
		Border:    tcell.ColorDodgerBlue,
		Title:     tcell.ColorFuchsia,
		HeaderFg:  tcell.ColorWhite,
		CursorFg:  tcell.ColorBlack,
		CursorBg:  tcell.ColorAqua,
		Key:       tcell.ColorDodgerBlue,
		Own:       tcell.ColorLightSkyBlue,
		Muted:     tcell.ColorGray,
		Pending:   tcell.ColorNavajoWhite,
		Failed:    tcell.ColorOrangeRed,
		Good:      tcell.ColorLimeGreen,
		Warn:      tcell.ColorOrange,
		Broadcast: tcell.ColorPapayaWhip,
	}
}

// Tag returns the tview color tag for c.
func Tag(c tcell.Color) string {
	return fmt.Sprintf("[#%06x]", c.Hex())
}
