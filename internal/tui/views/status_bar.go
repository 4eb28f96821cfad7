package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/glide/internal/api"
	"github.com/matheus3301/glide/internal/conn"
	"github.com/matheus3301/glide/internal/tui/model"
	"github.com/matheus3301/glide/internal/tui/ui"
)

// StatusBar is the bottom line: profile, identity, connection, flash and
// key hints.
type StatusBar struct {
	*tview.TextView
	theme *ui.Theme
}

// NewStatusBar creates the status bar.
func NewStatusBar(theme *ui.Theme) *StatusBar {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)
	return &StatusBar{TextView: tv, theme: theme}
}

// Render redraws the bar.
func (sb *StatusBar) Render(st api.StatusResponse, flash string, level model.Level, hints string) {
	sb.Clear()
	who := ui.Tag(sb.theme.Muted) + "signed out[-]"
	if st.Identity != nil {
		name := st.Identity.Name
		if name == "" {
			name = st.Identity.ID
		}
		who = clean(name)
	}
	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s | %s%s[-]", clean(st.Profile), who, ui.Tag(sb.connColor(st.Connection)), st.Connection)
	if flash != "" {
		color := sb.theme.Pending
		if level == model.LevelError {
			color = sb.theme.Failed
		}
		line += fmt.Sprintf(" | %s%s[-]", ui.Tag(color), clean(flash))
	} else if hints != "" {
		line += " | " + ui.Tag(sb.theme.Muted) + tview.Escape(hints) + "[-]"
	}
	_, _ = fmt.Fprint(sb, line)
}

func (sb *StatusBar) connColor(state string) tcell.Color {
	switch conn.State(state) {
	case conn.Connected:
		return sb.theme.Good
	case conn.Connecting, conn.Reconnecting:
		return sb.theme.Warn
	case conn.Failed:
		return sb.theme.Failed
	}
	return sb.theme.Muted
}
