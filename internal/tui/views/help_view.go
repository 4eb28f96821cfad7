package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/matheus3301/glide/internal/tui/ui"
)

// HelpView lists keys and commands.
type HelpView struct {
	*tview.TextView
}

type helpEntry struct{ key, what string }

var helpSections = []struct {
	title   string
	entries []helpEntry
}{
	{"Global", []helpEntry{
		{":", "command mode"}, {"/", "filter conversations"}, {"n", "find people"},
		{"?", "this help"}, {"Esc", "back"}, {"q", "quit"},
	}},
	{"Conversations", []helpEntry{
		{"Enter", "open"}, {"1-9", "open the Nth"}, {"D", "delete conversation"},
	}},
	{"Thread", []helpEntry{
		{"i", "compose"}, {"r", "retry failed message"}, {"x", "delete message"},
	}},
	{"Commands", []helpEntry{
		{":chat <user>", "search and open a chat"}, {":reconnect", "retry the push channel"},
		{":reload", "reload the open conversation"}, {":login <token>", "sign in"},
		{":logout", "sign out"}, {":quit", "quit"},
	}},
}

// NewHelpView creates the help page.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().SetDynamicColors(true).SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.Border)
	tv.SetBackgroundColor(theme.Bg)
	tv.SetTextColor(theme.Fg)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.Title)

	var b strings.Builder
	key := ui.Tag(theme.Key)
	for _, s := range helpSections {
		fmt.Fprintf(&b, "\n  [::b]%s[-:-:-]\n\n", s.title)
		for _, e := range s.entries {
			fmt.Fprintf(&b, "  %s%-16s[-] %s\n", key, tview.Escape(e.key), e.what)
		}
	}
	_, _ = fmt.Fprint(tv, b.String())
	return &HelpView{TextView: tv}
}
