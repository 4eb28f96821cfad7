package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/glide/internal/api"
	"github.com/matheus3301/glide/internal/model"
	"github.com/matheus3301/glide/internal/tui/ui"
)

// ConversationList is the table of conversations, most recent first.
type ConversationList struct {
	*tview.Table
	theme   *ui.Theme
	convs   []api.Conversation
	visible []api.Conversation
	filter  string
	now     func() time.Time
}

// NewConversationList creates an empty list.
func NewConversationList(theme *ui.Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.Border)
	table.SetBackgroundColor(theme.Bg)
	table.SetTitleColor(theme.Title)
	table.SetSelectedStyle(tcell.StyleDefault.Foreground(theme.CursorFg).Background(theme.CursorBg))
	return &ConversationList{Table: table, theme: theme, now: time.Now}
}

// Update replaces the rows, keeping the cursor on the same conversation
// when it is still listed.
func (cl *ConversationList) Update(convs []api.Conversation) {
	keep := cl.Selected()
	cl.convs = convs
	cl.render()
	for i, c := range cl.visible {
		if c.ID == keep {
			cl.Select(i+1, 0)
			return
		}
	}
}

// SetFilter shows only conversations whose partner or preview contains
// filter. An empty filter shows everything.
func (cl *ConversationList) SetFilter(filter string) {
	cl.filter = filter
	cl.render()
}

func (cl *ConversationList) render() {
	cl.Clear()
	for col, h := range []string{" NAME", " LAST MESSAGE", " TIME"} {
		cl.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(cl.theme.HeaderFg).
			SetAttributes(tcell.AttrBold).
			SetExpansion([]int{1, 2, 0}[col]))
	}

	cl.visible = cl.visible[:0]
	now := cl.now()
	for _, c := range cl.convs {
		name := partnerName(c)
		if cl.filter != "" && !containsFold(name, cl.filter) && !containsFold(c.LastMessage.Content, cl.filter) {
			continue
		}
		cl.visible = append(cl.visible, c)
		row := len(cl.visible)

		color := cl.theme.Fg
		if c.ID == model.BroadcastConversationID {
			color = cl.theme.Broadcast
			name = "# " + name
		}
		if c.UnreadCount > 0 {
			name = fmt.Sprintf("(%d) %s", c.UnreadCount, name)
		}
		cl.SetCell(row, 0, tview.NewTableCell(" "+clean(name)).SetExpansion(1).SetTextColor(color))
		cl.SetCell(row, 1, tview.NewTableCell(" "+clean(preview(c.LastMessage))).SetExpansion(2).SetTextColor(cl.theme.Fg))
		cl.SetCell(row, 2, tview.NewTableCell(formatTimestamp(c.LastActivityAt, now)+" ").SetAlign(tview.AlignRight).SetTextColor(cl.theme.Muted))
	}

	if cl.filter != "" {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d/%d) /%s ", len(cl.visible), len(cl.convs), cl.filter))
	} else {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d) ", len(cl.convs)))
	}
}

// Selected returns the id under the cursor, or "".
func (cl *ConversationList) Selected() string {
	row, _ := cl.GetSelection()
	return cl.At(row)
}

// At returns the id of the Nth visible conversation (1-based), or "".
func (cl *ConversationList) At(n int) string {
	if n < 1 || n > len(cl.visible) {
		return ""
	}
	return cl.visible[n-1].ID
}

func partnerName(c api.Conversation) string {
	if c.Partner.Name != "" {
		return c.Partner.Name
	}
	return c.Partner.ID
}

func preview(p api.Preview) string {
	switch {
	case p.ID == "":
		return ""
	case p.Kind == model.Sticker.String():
		return "[sticker] " + p.Content
	case p.Content == "":
		return "message deleted"
	}
	return p.Content
}
