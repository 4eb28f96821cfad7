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

// MessageThread shows one conversation with a composer underneath.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	banner   *tview.TextView
	table    *tview.Table
	composer *tview.InputField
	msgs     []api.Message
	onSend   func(text string)
	now      func() time.Time
}

// NewMessageThread creates an empty thread.
func NewMessageThread(theme *ui.Theme) *MessageThread {
	banner := tview.NewTextView().SetDynamicColors(true)
	banner.SetBackgroundColor(theme.Bg)

	table := tview.NewTable().SetSelectable(true, false)
	table.SetBorder(true)
	table.SetBorderColor(theme.Border)
	table.SetBackgroundColor(theme.Bg)
	table.SetTitleColor(theme.Title)
	table.SetSelectedStyle(tcell.StyleDefault.Foreground(theme.CursorFg).Background(theme.CursorBg))

	composer := tview.NewInputField().SetLabel(" > ").SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.Border)
	composer.SetBackgroundColor(theme.Bg)
	composer.SetFieldBackgroundColor(theme.Bg)
	composer.SetFieldTextColor(theme.Fg)
	composer.SetLabelColor(theme.Key)
	composer.SetTitle(" i:compose  :sticker <name> ")
	composer.SetTitleColor(theme.Muted)

	mt := &MessageThread{
		theme:    theme,
		banner:   banner,
		table:    table,
		composer: composer,
		now:      time.Now,
	}
	mt.Flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(banner, 0, 0, false).
		AddItem(table, 0, 1, true).
		AddItem(composer, 3, 0, false)

	composer.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || mt.onSend == nil {
			return
		}
		if text := composer.GetText(); text != "" {
			mt.onSend(text)
			composer.SetText("")
		}
	})
	return mt
}

// SetOnSend sets the callback for composed text.
func (mt *MessageThread) SetOnSend(fn func(text string)) { mt.onSend = fn }

// SetName titles the thread.
func (mt *MessageThread) SetName(name string) {
	mt.table.SetTitle(fmt.Sprintf(" %s ", clean(name)))
}

// Update redraws msgs, oldest first, following the newest one unless the
// cursor was moved up. A pane error is shown above the messages.
func (mt *MessageThread) Update(msgs []api.Message, self, paneError string) {
	row, _ := mt.table.GetSelection()
	follow := row >= len(mt.msgs)-1

	mt.msgs = msgs
	mt.table.Clear()
	now := mt.now()
	for i, m := range msgs {
		l := describe(m, self)
		color := mt.theme.Fg
		switch {
		case l.failed:
			color = mt.theme.Failed
		case l.pending:
			color = mt.theme.Pending
		case l.deleted:
			color = mt.theme.Muted
		case l.own:
			color = mt.theme.Own
		}
		mt.table.SetCell(i, 0, tview.NewTableCell(formatTimestamp(m.CreatedAt, now)).SetTextColor(mt.theme.Muted))
		mt.table.SetCell(i, 1, tview.NewTableCell(clean(l.sender)).SetTextColor(color).SetAttributes(tcell.AttrBold))
		mt.table.SetCell(i, 2, tview.NewTableCell(clean(l.body)).SetTextColor(color).SetExpansion(1))
	}
	if follow && len(msgs) > 0 {
		mt.table.Select(len(msgs)-1, 0)
		mt.table.ScrollToEnd()
	}

	mt.banner.Clear()
	if paneError == "" {
		mt.ResizeItem(mt.banner, 0, 0)
		return
	}
	mt.ResizeItem(mt.banner, 1, 0)
	_, _ = fmt.Fprintf(mt.banner, " %s%s[-]  (:reload to try again)", ui.Tag(mt.theme.Failed), clean("history unavailable: "+paneError))
}

// Selected returns the message under the cursor.
func (mt *MessageThread) Selected() (api.Message, bool) {
	row, _ := mt.table.GetSelection()
	if row < 0 || row >= len(mt.msgs) {
		return api.Message{}, false
	}
	return mt.msgs[row], true
}

// Table returns the message table, for focus.
func (mt *MessageThread) Table() *tview.Table { return mt.table }

// Composer returns the input field, for focus.
func (mt *MessageThread) Composer() *tview.InputField { return mt.composer }

// line is how one message reads in the thread.
type line struct {
	sender  string
	body    string
	own     bool
	pending bool
	failed  bool
	deleted bool
}

func describe(m api.Message, self string) line {
	l := line{sender: m.SenderID, body: m.Content, own: m.SenderID == self}
	if l.own {
		l.sender = "You"
	}
	if m.Kind == model.Sticker.String() {
		l.body = "[sticker] " + l.body
	}
	switch m.State {
	case model.Pending.String():
		l.pending = true
		l.body += " …"
	case model.Failed.String():
		l.failed = true
		reason := m.FailureReason
		if reason == "" {
			reason = "not delivered"
		}
		l.body += " ! " + reason + " (r to retry)"
	case model.Deleted.String():
		l.deleted = true
		l.body = "message deleted"
	}
	return l
}
