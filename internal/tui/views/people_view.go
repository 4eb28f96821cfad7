package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/glide/internal/model"
	"github.com/matheus3301/glide/internal/tui/ui"
)

// PeopleView searches the user directory to start a chat.
type PeopleView struct {
	*tview.Flex
	theme   *ui.Theme
	input   *tview.InputField
	results *tview.Table
	users   []model.Identity
}

// NewPeopleView creates the search page.
func NewPeopleView(theme *ui.Theme) *PeopleView {
	input := tview.NewInputField().SetLabel(" Find: ").SetFieldWidth(0)
	input.SetBackgroundColor(theme.Bg)
	input.SetFieldBackgroundColor(theme.Bg)
	input.SetFieldTextColor(theme.Fg)
	input.SetLabelColor(theme.Key)

	results := tview.NewTable().SetSelectable(true, false).SetFixed(1, 0)
	results.SetBorder(true)
	results.SetBorderColor(theme.Border)
	results.SetBackgroundColor(theme.Bg)
	results.SetTitle(" People ")
	results.SetTitleColor(theme.Title)
	results.SetSelectedStyle(tcell.StyleDefault.Foreground(theme.CursorFg).Background(theme.CursorBg))

	return &PeopleView{
		Flex: tview.NewFlex().
			SetDirection(tview.FlexRow).
			AddItem(input, 1, 0, true).
			AddItem(results, 0, 1, false),
		theme:   theme,
		input:   input,
		results: results,
	}
}

// SetOnQuery calls fn with the term when Enter is pressed in the input.
func (pv *PeopleView) SetOnQuery(fn func(term string)) {
	pv.input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			fn(pv.input.GetText())
		}
	})
}

// SetOnPick calls fn with the user chosen from the results.
func (pv *PeopleView) SetOnPick(fn func(u model.Identity)) {
	pv.results.SetSelectedFunc(func(row, _ int) {
		if row >= 1 && row <= len(pv.users) {
			fn(pv.users[row-1])
		}
	})
}

// Update shows users.
func (pv *PeopleView) Update(users []model.Identity) {
	pv.users = users
	pv.results.Clear()
	for col, h := range []string{" NAME", " ID"} {
		pv.results.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(pv.theme.HeaderFg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(1))
	}
	for i, u := range users {
		pv.results.SetCell(i+1, 0, tview.NewTableCell(" "+clean(u.Name)).SetTextColor(pv.theme.Fg).SetExpansion(1))
		pv.results.SetCell(i+1, 1, tview.NewTableCell(" "+clean(u.ID)).SetTextColor(pv.theme.Muted).SetExpansion(1))
	}
	if len(users) > 0 {
		pv.results.Select(1, 0)
	}
}

// Input returns the search field, for focus.
func (pv *PeopleView) Input() *tview.InputField { return pv.input }

// Results returns the result table, for focus.
func (pv *PeopleView) Results() *tview.Table { return pv.results }
