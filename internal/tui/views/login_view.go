package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/glide/internal/tui/ui"
)

// LoginView asks for a bearer token when the daemon is signed out.
type LoginView struct {
	*tview.Flex
	theme   *ui.Theme
	message *tview.TextView
	token   *tview.InputField
}

// NewLoginView creates the login page.
func NewLoginView(theme *ui.Theme) *LoginView {
	message := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	message.SetBackgroundColor(theme.Bg)

	token := tview.NewInputField().
		SetLabel(" Token: ").
		SetFieldWidth(0).
		SetMaskCharacter('*')
	token.SetBorder(true)
	token.SetBorderColor(theme.Border)
	token.SetBackgroundColor(theme.Bg)
	token.SetFieldBackgroundColor(theme.Bg)
	token.SetFieldTextColor(theme.Fg)
	token.SetLabelColor(theme.Key)

	lv := &LoginView{theme: theme, message: message, token: token}
	lv.Flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(message, 0, 1, false).
		AddItem(token, 3, 0, true)
	lv.Flex.SetBorder(true)
	lv.Flex.SetBorderColor(theme.Border)
	lv.Flex.SetTitle(" Sign in ")
	lv.Flex.SetTitleColor(theme.Title)
	lv.ShowMessage("Not signed in. Paste an API token and press Enter.")
	return lv
}

// SetOnSubmit calls fn with the entered token.
func (lv *LoginView) SetOnSubmit(fn func(token string)) {
	lv.token.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		if t := lv.token.GetText(); t != "" {
			lv.token.SetText("")
			fn(t)
		}
	})
}

// ShowMessage replaces the text above the token field.
func (lv *LoginView) ShowMessage(msg string) {
	lv.message.Clear()
	_, _ = fmt.Fprintf(lv.message, "\n\n%s", clean(msg))
}

// ShowError reports a failed sign-in.
func (lv *LoginView) ShowError(err error) {
	lv.message.Clear()
	_, _ = fmt.Fprintf(lv.message, "\n\n%s%s[-]", ui.Tag(lv.theme.Failed), clean("Sign-in failed: "+err.Error()))
}

// Input returns the token field, for focus.
func (lv *LoginView) Input() *tview.InputField { return lv.token }
