package ui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// PromptMode says what the prompt's input means.
type PromptMode int

const (
	PromptCommand PromptMode = iota
	PromptFilter
)

// Prompt is the one-line command and filter bar.
type Prompt struct {
	*tview.InputField
	mode     PromptMode
	onSubmit func(mode PromptMode, text string)
	onCancel func()
}

// NewPrompt creates a hidden-by-default prompt.
func NewPrompt(theme *Theme) *Prompt {
	input := tview.NewInputField()
	input.SetBorder(true)
	input.SetBorderColor(theme.Border)
	input.SetBackgroundColor(theme.Bg)
	input.SetFieldBackgroundColor(theme.Bg)
	input.SetFieldTextColor(theme.Fg)
	input.SetLabelColor(theme.Key)

	p := &Prompt{InputField: input}
	input.SetDoneFunc(func(key tcell.Key) {
		text := p.GetText()
		p.SetText("")
		switch key {
		case tcell.KeyEnter:
			if p.onSubmit != nil {
				p.onSubmit(p.mode, text)
			}
		case tcell.KeyEscape:
			if p.onCancel != nil {
				p.onCancel()
			}
		}
	})
	return p
}

// SetOnSubmit sets the Enter callback. A filter may be submitted empty to
// clear it.
func (p *Prompt) SetOnSubmit(fn func(mode PromptMode, text string)) { p.onSubmit = fn }

// SetOnCancel sets the Esc callback.
func (p *Prompt) SetOnCancel(fn func()) { p.onCancel = fn }

// Activate switches the prompt to mode and clears it.
func (p *Prompt) Activate(mode PromptMode) {
	p.mode = mode
	p.SetText("")
	if mode == PromptFilter {
		p.SetLabel("/")
		p.SetTitle(" Filter ")
		return
	}
	p.SetLabel(":")
	p.SetTitle(" Command ")
}
