// Package keys maps key presses to actions, per page.
package keys

import (
	"slices"
	"strings"

	"github.com/gdamore/tcell/v2"
)

// Action is one binding. Key is tcell.KeyRune for printable keys.
type Action struct {
	Key     tcell.Key
	Rune    rune
	Hint    string
	Handler func()
}

// Matches reports whether ev triggers a.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Registry holds global and per-page bindings in registration order.
type Registry struct {
	global []*Action
	pages  map[string][]*Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pages: make(map[string][]*Action)}
}

// Global binds a for every page.
func (r *Registry) Global(a *Action) {
	r.global = append(r.global, a)
}

// Page binds a for one page. Page bindings win over global ones.
func (r *Registry) Page(page string, a *Action) {
	r.pages[page] = append(r.pages[page], a)
}

// Hints renders the visible bindings for page, page ones first.
func (r *Registry) Hints(page string) string {
	var parts []string
	for _, a := range slices.Concat(r.pages[page], r.global) {
		if a.Hint != "" {
			parts = append(parts, a.Hint)
		}
	}
	return strings.Join(parts, "  ")
}

// Handle runs the first binding matching ev. It reports whether one did.
func (r *Registry) Handle(page string, ev *tcell.EventKey) bool {
	for _, scope := range [][]*Action{r.pages[page], r.global} {
		for _, a := range scope {
			if a.Matches(ev) {
				a.Handler()
				return true
			}
		}
	}
	return false
}
