package keys

import (
	"testing"

	"github.com/gdamore/tcell/v2"
)

func TestHandlePrefersPageBindings(t *testing.T) {
	r := NewRegistry()
	var got []string
	r.Global(&Action{Key: tcell.KeyRune, Rune: 'q', Hint: "q:quit", Handler: func() { got = append(got, "quit") }})
	r.Global(&Action{Key: tcell.KeyRune, Rune: 'd', Handler: func() { got = append(got, "global-d") }})
	r.Page("thread", &Action{Key: tcell.KeyRune, Rune: 'd', Hint: "d:delete", Handler: func() { got = append(got, "delete") }})
	r.Page("thread", &Action{Key: tcell.KeyCtrlR, Hint: "^R:retry", Handler: func() { got = append(got, "retry") }})

	tests := []struct {
		page string
		ev   *tcell.EventKey
		want bool
	}{
		{"thread", tcell.NewEventKey(tcell.KeyRune, 'd', tcell.ModNone), true},
		{"list", tcell.NewEventKey(tcell.KeyRune, 'd', tcell.ModNone), true},
		{"thread", tcell.NewEventKey(tcell.KeyCtrlR, 0, tcell.ModCtrl), true},
		{"list", tcell.NewEventKey(tcell.KeyCtrlR, 0, tcell.ModCtrl), false},
		{"list", tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone), false},
		{"list", tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone), true},
	}
	for _, tt := range tests {
		if handled := r.Handle(tt.page, tt.ev); handled != tt.want {
			t.Errorf("Handle(%s, %v) = %v, want %v", tt.page, tt.ev.Name(), handled, tt.want)
		}
	}
	want := []string{"delete", "global-d", "retry", "quit"}
	if len(got) != len(want) {
		t.Fatalf("ran %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ran[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHints(t *testing.T) {
	r := NewRegistry()
	r.Global(&Action{Key: tcell.KeyRune, Rune: 'q', Hint: "q:quit", Handler: func() {}})
	r.Global(&Action{Key: tcell.KeyRune, Rune: 'z', Handler: func() {}})
	r.Page("list", &Action{Key: tcell.KeyEnter, Hint: "⏎:open", Handler: func() {}})

	if got := r.Hints("list"); got != "⏎:open  q:quit" {
		t.Errorf("Hints(list) = %q", got)
	}
	if got := r.Hints("other"); got != "q:quit" {
		t.Errorf("Hints(other) = %q", got)
	}
}
