package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a deterministic Clock. Time only moves when Advance is called.
//
// AfterFunc callbacks run synchronously inside Advance, in deadline order.
// Callbacks must not call Advance themselves.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter
	changed *sync.Cond
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
	fn       func()
	done     bool
}

// NewFake returns a Fake clock set to start.
func NewFake(start time.Time) *Fake {
	f := &Fake{now: start}
	f.changed = sync.NewCond(&f.mu)
	return f
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- f.now
		return ch
	}
	f.add(&waiter{deadline: f.now.Add(d), ch: ch})
	return ch
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	w := &waiter{deadline: f.now.Add(d), fn: fn}
	if d <= 0 {
		w.done = true
		f.mu.Unlock()
		fn()
		return &fakeTimer{f: f, w: w}
	}
	f.add(w)
	f.mu.Unlock()
	return &fakeTimer{f: f, w: w}
}

// add must be called with f.mu held.
func (f *Fake) add(w *waiter) {
	f.waiters = append(f.waiters, w)
	f.changed.Broadcast()
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline has been reached.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	target := f.now
	var due, rest []*waiter
	for _, w := range f.waiters {
		switch {
		case w.done:
		case !w.deadline.After(target):
			w.done = true
			due = append(due, w)
		default:
			rest = append(rest, w)
		}
	}
	f.waiters = rest
	f.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	for _, w := range due {
		if w.fn != nil {
			w.fn()
			continue
		}
		select {
		case w.ch <- target:
		default:
		}
	}
}

// WaitForTimers blocks until at least n waiters are pending. It closes the
// race between a goroutine arming a timer and the test advancing time.
func (f *Fake) WaitForTimers(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.pending() < n {
		f.changed.Wait()
	}
}

// Pending returns the number of armed waiters.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending()
}

func (f *Fake) pending() int {
	n := 0
	for _, w := range f.waiters {
		if !w.done {
			n++
		}
	}
	return n
}

type fakeTimer struct {
	f *Fake
	w *waiter
}

func (t *fakeTimer) Stop() bool {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	if t.w.done {
		return false
	}
	t.w.done = true
	t.f.changed.Broadcast()
	return true
}
