package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func lockPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "profiles", "main", "LOCK")
}

func TestAcquireAndRelease(t *testing.T) {
	path := lockPath(t)

	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if got := Holder(path); got != os.Getpid() {
		t.Errorf("Holder() = %d, want %d", got, os.Getpid())
	}
	if err := l.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("lock file left behind: %v", err)
	}
}

func TestDoubleAcquireFails(t *testing.T) {
	path := lockPath(t)

	l1, err := Acquire(path)
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(path)
	var held *LockHeldError
	if !errors.As(err, &held) {
		t.Fatalf("expected LockHeldError, got %T: %v", err, err)
	}
	if held.PID != os.Getpid() || held.Path != path {
		t.Errorf("held = %+v", held)
	}
}

func TestReleaseNilAndTwice(t *testing.T) {
	var nilLock *Lock
	if err := nilLock.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}

	l, err := Acquire(lockPath(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("first Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}

func TestParsePID(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"pid=42\ntime=now\n", 42},
		{"time=now\npid=7", 7},
		{"", 0},
		{"pid=abc", 0},
	}
	for _, tt := range tests {
		if got := parsePID(tt.in); got != tt.want {
			t.Errorf("parsePID(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
