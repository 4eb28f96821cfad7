package model

import (
	"sync"
	"time"
)

// Level grades a flash message.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

const (
	infoTTL  = 3 * time.Second
	errorTTL = 6 * time.Second
)

// Flash holds one transient notification.
type Flash struct {
	mu      sync.RWMutex
	now     func() time.Time
	message string
	level   Level
	expires time.Time
}

func (f *Flash) clock() time.Time {
	if f.now != nil {
		return f.now()
	}
	return time.Now()
}

// Set stores msg at level until d elapses.
func (f *Flash) Set(level Level, msg string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.message = msg
	f.level = level
	f.expires = f.clock().Add(d)
}

// Info flashes msg briefly.
func (f *Flash) Info(msg string) { f.Set(LevelInfo, msg, infoTTL) }

// Error flashes err prefixed with what failed.
func (f *Flash) Error(what string, err error) {
	f.Set(LevelError, what+": "+err.Error(), errorTTL)
}

// Get returns the current message, or "" once it expired.
func (f *Flash) Get() (string, Level) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.message == "" || f.clock().After(f.expires) {
		return "", LevelInfo
	}
	return f.message, f.level
}
