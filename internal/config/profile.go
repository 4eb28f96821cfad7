package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/BurntSushi/toml"
)

// Profile is one profile.toml.
type Profile struct {
	Server    Server    `toml:"server"`
	Auth      Auth      `toml:"auth"`
	Messaging Messaging `toml:"messaging"`
}

// Server locates the messaging backend.
type Server struct {
	// BaseURL is the REST API root.
	BaseURL string `toml:"base_url"`
	// SocketURL is the push channel endpoint. Derived from BaseURL when empty.
	SocketURL string `toml:"socket_url"`
}

// Auth is the identity the daemon signs in as. With only a token set the
// identity is resolved through the API.
type Auth struct {
	Token  string `toml:"token"`
	UserID string `toml:"user_id"`
	Name   string `toml:"name"`
	Avatar string `toml:"avatar"`
}

// Messaging tunes the messaging core.
type Messaging struct {
	SendTimeout       Duration `toml:"send_timeout"`
	ReconnectAttempts int      `toml:"reconnect_attempts"`
	ReconnectDelay    Duration `toml:"reconnect_delay"`
	MatchWindow       Duration `toml:"match_window"`
	HistoryTimeout    Duration `toml:"history_timeout"`
}

// Duration is a time.Duration written as a string such as "10s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Profile with every messaging knob set.
func Defaults() Profile {
	return Profile{
		Messaging: Messaging{
			SendTimeout:       Duration{10 * time.Second},
			ReconnectAttempts: 5,
			ReconnectDelay:    Duration{time.Second},
			MatchWindow:       Duration{5 * time.Second},
			HistoryTimeout:    Duration{15 * time.Second},
		},
	}
}

// LoadProfile reads path over the defaults. A missing file yields the
// defaults.
func LoadProfile(path string) (*Profile, error) {
	p := Defaults()
	if _, err := toml.DecodeFile(path, &p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load profile %s: %w", path, err)
	}
	p.fill()
	return &p, nil
}

// SaveProfile writes p to path.
func SaveProfile(path string, p *Profile) error {
	return write(path, p)
}

// fill restores defaults for explicitly zeroed knobs.
func (p *Profile) fill() {
	d := Defaults().Messaging
	m := &p.Messaging
	if m.SendTimeout.Duration <= 0 {
		m.SendTimeout = d.SendTimeout
	}
	if m.ReconnectAttempts <= 0 {
		m.ReconnectAttempts = d.ReconnectAttempts
	}
	if m.ReconnectDelay.Duration <= 0 {
		m.ReconnectDelay = d.ReconnectDelay
	}
	if m.MatchWindow.Duration <= 0 {
		m.MatchWindow = d.MatchWindow
	}
	if m.HistoryTimeout.Duration <= 0 {
		m.HistoryTimeout = d.HistoryTimeout
	}
}

// Validate checks the fields the daemon cannot run without.
func (p *Profile) Validate() error {
	if p.Server.BaseURL == "" {
		return errors.New("server.base_url is required")
	}
	if _, err := url.Parse(p.Server.BaseURL); err != nil {
		return fmt.Errorf("server.base_url: %w", err)
	}
	if _, err := p.PushURL(); err != nil {
		return err
	}
	return nil
}

// PushURL returns the push channel endpoint: socket_url, or base_url with
// its scheme switched to ws(s) and "/ws" as path.
func (p *Profile) PushURL() (string, error) {
	if p.Server.SocketURL != "" {
		return p.Server.SocketURL, nil
	}
	u, err := url.Parse(p.Server.BaseURL)
	if err != nil {
		return "", fmt.Errorf("server.base_url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("server.base_url: unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String(), nil
}
