package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := Save(path, &Config{DefaultProfile: "work"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load("/nonexistent/config.toml"); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := Save(path, &Config{DefaultProfile: "main"}); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestLoadProfileAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.toml")
	body := `
[server]
base_url = "https://chat.example.com/api"

[auth]
token = "tok"

[messaging]
send_timeout = "3s"
reconnect_attempts = 0
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	p, err := LoadProfile(path)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		got  any
		want any
	}{
		{"send_timeout", p.Messaging.SendTimeout.Duration, 3 * time.Second},
		{"reconnect_attempts", p.Messaging.ReconnectAttempts, 5},
		{"reconnect_delay", p.Messaging.ReconnectDelay.Duration, time.Second},
		{"match_window", p.Messaging.MatchWindow.Duration, 5 * time.Second},
		{"token", p.Auth.Token, "tok"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadProfileMissingFileIsDefaults(t *testing.T) {
	p, err := LoadProfile(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if p.Messaging.SendTimeout.Duration != 10*time.Second {
		t.Errorf("send_timeout = %v", p.Messaging.SendTimeout)
	}
	if err := p.Validate(); err == nil {
		t.Error("Validate() should require base_url")
	}
}

func TestLoadProfileRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.toml")
	if err := os.WriteFile(path, []byte("[messaging]\nsend_timeout = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProfile(path); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestProfileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.toml")
	in := Defaults()
	in.Server.BaseURL = "http://localhost:8080"
	in.Auth = Auth{Token: "t", UserID: "u1", Name: "Ana"}
	if err := SaveProfile(path, &in); err != nil {
		t.Fatal(err)
	}
	out, err := LoadProfile(path)
	if err != nil {
		t.Fatal(err)
	}
	if *out != in {
		t.Errorf("round trip = %+v, want %+v", *out, in)
	}
}

func TestPushURL(t *testing.T) {
	tests := []struct {
		base, socket string
		want         string
		wantErr      bool
	}{
		{"http://localhost:8080/api", "", "ws://localhost:8080/ws", false},
		{"https://chat.example.com/api?x=1", "", "wss://chat.example.com/ws", false},
		{"http://x", "ws://push.example.com/socket", "ws://push.example.com/socket", false},
		{"ftp://x", "", "", true},
	}
	for _, tt := range tests {
		p := Profile{Server: Server{BaseURL: tt.base, SocketURL: tt.socket}}
		got, err := p.PushURL()
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("PushURL(%q, %q) = %q, %v", tt.base, tt.socket, got, err)
		}
	}
}
