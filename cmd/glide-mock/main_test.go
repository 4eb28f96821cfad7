package main

import "testing"

func TestParseUser(t *testing.T) {
	tests := []struct {
		in       string
		wantID   string
		wantName string
		wantTok  string
		wantErr  bool
	}{
		{in: "alice:Alice:tok", wantID: "alice", wantName: "Alice", wantTok: "tok"},
		{in: "bob::tok", wantID: "bob", wantName: "bob", wantTok: "tok"},
		{in: "carol:Carol", wantErr: true},
		{in: ":x:tok", wantErr: true},
		{in: "dave:Dave:", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			u, tok, err := parseUser(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseUser(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if u.ID != tt.wantID || u.FullName != tt.wantName || tok != tt.wantTok {
				t.Errorf("parseUser(%q) = %+v, %q", tt.in, u, tok)
			}
		})
	}
}
