package logger

import "testing"

func TestSanitizeRedactsSecretKeys(t *testing.T) {
	out := sanitizeKVs([]interface{}{"username", "ada", "password", "hunter2", "jwtToken", "abc", "dangling"})

	if len(out) != 7 {
		t.Fatalf("expected 7 entries, got %d: %v", len(out), out)
	}
	if out[1] != "ada" {
		t.Fatalf("username should pass through, got %v", out[1])
	}
	if out[3] != "[REDACTED]" {
		t.Fatalf("password should be redacted, got %v", out[3])
	}
	if out[5] != "[REDACTED]" {
		t.Fatalf("token should be redacted, got %v", out[5])
	}
	if out[6] != "dangling" {
		t.Fatalf("odd trailing key should be kept, got %v", out[6])
	}
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"dev", "prod", "test"} {
		l, err := New(mode)
		if err != nil {
			t.Fatalf("New(%q): %v", mode, err)
		}
		l.With("component", "test").Debug("hello", "k", 1)
	}
}
