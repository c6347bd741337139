package logger

import "testing"

func TestIsRedactKey(t *testing.T) {
	redacted := []string{"api_key", "gemini_api_key", "apikey", "credential", "access_token", "jwt_secret", "authorization", "password"}
	clear := []string{"conversation_id", "model", "provider", "error", "attempt"}

	for _, k := range redacted {
		if !isRedactKey(k) {
			t.Errorf("%q not treated as sensitive", k)
		}
	}
	for _, k := range clear {
		if isRedactKey(k) {
			t.Errorf("%q treated as sensitive", k)
		}
	}
}

func TestRedact(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"abcd", "[REDACTED]"},
		{"sk-live-1234567890", "[REDACTED]...7890"},
	}
	for _, tc := range cases {
		if got := redact(tc.in); got != tc.want {
			t.Errorf("redact(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeKVs(t *testing.T) {
	out := sanitizeKVs([]interface{}{"api_key", "sk-live-1234567890", "model", "gemini-1.5-pro"})
	if out[1] != "[REDACTED]...7890" {
		t.Errorf("api_key value = %v, want redacted", out[1])
	}
	if out[3] != "gemini-1.5-pro" {
		t.Errorf("model value = %v, want untouched", out[3])
	}

	// Odd trailing key is passed through rather than dropped.
	out = sanitizeKVs([]interface{}{"dangling"})
	if len(out) != 1 || out[0] != "dangling" {
		t.Errorf("dangling kv = %v", out)
	}
}
