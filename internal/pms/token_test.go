package pms

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestTokenFreshRespectsMargin(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		tok  Token
		want bool
	}{
		{"empty", Token{}, false},
		{"an hour left", Token{Value: "a", ExpiresAt: now.Add(time.Hour)}, true},
		{"inside margin", Token{Value: "a", ExpiresAt: now.Add(4 * time.Minute)}, false},
		{"expired", Token{Value: "a", ExpiresAt: now.Add(-time.Minute)}, false},
	}
	for _, tt := range tests {
		if got := tt.tok.Fresh(now); got != tt.want {
			t.Errorf("%s: Fresh = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestMemoryTokenCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryTokenCache()
	if _, ok := c.Get(ctx); ok {
		t.Fatal("new cache should be empty")
	}
	_ = c.Set(ctx, Token{Value: "x", ExpiresAt: time.Now().Add(time.Hour)})
	if tok, ok := c.Get(ctx); !ok || tok.Value != "x" {
		t.Fatalf("Get = %+v, %v", tok, ok)
	}
	_ = c.Clear(ctx)
	if _, ok := c.Get(ctx); ok {
		t.Fatal("cleared cache should be empty")
	}
}

func TestPayloadForLogRedactsNestedSecrets(t *testing.T) {
	raw := []byte(`{"token":"abc","data":[{"refreshToken":"r","id":1}],"Password":"p"}`)
	out := string(payloadForLog(raw))
	for _, secret := range []string{`"abc"`, `"r"`, `"p"`} {
		if strings.Contains(out, secret) {
			t.Fatalf("secret %s leaked: %s", secret, out)
		}
	}
	if !strings.Contains(out, `"id":1`) {
		t.Fatalf("non-secret field lost: %s", out)
	}
}

func TestPayloadForLogTruncates(t *testing.T) {
	big := `{"notes":"` + strings.Repeat("x", 10000) + `"}`
	out := payloadForLog([]byte(big))

	var s string
	if err := json.Unmarshal(out, &s); err != nil {
		t.Fatalf("truncated payload must be a JSON string: %v", err)
	}
	if !strings.HasSuffix(s, "...(truncated)") || len(s) > maxLoggedPayload+len("...(truncated)") {
		t.Fatalf("unexpected truncation, len=%d", len(s))
	}

	if got := payloadForLog([]byte("not json")); string(got) != `"not json"` {
		t.Fatalf("non-JSON body = %s", got)
	}
	if payloadForLog(nil) != nil {
		t.Fatal("empty body should log nothing")
	}
}

func TestLocalStatus(t *testing.T) {
	tests := map[string]string{
		"confirmed": "confirmed",
		"new":       "confirmed",
		"black":     "confirmed",
		"request":   "pending",
		"inquiry":   "pending",
		"Cancelled": "cancelled",
	}
	for remote, want := range tests {
		if got := string(LocalStatus(remote)); got != want {
			t.Errorf("LocalStatus(%q) = %q, want %q", remote, got, want)
		}
	}
}
