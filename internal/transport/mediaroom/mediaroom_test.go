package mediaroom

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/voxgate/voxgate/internal/channel"
)

type fixedKeys struct {
	creds channel.Credentials
	err   error
}

func (f *fixedKeys) Resolve(_, _, _ string) (channel.Credentials, error) {
	return f.creds, f.err
}

func newServer(t *testing.T, keys *fixedKeys) *httptest.Server {
	t.Helper()
	fixedNow := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	mux := http.NewServeMux()
	NewHandler(keys, "wss://media.example.com", WithClock(func() time.Time { return fixedNow })).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func requestToken(t *testing.T, srv *httptest.Server, body map[string]any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := srv.Client().Post(srv.URL+"/rooms/token", "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func parseToken(t *testing.T, token, secret string) *roomClaims {
	t.Helper()
	claims := &roomClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(func() time.Time {
		return time.Date(2026, 3, 7, 12, 30, 0, 0, time.UTC)
	}))
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if !parsed.Valid {
		t.Fatal("token is not valid")
	}
	return claims
}

func TestHandler_MintsJoinToken(t *testing.T) {
	t.Parallel()

	srv := newServer(t, &fixedKeys{creds: channel.Credentials{Token: "api-key-1", Secret: "signing-secret"}})

	resp, decoded := requestToken(t, srv, map[string]any{
		"tenant_id":   "acme",
		"session_id":  "sess-42",
		"identity":    "alice",
		"name":        "Alice",
		"metadata":    `{"role":"host"}`,
		"ttl_seconds": 7200,
	})

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if decoded["url"] != "wss://media.example.com" {
		t.Errorf("url = %v", decoded["url"])
	}
	if decoded["room"] != "t-acme-s-sess-42" {
		t.Errorf("room = %v", decoded["room"])
	}

	claims := parseToken(t, decoded["token"].(string), "signing-secret")
	if claims.Issuer != "api-key-1" {
		t.Errorf("iss = %q, want tenant API key", claims.Issuer)
	}
	if claims.Subject != "alice" {
		t.Errorf("sub = %q, want identity", claims.Subject)
	}
	if claims.Name != "Alice" || claims.Metadata != `{"role":"host"}` {
		t.Errorf("name/metadata = %q/%q", claims.Name, claims.Metadata)
	}
	if got := claims.ExpiresAt.Sub(claims.NotBefore.Time); got != 2*time.Hour {
		t.Errorf("ttl = %v, want 2h", got)
	}

	grant := claims.Video
	if grant.Room != "t-acme-s-sess-42" {
		t.Errorf("grant room = %q", grant.Room)
	}
	if !grant.RoomJoin || !grant.CanPublish || !grant.CanSubscribe || !grant.CanPublishData {
		t.Errorf("grant = %+v, want all capabilities", grant)
	}
}

func TestHandler_TTLDefaultsAndCap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		ttl     any
		wantTTL time.Duration
	}{
		{"default when omitted", nil, time.Hour},
		{"default when zero", 0, time.Hour},
		{"capped at one day", 200000, 24 * time.Hour},
		{"honored in range", 600, 10 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := newServer(t, &fixedKeys{creds: channel.Credentials{Token: "k", Secret: "s"}})
			body := map[string]any{"tenant_id": "acme", "session_id": "s1", "identity": "u"}
			if tt.ttl != nil {
				body["ttl_seconds"] = tt.ttl
			}
			_, decoded := requestToken(t, srv, body)

			claims := parseToken(t, decoded["token"].(string), "s")
			if got := claims.ExpiresAt.Sub(claims.NotBefore.Time); got != tt.wantTTL {
				t.Errorf("ttl = %v, want %v", got, tt.wantTTL)
			}
		})
	}
}

func TestHandler_GeneratesIdentityWhenMissing(t *testing.T) {
	t.Parallel()

	srv := newServer(t, &fixedKeys{creds: channel.Credentials{Token: "k", Secret: "s"}})
	_, decoded := requestToken(t, srv, map[string]any{"tenant_id": "acme", "session_id": "s1"})

	claims := parseToken(t, decoded["token"].(string), "s")
	if !strings.HasPrefix(claims.Subject, "guest-") {
		t.Errorf("sub = %q, want generated guest identity", claims.Subject)
	}
	if claims.Name != claims.Subject {
		t.Errorf("name = %q, want identity fallback", claims.Name)
	}
}

func TestHandler_RequestValidation(t *testing.T) {
	t.Parallel()

	srv := newServer(t, &fixedKeys{creds: channel.Credentials{Token: "k", Secret: "s"}})

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing tenant", map[string]any{"session_id": "s1"}},
		{"missing session", map[string]any{"tenant_id": "acme"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp, _ := requestToken(t, srv, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestHandler_UnknownTenant(t *testing.T) {
	t.Parallel()

	t.Run("resolver error", func(t *testing.T) {
		t.Parallel()
		srv := newServer(t, &fixedKeys{err: errors.New("no credentials")})
		resp, _ := requestToken(t, srv, map[string]any{"tenant_id": "ghost", "session_id": "s1"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("no signing secret", func(t *testing.T) {
		t.Parallel()
		srv := newServer(t, &fixedKeys{creds: channel.Credentials{Token: "k"}})
		resp, _ := requestToken(t, srv, map[string]any{"tenant_id": "acme", "session_id": "s1"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestRoomName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		tenant  string
		session string
		want    string
	}{
		{"plain", "acme", "sess-1", "t-acme-s-sess-1"},
		{"spaces and symbols", "ac me", "s/1!", "t-ac_me-s-s_1_"},
		{"unicode", "café", "日記", "t-caf_-s-__"},
		{"preserves case and underscore", "AcMe_Inc", "S1", "t-AcMe_Inc-s-S1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := RoomName(tt.tenant, tt.session); got != tt.want {
				t.Errorf("RoomName(%q, %q) = %q, want %q", tt.tenant, tt.session, got, tt.want)
			}
		})
	}

	t.Run("trims to 64", func(t *testing.T) {
		t.Parallel()
		long := RoomName(strings.Repeat("a", 50), strings.Repeat("b", 50))
		if len(long) != 64 {
			t.Errorf("len = %d, want 64", len(long))
		}
		if !strings.HasPrefix(long, "t-"+strings.Repeat("a", 50)+"-s-") {
			t.Errorf("trimmed name lost its prefix: %q", long)
		}
	})
}
