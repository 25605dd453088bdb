// Package mediaroom mints JWT join tokens for real-time media rooms. The
// gateway owns session identity; the media server only needs a signed grant
// naming the room and the participant's capabilities.
package mediaroom

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/voxgate/voxgate/internal/gateway"
)

const (
	// ChannelName keys the tenant's media credentials in the channels
	// credentials file.
	ChannelName = "mediaroom"

	defaultTTL = time.Hour
	maxTTL     = 24 * time.Hour

	maxRoomNameLen = 64
)

// Handler serves the room token endpoint.
type Handler struct {
	keys    gateway.CredentialResolver
	roomURL string
	log     *slog.Logger
	now     func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) { h.log = log }
}

// WithClock overrides the token timestamp source.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// NewHandler builds the token endpoint. roomURL is the media server clients
// connect to; keys resolves each tenant's API key (token) and signing
// secret under the "mediaroom" channel.
func NewHandler(keys gateway.CredentialResolver, roomURL string, opts ...Option) *Handler {
	h := &Handler{
		keys:    keys,
		roomURL: roomURL,
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds the token route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /rooms/token", h.handleToken)
}

type tokenRequest struct {
	TenantID   string `json:"tenant_id"`
	SessionID  string `json:"session_id"`
	Identity   string `json:"identity,omitempty"`
	Name       string `json:"name,omitempty"`
	Metadata   string `json:"metadata,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

type tokenResponse struct {
	URL   string `json:"url"`
	Room  string `json:"room"`
	Token string `json:"token"`
}

type errorBody struct {
	Error string `json:"error"`
}

// videoGrant is the capability set embedded in the token.
type videoGrant struct {
	Room           string `json:"room"`
	RoomJoin       bool   `json:"roomJoin"`
	CanPublish     bool   `json:"canPublish"`
	CanSubscribe   bool   `json:"canSubscribe"`
	CanPublishData bool   `json:"canPublishData"`
}

// roomClaims is the signed token payload. Issuer carries the tenant's API
// key so the media server can pick the verification secret.
type roomClaims struct {
	jwt.RegisteredClaims
	Name     string     `json:"name,omitempty"`
	Metadata string     `json:"metadata,omitempty"`
	Video    videoGrant `json:"video"`
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request"})
		return
	}
	if strings.TrimSpace(req.TenantID) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing tenant_id"})
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing session_id"})
		return
	}

	creds, err := h.keys.Resolve(req.TenantID, ChannelName, "")
	if err != nil || creds.Secret == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown tenant"})
		return
	}

	identity := strings.TrimSpace(req.Identity)
	if identity == "" {
		identity = "guest-" + uuid.NewString()[:8]
	}
	name := req.Name
	if name == "" {
		name = identity
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if ttl > maxTTL {
		ttl = maxTTL
	}

	room := RoomName(req.TenantID, req.SessionID)
	now := h.now()
	claims := roomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    creds.Token,
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:     name,
		Metadata: req.Metadata,
		Video: videoGrant{
			Room:           room,
			RoomJoin:       true,
			CanPublish:     true,
			CanSubscribe:   true,
			CanPublishData: true,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(creds.Secret))
	if err != nil {
		h.log.Error("token signing failed", "tenant", req.TenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "token signing failed"})
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{URL: h.roomURL, Room: room, Token: signed})
}

// RoomName derives the deterministic room for a (tenant, session) pair.
// Characters outside [A-Za-z0-9_-] become underscores and the result is
// trimmed to 64 bytes.
func RoomName(tenant, session string) string {
	raw := "t-" + tenant + "-s-" + session
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := b.String()
	if len(name) > maxRoomNameLen {
		name = name[:maxRoomNameLen]
	}
	return name
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
