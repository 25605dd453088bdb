// Package webhook is the chat-platform inbound surface. Each POST carries a
// platform event batch signed with the tenant's channel secret; verified
// batches are parsed into normalized messages and routed one by one through
// the gateway.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/voxgate/voxgate/internal/channel"
	"github.com/voxgate/voxgate/internal/gateway"
	"github.com/voxgate/voxgate/pkg/fault"
)

const (
	// DefaultSignatureHeader carries the HMAC unless a channel overrides it.
	DefaultSignatureHeader = "X-Signature"

	// maxBodyBytes caps one webhook payload.
	maxBodyBytes = 1 << 20
)

// Router routes normalized inbound messages. Implemented by
// gateway.Gateway.
type Router interface {
	RouteInbound(ctx context.Context, in channel.Inbound) (gateway.Result, error)
}

// Parser turns one platform's webhook body into normalized messages.
// Non-text events are skipped, not errored.
type Parser func(tenant string, body []byte) ([]channel.Inbound, error)

// Handler verifies, parses, and routes webhook deliveries.
type Handler struct {
	router  Router
	secrets gateway.CredentialResolver
	parsers map[string]Parser
	headers map[string]string
	log     *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithParser registers the body parser for a channel. Channels without a
// parser return 404.
func WithParser(channelName string, p Parser) Option {
	return func(h *Handler) { h.parsers[channelName] = p }
}

// WithSignatureHeader overrides the signature header for a channel.
func WithSignatureHeader(channelName, header string) Option {
	return func(h *Handler) { h.headers[channelName] = header }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) { h.log = log }
}

// NewHandler builds the webhook surface. Secrets resolve through the same
// credential store the outbound adapters use; the channel-wide secret signs
// inbound payloads.
func NewHandler(router Router, secrets gateway.CredentialResolver, opts ...Option) *Handler {
	h := &Handler{
		router:  router,
		secrets: secrets,
		parsers: make(map[string]Parser),
		headers: make(map[string]string),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds the webhook routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook/{tenant}/{channel}", h.handlePost)
	mux.HandleFunc("GET /webhook/{tenant}/{channel}", h.handleGet)
}

// envelope is the response body for webhook requests.
type envelope struct {
	Status  string `json:"status"`
	Handled int    `json:"handled"`
	Denied  int    `json:"denied,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

// handleGet answers platform liveness and URL-verification probes.
func (h *Handler) handleGet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Status: "ok"})
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	channelName := r.PathValue("channel")

	parser, ok := h.parsers[channelName]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: fmt.Sprintf("unknown channel %q", channelName)})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unreadable body"})
		return
	}

	if !h.verify(tenant, channelName, r.Header.Get(h.signatureHeader(channelName)), body) {
		h.log.Warn("webhook signature rejected", "tenant", tenant, "channel", channelName)
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid signature"})
		return
	}

	inbound, err := parser(tenant, body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed payload"})
		return
	}

	handled, denied := 0, 0
	for _, in := range inbound {
		res, err := h.router.RouteInbound(r.Context(), in)
		switch {
		case err == nil && res.Allowed:
			handled++
		case err == nil:
			denied++
		case fault.KindOf(err) == fault.KindInputValidation:
			// One unusable event does not poison the batch.
			h.log.Debug("webhook event skipped", "tenant", tenant, "error", err)
		default:
			h.log.Error("webhook routing failed", "tenant", tenant, "channel", channelName, "error", err)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "routing failed"})
			return
		}
	}

	writeJSON(w, http.StatusOK, envelope{Status: "ok", Handled: handled, Denied: denied})
}

func (h *Handler) signatureHeader(channelName string) string {
	if header, ok := h.headers[channelName]; ok {
		return header
	}
	return DefaultSignatureHeader
}

// verify checks the HMAC-SHA256 of the raw body against the tenant's channel
// secret. Hex and base64 signature encodings are both accepted; comparison
// is constant time either way. Tenants without a configured secret fail
// closed.
func (h *Handler) verify(tenant, channelName, signature string, body []byte) bool {
	if signature == "" {
		return false
	}
	creds, err := h.secrets.Resolve(tenant, channelName, "")
	if err != nil || creds.Secret == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(creds.Secret))
	mac.Write(body)
	want := mac.Sum(nil)

	if decoded, err := hex.DecodeString(signature); err == nil && hmac.Equal(decoded, want) {
		return true
	}
	if decoded, err := base64.StdEncoding.DecodeString(signature); err == nil && hmac.Equal(decoded, want) {
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
