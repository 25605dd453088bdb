// Package line implements the LINE Messaging API adapter. Replies use the
// short-lived reply token when the inbound event carried one and fall back
// to push delivery otherwise.
package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voxgate/voxgate/internal/channel"
)

const (
	// DefaultBaseURL is the LINE Messaging API origin.
	DefaultBaseURL = "https://api.line.me"

	replyPath = "/v2/bot/message/reply"
	pushPath  = "/v2/bot/message/push"

	defaultTimeout = 10 * time.Second

	// maxTextLen is LINE's per-message text limit.
	maxTextLen = 5000

	// maxMessagesPerCall is LINE's cap on the messages array.
	maxMessagesPerCall = 5
)

// Adapter delivers messages through the LINE Messaging API.
type Adapter struct {
	baseURL string
	client  *http.Client
}

var _ channel.Adapter = (*Adapter)(nil)

// Option configures the adapter.
type Option func(*Adapter)

// WithBaseURL overrides the API origin. Tests point this at a local server.
func WithBaseURL(u string) Option {
	return func(a *Adapter) { a.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

// New builds a LINE adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		baseURL: DefaultBaseURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements channel.Adapter.
func (a *Adapter) Name() string { return "line" }

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type replyRequest struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []textMessage `json:"messages"`
}

type pushRequest struct {
	To       string        `json:"to"`
	Messages []textMessage `json:"messages"`
}

// Send implements channel.Adapter. A reply token routes through the reply
// endpoint; otherwise the message is pushed to the target (or the sender
// when no target is set).
func (a *Adapter) Send(ctx context.Context, out channel.Outbound) error {
	if out.Credentials.Token == "" {
		return fmt.Errorf("line: send: missing channel access token")
	}
	messages := splitText(out.Text)
	if len(messages) == 0 {
		return nil
	}

	var (
		path string
		body any
	)
	if out.ReplyToken != "" {
		path = replyPath
		body = replyRequest{ReplyToken: out.ReplyToken, Messages: messages}
	} else {
		to := out.TargetID
		if to == "" {
			to = out.UserExternalID
		}
		if to == "" {
			return fmt.Errorf("line: send: no reply token and no push target")
		}
		path = pushPath
		body = pushRequest{To: to, Messages: messages}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("line: send: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("line: send: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+out.Credentials.Token)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("line: send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("line: send: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}

// splitText breaks text into LINE-sized message objects, capped at the API's
// per-call limit.
func splitText(text string) []textMessage {
	if text == "" {
		return nil
	}
	var messages []textMessage
	runes := []rune(text)
	for len(runes) > 0 && len(messages) < maxMessagesPerCall {
		n := len(runes)
		if n > maxTextLen {
			n = maxTextLen
		}
		messages = append(messages, textMessage{Type: "text", Text: string(runes[:n])})
		runes = runes[n:]
	}
	return messages
}

// ─────────────────────────────────────────────────────────────────────────────
// Webhook parsing
// ─────────────────────────────────────────────────────────────────────────────

type webhookPayload struct {
	Events []webhookEvent `json:"events"`
}

type webhookEvent struct {
	Type       string `json:"type"`
	ReplyToken string `json:"replyToken"`
	Source     struct {
		Type    string `json:"type"`
		UserID  string `json:"userId"`
		GroupID string `json:"groupId"`
		RoomID  string `json:"roomId"`
	} `json:"source"`
	Message struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
}

// ParseWebhook normalizes a LINE webhook body into inbound messages. Events
// that are not text messages are skipped.
func ParseWebhook(tenant string, body []byte) ([]channel.Inbound, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("line: parse webhook: %w", err)
	}
	var inbound []channel.Inbound
	for _, ev := range payload.Events {
		if ev.Type != "message" || ev.Message.Type != "text" {
			continue
		}
		target := ev.Source.GroupID
		if target == "" {
			target = ev.Source.RoomID
		}
		inbound = append(inbound, channel.Inbound{
			Tenant:         tenant,
			Channel:        "line",
			UserExternalID: ev.Source.UserID,
			TargetID:       target,
			ReplyToken:     ev.ReplyToken,
			MessageID:      ev.Message.ID,
			Text:           ev.Message.Text,
		})
	}
	return inbound, nil
}
