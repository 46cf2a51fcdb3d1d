// Copyright 2024-2026 Aiku AI

package relay

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// maxWebhookBodySize is the maximum accepted webhook body (1 MB).
const maxWebhookBodySize = 1 << 20

const webhookTypeThreadReply = "thread_reply"

// WebhookPayload is the JSON body accepted by the webhook ingress.
type WebhookPayload struct {
	Type       string `json:"type,omitempty"`
	User       string `json:"user"`
	Text       string `json:"text"`
	ParentUser string `json:"parent_user,omitempty"`
	ParentText string `json:"parent_text,omitempty"`
}

// WebhookHandler feeds chat text posted by an external automation into the
// relay.
type WebhookHandler struct {
	relay *Relay
	log   zerolog.Logger
}

// NewWebhookHandler returns an http.Handler for POST requests carrying a
// WebhookPayload.
func NewWebhookHandler(relay *Relay, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		relay: relay,
		log:   log.With().Str("component", "webhook").Logger(),
	}
}

// ServeHTTP accepts the payload and always answers 200 once the body was
// read, whatever happens to the message downstream. A body that is not
// valid JSON is relayed verbatim.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Malformed webhook JSON, relaying raw body")
		if raw := strings.TrimSpace(string(body)); raw != "" {
			h.relay.RelayLines(r.Context(), nil, Line{Body: raw})
		}
	} else {
		h.log.Debug().
			Str("type", payload.Type).
			Str("user", payload.User).
			Msg("Webhook received")
		h.dispatch(r, payload)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "Webhook received")
}

func (h *WebhookHandler) dispatch(r *http.Request, p WebhookPayload) {
	reply := Line{Author: p.User, Body: p.Text}
	if p.Type == webhookTypeThreadReply {
		h.relay.RelayLines(r.Context(), &Line{Author: p.ParentUser, Body: p.ParentText}, reply)
		return
	}
	if p.Text == "" {
		return
	}
	h.relay.RelayLines(r.Context(), nil, reply)
}
