package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	triageslack "github.com/justmike1/triagebot/slack"
)

// ErrNoWebhook is returned when neither a kind-specific nor a default
// webhook is configured.
var ErrNoWebhook = errors.New("no webhook configured")

// Dispatcher formats notifications and posts them to the webhook chosen by kind.
type Dispatcher struct {
	webhookFor func(kind string) string
}

// NewDispatcher takes the webhook lookup, normally config.Config.WebhookFor.
func NewDispatcher(webhookFor func(kind string) string) *Dispatcher {
	return &Dispatcher{webhookFor: webhookFor}
}

func (d *Dispatcher) Send(ctx context.Context, req Request) error {
	url := d.webhookFor(string(req.Type))
	if url == "" {
		return fmt.Errorf("%s notification: %w", req.Type, ErrNoWebhook)
	}

	msg := Format(req.Type, req.Data)
	if err := triageslack.PostWebhook(ctx, url, msg.Text, msg.Blocks); err != nil {
		return fmt.Errorf("%s notification: %w", req.Type, err)
	}
	return nil
}

// Handler serves the notify endpoint.
type Handler struct {
	dispatcher *Dispatcher
}

func NewHandler(dispatcher *Dispatcher) *Handler {
	return &Handler{dispatcher: dispatcher}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid JSON body"})
		return
	}
	if req.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "type is required"})
		return
	}

	if err := h.dispatcher.Send(r.Context(), req); err != nil {
		if errors.Is(err, ErrNoWebhook) {
			log.Error().Err(err).Msg("notification webhook missing")
			writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "server misconfigured"})
			return
		}
		log.Error().Err(err).Str("type", string(req.Type)).Msg("failed to send notification")
		writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": "failed to send notification"})
		return
	}

	log.Info().Str("type", string(req.Type)).Msg("notification sent")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
