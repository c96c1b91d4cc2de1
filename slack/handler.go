package slack

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
	slacklib "github.com/slack-go/slack"
)

const maxBodyBytes = 1 << 20

const ackText = "⏳ Working on it..."

type CommandHandler func(cmd slacklib.SlashCommand)

type InteractionHandler func(in Interaction)

// Interaction is the subset of a block_actions payload the action router needs.
type Interaction struct {
	Type        string          `json:"type"`
	User        InteractionUser `json:"user"`
	Channel     Channel         `json:"channel"`
	ResponseURL string          `json:"response_url"`
	Actions     []Action        `json:"actions"`
}

type Channel struct {
	ID string `json:"id"`
}

type InteractionUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// DisplayName prefers the handle, then the legacy name, then the ID.
func (u InteractionUser) DisplayName() string {
	switch {
	case u.Username != "":
		return u.Username
	case u.Name != "":
		return u.Name
	default:
		return u.ID
	}
}

type Action struct {
	ActionID string `json:"action_id"`
	BlockID  string `json:"block_id,omitempty"`
	Value    string `json:"value"`
}

// ParseInteraction accepts either a raw JSON body or a form body with a
// "payload" field.
func ParseInteraction(body []byte) (Interaction, error) {
	var in Interaction

	raw := bytes.TrimSpace(body)
	if len(raw) == 0 || raw[0] != '{' {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return in, fmt.Errorf("failed to parse form body: %w", err)
		}
		payload := form.Get("payload")
		if payload == "" {
			return in, errors.New("missing payload")
		}
		raw = []byte(payload)
	}

	if err := json.Unmarshal(raw, &in); err != nil {
		return in, fmt.Errorf("failed to decode interaction: %w", err)
	}
	if len(in.Actions) == 0 {
		return in, errors.New("interaction has no actions")
	}
	return in, nil
}

// Handler serves slash commands: verify, acknowledge with an ephemeral
// placeholder, then run the command on its own goroutine.
type Handler struct {
	verifier       *Verifier
	commandHandler CommandHandler
}

func NewHandler(verifier *Verifier, commandHandler CommandHandler) *Handler {
	return &Handler{
		verifier:       verifier,
		commandHandler: commandHandler,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, ok := readVerified(w, r, h.verifier)
	if !ok {
		return
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	cmd, err := slacklib.SlashCommandParse(r)
	if err != nil {
		log.Warn().Err(err).Msg("failed to parse slash command")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	log.Info().
		Str("command", cmd.Command).
		Str("user", cmd.UserName).
		Str("channel", cmd.ChannelID).
		Msg("slash command received")

	writeAck(w)
	go h.commandHandler(cmd)
}

// InteractionsHandler serves block_actions payloads with the same
// acknowledge-then-process flow as slash commands.
type InteractionsHandler struct {
	verifier *Verifier
	handler  InteractionHandler
}

func NewInteractionsHandler(verifier *Verifier, handler InteractionHandler) *InteractionsHandler {
	return &InteractionsHandler{verifier: verifier, handler: handler}
}

func (h *InteractionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, ok := readVerified(w, r, h.verifier)
	if !ok {
		return
	}

	in, err := ParseInteraction(body)
	if err != nil {
		log.Warn().Err(err).Msg("failed to parse interaction")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	log.Info().
		Str("action_id", in.Actions[0].ActionID).
		Str("user", in.User.DisplayName()).
		Msg("interaction received")

	writeAck(w)
	go h.handler(in)
}

// readVerified enforces POST, reads the raw body and checks its signature,
// writing the error response itself when it returns false.
func readVerified(w http.ResponseWriter, r *http.Request, verifier *Verifier) ([]byte, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, false
	}

	if !verifier.Verify(r.Header, body) {
		log.Warn().Str("path", r.URL.Path).Str("remote_addr", r.RemoteAddr).Msg("slack signature verification failed")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	return body, true
}

func writeAck(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"response_type": "ephemeral",
		"text":          ackText,
	})
}
