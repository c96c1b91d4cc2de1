// Package intake turns browser error reports and user feedback into
// tracker issues.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/justmike1/triagebot/config"
	"github.com/justmike1/triagebot/github"
	"github.com/justmike1/triagebot/notify"
)

const maxBodyBytes = 8 << 20

// ErrInvalidInput marks request bodies the caller must fix.
var ErrInvalidInput = errors.New("invalid input")

// Tracker is the subset of the issue tracker used by intake.
type Tracker interface {
	CreateIssue(ctx context.Context, title, body string, labels []string) (*github.IssueRef, error)
	CreateFile(ctx context.Context, path, branch, message string, content []byte) (string, error)
}

// Notifier relays a formatted notification to chat.
type Notifier interface {
	Send(ctx context.Context, req notify.Request) error
}

// Handler serves both intake endpoints. tracker and notifier may be nil.
type Handler struct {
	tracker  Tracker
	notifier Notifier
	limiter  *rate.Limiter
}

// NewHandler builds the intake handler. ratePerMinute <= 0 disables rate
// limiting.
func NewHandler(tracker Tracker, notifier Notifier, ratePerMinute int) *Handler {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if ratePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMinute)), ratePerMinute)
	}
	return &Handler{tracker: tracker, notifier: notifier, limiter: limiter}
}

// begin runs the checks shared by both endpoints and decodes the body into v.
func (h *Handler) begin(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if !h.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "too many requests, try again later")
		return false
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// fail maps an error to the response status and logs the details that are
// not echoed to the caller.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	logger := log.Ctx(r.Context())

	var apiErr *github.RemoteAPIError
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, config.ErrNotConfigured):
		logger.Error().Err(err).Msg("intake request rejected")
		writeError(w, http.StatusInternalServerError, "server misconfigured")
	case errors.As(err, &apiErr):
		logger.Error().Err(err).Int("status", apiErr.Status).Msg("tracker rejected issue")
		writeError(w, http.StatusBadGateway, "failed to create issue")
	default:
		logger.Error().Err(err).Msg("issue creation failed")
		writeError(w, http.StatusBadGateway, "failed to create issue")
	}
}

func (h *Handler) requireTracker() error {
	if h.tracker == nil {
		return fmt.Errorf("issue tracker: %w", config.ErrNotConfigured)
	}
	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
