package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/justmike1/triagebot/config"
	triageslack "github.com/justmike1/triagebot/slack"
)

// asyncTimeout bounds the work done after Slack has been acknowledged.
const asyncTimeout = 60 * time.Second

var errNoTracker = fmt.Errorf("GitHub: %w", config.ErrNotConfigured)

// responder posts the single reply an event is allowed. Later replies are
// logged and dropped, as are replies whose delivery fails.
type responder struct {
	once   sync.Once
	url    string
	send   RespondFunc
	logger zerolog.Logger
}

func newResponder(responseURL string, send RespondFunc, logger zerolog.Logger) *responder {
	return &responder{url: responseURL, send: send, logger: logger}
}

func (r *responder) reply(ctx context.Context, resp triageslack.Response) {
	sent := false
	r.once.Do(func() {
		sent = true
		if r.url == "" {
			r.logger.Warn().Msg("event has no response_url; reply dropped")
			return
		}
		if err := r.send(ctx, r.url, resp); err != nil {
			r.logger.Error().Err(err).Msg("failed to deliver reply")
		}
	})
	if !sent {
		r.logger.Warn().Msg("response_url already used; reply dropped")
	}
}

// failureText turns a handler error into the message shown to the user.
func failureText(action string, err error) string {
	if errors.Is(err, config.ErrNotConfigured) {
		return fmt.Sprintf("❌ Cannot %s: GitHub is not configured for this bot.", action)
	}
	return fmt.Sprintf("❌ Failed to %s: %v", action, err)
}

func textReply(text string) triageslack.Response {
	return triageslack.Response{Text: text}
}

func ephemeralReply(text string) triageslack.Response {
	return triageslack.Response{Text: text, Ephemeral: true}
}

func defaultRespond() RespondFunc {
	return triageslack.RespondToURL
}

func eventLogger(kind, id, user string) zerolog.Logger {
	return log.With().Str(kind, id).Str("user", user).Logger()
}
