package slack

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack/slackevents"
)

// MessageEvent is a user message addressed to the bot, from an @mention or a DM.
type MessageEvent struct {
	Channel  string
	ThreadTS string
	User     string
	Text     string
}

type MessageHandler func(ev MessageEvent)

// EventsHandler serves the Events API endpoint.
type EventsHandler struct {
	verifier *Verifier
	handler  MessageHandler
}

func NewEventsHandler(verifier *Verifier, handler MessageHandler) *EventsHandler {
	return &EventsHandler{verifier: verifier, handler: handler}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, ok := readVerified(w, r, h.verifier)
	if !ok {
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		log.Warn().Err(err).Msg("failed to parse events api payload")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if event.Type == slackevents.URLVerification {
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"challenge": challenge.Challenge})
		return
	}

	w.WriteHeader(http.StatusOK)

	if msg, ok := messageFromEvent(event); ok {
		go h.handler(msg)
	}
}

// messageFromEvent extracts app_mention and direct-message events, dropping
// anything a bot posted and message subtypes such as edits.
func messageFromEvent(event slackevents.EventsAPIEvent) (MessageEvent, bool) {
	if event.Type != slackevents.CallbackEvent {
		return MessageEvent{}, false
	}

	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		if ev.BotID != "" {
			return MessageEvent{}, false
		}
		return MessageEvent{
			Channel:  ev.Channel,
			ThreadTS: threadOf(ev.ThreadTimeStamp, ev.TimeStamp),
			User:     ev.User,
			Text:     StripMentions(ev.Text),
		}, true

	case *slackevents.MessageEvent:
		if ev.ChannelType != "im" || ev.BotID != "" || ev.SubType != "" {
			return MessageEvent{}, false
		}
		return MessageEvent{
			Channel:  ev.Channel,
			ThreadTS: threadOf(ev.ThreadTimeStamp, ev.TimeStamp),
			User:     ev.User,
			Text:     StripMentions(ev.Text),
		}, true
	}

	log.Debug().Str("inner_type", event.InnerEvent.Type).Msg("ignoring event")
	return MessageEvent{}, false
}

// threadOf replies inside an existing thread, or starts one on the message.
func threadOf(threadTS, ts string) string {
	if threadTS != "" {
		return threadTS
	}
	return ts
}
