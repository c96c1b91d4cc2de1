package slack

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	slacklib "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// SocketListener receives slash commands, button clicks and bot mentions over
// Socket Mode, for workspaces where the service has no public URL. It feeds
// the same handlers as the HTTP endpoints.
type SocketListener struct {
	smClient   *socketmode.Client
	ack        func(req socketmode.Request, payload ...interface{})
	commands   CommandHandler
	actions    InteractionHandler
	messages   MessageHandler
	connected  atomic.Bool
	eventCount atomic.Int64
}

// NewSocketListener needs an app-level token (xapp-...) with connections:write
// next to the usual bot token.
func NewSocketListener(appToken, botToken string, commands CommandHandler, actions InteractionHandler, messages MessageHandler) *SocketListener {
	api := slacklib.New(botToken, slacklib.OptionAppLevelToken(appToken))
	sm := socketmode.New(api)
	return &SocketListener{
		smClient: sm,
		ack:      sm.Ack,
		commands: commands,
		actions:  actions,
		messages: messages,
	}
}

// Run blocks until ctx is cancelled or the connection fails for good.
func (sl *SocketListener) Run(ctx context.Context) error {
	go sl.handleEvents(ctx)

	log.Info().Msg("socket mode: connecting to Slack")
	return sl.smClient.RunContext(ctx)
}

func (sl *SocketListener) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-sl.smClient.Events:
			sl.dispatch(evt)
		}
	}
}

// dispatch acks one Socket Mode event and hands its payload to the matching
// handler on a new goroutine.
func (sl *SocketListener) dispatch(evt socketmode.Event) {
	sl.eventCount.Add(1)

	switch evt.Type {
	case socketmode.EventTypeConnecting:
		if sl.connected.Load() {
			log.Info().Msg("socket mode: reconnecting")
		}

	case socketmode.EventTypeConnected:
		if !sl.connected.Swap(true) {
			log.Info().Int64("events", sl.eventCount.Load()).Msg("socket mode: connected")
		}

	case socketmode.EventTypeConnectionError:
		sl.connected.Store(false)
		log.Warn().Msg("socket mode: connection error, will retry")

	case socketmode.EventTypeEventsAPI:
		sl.reply(evt, nil)
		event, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			log.Warn().Type("data", evt.Data).Msg("socket mode: unexpected events api payload")
			return
		}
		if msg, ok := messageFromEvent(event); ok {
			go sl.messages(msg)
		}

	case socketmode.EventTypeInteractive:
		sl.reply(evt, nil)
		callback, ok := evt.Data.(slacklib.InteractionCallback)
		if !ok || callback.Type != slacklib.InteractionTypeBlockActions {
			return
		}
		if in := interactionFromCallback(callback); len(in.Actions) > 0 {
			go sl.actions(in)
		}

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slacklib.SlashCommand)
		if !ok {
			sl.reply(evt, nil)
			log.Warn().Type("data", evt.Data).Msg("socket mode: unexpected slash command payload")
			return
		}
		sl.reply(evt, map[string]interface{}{
			"response_type": "ephemeral",
			"text":          ackText,
		})
		log.Info().Str("command", cmd.Command).Str("user", cmd.UserName).Msg("socket mode: slash command")
		go sl.commands(cmd)

	default:
		sl.reply(evt, nil)
	}
}

func (sl *SocketListener) reply(evt socketmode.Event, payload interface{}) {
	if evt.Request == nil {
		return
	}
	if payload == nil {
		sl.ack(*evt.Request)
		return
	}
	sl.ack(*evt.Request, payload)
}

func interactionFromCallback(cb slacklib.InteractionCallback) Interaction {
	in := Interaction{
		Type:        string(cb.Type),
		User:        InteractionUser{ID: cb.User.ID, Name: cb.User.Name},
		Channel:     Channel{ID: cb.Channel.ID},
		ResponseURL: cb.ResponseURL,
	}
	for _, a := range cb.ActionCallback.BlockActions {
		if a == nil {
			continue
		}
		in.Actions = append(in.Actions, Action{ActionID: a.ActionID, BlockID: a.BlockID, Value: a.Value})
	}
	return in
}
