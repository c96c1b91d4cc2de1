package commands

import (
	"context"

	"github.com/justmike1/triagebot/conversation"
	"github.com/justmike1/triagebot/llm"
	"github.com/justmike1/triagebot/prompts"
	triageslack "github.com/justmike1/triagebot/slack"
)

const (
	chatUnavailableText = "🤖 AI chat is not configured for this bot."
	chatFailedText      = "⚠️ Sorry, I couldn't get an answer from the AI service. Please try again in a moment."
	emptyMentionText    = "👋 Ask me anything about bugs, features, deployments or pull requests. Try `/help` for commands."
)

// ChatHandler answers @mentions and DMs with the language model, keeping a
// rolling history per thread.
type ChatHandler struct {
	cache   *conversation.Cache
	model   llm.Completer
	slack   ThreadPoster
	prompts PromptProvider
}

// NewChatHandler builds a handler. model may be nil when no LLM is
// configured.
func NewChatHandler(cache *conversation.Cache, model llm.Completer, poster ThreadPoster, prompter PromptProvider) *ChatHandler {
	return &ChatHandler{cache: cache, model: model, slack: poster, prompts: prompter}
}

func (h *ChatHandler) Handle(ev triageslack.MessageEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
	defer cancel()

	logger := eventLogger("channel", ev.Channel, ev.User).With().Str("thread", ev.ThreadTS).Logger()

	reply := h.answer(ctx, ev)
	if err := h.slack.PostLongThreadReply(ctx, ev.Channel, ev.ThreadTS, reply); err != nil {
		logger.Error().Err(err).Msg("failed to post chat reply")
		return
	}
	logger.Info().Int("reply_len", len(reply)).Msg("chat reply posted")
}

func (h *ChatHandler) answer(ctx context.Context, ev triageslack.MessageEvent) string {
	logger := eventLogger("channel", ev.Channel, ev.User)

	if ev.Text == "" {
		return emptyMentionText
	}
	if h.model == nil {
		return chatUnavailableText
	}

	key := conversation.Key{Channel: ev.Channel, Thread: ev.ThreadTS}
	history, err := h.cache.Append(ctx, key, llm.RoleUser, ev.Text)
	if err != nil {
		logger.Warn().Err(err).Msg("conversation cache unavailable, answering without history")
		history = []conversation.Entry{{Role: llm.RoleUser, Text: ev.Text}}
	}

	reply, err := h.model.Chat(ctx, h.prompts.Get(prompts.Chat), toMessages(history))
	if err != nil {
		logger.Error().Err(err).Msg("chat completion failed")
		return chatFailedText
	}

	if _, err := h.cache.Append(ctx, key, llm.RoleAssistant, reply); err != nil {
		logger.Warn().Err(err).Msg("failed to store assistant turn")
	}
	return reply
}

func toMessages(entries []conversation.Entry) []llm.Message {
	msgs := make([]llm.Message, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, llm.Message{Role: e.Role, Content: e.Text})
	}
	return msgs
}
