package slack

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

// MaxMessageLength is the longest text posted in a single chat.postMessage call.
const MaxMessageLength = 3900

var webhookHTTPClient = &http.Client{Timeout: 15 * time.Second}

type Client struct {
	api *slack.Client
}

func NewClient(botToken string) *Client {
	return &Client{api: slack.New(botToken)}
}

// NewClientWithAPIURL points the client at a different Web API root, e.g. a test server.
func NewClientWithAPIURL(botToken, apiURL string) *Client {
	return &Client{api: slack.New(botToken, slack.OptionAPIURL(apiURL))}
}

func (c *Client) PostThreadReply(ctx context.Context, channelID, threadTS, text string) error {
	_, _, err := c.api.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false), slack.MsgOptionTS(threadTS))
	if err != nil {
		return fmt.Errorf("failed to post thread reply: %w", err)
	}
	return nil
}

// PostLongThreadReply posts text in as many thread replies as needed to stay
// under MaxMessageLength.
func (c *Client) PostLongThreadReply(ctx context.Context, channelID, threadTS, text string) error {
	for _, chunk := range SplitMessage(text, MaxMessageLength) {
		if err := c.PostThreadReply(ctx, channelID, threadTS, chunk); err != nil {
			return err
		}
	}
	return nil
}

// SplitMessage breaks text into chunks of at most max characters, cutting at
// the last newline inside each window when there is one.
func SplitMessage(text string, max int) []string {
	runes := []rune(text)
	if len(runes) <= max {
		return []string{text}
	}

	var chunks []string
	for len(runes) > max {
		cut := lastNewline(runes[:max])
		if cut <= 0 {
			chunks = append(chunks, string(runes[:max]))
			runes = runes[max:]
			continue
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut+1:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

func lastNewline(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == '\n' {
			return i
		}
	}
	return -1
}

// Response is a message delivered to a slash command or interaction response_url.
type Response struct {
	Text            string
	Blocks          []slack.Block
	Ephemeral       bool
	ReplaceOriginal bool
}

func RespondToURL(ctx context.Context, responseURL string, resp Response) error {
	respType := "in_channel"
	if resp.Ephemeral {
		respType = "ephemeral"
	}

	msg := &slack.WebhookMessage{
		Text:            resp.Text,
		ResponseType:    respType,
		ReplaceOriginal: resp.ReplaceOriginal,
	}
	if len(resp.Blocks) > 0 {
		msg.Blocks = &slack.Blocks{BlockSet: resp.Blocks}
	}

	if err := slack.PostWebhookCustomHTTPContext(ctx, responseURL, webhookHTTPClient, msg); err != nil {
		return fmt.Errorf("failed to post to response_url: %w", err)
	}
	return nil
}

// PostWebhook sends a Block Kit message to an incoming webhook URL.
func PostWebhook(ctx context.Context, webhookURL, text string, blocks []slack.Block) error {
	msg := &slack.WebhookMessage{Text: text}
	if len(blocks) > 0 {
		msg.Blocks = &slack.Blocks{BlockSet: blocks}
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, webhookURL, webhookHTTPClient, msg); err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	return nil
}

// StripMentions removes <@U123> and <@U123|name> tokens from message text.
func StripMentions(text string) string {
	for {
		start := strings.Index(text, "<@")
		if start < 0 {
			break
		}
		end := strings.Index(text[start:], ">")
		if end < 0 {
			break
		}
		text = text[:start] + text[start+end+1:]
	}
	return strings.TrimSpace(text)
}
