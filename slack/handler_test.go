package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	slacklib "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVerifier() *Verifier {
	return NewVerifier(testSecret)
}

func signedRequest(t *testing.T, path, contentType, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header = signedHeaders(testSecret, time.Now(), []byte(body))
	req.Header.Set("Content-Type", contentType)
	return req
}

func TestHandler_AcksThenRunsCommand(t *testing.T) {
	got := make(chan slacklib.SlashCommand, 1)
	h := NewHandler(testVerifier(), func(cmd slacklib.SlashCommand) { got <- cmd })

	form := url.Values{
		"command":      {"/deploy"},
		"text":         {"release-1"},
		"user_name":    {"alice"},
		"response_url": {"https://hooks.slack.test/resp"},
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, "/slack-commands", "application/x-www-form-urlencoded", form.Encode()))

	require.Equal(t, http.StatusOK, rec.Code)
	var ack map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, "ephemeral", ack["response_type"])
	assert.NotEmpty(t, ack["text"])

	select {
	case cmd := <-got:
		assert.Equal(t, "/deploy", cmd.Command)
		assert.Equal(t, "release-1", cmd.Text)
		assert.Equal(t, "alice", cmd.UserName)
		assert.Equal(t, "https://hooks.slack.test/resp", cmd.ResponseURL)
	case <-time.After(2 * time.Second):
		t.Fatal("command handler was not called")
	}
}

func TestHandler_RejectsBadSignature(t *testing.T) {
	called := make(chan struct{}, 1)
	h := NewHandler(testVerifier(), func(slacklib.SlashCommand) { called <- struct{}{} })

	req := signedRequest(t, "/slack-commands", "application/x-www-form-urlencoded", "command=%2Fhelp")
	req.Header.Set(headerSignature, "v0=deadbeef")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	select {
	case <-called:
		t.Fatal("handler ran for an unsigned request")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := NewHandler(testVerifier(), func(slacklib.SlashCommand) {})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slack-commands", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestParseInteraction(t *testing.T) {
	payload := `{"type":"block_actions","user":{"id":"U1","username":"bob"},"response_url":"https://hooks.slack.test/r","actions":[{"action_id":"merge_pr","value":"{\"prNumber\":7}"}]}`

	tests := []struct {
		name string
		body string
	}{
		{name: "raw json", body: payload},
		{name: "form field", body: url.Values{"payload": {payload}}.Encode()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := ParseInteraction([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, "bob", in.User.DisplayName())
			assert.Equal(t, "https://hooks.slack.test/r", in.ResponseURL)
			require.Len(t, in.Actions, 1)
			assert.Equal(t, "merge_pr", in.Actions[0].ActionID)
			assert.Equal(t, `{"prNumber":7}`, in.Actions[0].Value)
		})
	}

	_, err := ParseInteraction([]byte("foo=bar"))
	assert.Error(t, err)
	_, err = ParseInteraction([]byte(`{"type":"block_actions","actions":[]}`))
	assert.Error(t, err)
	_, err = ParseInteraction([]byte(`{not json`))
	assert.Error(t, err)
}

func TestInteractionsHandler(t *testing.T) {
	got := make(chan Interaction, 1)
	h := NewInteractionsHandler(testVerifier(), func(in Interaction) { got <- in })

	body := url.Values{"payload": {`{"user":{"name":"carol"},"actions":[{"action_id":"cancel_deploy","value":"{}"}]}`}}.Encode()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, "/slack-actions", "application/x-www-form-urlencoded", body))
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case in := <-got:
		assert.Equal(t, "carol", in.User.DisplayName())
		assert.Equal(t, "cancel_deploy", in.Actions[0].ActionID)
	case <-time.After(2 * time.Second):
		t.Fatal("interaction handler was not called")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, "/slack-actions", "application/x-www-form-urlencoded", "nothing=here"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventsHandler_URLVerification(t *testing.T) {
	h := NewEventsHandler(testVerifier(), func(MessageEvent) { t.Error("no message expected") })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, "/slack-claude", "application/json",
		`{"type":"url_verification","token":"x","challenge":"3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P", resp["challenge"])
}

func TestEventsHandler_Messages(t *testing.T) {
	tests := []struct {
		name  string
		event string
		want  *MessageEvent
	}{
		{
			name:  "app mention starts a thread",
			event: `{"type":"app_mention","user":"U1","text":"<@UBOT> why is the build red?","ts":"100.1","channel":"C1","event_ts":"100.1"}`,
			want:  &MessageEvent{Channel: "C1", ThreadTS: "100.1", User: "U1", Text: "why is the build red?"},
		},
		{
			name:  "app mention inside thread",
			event: `{"type":"app_mention","user":"U1","text":"<@UBOT> and now?","ts":"101.1","thread_ts":"100.1","channel":"C1","event_ts":"101.1"}`,
			want:  &MessageEvent{Channel: "C1", ThreadTS: "100.1", User: "U1", Text: "and now?"},
		},
		{
			name:  "direct message",
			event: `{"type":"message","channel_type":"im","user":"U2","text":"hello","ts":"200.2","channel":"D1","event_ts":"200.2"}`,
			want:  &MessageEvent{Channel: "D1", ThreadTS: "200.2", User: "U2", Text: "hello"},
		},
		{
			name:  "bot mention ignored",
			event: `{"type":"app_mention","user":"U3","bot_id":"B1","text":"<@UBOT> loop","ts":"1.1","channel":"C1","event_ts":"1.1"}`,
		},
		{
			name:  "bot dm ignored",
			event: `{"type":"message","channel_type":"im","bot_id":"B1","subtype":"bot_message","text":"x","ts":"1.1","channel":"D1","event_ts":"1.1"}`,
		},
		{
			name:  "channel message ignored",
			event: `{"type":"message","channel_type":"channel","user":"U2","text":"chatter","ts":"1.1","channel":"C9","event_ts":"1.1"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make(chan MessageEvent, 1)
			h := NewEventsHandler(testVerifier(), func(ev MessageEvent) { got <- ev })

			body := `{"token":"x","team_id":"T1","api_app_id":"A1","type":"event_callback","event_id":"Ev1","event_time":1,"event":` + tt.event + `}`
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, signedRequest(t, "/slack-claude", "application/json", body))
			require.Equal(t, http.StatusOK, rec.Code)

			if tt.want == nil {
				select {
				case ev := <-got:
					t.Fatalf("unexpected message %+v", ev)
				case <-time.After(50 * time.Millisecond):
				}
				return
			}
			select {
			case ev := <-got:
				assert.Equal(t, *tt.want, ev)
			case <-time.After(2 * time.Second):
				t.Fatal("message handler was not called")
			}
		})
	}
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, SplitMessage("short", 10))

	chunks := SplitMessage("aaaa\nbbbb\ncccc", 10)
	assert.Equal(t, []string{"aaaa\nbbbb", "cccc"}, chunks)

	chunks = SplitMessage(strings.Repeat("x", 25), 10)
	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, chunks)

	long := strings.Repeat("line of text\n", 700)
	for _, c := range SplitMessage(long, MaxMessageLength) {
		assert.LessOrEqual(t, len([]rune(c)), MaxMessageLength)
	}
}

func TestRespondToURL(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := RespondToURL(context.Background(), srv.URL, Response{
		Text:      "done",
		Ephemeral: true,
		Blocks: []slacklib.Block{
			slacklib.NewSectionBlock(slacklib.NewTextBlockObject(slacklib.MarkdownType, "*done*", false, false), nil, nil),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", got["text"])
	assert.Equal(t, "ephemeral", got["response_type"])
	assert.Len(t, got["blocks"], 1)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer failing.Close()
	assert.Error(t, RespondToURL(context.Background(), failing.URL, Response{Text: "x"}))
}

func TestStripMentions(t *testing.T) {
	assert.Equal(t, "hi there", StripMentions("<@U123> hi there"))
	assert.Equal(t, "ping", StripMentions("<@U123|bot> ping <@U999>"))
	assert.Equal(t, "no mentions", StripMentions("  no mentions "))
}
