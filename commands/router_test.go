package commands

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	gh "github.com/google/go-github/v60/github"
	slacklib "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justmike1/triagebot/actions"
	"github.com/justmike1/triagebot/github"
	triageslack "github.com/justmike1/triagebot/slack"
)

var testWorkflows = Workflows{Deploy: "deploy.yml", Autofix: "ai-fix.yml"}

func slash(command, text string) slacklib.SlashCommand {
	return slacklib.SlashCommand{
		Command:     command,
		Text:        text,
		UserName:    "alice",
		ChannelID:   "C123",
		ResponseURL: "https://hooks.slack.test/commands/1",
	}
}

func findButton(t *testing.T, resp triageslack.Response, actionID string) *slacklib.ButtonBlockElement {
	t.Helper()
	for _, block := range resp.Blocks {
		ab, ok := block.(*slacklib.ActionBlock)
		if !ok {
			continue
		}
		for _, el := range ab.Elements.ElementSet {
			if btn, ok := el.(*slacklib.ButtonBlockElement); ok && btn.ActionID == actionID {
				return btn
			}
		}
	}
	t.Fatalf("no %s button in response", actionID)
	return nil
}

func TestRouter_DeployDefaultsToMain(t *testing.T) {
	r := NewRouter(newFakeTracker(), testWorkflows)
	resp := r.Route(context.Background(), slash("/deploy", ""))

	assert.Contains(t, resp.Text, "main")
	btn := findButton(t, resp, actions.ConfirmDeploy)

	var value map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(btn.Value), &value))
	assert.Equal(t, map[string]interface{}{"branch": "main", "requestedBy": "alice"}, value)

	findButton(t, resp, actions.CancelDeploy)
}

func TestRouter_DeployBranchArgument(t *testing.T) {
	r := NewRouter(newFakeTracker(), testWorkflows)
	resp := r.Route(context.Background(), slash("/deploy", "release/2.1 now"))

	v, err := actions.Parse(actions.ConfirmDeploy, findButton(t, resp, actions.ConfirmDeploy).Value)
	require.NoError(t, err)
	assert.Equal(t, actions.DeployValue{Branch: "release/2.1", RequestedBy: "alice"}, v)
}

func TestRouter_UnknownCommand(t *testing.T) {
	r := NewRouter(newFakeTracker(), testWorkflows)
	resp := r.Route(context.Background(), slash("/frobnicate", "now"))

	assert.Contains(t, resp.Text, "Unknown command")
	assert.Contains(t, resp.Text, "/frobnicate")
	for _, name := range []string{"/deploy", "/bug", "/feature", "/issues", "/fix", "/status", "/help"} {
		assert.Contains(t, resp.Text, name)
	}
}

func TestRouter_BugAndFeatureLabels(t *testing.T) {
	tracker := newFakeTracker()
	r := NewRouter(tracker, testWorkflows)

	bug := r.Route(context.Background(), slash("/bug", "Checkout button does nothing"))
	feature := r.Route(context.Background(), slash("/feature", "CSV export"))

	require.Len(t, tracker.created, 2)
	assert.Equal(t, []string{"bug", "slack-reported"}, tracker.created[0].Labels)
	assert.Equal(t, "Checkout button does nothing", tracker.created[0].Title)
	assert.Contains(t, tracker.created[0].Body, "@alice")
	assert.Equal(t, []string{"enhancement", "slack-requested"}, tracker.created[1].Labels)

	assert.Contains(t, bug.Text, "#101")
	assert.Contains(t, feature.Text, "#102")
}

func TestRouter_BugWithoutTitleShowsUsage(t *testing.T) {
	tracker := newFakeTracker()
	resp := NewRouter(tracker, testWorkflows).Route(context.Background(), slash("/bug", "  "))
	assert.Contains(t, resp.Text, "Usage")
	assert.Empty(t, tracker.created)
}

func TestRouter_Issues(t *testing.T) {
	tracker := newFakeTracker()
	for i := 1; i <= 12; i++ {
		tracker.issues["bug"] = append(tracker.issues["bug"], github.Issue{Number: i, Title: "issue", URL: "u"})
	}
	r := NewRouter(tracker, testWorkflows)

	resp := r.Route(context.Background(), slash("/issues", ""))
	assert.Equal(t, 10, strings.Count(resp.Text, "• "))
	assert.Equal(t, []string{"bug"}, tracker.listed[0])

	resp = r.Route(context.Background(), slash("/issues", "enhancement"))
	assert.Contains(t, resp.Text, "No open issues labelled `enhancement`")
}

func TestRouter_Fix(t *testing.T) {
	tracker := newFakeTracker()
	r := NewRouter(tracker, testWorkflows)

	resp := r.Route(context.Background(), slash("/fix", "#42"))
	assert.Contains(t, resp.Text, "#42")
	assert.Equal(t, []string{"ai-fix-requested"}, tracker.labels[42])
	require.Len(t, tracker.dispatches, 1)
	assert.Equal(t, dispatch{Workflow: "ai-fix.yml", Ref: "main", Inputs: map[string]interface{}{"issue_number": "42"}}, tracker.dispatches[0])

	resp = r.Route(context.Background(), slash("/fix", "soon"))
	assert.Contains(t, resp.Text, "Usage")
}

func TestRouter_Status(t *testing.T) {
	tracker := newFakeTracker()
	tracker.issues["bug"] = []github.Issue{{Number: 1}, {Number: 2}}
	tracker.issues["enhancement"] = []github.Issue{{Number: 3}}

	resp := NewRouter(tracker, testWorkflows).Route(context.Background(), slash("/status", ""))
	assert.Contains(t, resp.Text, "Open bugs: 2")
	assert.Contains(t, resp.Text, "Open features: 1")
}

func TestRouter_RemoteErrorBecomesText(t *testing.T) {
	tracker := newFakeTracker()
	tracker.err = &github.RemoteAPIError{Op: "create issue", Status: 422, Body: "Validation Failed", Err: errors.New("422")}

	resp := NewRouter(tracker, testWorkflows).Route(context.Background(), slash("/bug", "x"))
	assert.Contains(t, resp.Text, "Failed")
	assert.Contains(t, resp.Text, "422")
}

func TestRouter_NoTracker(t *testing.T) {
	resp := NewRouter(nil, testWorkflows).Route(context.Background(), slash("/bug", "x"))
	assert.Contains(t, resp.Text, "not configured")
}

func TestRouter_HandleRespondsOnce(t *testing.T) {
	rec := &respondRecorder{}
	r := NewRouter(newFakeTracker(), testWorkflows)
	r.respond = rec.send

	r.Handle(slash("/help", ""))

	require.Len(t, rec.replies, 1)
	assert.Equal(t, "https://hooks.slack.test/commands/1", rec.urls[0])
	assert.Contains(t, rec.replies[0].Text, "Known commands")
}

func TestRouter_HandleDropsFailedDelivery(t *testing.T) {
	rec := &respondRecorder{err: errors.New("410 gone")}
	r := NewRouter(newFakeTracker(), testWorkflows)
	r.respond = rec.send

	assert.NotPanics(t, func() { r.Handle(slash("/help", "")) })
	assert.Len(t, rec.replies, 1)
}

func TestResponder_UsedAtMostOnce(t *testing.T) {
	rec := &respondRecorder{}
	out := newResponder("https://hooks.slack.test/x", rec.send, eventLogger("command", "/x", "u"))

	out.reply(context.Background(), textReply("first"))
	out.reply(context.Background(), textReply("second"))

	require.Len(t, rec.replies, 1)
	assert.Equal(t, "first", rec.replies[0].Text)
}

func TestFailureText_WrapsGitHubErrors(t *testing.T) {
	apiErr := &github.RemoteAPIError{Op: "merge PR #5", Status: 405, Body: "not mergeable", Err: &gh.ErrorResponse{Message: "not mergeable"}}
	text := failureText("merge PR #5", apiErr)
	assert.Contains(t, text, "405")
	assert.Contains(t, text, "not mergeable")
}
