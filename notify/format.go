// Package notify turns notification requests into Slack Block Kit messages
// and delivers them to incoming webhooks.
package notify

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/slack-go/slack"

	"github.com/justmike1/triagebot/actions"
)

type Kind string

const (
	KindBug        Kind = "bug"
	KindFeature    Kind = "feature"
	KindDeployment Kind = "deployment"
	KindDigest     Kind = "digest"
	KindIncident   Kind = "incident"
	KindPR         Kind = "pr"
)

// Field length limits.
const (
	titleLimit       = 150
	prTitleLimit     = 60
	locationLimit    = 100
	descriptionLimit = 300
	topIssueLimit    = 60
	maxTopIssues     = 5
	fallbackLimit    = 2900
	maxHeaderLength  = 150

	// Slack rejects section fields over 2000 characters and section text
	// over 3000.
	fieldValueLimit  = 1900
	sectionTextLimit = 2900
)

// Request is the body accepted by the notify endpoint.
type Request struct {
	Type Kind           `json:"type"`
	Data map[string]any `json:"data"`
}

// Message is a formatted notification. Text is the plain fallback shown in
// push notifications and clients without Block Kit.
type Message struct {
	Text   string
	Blocks []slack.Block
}

// Truncate shortens s to n characters followed by "...". It never splits a
// multi-byte character.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// ShortSHA abbreviates a commit hash to seven characters.
func ShortSHA(sha string) string {
	runes := []rune(sha)
	if len(runes) <= 7 {
		return sha
	}
	return string(runes[:7])
}

// Format builds the message for kind. Unknown kinds get a generic message
// rather than an error.
func Format(kind Kind, data map[string]any) Message {
	d := payload(data)
	switch kind {
	case KindBug:
		return formatBug(d)
	case KindFeature:
		return formatFeature(d)
	case KindDeployment:
		return formatDeployment(d)
	case KindDigest:
		return formatDigest(d)
	case KindIncident:
		return formatIncident(d)
	case KindPR:
		return formatPR(d)
	default:
		return formatFallback(d)
	}
}

func formatBug(d payload) Message {
	title := d.str("title", "Untitled bug")
	number := d.num("issueNumber", "number")
	issueURL := d.str("issueUrl", "")

	b := newBuilder("🐛 Bug: " + Truncate(title, titleLimit))
	b.fields(
		"Severity", d.str("severity", "unknown"),
		"Reporter", d.str("reporter", "anonymous"),
		"Browser / URL", Truncate(joinNonEmpty(" | ", d.str("browser", ""), d.str("url", "")), locationLimit),
		"Issue", issueLink(number, issueURL),
	)
	b.section("Description", Truncate(d.str("description", ""), descriptionLimit))

	var buttons []slack.BlockElement
	if number > 0 {
		buttons = append(buttons, button(actions.FixIssue, "🤖 Fix with AI",
			actions.Encode(actions.IssueValue{IssueNumber: number, Title: Truncate(title, prTitleLimit)}), slack.StylePrimary))
	}
	if issueURL != "" {
		buttons = append(buttons, linkButton("View Issue", issueURL))
	}
	b.actions("bug_actions", buttons...)
	return b.message()
}

func formatFeature(d payload) Message {
	title := d.str("title", "Untitled feature")
	number := d.num("issueNumber", "number")
	issueURL := d.str("issueUrl", "")

	b := newBuilder("✨ Feature: " + Truncate(title, titleLimit))
	b.fields(
		"Priority", d.str("priority", "medium"),
		"Requested by", d.str("requestedBy", d.str("reporter", "anonymous")),
		"Issue", issueLink(number, issueURL),
	)
	b.section("Use case", Truncate(d.str("useCase", d.str("description", "")), descriptionLimit))

	var buttons []slack.BlockElement
	if number > 0 {
		buttons = append(buttons, button(actions.FixIssue, "🤖 Implement with AI",
			actions.Encode(actions.IssueValue{IssueNumber: number, Title: Truncate(title, prTitleLimit)}), slack.StylePrimary))
	}
	if issueURL != "" {
		buttons = append(buttons, linkButton("View Issue", issueURL))
	}
	b.actions("feature_actions", buttons...)
	return b.message()
}

func formatDeployment(d payload) Message {
	status := d.str("status", "unknown")
	branch := d.str("branch", "main")
	siteURL := d.str("url", "")
	triggeredBy := d.str("triggeredBy", d.str("actor", "unknown"))

	commit := ShortSHA(d.str("commit", d.str("sha", "")))

	b := newBuilder("🚀 Deployment " + status)
	b.fields(
		"Branch", branch,
		"Commit", commit,
		"Environment", d.str("environment", "production"),
		"Triggered by", triggeredBy,
		"URL", siteURL,
	)

	var buttons []slack.BlockElement
	if siteURL != "" {
		buttons = append(buttons, linkButton("View Site", siteURL))
	}
	if strings.EqualFold(status, "failed") {
		buttons = append(buttons, button(actions.RollbackDeploy, "⏪ Rollback",
			actions.Encode(actions.DeployValue{Branch: branch, RequestedBy: triggeredBy}), slack.StyleDanger))
	}
	b.actions("deployment_actions", buttons...)
	return b.message()
}

func formatDigest(d payload) Message {
	b := newBuilder("📊 Daily Digest")
	b.fields(
		"Open bugs", d.str("openBugs", "0"),
		"Open features", d.str("openFeatures", "0"),
		"New today", d.str("newToday", "0"),
		"Closed today", d.str("closedToday", "0"),
	)

	var lines []string
	for _, issue := range d.list("topIssues") {
		if len(lines) == maxTopIssues {
			break
		}
		lines = append(lines, "• "+topIssueLine(issue))
	}
	b.section("Top issues", strings.Join(lines, "\n"))
	return b.message()
}

func topIssueLine(issue any) string {
	switch v := issue.(type) {
	case map[string]any:
		f := payload(v)
		title := Truncate(f.str("title", "untitled"), topIssueLimit)
		if n := f.num("number", "issueNumber"); n > 0 {
			return fmt.Sprintf("#%d %s", n, title)
		}
		return title
	default:
		return Truncate(stringify(v), topIssueLimit)
	}
}

func formatIncident(d payload) Message {
	title := d.str("title", "Untitled incident")
	severity := d.str("severity", "unknown")

	b := newBuilder("🚨 Incident: " + Truncate(title, titleLimit))
	b.fields(
		"Severity", severity,
		"Service", d.str("service", "unknown"),
	)
	b.section("Description", Truncate(d.str("description", ""), descriptionLimit))

	id := d.str("incidentId", d.str("id", Truncate(title, prTitleLimit)))
	b.actions("incident_actions", button(actions.AckIncident, "👀 Acknowledge",
		actions.Encode(actions.IncidentValue{IncidentID: id, Severity: severity}), slack.StylePrimary))
	return b.message()
}

func formatPR(d payload) Message {
	number := d.num("prNumber", "number")
	prURL := d.str("url", "")

	issue := ""
	if n := d.num("issueNumber"); n > 0 {
		issue = fmt.Sprintf("#%d", n)
	}

	b := newBuilder(fmt.Sprintf("🔀 PR #%d: %s", number, Truncate(d.str("title", "Untitled"), prTitleLimit)))
	b.fields(
		"Author", d.str("author", "unknown"),
		"Branch", d.str("branch", ""),
		"Issue", issue,
	)
	b.section("Summary", Truncate(d.str("summary", d.str("body", "")), descriptionLimit))

	var buttons []slack.BlockElement
	if number > 0 {
		value := actions.Encode(actions.PRValue{PRNumber: number})
		buttons = append(buttons,
			button(actions.ApprovePR, "✅ Approve", value, slack.StylePrimary),
			button(actions.MergePR, "🔀 Merge", value, ""),
			button(actions.ClosePR, "❌ Close", value, slack.StyleDanger),
		)
	}
	if prURL != "" {
		buttons = append(buttons, linkButton("View PR", prURL))
	}
	b.actions("pr_actions", buttons...)
	return b.message()
}

func formatFallback(d payload) Message {
	text := d.str("message", d.str("text", ""))
	if text == "" && len(d) > 0 {
		raw, err := json.MarshalIndent(map[string]any(d), "", "  ")
		if err == nil {
			text = "```" + string(raw) + "```"
		}
	}

	b := newBuilder("📣 Notification")
	if text != "" {
		b.blocks = append(b.blocks, markdownSection(Truncate(text, fallbackLimit)))
	}
	return b.message()
}

// builder accumulates blocks under a header.
type builder struct {
	title  string
	blocks []slack.Block
}

func newBuilder(title string) *builder {
	return &builder{
		title: title,
		blocks: []slack.Block{
			slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, headerText(title), true, false)),
		},
	}
}

// fields takes label/value pairs and skips empty values.
func (b *builder) fields(pairs ...string) {
	var objs []*slack.TextBlockObject
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		value := Truncate(pairs[i+1], fieldValueLimit)
		objs = append(objs, slack.NewTextBlockObject(slack.MarkdownType, "*"+pairs[i]+"*\n"+value, false, false))
	}
	if len(objs) > 0 {
		b.blocks = append(b.blocks, slack.NewSectionBlock(nil, objs, nil))
	}
}

func (b *builder) section(label, text string) {
	if text == "" {
		return
	}
	b.blocks = append(b.blocks, markdownSection("*"+label+"*\n"+Truncate(text, sectionTextLimit)))
}

func (b *builder) actions(blockID string, elements ...slack.BlockElement) {
	if len(elements) == 0 {
		return
	}
	b.blocks = append(b.blocks, slack.NewActionBlock(blockID, elements...))
}

// headerText fits Slack's 150 character limit on header blocks.
func headerText(title string) string {
	if len([]rune(title)) <= maxHeaderLength {
		return title
	}
	return Truncate(title, maxHeaderLength-3)
}

func (b *builder) message() Message {
	return Message{Text: b.title, Blocks: b.blocks}
}

func markdownSection(text string) *slack.SectionBlock {
	return slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil)
}

func button(actionID, label, value string, style slack.Style) *slack.ButtonBlockElement {
	btn := slack.NewButtonBlockElement(actionID, value, slack.NewTextBlockObject(slack.PlainTextType, label, true, false))
	if style != "" {
		btn.WithStyle(style)
	}
	return btn
}

func linkButton(label, url string) *slack.ButtonBlockElement {
	btn := slack.NewButtonBlockElement(actions.OpenLink, "", slack.NewTextBlockObject(slack.PlainTextType, label, true, false))
	btn.URL = url
	return btn
}

func issueLink(number int, url string) string {
	switch {
	case url != "" && number > 0:
		return fmt.Sprintf("<%s|#%d>", url, number)
	case url != "":
		return url
	case number > 0:
		return fmt.Sprintf("#%d", number)
	}
	return ""
}

func joinNonEmpty(sep string, parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}

// payload reads loosely typed JSON values.
type payload map[string]any

// str returns the value at key as text, or def when it is absent or empty.
func (f payload) str(key, def string) string {
	if s := stringify(f[key]); s != "" {
		return s
	}
	return def
}

// num returns the first of keys that holds a positive number.
func (f payload) num(keys ...string) int {
	for _, key := range keys {
		switch v := f[key].(type) {
		case float64:
			if v > 0 {
				return int(v)
			}
		case int:
			if v > 0 {
				return v
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimPrefix(v, "#")); err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

func (f payload) list(key string) []any {
	v, _ := f[key].([]any)
	return v
}

func stringify(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	}
}
