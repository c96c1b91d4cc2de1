package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	slacklib "github.com/slack-go/slack"

	"github.com/justmike1/triagebot/actions"
	triageslack "github.com/justmike1/triagebot/slack"
)

const (
	defaultDeployBranch = "main"
	defaultIssueLabel   = "bug"
	maxListedIssues     = 10
	statusCountLimit    = 100

	labelAIFixRequested = "ai-fix-requested"
)

// Workflows names the GitHub Actions workflows the bot dispatches.
type Workflows struct {
	Deploy  string
	Autofix string
	// Ref is the git ref autofix runs are dispatched on.
	Ref string
}

type commandFunc func(ctx context.Context, cmd slacklib.SlashCommand, args string) (triageslack.Response, error)

type commandEntry struct {
	usage       string
	description string
	run         commandFunc
}

// Router answers slash commands on the command's response_url.
type Router struct {
	tracker   Tracker
	workflows Workflows
	respond   RespondFunc
	commands  map[string]commandEntry
	order     []string
}

// NewRouter builds a router. tracker may be nil when GitHub is not
// configured; commands that need it then reply with an explanation.
func NewRouter(tracker Tracker, workflows Workflows) *Router {
	if workflows.Ref == "" {
		workflows.Ref = defaultDeployBranch
	}
	r := &Router{
		tracker:   tracker,
		workflows: workflows,
		respond:   defaultRespond(),
	}
	r.register("/deploy", "/deploy [branch]", "Deploy a branch after confirmation (default main)", r.deploy)
	r.register("/bug", "/bug <title>", "File a bug report", r.bug)
	r.register("/feature", "/feature <title>", "File a feature request", r.feature)
	r.register("/issues", "/issues [label]", "List open issues with a label (default bug)", r.issues)
	r.register("/fix", "/fix <issue number>", "Ask the AI to open a fix PR for an issue", r.fix)
	r.register("/status", "/status", "Show open bug and feature counts", r.status)
	r.register("/help", "/help", "Show this help", r.help)
	return r
}

func (r *Router) register(name, usage, description string, run commandFunc) {
	if r.commands == nil {
		r.commands = make(map[string]commandEntry)
	}
	r.commands[name] = commandEntry{usage: usage, description: description, run: run}
	r.order = append(r.order, name)
}

// Handle runs one slash command and posts its result. It is called after
// Slack has been acknowledged.
func (r *Router) Handle(cmd slacklib.SlashCommand) {
	ctx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
	defer cancel()

	logger := eventLogger("command", cmd.Command, cmd.UserName)
	out := newResponder(cmd.ResponseURL, r.respond, logger)
	out.reply(ctx, r.Route(ctx, cmd))
}

// Route computes the reply for cmd without sending it.
func (r *Router) Route(ctx context.Context, cmd slacklib.SlashCommand) triageslack.Response {
	name := normalizeCommand(cmd.Command)
	args := strings.TrimSpace(cmd.Text)
	logger := eventLogger("command", name, cmd.UserName)

	entry, ok := r.commands[name]
	if !ok {
		logger.Info().Msg("unknown command")
		return ephemeralReply(fmt.Sprintf("Unknown command: %s\n%s", name, r.commandList()))
	}

	resp, err := entry.run(ctx, cmd, args)
	if err != nil {
		logger.Error().Err(err).Msg("command failed")
		return ephemeralReply(failureText("run "+name, err))
	}
	logger.Info().Msg("command completed")
	return resp
}

func normalizeCommand(command string) string {
	command = strings.ToLower(strings.TrimSpace(command))
	if !strings.HasPrefix(command, "/") {
		command = "/" + command
	}
	return command
}

func (r *Router) commandList() string {
	var sb strings.Builder
	sb.WriteString("Known commands:")
	for _, name := range r.order {
		entry := r.commands[name]
		fmt.Fprintf(&sb, "\n• `%s` - %s", entry.usage, entry.description)
	}
	return sb.String()
}

func (r *Router) help(_ context.Context, _ slacklib.SlashCommand, _ string) (triageslack.Response, error) {
	return ephemeralReply(r.commandList()), nil
}

func (r *Router) deploy(_ context.Context, cmd slacklib.SlashCommand, args string) (triageslack.Response, error) {
	branch := defaultDeployBranch
	if fields := strings.Fields(args); len(fields) > 0 {
		branch = fields[0]
	}

	value := actions.Encode(actions.DeployValue{Branch: branch, RequestedBy: cmd.UserName})
	text := fmt.Sprintf("🚀 Deploy `%s`? Requested by %s.", branch, cmd.UserName)

	confirm := slacklib.NewButtonBlockElement(actions.ConfirmDeploy, value,
		slacklib.NewTextBlockObject(slacklib.PlainTextType, "Deploy", false, false)).WithStyle(slacklib.StylePrimary)
	cancel := slacklib.NewButtonBlockElement(actions.CancelDeploy, value,
		slacklib.NewTextBlockObject(slacklib.PlainTextType, "Cancel", false, false)).WithStyle(slacklib.StyleDanger)

	return triageslack.Response{
		Text:      text,
		Ephemeral: true,
		Blocks: []slacklib.Block{
			slacklib.NewSectionBlock(slacklib.NewTextBlockObject(slacklib.MarkdownType, text, false, false), nil, nil),
			slacklib.NewActionBlock("deploy_confirm", confirm, cancel),
		},
	}, nil
}

func (r *Router) bug(ctx context.Context, cmd slacklib.SlashCommand, args string) (triageslack.Response, error) {
	return r.createIssue(ctx, cmd, args, "🐛", []string{"bug", "slack-reported"})
}

func (r *Router) feature(ctx context.Context, cmd slacklib.SlashCommand, args string) (triageslack.Response, error) {
	return r.createIssue(ctx, cmd, args, "✨", []string{"enhancement", "slack-requested"})
}

func (r *Router) createIssue(ctx context.Context, cmd slacklib.SlashCommand, title, emoji string, labels []string) (triageslack.Response, error) {
	if title == "" {
		return ephemeralReply(fmt.Sprintf("Usage: `%s`", r.commands[normalizeCommand(cmd.Command)].usage)), nil
	}
	if r.tracker == nil {
		return triageslack.Response{}, errNoTracker
	}

	body := fmt.Sprintf("Reported from Slack by @%s in <#%s>.\n\n%s", cmd.UserName, cmd.ChannelID, title)
	ref, err := r.tracker.CreateIssue(ctx, title, body, labels)
	if err != nil {
		return triageslack.Response{}, err
	}
	return textReply(fmt.Sprintf("%s Created <%s|#%d>: %s", emoji, ref.URL, ref.Number, title)), nil
}

func (r *Router) issues(ctx context.Context, _ slacklib.SlashCommand, args string) (triageslack.Response, error) {
	label := defaultIssueLabel
	if fields := strings.Fields(args); len(fields) > 0 {
		label = fields[0]
	}
	if r.tracker == nil {
		return triageslack.Response{}, errNoTracker
	}

	issues, err := r.tracker.ListIssues(ctx, []string{label}, "open", maxListedIssues)
	if err != nil {
		return triageslack.Response{}, err
	}
	if len(issues) == 0 {
		return ephemeralReply(fmt.Sprintf("No open issues labelled `%s`. 🎉", label)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "*Open issues labelled `%s`:*", label)
	for i, issue := range issues {
		if i == maxListedIssues {
			break
		}
		fmt.Fprintf(&sb, "\n• <%s|#%d> %s", issue.URL, issue.Number, issue.Title)
	}
	return ephemeralReply(sb.String()), nil
}

func (r *Router) fix(ctx context.Context, cmd slacklib.SlashCommand, args string) (triageslack.Response, error) {
	number, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(args), "#"))
	if err != nil || number <= 0 {
		return ephemeralReply("Usage: `/fix <issue number>`"), nil
	}
	if err := requestFix(ctx, r.tracker, r.workflows, number); err != nil {
		return triageslack.Response{}, err
	}
	return textReply(fmt.Sprintf("🤖 AI fix requested for #%d by %s. A pull request will be posted when it is ready.", number, cmd.UserName)), nil
}

func (r *Router) status(ctx context.Context, _ slacklib.SlashCommand, _ string) (triageslack.Response, error) {
	if r.tracker == nil {
		return triageslack.Response{}, errNoTracker
	}

	bugs, err := r.tracker.ListIssues(ctx, []string{"bug"}, "open", statusCountLimit)
	if err != nil {
		return triageslack.Response{}, err
	}
	features, err := r.tracker.ListIssues(ctx, []string{"enhancement"}, "open", statusCountLimit)
	if err != nil {
		return triageslack.Response{}, err
	}

	return ephemeralReply(fmt.Sprintf("📊 *Status*\n• Open bugs: %s\n• Open features: %s",
		countText(len(bugs)), countText(len(features)))), nil
}

func countText(n int) string {
	if n >= statusCountLimit {
		return fmt.Sprintf("%d+", statusCountLimit)
	}
	return strconv.Itoa(n)
}

// requestFix labels the issue and starts the autofix workflow for it.
func requestFix(ctx context.Context, tracker Tracker, workflows Workflows, number int) error {
	if tracker == nil {
		return errNoTracker
	}
	if err := tracker.AddLabels(ctx, number, labelAIFixRequested); err != nil {
		return err
	}
	return tracker.DispatchWorkflow(ctx, workflows.Autofix, workflows.Ref, map[string]interface{}{
		"issue_number": strconv.Itoa(number),
	})
}
