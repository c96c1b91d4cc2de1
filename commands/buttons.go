package commands

import (
	"context"
	"fmt"

	"github.com/justmike1/triagebot/actions"
	"github.com/justmike1/triagebot/github"
	"github.com/justmike1/triagebot/notify"
	triageslack "github.com/justmike1/triagebot/slack"
)

// ActionRouter handles button clicks on messages the bot posted.
type ActionRouter struct {
	tracker   Tracker
	workflows Workflows
	respond   RespondFunc
}

func NewActionRouter(tracker Tracker, workflows Workflows) *ActionRouter {
	if workflows.Ref == "" {
		workflows.Ref = defaultDeployBranch
	}
	return &ActionRouter{
		tracker:   tracker,
		workflows: workflows,
		respond:   defaultRespond(),
	}
}

// Handle processes the first action of an interaction and posts the outcome
// on its response_url. Link buttons are ignored.
func (a *ActionRouter) Handle(in triageslack.Interaction) {
	if len(in.Actions) == 0 || in.Actions[0].ActionID == actions.OpenLink {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
	defer cancel()

	act := in.Actions[0]
	logger := eventLogger("action", act.ActionID, in.User.DisplayName())
	out := newResponder(in.ResponseURL, a.respond, logger)
	out.reply(ctx, a.Route(ctx, act, in.User.DisplayName()))
}

// Route performs one action and returns the reply.
func (a *ActionRouter) Route(ctx context.Context, act triageslack.Action, user string) triageslack.Response {
	logger := eventLogger("action", act.ActionID, user)

	if !actions.Known(act.ActionID) {
		logger.Info().Msg("unknown action")
		return ephemeralReply(fmt.Sprintf("Unknown action: %s", act.ActionID))
	}

	value, err := actions.Parse(act.ActionID, act.Value)
	if err != nil {
		logger.Warn().Err(err).Msg("invalid button value")
		return ephemeralReply(fmt.Sprintf("❌ This button is no longer valid: %v", err))
	}

	resp, err := a.run(ctx, act.ActionID, value, user)
	if err != nil {
		logger.Error().Err(err).Msg("action failed")
		return ephemeralReply(failureText(describeAction(act.ActionID, value), err))
	}
	logger.Info().Msg("action completed")
	return resp
}

func (a *ActionRouter) run(ctx context.Context, actionID string, value actions.Value, user string) (triageslack.Response, error) {
	switch v := value.(type) {
	case actions.DeployValue:
		return a.deploy(ctx, actionID, v, user)
	case actions.PRValue:
		return a.pullRequest(ctx, actionID, v, user)
	case actions.IssueValue:
		if err := requestFix(ctx, a.tracker, a.workflows, v.IssueNumber); err != nil {
			return triageslack.Response{}, err
		}
		return textReply(fmt.Sprintf("🤖 AI fix requested for #%d by %s.", v.IssueNumber, user)), nil
	case actions.IncidentValue:
		return textReply(fmt.Sprintf("👀 Incident %s (%s) acknowledged by %s.", v.IncidentID, orUnknown(v.Severity), user)), nil
	}
	return triageslack.Response{}, fmt.Errorf("no handler for %s", actionID)
}

func (a *ActionRouter) deploy(ctx context.Context, actionID string, v actions.DeployValue, user string) (triageslack.Response, error) {
	switch actionID {
	case actions.CancelDeploy:
		return triageslack.Response{
			Text:            fmt.Sprintf("🛑 Deployment of `%s` cancelled by %s.", v.Branch, user),
			ReplaceOriginal: true,
		}, nil

	case actions.ConfirmDeploy:
		if a.tracker == nil {
			return triageslack.Response{}, errNoTracker
		}
		err := a.tracker.DispatchWorkflow(ctx, a.workflows.Deploy, v.Branch, map[string]interface{}{
			"requested_by": v.RequestedBy,
			"confirmed_by": user,
		})
		if err != nil {
			return triageslack.Response{}, err
		}
		return triageslack.Response{
			Text:            fmt.Sprintf("🚀 Deployment of `%s` started by %s (requested by %s).", v.Branch, user, orUnknown(v.RequestedBy)),
			ReplaceOriginal: true,
		}, nil

	default:
		if a.tracker == nil {
			return triageslack.Response{}, errNoTracker
		}
		err := a.tracker.DispatchWorkflow(ctx, a.workflows.Deploy, v.Branch, map[string]interface{}{
			"requested_by": user,
			"rollback":     "true",
		})
		if err != nil {
			return triageslack.Response{}, err
		}
		return textReply(fmt.Sprintf("⏪ Rollback of `%s` started by %s.", v.Branch, user)), nil
	}
}

func (a *ActionRouter) pullRequest(ctx context.Context, actionID string, v actions.PRValue, user string) (triageslack.Response, error) {
	if a.tracker == nil {
		return triageslack.Response{}, errNoTracker
	}

	switch actionID {
	case actions.ApprovePR:
		if err := a.tracker.CreateReview(ctx, v.PRNumber, github.ReviewApprove, "Approved from Slack by "+user); err != nil {
			return triageslack.Response{}, err
		}
		return textReply(fmt.Sprintf("✅ PR #%d approved by %s.", v.PRNumber, user)), nil

	case actions.MergePR:
		pr, err := a.tracker.GetPullRequest(ctx, v.PRNumber)
		if err != nil {
			return triageslack.Response{}, err
		}
		switch {
		case pr.Merged:
			return ephemeralReply(fmt.Sprintf("ℹ️ PR #%d is already merged.", v.PRNumber)), nil
		case pr.State == "closed":
			return ephemeralReply(fmt.Sprintf("ℹ️ PR #%d is closed and cannot be merged.", v.PRNumber)), nil
		}

		sha, err := a.tracker.MergePullRequest(ctx, v.PRNumber, fmt.Sprintf("%s (#%d)", pr.Title, v.PRNumber))
		if err != nil {
			return triageslack.Response{}, err
		}
		return textReply(fmt.Sprintf("🔀 PR #%d squash-merged by %s (`%s`).", v.PRNumber, user, notify.ShortSHA(sha))), nil

	default:
		if err := a.tracker.ClosePullRequest(ctx, v.PRNumber); err != nil {
			return triageslack.Response{}, err
		}
		return textReply(fmt.Sprintf("❌ PR #%d closed by %s.", v.PRNumber, user)), nil
	}
}

func describeAction(actionID string, value actions.Value) string {
	switch v := value.(type) {
	case actions.DeployValue:
		return fmt.Sprintf("%s `%s`", actionVerb(actionID), v.Branch)
	case actions.PRValue:
		return fmt.Sprintf("%s PR #%d", actionVerb(actionID), v.PRNumber)
	case actions.IssueValue:
		return fmt.Sprintf("request a fix for #%d", v.IssueNumber)
	}
	return actionID
}

func actionVerb(actionID string) string {
	switch actionID {
	case actions.ConfirmDeploy:
		return "deploy"
	case actions.RollbackDeploy:
		return "roll back"
	case actions.ApprovePR:
		return "approve"
	case actions.MergePR:
		return "merge"
	case actions.ClosePR:
		return "close"
	}
	return actionID
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
