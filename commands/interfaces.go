package commands

import (
	"context"

	"github.com/justmike1/triagebot/github"
	triageslack "github.com/justmike1/triagebot/slack"
)

// Tracker is the part of the GitHub client the command handlers use.
type Tracker interface {
	CreateIssue(ctx context.Context, title, body string, labels []string) (*github.IssueRef, error)
	AddLabels(ctx context.Context, number int, labels ...string) error
	ListIssues(ctx context.Context, labels []string, state string, limit int) ([]github.Issue, error)
	DispatchWorkflow(ctx context.Context, workflow, ref string, inputs map[string]interface{}) error
	CreateReview(ctx context.Context, number int, event, body string) error
	GetPullRequest(ctx context.Context, number int) (*github.PRSummary, error)
	MergePullRequest(ctx context.Context, number int, commitTitle string) (string, error)
	ClosePullRequest(ctx context.Context, number int) error
}

// ThreadPoster posts chat replies.
type ThreadPoster interface {
	PostLongThreadReply(ctx context.Context, channelID, threadTS, text string) error
}

// PromptProvider abstracts access to the system prompts.
type PromptProvider interface {
	Get(key string) string
}

// RespondFunc delivers a message to a response_url.
type RespondFunc func(ctx context.Context, responseURL string, resp triageslack.Response) error
