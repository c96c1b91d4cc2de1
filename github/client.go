package github

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v60/github"
	"golang.org/x/oauth2"

	"github.com/justmike1/triagebot/config"
)

// Client talks to a single repository's issues, pull requests and workflows.
type Client struct {
	api   *gh.Client
	owner string
	repo  string
}

func NewClient(token, owner, repo string) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(context.Background(), ts)
	return &Client{api: gh.NewClient(httpClient), owner: owner, repo: repo}
}

// NewClientWithBaseURL points the client at a different API root, e.g. a
// GitHub Enterprise "https://ghe.example.com/api/v3/".
func NewClientWithBaseURL(token, owner, repo, baseURL string) (*Client, error) {
	c := NewClient(token, owner, repo)
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub API URL %q: %w", baseURL, err)
	}
	c.api.BaseURL = u
	return c, nil
}

// Repo returns "owner/repo".
func (c *Client) Repo() string {
	return c.owner + "/" + c.repo
}

// Call issues one request against a path relative to the API root and
// decodes the JSON response into out (which may be nil).
func (c *Client) Call(ctx context.Context, method, path string, body, out interface{}) error {
	req, err := c.api.NewRequest(method, path, body)
	if err != nil {
		return fmt.Errorf("failed to build %s %s: %w", method, path, err)
	}
	resp, err := c.api.Do(ctx, req, out)
	return wrapErr(method+" "+path, resp, err)
}

// IssueRef is the transient handle returned right after creation.
type IssueRef struct {
	Number int
	URL    string
}

// Issue holds the fields callers read from an issue.
type Issue struct {
	Number int
	Title  string
	Body   string
	State  string
	URL    string
	Labels []string
}

func toIssue(i *gh.Issue) Issue {
	out := Issue{
		Number: i.GetNumber(),
		Title:  i.GetTitle(),
		Body:   i.GetBody(),
		State:  i.GetState(),
		URL:    i.GetHTMLURL(),
	}
	for _, l := range i.Labels {
		out.Labels = append(out.Labels, l.GetName())
	}
	return out
}

func (c *Client) CreateIssue(ctx context.Context, title, body string, labels []string) (*IssueRef, error) {
	req := &gh.IssueRequest{
		Title:  gh.String(title),
		Body:   gh.String(body),
		Labels: &labels,
	}
	created, resp, err := c.api.Issues.Create(ctx, c.owner, c.repo, req)
	if err != nil {
		return nil, wrapErr("create issue", resp, err)
	}
	return &IssueRef{Number: created.GetNumber(), URL: created.GetHTMLURL()}, nil
}

func (c *Client) AddLabels(ctx context.Context, number int, labels ...string) error {
	_, resp, err := c.api.Issues.AddLabelsToIssue(ctx, c.owner, c.repo, number, labels)
	return wrapErr(fmt.Sprintf("add labels to #%d", number), resp, err)
}

func (c *Client) RemoveLabel(ctx context.Context, number int, label string) error {
	resp, err := c.api.Issues.RemoveLabelForIssue(ctx, c.owner, c.repo, number, label)
	return wrapErr(fmt.Sprintf("remove label from #%d", number), resp, err)
}

func (c *Client) GetIssue(ctx context.Context, number int) (*Issue, error) {
	issue, resp, err := c.api.Issues.Get(ctx, c.owner, c.repo, number)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("get issue #%d", number), resp, err)
	}
	out := toIssue(issue)
	return &out, nil
}

// ListIssues returns issues (pull requests excluded) carrying all labels in
// the given state, most recently updated first.
func (c *Client) ListIssues(ctx context.Context, labels []string, state string, limit int) ([]Issue, error) {
	if state == "" {
		state = "open"
	}
	if limit <= 0 || limit > 100 {
		limit = 30
	}

	issues, resp, err := c.api.Issues.ListByRepo(ctx, c.owner, c.repo, &gh.IssueListByRepoOptions{
		State:       state,
		Labels:      labels,
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: limit},
	})
	if err != nil {
		return nil, wrapErr("list issues", resp, err)
	}

	var out []Issue
	for _, i := range issues {
		if i.IsPullRequest() {
			continue
		}
		out = append(out, toIssue(i))
	}
	return out, nil
}

// PRSummary holds essential information about a pull request.
type PRSummary struct {
	Number int
	Title  string
	State  string
	Author string
	URL    string
	Body   string
	Head   string
	Merged bool
}

func (c *Client) CreatePullRequest(ctx context.Context, baseBranch, headBranch, title, body string) (*PRSummary, error) {
	pr := &gh.NewPullRequest{
		Title: gh.String(title),
		Body:  gh.String(body),
		Head:  gh.String(headBranch),
		Base:  gh.String(baseBranch),
	}

	created, resp, err := c.api.PullRequests.Create(ctx, c.owner, c.repo, pr)
	if err != nil {
		return nil, wrapErr("create pull request", resp, err)
	}
	return toPRSummary(created), nil
}

func (c *Client) GetPullRequest(ctx context.Context, number int) (*PRSummary, error) {
	pr, resp, err := c.api.PullRequests.Get(ctx, c.owner, c.repo, number)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("get PR #%d", number), resp, err)
	}
	return toPRSummary(pr), nil
}

func toPRSummary(pr *gh.PullRequest) *PRSummary {
	return &PRSummary{
		Number: pr.GetNumber(),
		Title:  pr.GetTitle(),
		State:  pr.GetState(),
		Author: pr.GetUser().GetLogin(),
		URL:    pr.GetHTMLURL(),
		Body:   pr.GetBody(),
		Head:   pr.GetHead().GetRef(),
		Merged: pr.GetMerged(),
	}
}

// MergePullRequest squash-merges a PR and returns the merge commit SHA.
// Merging an already merged PR fails with a RemoteAPIError.
func (c *Client) MergePullRequest(ctx context.Context, number int, commitTitle string) (string, error) {
	result, resp, err := c.api.PullRequests.Merge(ctx, c.owner, c.repo, number, "", &gh.PullRequestOptions{
		CommitTitle: commitTitle,
		MergeMethod: "squash",
	})
	if err != nil {
		return "", wrapErr(fmt.Sprintf("merge PR #%d", number), resp, err)
	}
	return result.GetSHA(), nil
}

func (c *Client) ClosePullRequest(ctx context.Context, number int) error {
	_, resp, err := c.api.PullRequests.Edit(ctx, c.owner, c.repo, number, &gh.PullRequest{State: gh.String("closed")})
	return wrapErr(fmt.Sprintf("close PR #%d", number), resp, err)
}

// ReviewApprove is the review event the approve button submits.
const ReviewApprove = "APPROVE"

func (c *Client) CreateReview(ctx context.Context, number int, event, body string) error {
	_, resp, err := c.api.PullRequests.CreateReview(ctx, c.owner, c.repo, number, &gh.PullRequestReviewRequest{
		Event: gh.String(event),
		Body:  gh.String(body),
	})
	return wrapErr(fmt.Sprintf("review PR #%d", number), resp, err)
}

// DispatchWorkflow triggers a workflow_dispatch run of the named workflow file.
func (c *Client) DispatchWorkflow(ctx context.Context, workflow, ref string, inputs map[string]interface{}) error {
	resp, err := c.api.Actions.CreateWorkflowDispatchEventByFileName(ctx, c.owner, c.repo, workflow, gh.CreateWorkflowDispatchEventRequest{
		Ref:    ref,
		Inputs: inputs,
	})
	return wrapErr(fmt.Sprintf("dispatch workflow %s", workflow), resp, err)
}

// NewFromConfig builds the client the service and CLI share. It returns an
// error wrapping config.ErrNotConfigured when credentials are missing.
func NewFromConfig(cfg *config.Config) (*Client, error) {
	if !cfg.TrackerConfigured() {
		return nil, fmt.Errorf("GITHUB_TOKEN, GITHUB_OWNER and GITHUB_REPO: %w", config.ErrNotConfigured)
	}
	if cfg.GitHubAPIURL != "" {
		return NewClientWithBaseURL(cfg.GitHubToken, cfg.GitHubOwner, cfg.GitHubRepo, cfg.GitHubAPIURL)
	}
	return NewClient(cfg.GitHubToken, cfg.GitHubOwner, cfg.GitHubRepo), nil
}
