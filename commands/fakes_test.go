package commands

import (
	"context"
	"strconv"
	"sync"

	"github.com/justmike1/triagebot/github"
	triageslack "github.com/justmike1/triagebot/slack"
)

type createdIssue struct {
	Title  string
	Body   string
	Labels []string
}

type dispatch struct {
	Workflow string
	Ref      string
	Inputs   map[string]interface{}
}

type review struct {
	Number int
	Event  string
}

// fakeTracker records calls and returns canned results.
type fakeTracker struct {
	mu sync.Mutex

	created    []createdIssue
	labels     map[int][]string
	dispatches []dispatch
	reviews    []review
	merged     []int
	mergeTitle []string
	closed     []int
	listed     [][]string

	issues   map[string][]github.Issue
	prs      map[int]github.PRSummary
	nextNum  int
	mergeErr error
	err      error
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{labels: make(map[int][]string), issues: make(map[string][]github.Issue), prs: make(map[int]github.PRSummary), nextNum: 100}
}

func (f *fakeTracker) CreateIssue(_ context.Context, title, body string, labels []string) (*github.IssueRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, createdIssue{Title: title, Body: body, Labels: labels})
	f.nextNum++
	return &github.IssueRef{Number: f.nextNum, URL: "https://github.test/acme/app/issues/" + strconv.Itoa(f.nextNum)}, nil
}

func (f *fakeTracker) AddLabels(_ context.Context, number int, labels ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.labels[number] = append(f.labels[number], labels...)
	return nil
}

func (f *fakeTracker) ListIssues(_ context.Context, labels []string, _ string, limit int) ([]github.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.listed = append(f.listed, labels)
	out := f.issues[labels[0]]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeTracker) DispatchWorkflow(_ context.Context, workflow, ref string, inputs map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.dispatches = append(f.dispatches, dispatch{Workflow: workflow, Ref: ref, Inputs: inputs})
	return nil
}

func (f *fakeTracker) CreateReview(_ context.Context, number int, event, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.reviews = append(f.reviews, review{Number: number, Event: event})
	return nil
}

// GetPullRequest returns an open PR unless prs holds a different state.
func (f *fakeTracker) GetPullRequest(_ context.Context, number int) (*github.PRSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if pr, ok := f.prs[number]; ok {
		return &pr, nil
	}
	return &github.PRSummary{Number: number, Title: "Fix pause button", State: "open"}, nil
}

func (f *fakeTracker) MergePullRequest(_ context.Context, number int, commitTitle string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mergeErr != nil {
		return "", f.mergeErr
	}
	f.merged = append(f.merged, number)
	f.mergeTitle = append(f.mergeTitle, commitTitle)
	return "abcdef0123456789", nil
}

func (f *fakeTracker) ClosePullRequest(_ context.Context, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.closed = append(f.closed, number)
	return nil
}

// respondRecorder captures replies sent to response_url.
type respondRecorder struct {
	mu      sync.Mutex
	urls    []string
	replies []triageslack.Response
	err     error
}

func (r *respondRecorder) send(_ context.Context, url string, resp triageslack.Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, url)
	r.replies = append(r.replies, resp)
	return r.err
}
