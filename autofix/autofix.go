// Package autofix asks a language model for a single-file patch that fixes
// an issue and opens a pull request with it.
package autofix

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/justmike1/triagebot/github"
	"github.com/justmike1/triagebot/llm"
	"github.com/justmike1/triagebot/notify"
	"github.com/justmike1/triagebot/prompts"
)

const (
	maxCandidateFiles = 1500
	maxFileBytes      = 200 << 10

	labelGenerated = "ai-generated"
	labelRequested = "ai-fix-requested"
)

// ErrNoCandidate is returned when the model does not name a usable file.
var ErrNoCandidate = errors.New("model did not choose a file from the repository")

var skippedDirs = []string{"node_modules/", "vendor/", "dist/", ".git/", "feedback-screenshots/"}

var skippedExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".ico": true, ".svg": true,
	".woff": true, ".woff2": true, ".ttf": true, ".pdf": true, ".zip": true, ".lock": true, ".sum": true,
}

// Tracker is the subset of the issue tracker the fixer needs.
type Tracker interface {
	GetIssue(ctx context.Context, number int) (*github.Issue, error)
	GetDefaultBranch(ctx context.Context) (string, error)
	ListFiles(ctx context.Context, branch string) ([]string, error)
	GetFileContent(ctx context.Context, path, branch string) (string, string, error)
	CreateBranch(ctx context.Context, baseBranch, newBranch string) error
	UpdateFile(ctx context.Context, path, branch, message string, content []byte, sha string) error
	CreatePullRequest(ctx context.Context, baseBranch, headBranch, title, body string) (*github.PRSummary, error)
	AddLabels(ctx context.Context, number int, labels ...string) error
	RemoveLabel(ctx context.Context, number int, label string) error
}

// Notifier relays the pull request to chat.
type Notifier interface {
	Send(ctx context.Context, req notify.Request) error
}

// PromptProvider returns a system prompt by key.
type PromptProvider interface {
	Get(key string) string
}

// Result describes the pull request opened for an issue.
type Result struct {
	Issue  int
	File   string
	Branch string
	PR     *github.PRSummary
}

// Fixer runs the fix flow. notifier may be nil.
type Fixer struct {
	tracker  Tracker
	model    llm.Completer
	prompts  PromptProvider
	notifier Notifier
	dryRun   bool
}

func NewFixer(tracker Tracker, model llm.Completer, prompter PromptProvider, notifier Notifier) *Fixer {
	return &Fixer{tracker: tracker, model: model, prompts: prompter, notifier: notifier}
}

// WithDryRun stops the flow after the patch is generated.
func (f *Fixer) WithDryRun(dryRun bool) *Fixer {
	f.dryRun = dryRun
	return f
}

// Run fixes one issue. In dry-run mode the returned Result has no branch or PR.
func (f *Fixer) Run(ctx context.Context, number int) (*Result, error) {
	logger := log.With().Int("issue", number).Logger()

	issue, err := f.tracker.GetIssue(ctx, number)
	if err != nil {
		return nil, err
	}
	base, err := f.tracker.GetDefaultBranch(ctx)
	if err != nil {
		return nil, err
	}

	files, err := f.tracker.ListFiles(ctx, base)
	if err != nil {
		return nil, err
	}
	file, err := f.locate(ctx, issue, Candidates(files))
	if err != nil {
		return nil, err
	}
	logger.Info().Str("file", file).Msg("model chose file")

	current, sha, err := f.tracker.GetFileContent(ctx, file, base)
	if err != nil {
		return nil, err
	}
	if len(current) > maxFileBytes {
		return nil, fmt.Errorf("%s is too large to rewrite (%d bytes)", file, len(current))
	}

	patched, err := f.patch(ctx, issue, file, current)
	if err != nil {
		return nil, err
	}
	if patched == current {
		return nil, fmt.Errorf("model proposed no change to %s", file)
	}

	result := &Result{Issue: number, File: file}
	if f.dryRun {
		logger.Info().Str("file", file).Int("bytes", len(patched)).Msg("dry run, not committing")
		return result, nil
	}

	result.Branch = github.GenerateBranchName(fmt.Sprintf("autofix/issue-%d", number))
	if err := f.tracker.CreateBranch(ctx, base, result.Branch); err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("Fix #%d: %s", number, issue.Title)
	if err := f.tracker.UpdateFile(ctx, file, result.Branch, msg, []byte(patched), sha); err != nil {
		return nil, err
	}

	result.PR, err = f.tracker.CreatePullRequest(ctx, base, result.Branch, msg, prBody(issue, file))
	if err != nil {
		return nil, fmt.Errorf("changes committed to %s but PR creation failed: %w", result.Branch, err)
	}
	logger.Info().Int("pr", result.PR.Number).Str("url", result.PR.URL).Msg("pull request opened")

	if err := f.tracker.AddLabels(ctx, result.PR.Number, labelGenerated); err != nil {
		logger.Warn().Err(err).Msg("failed to label pull request")
	}
	if err := f.tracker.RemoveLabel(ctx, number, labelRequested); err != nil {
		logger.Debug().Err(err).Msg("request label not removed")
	}
	f.announce(ctx, issue, result)
	return result, nil
}

func (f *Fixer) locate(ctx context.Context, issue *github.Issue, files []string) (string, error) {
	if len(files) == 0 {
		return "", ErrNoCandidate
	}
	prompt := fmt.Sprintf("%s\n\nRepository files:\n%s", describeIssue(issue), strings.Join(files, "\n"))
	reply, err := llm.Complete(ctx, f.model, f.prompts.Get(prompts.AutofixLocate), prompt)
	if err != nil {
		return "", fmt.Errorf("locate file: %w", err)
	}

	choice := strings.Trim(strings.TrimSpace(StripFences(reply)), "`\"' ")
	for _, p := range files {
		if p == choice {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrNoCandidate, notify.Truncate(choice, 80))
}

func (f *Fixer) patch(ctx context.Context, issue *github.Issue, file, current string) (string, error) {
	prompt := fmt.Sprintf("%s\n\nFile %s:\n%s", describeIssue(issue), file, current)
	reply, err := llm.Complete(ctx, f.model, f.prompts.Get(prompts.AutofixPatch), prompt)
	if err != nil {
		return "", fmt.Errorf("generate patch: %w", err)
	}
	patched := StripFences(reply)
	if strings.TrimSpace(patched) == "" {
		return "", fmt.Errorf("model returned empty content for %s", file)
	}
	if strings.HasSuffix(current, "\n") && !strings.HasSuffix(patched, "\n") {
		patched += "\n"
	}
	return patched, nil
}

func (f *Fixer) announce(ctx context.Context, issue *github.Issue, result *Result) {
	if f.notifier == nil {
		return
	}
	err := f.notifier.Send(ctx, notify.Request{Type: notify.KindPR, Data: map[string]any{
		"prNumber":    result.PR.Number,
		"title":       result.PR.Title,
		"url":         result.PR.URL,
		"author":      "triagebot",
		"branch":      result.Branch,
		"issueNumber": issue.Number,
		"summary":     fmt.Sprintf("AI-proposed change to `%s` for #%d %s", result.File, issue.Number, issue.Title),
	}})
	if err != nil {
		log.Warn().Err(err).Int("pr", result.PR.Number).Msg("pull request notification failed")
	}
}

// Candidates filters a repository tree down to text files worth showing
// the model.
func Candidates(paths []string) []string {
	var out []string
	for _, p := range paths {
		if skipped(p) {
			continue
		}
		out = append(out, p)
		if len(out) == maxCandidateFiles {
			break
		}
	}
	return out
}

func skipped(p string) bool {
	for _, dir := range skippedDirs {
		if strings.HasPrefix(p, dir) || strings.Contains(p, "/"+dir) {
			return true
		}
	}
	return skippedExts[strings.ToLower(path.Ext(p))]
}

// StripFences removes a surrounding markdown code fence, if any.
func StripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	body := trimmed[3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = ""
	}
	body = strings.TrimSuffix(strings.TrimRight(body, " \n"), "```")
	return body
}

func describeIssue(issue *github.Issue) string {
	return fmt.Sprintf("Issue #%d: %s\n\n%s", issue.Number, issue.Title, issue.Body)
}

func prBody(issue *github.Issue, file string) string {
	return fmt.Sprintf("Closes #%d\n\nAutomated fix proposed by triagebot for **%s**.\n\nChanged file: `%s`\n\n"+
		"Please review carefully before merging.", issue.Number, issue.Title, file)
}
