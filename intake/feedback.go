package intake

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/justmike1/triagebot/notify"
)

const (
	screenshotDir      = "feedback-screenshots"
	maxScreenshotBytes = 5 << 20
	feedbackTitleLimit = 150
)

var screenshotExt = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// Feedback is the body of POST /submit-feedback.
type Feedback struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Steps       string `json:"steps"`
	Expected    string `json:"expected"`
	Actual      string `json:"actual"`
	Severity    string `json:"severity"`
	UseCase     string `json:"useCase"`
	Priority    string `json:"priority"`
	Email       string `json:"email"`
	URL         string `json:"url"`
	UserAgent   string `json:"userAgent"`
	Screenshot  string `json:"screenshot"`
}

func (f Feedback) validate() error {
	if f.Type != "bug" && f.Type != "feature" {
		return invalid(`type must be "bug" or "feature"`)
	}
	if strings.TrimSpace(f.Title) == "" {
		return invalid("title is required")
	}
	return nil
}

// HighPriorityBug reports whether a user-chosen bug severity warrants
// priority:high.
func HighPriorityBug(severity string) bool {
	switch strings.ToLower(severity) {
	case "high", "critical":
		return true
	}
	return false
}

// Labels returns the tracker labels for the feedback.
func (f Feedback) Labels() []string {
	if f.Type == "feature" {
		return []string{"enhancement", "user-requested"}
	}
	labels := []string{"bug", "user-reported"}
	if HighPriorityBug(f.Severity) {
		labels = append(labels, "priority:high")
	}
	return labels
}

func (f Feedback) title() string {
	prefix := "[Bug] "
	if f.Type == "feature" {
		prefix = "[Feature] "
	}
	return prefix + notify.Truncate(strings.TrimSpace(f.Title), feedbackTitleLimit)
}

func (f Feedback) reporter() string {
	if f.Email != "" {
		return f.Email
	}
	return "anonymous"
}

// body renders the issue body. screenshot is a markdown fragment, possibly
// empty.
func (f Feedback) body(screenshot string) string {
	var b strings.Builder
	section := func(heading, text string) {
		if strings.TrimSpace(text) != "" {
			fmt.Fprintf(&b, "### %s\n%s\n\n", heading, strings.TrimSpace(text))
		}
	}

	if f.Type == "feature" {
		b.WriteString("## Feature request\n\n")
		fmt.Fprintf(&b, "**Priority:** %s\n\n", orDash(f.Priority))
		section("Description", f.Description)
		section("Use case", f.UseCase)
	} else {
		b.WriteString("## Bug report\n\n")
		fmt.Fprintf(&b, "**Severity:** %s\n\n", orDash(f.Severity))
		section("Description", f.Description)
		section("Steps to reproduce", f.Steps)
		section("Expected behaviour", f.Expected)
		section("Actual behaviour", f.Actual)
	}
	section("Screenshot", screenshot)

	b.WriteString("---\n")
	fmt.Fprintf(&b, "**Submitted by:** %s\n", f.reporter())
	if f.URL != "" {
		fmt.Fprintf(&b, "**Page:** %s\n", f.URL)
	}
	if f.UserAgent != "" {
		fmt.Fprintf(&b, "**Browser:** %s\n", f.UserAgent)
	}
	return b.String()
}

func (f Feedback) notification(number int, url string) notify.Request {
	if f.Type == "feature" {
		return notify.Request{Type: notify.KindFeature, Data: map[string]any{
			"title":       f.Title,
			"priority":    f.Priority,
			"requestedBy": f.reporter(),
			"useCase":     f.UseCase,
			"description": f.Description,
			"issueNumber": number,
			"issueUrl":    url,
		}}
	}
	return notify.Request{Type: notify.KindBug, Data: map[string]any{
		"title":       f.Title,
		"severity":    f.Severity,
		"reporter":    f.reporter(),
		"browser":     f.UserAgent,
		"url":         f.URL,
		"description": f.Description,
		"issueNumber": number,
		"issueUrl":    url,
	}}
}

// DecodeScreenshot parses a base64 data URI and returns the image bytes and
// file extension.
func DecodeScreenshot(dataURI string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(dataURI, "data:")
	if !ok {
		return nil, "", invalid("screenshot must be a data URI")
	}
	mime, encoded, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return nil, "", invalid("screenshot must be base64 encoded")
	}
	ext, ok := screenshotExt[strings.ToLower(mime)]
	if !ok {
		return nil, "", invalid("unsupported screenshot type " + mime)
	}
	if base64.StdEncoding.DecodedLen(len(encoded)) > maxScreenshotBytes {
		return nil, "", invalid("screenshot is too large")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", fmt.Errorf("%w: screenshot: %v", ErrInvalidInput, err)
	}
	return data, ext, nil
}

// uploadScreenshot commits the screenshot and returns the markdown to embed.
// Failures are reported in the returned text, never as an error.
func (h *Handler) uploadScreenshot(ctx context.Context, dataURI string) string {
	logger := log.Ctx(ctx)

	data, ext, err := DecodeScreenshot(dataURI)
	if err != nil {
		logger.Warn().Err(err).Msg("screenshot rejected")
		return "_Screenshot could not be attached: " + err.Error() + "_"
	}

	path := fmt.Sprintf("%s/%s.%s", screenshotDir, uuid.NewString(), ext)
	url, err := h.tracker.CreateFile(ctx, path, "", "Add feedback screenshot", data)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("screenshot upload failed")
		return "_Screenshot upload failed._"
	}
	return fmt.Sprintf("![Screenshot](%s?raw=true)", url)
}

// SubmitFeedback serves POST /submit-feedback.
func (h *Handler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	var fb Feedback
	if !h.begin(w, r, &fb) {
		return
	}
	if err := fb.validate(); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.requireTracker(); err != nil {
		h.fail(w, r, err)
		return
	}

	var screenshot string
	if fb.Screenshot != "" {
		screenshot = h.uploadScreenshot(ctx, fb.Screenshot)
	}

	ref, err := h.tracker.CreateIssue(ctx, fb.title(), fb.body(screenshot), fb.Labels())
	if err != nil {
		h.fail(w, r, fmt.Errorf("%s feedback: %w", fb.Type, err))
		return
	}
	logger.Info().Str("type", fb.Type).Int("issue", ref.Number).Msg("feedback filed")

	if h.notifier != nil {
		if err := h.notifier.Send(ctx, fb.notification(ref.Number, ref.URL)); err != nil {
			logger.Warn().Err(err).Int("issue", ref.Number).Msg("feedback notification failed")
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"issueUrl":    ref.URL,
		"issueNumber": ref.Number,
	})
}
