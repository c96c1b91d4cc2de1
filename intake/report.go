package intake

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/justmike1/triagebot/notify"
)

const titleMessageLimit = 80

var reportLabels = []string{"bug", "auto-detected"}

// ErrorReport is one client-side error captured by the browser widget.
type ErrorReport struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Stack     string `json:"stack"`
	URL       string `json:"url"`
	Timestamp string `json:"timestamp"`
	Severity  string `json:"severity"`
}

// ErrorBatch is the body of POST /report-error.
type ErrorBatch struct {
	Errors      []ErrorReport          `json:"errors"`
	Environment map[string]interface{} `json:"environment"`
	ErrorCount  int                    `json:"errorCount"`
}

// ErrorGroup collects reports sharing a type and message.
type ErrorGroup struct {
	Type      string
	Message   string
	Count     int
	FirstSeen string
	LastSeen  string
	Severity  string
	Stack     string
	URL       string
	High      bool
}

// CreatedIssue is one entry of the report-error response.
type CreatedIssue struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

// GroupErrors folds reports by (type, message) keeping first-seen order.
// FirstSeen and LastSeen follow arrival order.
func GroupErrors(reports []ErrorReport) []ErrorGroup {
	var groups []ErrorGroup
	index := make(map[[2]string]int)

	for _, r := range reports {
		key := [2]string{r.Type, r.Message}
		i, ok := index[key]
		if !ok {
			index[key] = len(groups)
			groups = append(groups, ErrorGroup{
				Type:      r.Type,
				Message:   r.Message,
				FirstSeen: r.Timestamp,
				Severity:  r.Severity,
				Stack:     r.Stack,
				URL:       r.URL,
			})
			i = len(groups) - 1
		}

		g := &groups[i]
		g.Count++
		g.LastSeen = r.Timestamp
		if g.Stack == "" {
			g.Stack = r.Stack
		}
		if HighPriorityError(r.Severity) {
			g.High = true
			g.Severity = r.Severity
		}
	}
	return groups
}

// HighPriorityError reports whether an error severity warrants priority:high.
func HighPriorityError(severity string) bool {
	switch strings.ToLower(severity) {
	case "error", "critical":
		return true
	}
	return false
}

func (g ErrorGroup) title() string {
	typ := g.Type
	if typ == "" {
		typ = "Error"
	}
	return fmt.Sprintf("[Auto] %s: %s", typ, notify.Truncate(g.Message, titleMessageLimit))
}

func (g ErrorGroup) labels() []string {
	labels := append([]string(nil), reportLabels...)
	if g.High {
		labels = append(labels, "priority:high")
	}
	return labels
}

func (g ErrorGroup) body(env map[string]interface{}) string {
	var b strings.Builder
	b.WriteString("## Automatic error report\n\n")
	fmt.Fprintf(&b, "**Type:** `%s`\n", orDash(g.Type))
	fmt.Fprintf(&b, "**Message:** %s\n", orDash(g.Message))
	fmt.Fprintf(&b, "**Occurrences:** %d\n", g.Count)
	fmt.Fprintf(&b, "**First seen:** %s\n", orDash(g.FirstSeen))
	fmt.Fprintf(&b, "**Last seen:** %s\n", orDash(g.LastSeen))
	fmt.Fprintf(&b, "**Severity:** %s\n", orDash(g.Severity))
	if g.URL != "" {
		fmt.Fprintf(&b, "**Page:** %s\n", g.URL)
	}

	if g.Stack != "" {
		fmt.Fprintf(&b, "\n### Stack trace\n```\n%s\n```\n", g.Stack)
	}

	if len(env) > 0 {
		b.WriteString("\n### Environment\n")
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- **%s:** %v\n", k, env[k])
		}
	}

	b.WriteString("\n_Filed automatically by triagebot._\n")
	return b.String()
}

// ReportError serves POST /report-error.
func (h *Handler) ReportError(w http.ResponseWriter, r *http.Request) {
	var batch ErrorBatch
	if !h.begin(w, r, &batch) {
		return
	}
	if len(batch.Errors) == 0 {
		h.fail(w, r, invalid("errors must be a non-empty array"))
		return
	}
	if err := h.requireTracker(); err != nil {
		h.fail(w, r, err)
		return
	}

	groups := GroupErrors(batch.Errors)
	created := make([]CreatedIssue, 0, len(groups))
	for _, g := range groups {
		ref, err := h.tracker.CreateIssue(r.Context(), g.title(), g.body(batch.Environment), g.labels())
		if err != nil {
			err = fmt.Errorf("report %q: %w", g.title(), err)
			if len(created) == 0 {
				h.fail(w, r, err)
				return
			}
			// Report what was already filed so the caller does not resubmit it.
			log.Ctx(r.Context()).Error().Err(err).
				Int("issues_created", len(created)).
				Int("groups", len(groups)).
				Msg("error batch partially filed")
			writeJSON(w, http.StatusBadGateway, map[string]interface{}{
				"success":       false,
				"error":         "failed to create issue",
				"issuesCreated": len(created),
				"issues":        created,
			})
			return
		}
		created = append(created, CreatedIssue{ID: ref.Number, URL: ref.URL})
	}

	log.Ctx(r.Context()).Info().
		Int("reports", len(batch.Errors)).
		Int("issues_created", len(created)).
		Msg("error reports filed")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"issuesCreated": len(created),
		"issues":        created,
	})
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
