package intake

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justmike1/triagebot/github"
	"github.com/justmike1/triagebot/notify"
)

type issue struct {
	Title  string
	Body   string
	Labels []string
}

type fakeTracker struct {
	mu      sync.Mutex
	issues  []issue
	files   []string
	err     error
	fileErr error

	// failAfter makes CreateIssue fail once this many issues exist.
	failAfter int
}

func (f *fakeTracker) CreateIssue(_ context.Context, title, body string, labels []string) (*github.IssueRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.failAfter > 0 && len(f.issues) >= f.failAfter {
		return nil, &github.RemoteAPIError{Op: "create issue", Status: 502, Body: "Server Error"}
	}
	f.issues = append(f.issues, issue{Title: title, Body: body, Labels: labels})
	n := len(f.issues)
	return &github.IssueRef{Number: n, URL: "https://github.test/acme/app/issues/" + strconv.Itoa(n)}, nil
}

func (f *fakeTracker) CreateFile(_ context.Context, path, _, _ string, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fileErr != nil {
		return "", f.fileErr
	}
	f.files = append(f.files, path)
	return "https://github.test/acme/app/blob/main/" + path, nil
}

type fakeNotifier struct {
	sent []notify.Request
	err  error
}

func (n *fakeNotifier) Send(_ context.Context, req notify.Request) error {
	n.sent = append(n.sent, req)
	return n.err
}

func post(t *testing.T, handler http.HandlerFunc, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func TestGroupErrors(t *testing.T) {
	groups := GroupErrors([]ErrorReport{
		{Type: "TypeError", Message: "x is undefined", Timestamp: "2026-01-01T10:00:00Z", Severity: "warning"},
		{Type: "NetworkError", Message: "fetch failed", Timestamp: "2026-01-01T10:00:01Z"},
		{Type: "TypeError", Message: "x is undefined", Timestamp: "2026-01-01T10:05:00Z", Severity: "error"},
	})

	require.Len(t, groups, 2)
	assert.Equal(t, "TypeError", groups[0].Type)
	assert.Equal(t, 2, groups[0].Count)
	assert.Equal(t, "2026-01-01T10:00:00Z", groups[0].FirstSeen)
	assert.Equal(t, "2026-01-01T10:05:00Z", groups[0].LastSeen)
	assert.True(t, groups[0].High)
	assert.Equal(t, 1, groups[1].Count)
	assert.False(t, groups[1].High)
}

func TestSeverityMapping(t *testing.T) {
	for _, s := range []string{"critical", "error", "ERROR"} {
		assert.True(t, HighPriorityError(s), s)
	}
	for _, s := range []string{"low", "medium", "warning", ""} {
		assert.False(t, HighPriorityError(s), s)
	}
	for _, s := range []string{"high", "critical"} {
		assert.True(t, HighPriorityBug(s), s)
	}
	for _, s := range []string{"low", "medium", ""} {
		assert.False(t, HighPriorityBug(s), s)
	}
}

func TestReportError_OneIssuePerGroup(t *testing.T) {
	tracker := &fakeTracker{}
	h := NewHandler(tracker, nil, 0)

	body := `{"errors":[
		{"type":"TypeError","message":"x is undefined","timestamp":"t1","severity":"critical","stack":"at app.js:1"},
		{"type":"TypeError","message":"x is undefined","timestamp":"t2","severity":"critical"}
	],"environment":{"userAgent":"Firefox","viewport":"1280x720"},"errorCount":2}`
	rec, out := post(t, h.ReportError, body)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, float64(1), out["issuesCreated"])

	require.Len(t, tracker.issues, 1)
	created := tracker.issues[0]
	assert.Equal(t, "[Auto] TypeError: x is undefined", created.Title)
	assert.Equal(t, []string{"bug", "auto-detected", "priority:high"}, created.Labels)
	assert.Contains(t, created.Body, "**Occurrences:** 2")
	assert.Contains(t, created.Body, "at app.js:1")
	assert.Contains(t, created.Body, "**userAgent:** Firefox")

	issues := out["issues"].([]interface{})
	assert.Equal(t, map[string]interface{}{"id": float64(1), "url": "https://github.test/acme/app/issues/1"}, issues[0])
}

func TestReportError_LongMessageTruncated(t *testing.T) {
	tracker := &fakeTracker{}
	body := `{"errors":[{"type":"Error","message":"` + strings.Repeat("a", 200) + `"}]}`
	rec, _ := post(t, NewHandler(tracker, nil, 0).ReportError, body)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[Auto] Error: "+strings.Repeat("a", 80)+"...", tracker.issues[0].Title)
	assert.Equal(t, []string{"bug", "auto-detected"}, tracker.issues[0].Labels)
}

func TestReportError_Statuses(t *testing.T) {
	tests := []struct {
		name    string
		tracker Tracker
		body    string
		status  int
	}{
		{"missing errors", &fakeTracker{}, `{"environment":{}}`, http.StatusBadRequest},
		{"empty errors", &fakeTracker{}, `{"errors":[]}`, http.StatusBadRequest},
		{"bad json", &fakeTracker{}, `{"errors":`, http.StatusBadRequest},
		{"no tracker", nil, `{"errors":[{"type":"E","message":"m"}]}`, http.StatusInternalServerError},
		{"tracker rejects", &fakeTracker{err: &github.RemoteAPIError{Op: "create issue", Status: 401, Body: "Bad credentials"}},
			`{"errors":[{"type":"E","message":"m"}]}`, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := post(t, NewHandler(tt.tracker, nil, 0).ReportError, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, false, out["success"])
			assert.NotContains(t, rec.Body.String(), "Bad credentials")
		})
	}
}

func TestReportError_PartialFailureListsFiledIssues(t *testing.T) {
	tracker := &fakeTracker{failAfter: 1}
	body := `{"errors":[
		{"type":"TypeError","message":"x is undefined"},
		{"type":"NetworkError","message":"fetch failed"}
	]}`
	rec, out := post(t, NewHandler(tracker, nil, 0).ReportError, body)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, float64(1), out["issuesCreated"])
	assert.Equal(t, []interface{}{
		map[string]interface{}{"id": float64(1), "url": "https://github.test/acme/app/issues/1"},
	}, out["issues"])
	assert.Len(t, tracker.issues, 1)
}

func TestRateLimit(t *testing.T) {
	h := NewHandler(&fakeTracker{}, nil, 2)
	body := `{"errors":[{"type":"E","message":"m"}]}`

	for i := 0; i < 2; i++ {
		rec, _ := post(t, h.ReportError, body)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec, _ := post(t, h.ReportError, body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestSubmitFeedback_HighSeverityBug(t *testing.T) {
	tracker := &fakeTracker{}
	notifier := &fakeNotifier{}
	h := NewHandler(tracker, notifier, 0)

	rec, out := post(t, h.SubmitFeedback, `{"type":"bug","title":"Video won't pause","severity":"high"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, float64(1), out["issueNumber"])
	assert.Equal(t, "https://github.test/acme/app/issues/1", out["issueUrl"])

	require.Len(t, tracker.issues, 1)
	assert.Equal(t, []string{"bug", "user-reported", "priority:high"}, tracker.issues[0].Labels)
	assert.Equal(t, "[Bug] Video won't pause", tracker.issues[0].Title)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, notify.KindBug, notifier.sent[0].Type)
	assert.Equal(t, 1, notifier.sent[0].Data["issueNumber"])
}

func TestSubmitFeedback_Feature(t *testing.T) {
	tracker := &fakeTracker{}
	rec, _ := post(t, NewHandler(tracker, nil, 0).SubmitFeedback,
		`{"type":"feature","title":"Dark mode","useCase":"night reading","priority":"low"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"enhancement", "user-requested"}, tracker.issues[0].Labels)
	assert.Contains(t, tracker.issues[0].Body, "night reading")
}

func TestSubmitFeedback_NotificationFailureIsNotFatal(t *testing.T) {
	h := NewHandler(&fakeTracker{}, &fakeNotifier{err: errors.New("webhook down")}, 0)
	rec, out := post(t, h.SubmitFeedback, `{"type":"bug","title":"x"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
}

func TestSubmitFeedback_Invalid(t *testing.T) {
	h := NewHandler(&fakeTracker{}, nil, 0)
	for _, body := range []string{`{"type":"question","title":"x"}`, `{"type":"bug","title":"  "}`} {
		rec, out := post(t, h.SubmitFeedback, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, false, out["success"])
	}
}

func TestSubmitFeedback_Screenshot(t *testing.T) {
	tracker := &fakeTracker{}
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("\x89PNG fake"))
	body, err := json.Marshal(map[string]string{"type": "bug", "title": "Broken layout", "screenshot": uri})
	require.NoError(t, err)

	rec, _ := post(t, NewHandler(tracker, nil, 0).SubmitFeedback, string(body))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, tracker.files, 1)
	assert.True(t, strings.HasPrefix(tracker.files[0], "feedback-screenshots/"))
	assert.True(t, strings.HasSuffix(tracker.files[0], ".png"))
	assert.Contains(t, tracker.issues[0].Body, "![Screenshot](https://github.test/acme/app/blob/main/"+tracker.files[0])
}

func TestSubmitFeedback_ScreenshotUploadFailureIsNoted(t *testing.T) {
	tracker := &fakeTracker{fileErr: errors.New("409 conflict")}
	uri := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("jpeg"))
	body, err := json.Marshal(map[string]string{"type": "bug", "title": "x", "screenshot": uri})
	require.NoError(t, err)

	rec, _ := post(t, NewHandler(tracker, nil, 0).SubmitFeedback, string(body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, tracker.issues[0].Body, "Screenshot upload failed")
}

func TestDecodeScreenshot(t *testing.T) {
	data, ext, err := DecodeScreenshot("data:image/webp;base64," + base64.StdEncoding.EncodeToString([]byte("hi")))
	require.NoError(t, err)
	assert.Equal(t, "webp", ext)
	assert.Equal(t, []byte("hi"), data)

	for _, bad := range []string{"hello", "data:image/png,raw", "data:text/html;base64,PGI+", "data:image/png;base64,***"} {
		_, _, err := DecodeScreenshot(bad)
		assert.ErrorIs(t, err, ErrInvalidInput, bad)
	}
}
