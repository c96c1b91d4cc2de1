package slack

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	slacklib "github.com/slack-go/slack"
)

const (
	headerTimestamp = "X-Slack-Request-Timestamp"
	headerSignature = "X-Slack-Signature"

	// MaxRequestAge bounds clock skew and replay.
	MaxRequestAge = 300 * time.Second
)

// Verify reports whether body was signed by Slack with secret. It fails
// closed when a header or the secret is missing, and rejects timestamps more
// than MaxRequestAge away from now in either direction.
func Verify(headers http.Header, body []byte, secret string, now time.Time) bool {
	timestamp := headers.Get(headerTimestamp)
	signature := headers.Get(headerSignature)
	if timestamp == "" || secret == "" || !strings.HasPrefix(signature, "v0=") {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if abs(now.Unix()-ts) > int64(MaxRequestAge/time.Second) {
		return false
	}

	sv, err := slacklib.NewSecretsVerifier(headers, secret)
	if err != nil {
		log.Debug().Err(err).Msg("slack signature headers rejected")
		return false
	}
	if _, err := sv.Write(body); err != nil {
		return false
	}
	return sv.Ensure() == nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// Verifier binds a signing secret and a clock for the HTTP handlers. The
// clock can only narrow the window: slack-go also checks the wall clock.
type Verifier struct {
	secret string
	now    func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret, now: time.Now}
}

// WithClock replaces the verifier's time source.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

func (v *Verifier) Verify(headers http.Header, body []byte) bool {
	return Verify(headers, body, v.secret, v.now())
}
