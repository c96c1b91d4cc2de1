package github

import (
	"encoding/json"
	"errors"
	"fmt"

	gh "github.com/google/go-github/v60/github"
)

// RemoteAPIError is returned when the tracker answers with a non-2xx status.
type RemoteAPIError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("%s: GitHub API returned %d: %s", e.Op, e.Status, e.Body)
}

func (e *RemoteAPIError) Unwrap() error { return e.Err }

// wrapErr converts go-github failures into *RemoteAPIError when the server
// answered, and a plain wrapped error for transport failures.
func wrapErr(op string, resp *gh.Response, err error) error {
	if err == nil {
		return nil
	}

	var errResp *gh.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		body, mErr := json.Marshal(errResp)
		if mErr != nil {
			body = []byte(errResp.Message)
		}
		return &RemoteAPIError{Op: op, Status: errResp.Response.StatusCode, Body: string(body), Err: err}
	}

	if resp != nil && resp.Response != nil {
		return &RemoteAPIError{Op: op, Status: resp.StatusCode, Body: err.Error(), Err: err}
	}

	return fmt.Errorf("%s: %w", op, err)
}
