// Package actions defines the payloads carried in Slack button values.
//
// Every action_id has exactly one value schema. Values are JSON-encoded when
// a message is built and parsed back into the matching variant when the
// button is clicked; anything that does not fit the schema is a *ParseError.
package actions

import (
	"encoding/json"
	"fmt"
)

// Action identifiers used on buttons.
const (
	ConfirmDeploy  = "confirm_deploy"
	CancelDeploy   = "cancel_deploy"
	RollbackDeploy = "rollback_deploy"
	ApprovePR      = "approve_pr"
	MergePR        = "merge_pr"
	ClosePR        = "close_pr"
	FixIssue       = "fix_issue"
	AckIncident    = "ack_incident"

	// OpenLink marks URL buttons. Slack still reports their clicks, which
	// carry no value and need no handling.
	OpenLink = "open_link"
)

// Value is implemented by every button payload variant.
type Value interface {
	validate() error
}

// DeployValue is carried by confirm_deploy, cancel_deploy and rollback_deploy.
type DeployValue struct {
	Branch      string `json:"branch"`
	RequestedBy string `json:"requestedBy"`
}

func (v DeployValue) validate() error {
	if v.Branch == "" {
		return fmt.Errorf("branch is required")
	}
	return nil
}

// PRValue is carried by approve_pr, merge_pr and close_pr.
type PRValue struct {
	PRNumber int    `json:"prNumber"`
	Approver string `json:"approver,omitempty"`
}

func (v PRValue) validate() error {
	if v.PRNumber <= 0 {
		return fmt.Errorf("prNumber must be positive")
	}
	return nil
}

// IssueValue is carried by fix_issue.
type IssueValue struct {
	IssueNumber int    `json:"issueNumber"`
	Title       string `json:"title,omitempty"`
}

func (v IssueValue) validate() error {
	if v.IssueNumber <= 0 {
		return fmt.Errorf("issueNumber must be positive")
	}
	return nil
}

// IncidentValue is carried by ack_incident.
type IncidentValue struct {
	IncidentID string `json:"incidentId"`
	Severity   string `json:"severity,omitempty"`
}

func (v IncidentValue) validate() error {
	if v.IncidentID == "" {
		return fmt.Errorf("incidentId is required")
	}
	return nil
}

// ParseError reports a button value that does not match its action's schema.
type ParseError struct {
	ActionID string
	Raw      string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid value for action %s: %v", e.ActionID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Encode serializes a value for use as a button value. Encoding the fixed
// variant structs cannot fail.
func Encode(v Value) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("actions: encode %T: %v", v, err))
	}
	return string(b)
}

// Known reports whether an action_id has a registered schema.
func Known(actionID string) bool {
	_, ok := schemas[actionID]
	return ok
}

var schemas = map[string]func() Value{
	ConfirmDeploy:  func() Value { return &DeployValue{} },
	CancelDeploy:   func() Value { return &DeployValue{} },
	RollbackDeploy: func() Value { return &DeployValue{} },
	ApprovePR:      func() Value { return &PRValue{} },
	MergePR:        func() Value { return &PRValue{} },
	ClosePR:        func() Value { return &PRValue{} },
	FixIssue:       func() Value { return &IssueValue{} },
	AckIncident:    func() Value { return &IncidentValue{} },
}

// Parse decodes raw into the variant registered for actionID. The returned
// Value is always a non-pointer variant (DeployValue, PRValue, ...).
func Parse(actionID, raw string) (Value, error) {
	newValue, ok := schemas[actionID]
	if !ok {
		return nil, &ParseError{ActionID: actionID, Raw: raw, Err: fmt.Errorf("unknown action")}
	}

	ptr := newValue()
	if err := json.Unmarshal([]byte(raw), ptr); err != nil {
		return nil, &ParseError{ActionID: actionID, Raw: raw, Err: err}
	}

	var v Value
	switch p := ptr.(type) {
	case *DeployValue:
		v = *p
	case *PRValue:
		v = *p
	case *IssueValue:
		v = *p
	case *IncidentValue:
		v = *p
	}
	if err := v.validate(); err != nil {
		return nil, &ParseError{ActionID: actionID, Raw: raw, Err: err}
	}
	return v, nil
}
