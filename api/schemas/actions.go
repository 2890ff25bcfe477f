package schemas

import (
	"encoding/json"
	"fmt"
)

// -- Action Schemas --

// ActionType is the closed set of executable action kinds.
type ActionType string

const (
	ActionClick       ActionType = "click"
	ActionFill        ActionType = "fill"
	ActionDelay       ActionType = "delay"
	ActionSetVar      ActionType = "setVar"
	ActionAssert      ActionType = "assert"
	ActionIf          ActionType = "if"
	ActionForeach     ActionType = "foreach"
	ActionWhile       ActionType = "while"
	ActionSwitchFrame ActionType = "switchFrame"
)

// Action is a single declarative step of a flow. Params are decoded by the
// handler registered for Type.
type Action struct {
	ID       string          `json:"id,omitempty"`
	Type     ActionType      `json:"type"`
	Params   json.RawMessage `json:"params,omitempty"`
	Disabled bool            `json:"disabled,omitempty"`
	Policy   *ActionPolicy   `json:"policy,omitempty"`
}

// DecodeParams unmarshals the action parameters into dst. Missing params
// decode as an empty object.
func (a Action) DecodeParams(dst interface{}) error {
	if len(a.Params) == 0 || string(a.Params) == "null" {
		return nil
	}
	if err := json.Unmarshal(a.Params, dst); err != nil {
		return fmt.Errorf("invalid params for %s: %w", a.Type, err)
	}
	return nil
}

// BackoffKind selects how the retry interval grows between attempts.
type BackoffKind string

const (
	BackoffNone   BackoffKind = "none"
	BackoffLinear BackoffKind = "linear"
	BackoffExp    BackoffKind = "exp"
)

// JitterKind selects whether the retry delay is randomized.
type JitterKind string

const (
	JitterNone JitterKind = "none"
	JitterFull JitterKind = "full"
)

// RetryPolicy is per-action retry configuration.
type RetryPolicy struct {
	Retries       int         `json:"retries"`
	IntervalMs    int64       `json:"intervalMs,omitempty"`
	Backoff       BackoffKind `json:"backoff,omitempty"`
	MaxIntervalMs int64       `json:"maxIntervalMs,omitempty"`
	Jitter        JitterKind  `json:"jitter,omitempty"`
	RetryOn       []ErrorCode `json:"retryOn,omitempty"`
}

// TimeoutScope selects whether a timeout bounds each attempt or the whole action.
type TimeoutScope string

const (
	TimeoutScopeAttempt TimeoutScope = "attempt"
	TimeoutScopeAction  TimeoutScope = "action"
)

// TimeoutPolicy is per-action timeout configuration.
type TimeoutPolicy struct {
	Ms    int64        `json:"ms"`
	Scope TimeoutScope `json:"scope,omitempty"`
}

// ActionPolicy groups the optional per-action policies.
type ActionPolicy struct {
	Retry   *RetryPolicy   `json:"retry,omitempty"`
	Timeout *TimeoutPolicy `json:"timeout,omitempty"`
}

// ActionStatus is the terminal state of one action execution.
type ActionStatus string

const (
	StatusSuccess ActionStatus = "success"
	StatusFailed  ActionStatus = "failed"
	StatusSkipped ActionStatus = "skipped"
)

// DirectiveKind tags a ControlDirective.
type DirectiveKind string

const (
	DirectiveForeach DirectiveKind = "foreach"
	DirectiveWhile   DirectiveKind = "while"
)

// ControlDirective tells the Scheduler how to continue the flow. Foreach uses
// ListVar/ItemVar/Concurrency; while uses Condition/MaxIterations.
type ControlDirective struct {
	Kind      DirectiveKind `json:"kind"`
	SubflowID string        `json:"subflowId"`

	ListVar     string `json:"listVar,omitempty"`
	ItemVar     string `json:"itemVar,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`

	Condition     *Condition `json:"condition,omitempty"`
	MaxIterations int        `json:"maxIterations,omitempty"`
}

// ActionExecutionResult is the settled outcome of Registry.Execute.
type ActionExecutionResult struct {
	Status     ActionStatus      `json:"status"`
	Error      *ActionError      `json:"error,omitempty"`
	Control    *ControlDirective `json:"control,omitempty"`
	NextLabel  string            `json:"nextLabel,omitempty"`
	DurationMs int64             `json:"durationMs"`
}

// Succeeded is a convenience for the common status check.
func (r ActionExecutionResult) Succeeded() bool {
	return r.Status == StatusSuccess
}
