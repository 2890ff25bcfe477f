// internal/actions/interaction.go
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/scalpel-replay/api/schemas"
	"github.com/xkilldash9x/scalpel-replay/internal/selector"
)

// ElementLocator re-finds a recorded element. *selector.Locator satisfies it.
type ElementLocator interface {
	Locate(ctx context.Context, tabID int, target schemas.SelectorTarget, opts selector.LocateOptions) (*selector.LocatedElement, error)
}

// -- Element Interaction --

type targetParams struct {
	Target *schemas.SelectorTarget `json:"target"`
	Value  *string                 `json:"value,omitempty"`
}

func validateTarget(t *schemas.SelectorTarget) []string {
	if t == nil {
		return []string{"target is required"}
	}
	if len(t.Candidates) == 0 && t.Selector == "" && t.Ref == "" {
		return []string{"target needs at least one candidate"}
	}
	var errs []string
	for i, c := range t.Candidates {
		if strings.TrimSpace(c.Value) == "" && c.Type != schemas.CandidateAria {
			errs = append(errs, fmt.Sprintf("target.candidates[%d].value is required", i))
		}
	}
	return errs
}

// elementAction locates a target and sends one probe message against the
// resolved ref. click and fill share it.
type elementAction struct {
	Transport schemas.Transport
	Locator   ElementLocator
	Options   selector.LocateOptions
}

func (h elementAction) perform(ctx context.Context, ectx *ExecutionContext, target schemas.SelectorTarget, req schemas.ProbeRequest) error {
	if ectx.TabID == nil {
		return schemas.NewActionError(schemas.ErrCodeTabNotFound, "no active tab")
	}
	if h.Transport == nil || h.Locator == nil {
		return schemas.NewActionError(schemas.ErrCodeScriptFailed, "no transport configured")
	}

	opts := h.Options
	if ectx.FrameID != nil {
		opts.FrameID = intRef(*ectx.FrameID)
	}
	el, err := h.Locator.Locate(ctx, *ectx.TabID, target, opts)
	if err != nil {
		if errors.Is(err, selector.ErrNotFound) {
			return schemas.NewActionError(schemas.ErrCodeTargetNotFound, "no candidate matched %s", describeTarget(target))
		}
		return err
	}

	req.Ref = el.Ref
	resp, err := h.Transport.SendMessage(ctx, *ectx.TabID, req, schemas.SendOptions{FrameID: el.FrameID})
	if err != nil {
		if errors.Is(err, schemas.ErrTabNotFound) || errors.Is(err, schemas.ErrFrameNotFound) || ctx.Err() != nil {
			return fmt.Errorf("%s on %s: %w", req.Action, el.Ref, err)
		}
		return schemas.NewActionError(schemas.ErrCodeScriptFailed, "%s on %s: %v", req.Action, el.Ref, err)
	}
	if resp == nil || !resp.Success {
		reason := "probe reported failure"
		if resp != nil && resp.Error != "" {
			reason = resp.Error
		}
		if strings.Contains(strings.ToLower(reason), "not visible") {
			return schemas.NewActionError(schemas.ErrCodeElementHidden, "%s: %s", describeTarget(target), reason)
		}
		return schemas.NewActionError(schemas.ErrCodeScriptFailed, "%s on %s: %s", req.Action, el.Ref, reason)
	}

	ectx.Log(fmt.Sprintf("%s %s via %s", req.Action, describeTarget(target), el.Source), LevelDebug)
	return nil
}

func describeTarget(t schemas.SelectorTarget) string {
	switch {
	case t.Selector != "":
		return t.Selector
	case len(t.Candidates) > 0:
		return t.Candidates[0].Value
	default:
		return t.Ref
	}
}

// ClickHandler clicks a located element.
type ClickHandler struct{ elementAction }

// NewClickHandler builds a click handler over a transport and locator.
func NewClickHandler(t schemas.Transport, loc ElementLocator, opts selector.LocateOptions) ClickHandler {
	return ClickHandler{elementAction{Transport: t, Locator: loc, Options: opts}}
}

func (ClickHandler) Type() schemas.ActionType { return schemas.ActionClick }

func (ClickHandler) Validate(action schemas.Action) []string {
	var p targetParams
	if errs := decodeProblems(action, &p); errs != nil {
		return errs
	}
	return validateTarget(p.Target)
}

func (h ClickHandler) Run(ctx context.Context, ectx *ExecutionContext, action schemas.Action) (*schemas.ActionExecutionResult, error) {
	var p targetParams
	if err := action.DecodeParams(&p); err != nil || p.Target == nil {
		return nil, validationErr("click needs a target")
	}
	if err := h.perform(ctx, ectx, *p.Target, schemas.ProbeRequest{Action: schemas.ProbeClick}); err != nil {
		return nil, err
	}
	return success(), nil
}

// FillHandler types a value into a located element. The value may contain
// templates.
type FillHandler struct{ elementAction }

// NewFillHandler builds a fill handler over a transport and locator.
func NewFillHandler(t schemas.Transport, loc ElementLocator, opts selector.LocateOptions) FillHandler {
	return FillHandler{elementAction{Transport: t, Locator: loc, Options: opts}}
}

func (FillHandler) Type() schemas.ActionType { return schemas.ActionFill }

func (FillHandler) Validate(action schemas.Action) []string {
	var p targetParams
	if errs := decodeProblems(action, &p); errs != nil {
		return errs
	}
	errs := validateTarget(p.Target)
	if p.Value == nil {
		errs = append(errs, "value is required")
	}
	return errs
}

func (h FillHandler) Run(ctx context.Context, ectx *ExecutionContext, action schemas.Action) (*schemas.ActionExecutionResult, error) {
	var p targetParams
	if err := action.DecodeParams(&p); err != nil || p.Target == nil || p.Value == nil {
		return nil, validationErr("fill needs a target and a value")
	}
	value, err := ResolveString(*p.Value, ectx.Vars)
	if err != nil {
		return nil, validationErr("value: %v", err)
	}
	if err := h.perform(ctx, ectx, *p.Target, schemas.ProbeRequest{Action: schemas.ProbeFill, Value: value}); err != nil {
		return nil, err
	}
	return success(), nil
}

// -- Delay --

type delayParams struct {
	Ms json.RawMessage `json:"ms"`
}

// DelayHandler waits for a number of milliseconds, or until the attempt is
// cancelled.
type DelayHandler struct{}

func (DelayHandler) Type() schemas.ActionType { return schemas.ActionDelay }

func (DelayHandler) Validate(action schemas.Action) []string {
	var p delayParams
	if errs := decodeProblems(action, &p); errs != nil {
		return errs
	}
	if len(p.Ms) == 0 || string(p.Ms) == "null" {
		return []string{"ms is required"}
	}
	var raw interface{}
	if err := json.Unmarshal(p.Ms, &raw); err != nil {
		return []string{fmt.Sprintf("ms: %v", err)}
	}
	switch v := raw.(type) {
	case float64:
		if v < 0 {
			return []string{"ms must be >= 0"}
		}
	case string:
		if !strings.Contains(v, "{{") {
			if _, ok := toNumber(v); !ok {
				return []string{fmt.Sprintf("ms %q is not a number", v)}
			}
		}
	default:
		return []string{"ms must be a number"}
	}
	return nil
}

func (DelayHandler) Run(ctx context.Context, ectx *ExecutionContext, action schemas.Action) (*schemas.ActionExecutionResult, error) {
	var p delayParams
	if err := action.DecodeParams(&p); err != nil {
		return nil, validationErr("%v", err)
	}
	var raw interface{}
	if err := json.Unmarshal(p.Ms, &raw); err != nil {
		return nil, validationErr("ms: %v", err)
	}
	resolved, err := ResolveValue(raw, ectx.Vars)
	if err != nil {
		return nil, validationErr("ms: %v", err)
	}
	ms, ok := toNumber(resolved)
	if !ok || ms < 0 {
		return nil, validationErr("ms resolved to %v, want a non-negative number", resolved)
	}
	if err := sleepCtx(ctx, time.Duration(ms*float64(time.Millisecond))); err != nil {
		return nil, err
	}
	return success(), nil
}

// -- Variables and Assertions --

type setVarParams struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// SetVarHandler assigns a (possibly templated) value to a run variable.
type SetVarHandler struct{}

func (SetVarHandler) Type() schemas.ActionType { return schemas.ActionSetVar }

func (SetVarHandler) Validate(action schemas.Action) []string {
	var p setVarParams
	if errs := decodeProblems(action, &p); errs != nil {
		return errs
	}
	if !isPlainName(p.Name) {
		return []string{fmt.Sprintf("name %q is not a valid variable name", p.Name)}
	}
	return nil
}

func (SetVarHandler) Run(_ context.Context, ectx *ExecutionContext, action schemas.Action) (*schemas.ActionExecutionResult, error) {
	var p setVarParams
	if err := action.DecodeParams(&p); err != nil {
		return nil, validationErr("%v", err)
	}
	v, err := ResolveValue(p.Value, ectx.Vars)
	if err != nil {
		return nil, validationErr("value: %v", err)
	}
	ectx.Vars.Set(p.Name, v)
	return success(), nil
}

type assertParams struct {
	Condition *schemas.Condition `json:"condition"`
	Message   string             `json:"message,omitempty"`
}

// AssertHandler fails with ASSERTION_FAILED when its condition is false.
type AssertHandler struct{}

func (AssertHandler) Type() schemas.ActionType { return schemas.ActionAssert }

func (AssertHandler) Validate(action schemas.Action) []string {
	var p assertParams
	if errs := decodeProblems(action, &p); errs != nil {
		return errs
	}
	return ValidateCondition(p.Condition, "condition")
}

func (AssertHandler) Run(_ context.Context, ectx *ExecutionContext, action schemas.Action) (*schemas.ActionExecutionResult, error) {
	var p assertParams
	if err := action.DecodeParams(&p); err != nil {
		return nil, validationErr("%v", err)
	}
	ok, err := EvaluateCondition(p.Condition, ectx.Vars)
	if err != nil {
		return nil, validationErr("condition: %v", err)
	}
	if !ok {
		msg, _ := ResolveString(p.Message, ectx.Vars)
		if msg == "" {
			msg = "assertion failed"
		}
		return nil, schemas.NewActionError(schemas.ErrCodeAssertionFailed, "%s", msg)
	}
	return success(), nil
}
