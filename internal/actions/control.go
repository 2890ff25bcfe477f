// internal/actions/control.go
package actions

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/xkilldash9x/scalpel-replay/api/schemas"
)

// Defaults for control flow directives.
const (
	DefaultMaxIterations = 1000
	DefaultItemVar       = "item"
	defaultTrueLabel     = "true"
	defaultFalseLabel    = "false"
	defaultElseLabel     = "default"
)

func validationErr(format string, args ...interface{}) error {
	return schemas.NewActionError(schemas.ErrCodeValidation, format, args...)
}

// decodeProblems wraps a params decoding failure as a validation message.
func decodeProblems(action schemas.Action, dst interface{}) []string {
	if err := action.DecodeParams(dst); err != nil {
		return []string{err.Error()}
	}
	return nil
}

// -- if --

type ifBranch struct {
	Label     string             `json:"label"`
	Condition *schemas.Condition `json:"condition"`
}

type ifParams struct {
	Condition  *schemas.Condition `json:"condition,omitempty"`
	TrueLabel  string             `json:"trueLabel,omitempty"`
	FalseLabel string             `json:"falseLabel,omitempty"`
	Branches   []ifBranch         `json:"branches,omitempty"`
	ElseLabel  string             `json:"elseLabel,omitempty"`
}

// IfHandler evaluates a condition, or an ordered list of labeled conditions,
// and reports the chosen label. It never emits a directive.
type IfHandler struct{}

func (IfHandler) Type() schemas.ActionType { return schemas.ActionIf }

func (IfHandler) Validate(action schemas.Action) []string {
	var p ifParams
	if errs := decodeProblems(action, &p); errs != nil {
		return errs
	}
	switch {
	case p.Condition == nil && len(p.Branches) == 0:
		return []string{"either condition or branches is required"}
	case p.Condition != nil && len(p.Branches) > 0:
		return []string{"condition and branches are mutually exclusive"}
	case p.Condition != nil:
		return ValidateCondition(p.Condition, "condition")
	}
	var errs []string
	for i, b := range p.Branches {
		if strings.TrimSpace(b.Label) == "" {
			errs = append(errs, fmt.Sprintf("branches[%d].label is required", i))
		}
		errs = append(errs, ValidateCondition(b.Condition, fmt.Sprintf("branches[%d].condition", i))...)
	}
	return errs
}

func (IfHandler) Run(_ context.Context, ectx *ExecutionContext, action schemas.Action) (*schemas.ActionExecutionResult, error) {
	var p ifParams
	if err := action.DecodeParams(&p); err != nil {
		return nil, validationErr("%v", err)
	}

	if p.Condition != nil {
		ok, err := EvaluateCondition(p.Condition, ectx.Vars)
		if err != nil {
			return nil, validationErr("condition: %v", err)
		}
		label := orDefault(p.TrueLabel, defaultTrueLabel)
		if !ok {
			label = orDefault(p.FalseLabel, defaultFalseLabel)
		}
		return &schemas.ActionExecutionResult{Status: schemas.StatusSuccess, NextLabel: label}, nil
	}

	for i := range p.Branches {
		ok, err := EvaluateCondition(p.Branches[i].Condition, ectx.Vars)
		if err != nil {
			return nil, validationErr("branches[%d]: %v", i, err)
		}
		if ok {
			return &schemas.ActionExecutionResult{Status: schemas.StatusSuccess, NextLabel: p.Branches[i].Label}, nil
		}
	}
	return &schemas.ActionExecutionResult{Status: schemas.StatusSuccess, NextLabel: orDefault(p.ElseLabel, defaultElseLabel)}, nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// -- foreach --

type foreachParams struct {
	ListVar     string `json:"listVar"`
	ItemVar     string `json:"itemVar,omitempty"`
	SubflowID   string `json:"subflowId"`
	Concurrency int    `json:"concurrency,omitempty"`
}

// ForeachHandler checks the list and hands iteration to the scheduler through
// a foreach directive. It never iterates itself.
type ForeachHandler struct {
	// DefaultConcurrency applies when the action leaves concurrency unset.
	DefaultConcurrency int
}

func (ForeachHandler) Type() schemas.ActionType { return schemas.ActionForeach }

func (ForeachHandler) Validate(action schemas.Action) []string {
	var p foreachParams
	if errs := decodeProblems(action, &p); errs != nil {
		return errs
	}
	var errs []string
	if strings.TrimSpace(p.ListVar) == "" {
		errs = append(errs, "listVar is required")
	}
	if strings.TrimSpace(p.SubflowID) == "" {
		errs = append(errs, "subflowId is required")
	}
	if p.ItemVar != "" && !isPlainName(p.ItemVar) {
		errs = append(errs, fmt.Sprintf("itemVar %q is not a valid variable name", p.ItemVar))
	}
	if p.Concurrency < 0 {
		errs = append(errs, "concurrency must be >= 0")
	}
	return errs
}

func (h ForeachHandler) Run(_ context.Context, ectx *ExecutionContext, action schemas.Action) (*schemas.ActionExecutionResult, error) {
	var p foreachParams
	if err := action.DecodeParams(&p); err != nil {
		return nil, validationErr("%v", err)
	}
	v, err := LookupVar(ectx.Vars, p.ListVar)
	if err != nil {
		return nil, validationErr("listVar: %v", err)
	}
	n, ok := listLen(v)
	if !ok {
		return nil, validationErr("listVar %q is not an array", p.ListVar)
	}
	if n == 0 {
		ectx.Log(fmt.Sprintf("foreach over empty %q, nothing to do", p.ListVar), LevelDebug)
		return success(), nil
	}

	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = h.DefaultConcurrency
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &schemas.ActionExecutionResult{
		Status: schemas.StatusSuccess,
		Control: &schemas.ControlDirective{
			Kind:        schemas.DirectiveForeach,
			SubflowID:   p.SubflowID,
			ListVar:     p.ListVar,
			ItemVar:     orDefault(p.ItemVar, DefaultItemVar),
			Concurrency: concurrency,
		},
	}, nil
}

// listLen reports the length of any slice value.
func listLen(v interface{}) (int, bool) {
	if v == nil {
		return 0, false
	}
	if s, ok := v.([]interface{}); ok {
		return len(s), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		return rv.Len(), true
	}
	return 0, false
}

// ListItems returns the elements of a list value, for the scheduler.
func ListItems(v interface{}) ([]interface{}, bool) {
	if s, ok := v.([]interface{}); ok {
		return s, true
	}
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// -- while --

type whileParams struct {
	Condition     *schemas.Condition `json:"condition"`
	SubflowID     string             `json:"subflowId"`
	MaxIterations int                `json:"maxIterations,omitempty"`
}

// WhileHandler evaluates the loop condition once. The scheduler re-evaluates
// it before every later iteration and stops at MaxIterations.
type WhileHandler struct {
	// DefaultMaxIterations applies when the action leaves maxIterations unset.
	DefaultMaxIterations int
}

func (WhileHandler) Type() schemas.ActionType { return schemas.ActionWhile }

func (WhileHandler) Validate(action schemas.Action) []string {
	var p whileParams
	if errs := decodeProblems(action, &p); errs != nil {
		return errs
	}
	errs := ValidateCondition(p.Condition, "condition")
	if strings.TrimSpace(p.SubflowID) == "" {
		errs = append(errs, "subflowId is required")
	}
	if p.MaxIterations < 0 {
		errs = append(errs, "maxIterations must be >= 0")
	}
	return errs
}

func (h WhileHandler) Run(_ context.Context, ectx *ExecutionContext, action schemas.Action) (*schemas.ActionExecutionResult, error) {
	var p whileParams
	if err := action.DecodeParams(&p); err != nil {
		return nil, validationErr("%v", err)
	}
	ok, err := EvaluateCondition(p.Condition, ectx.Vars)
	if err != nil {
		return nil, validationErr("condition: %v", err)
	}
	if !ok {
		return success(), nil
	}

	limit := p.MaxIterations
	if limit <= 0 {
		limit = h.DefaultMaxIterations
	}
	if limit <= 0 {
		limit = DefaultMaxIterations
	}
	return &schemas.ActionExecutionResult{
		Status: schemas.StatusSuccess,
		Control: &schemas.ControlDirective{
			Kind:          schemas.DirectiveWhile,
			SubflowID:     p.SubflowID,
			Condition:     p.Condition,
			MaxIterations: limit,
		},
	}, nil
}

// -- switchFrame --

type switchFrameParams struct {
	Top         bool    `json:"top,omitempty"`
	Index       *int    `json:"index,omitempty"`
	URLContains *string `json:"urlContains,omitempty"`
}

// SwitchFrameHandler points the run at another frame of the current tab. The
// frame list is fetched fresh on every run.
type SwitchFrameHandler struct {
	Transport schemas.Transport
}

func (SwitchFrameHandler) Type() schemas.ActionType { return schemas.ActionSwitchFrame }

func (SwitchFrameHandler) Validate(action schemas.Action) []string {
	var p switchFrameParams
	if errs := decodeProblems(action, &p); errs != nil {
		return errs
	}
	set := 0
	if p.Top {
		set++
	}
	if p.Index != nil {
		set++
		if *p.Index < 0 {
			return []string{"index must be >= 0"}
		}
	}
	if p.URLContains != nil {
		set++
		if strings.TrimSpace(*p.URLContains) == "" {
			return []string{"urlContains must not be empty"}
		}
	}
	if set > 1 {
		return []string{"only one of top, index or urlContains may be set"}
	}
	return nil
}

func (h SwitchFrameHandler) Run(ctx context.Context, ectx *ExecutionContext, action schemas.Action) (*schemas.ActionExecutionResult, error) {
	var p switchFrameParams
	if err := action.DecodeParams(&p); err != nil {
		return nil, validationErr("%v", err)
	}
	if ectx.TabID == nil {
		return nil, schemas.NewActionError(schemas.ErrCodeTabNotFound, "no active tab")
	}
	if h.Transport == nil {
		return nil, schemas.NewActionError(schemas.ErrCodeScriptFailed, "no transport configured")
	}

	frames, err := h.Transport.GetAllFrames(ctx, *ectx.TabID)
	if err != nil {
		if errors.Is(err, schemas.ErrTabNotFound) {
			return nil, schemas.NewActionError(schemas.ErrCodeTabNotFound, "tab %d: %v", *ectx.TabID, err)
		}
		return nil, fmt.Errorf("listing frames: %w", err)
	}

	var (
		target  *schemas.FrameInfo
		pattern string
	)
	switch {
	case p.Index != nil:
		pattern = fmt.Sprintf("index %d", *p.Index)
		n := 0
		for i := range frames {
			if frames[i].FrameID == 0 {
				continue
			}
			if n == *p.Index {
				target = &frames[i]
				break
			}
			n++
		}
	case p.URLContains != nil:
		needle, err := ResolveString(*p.URLContains, ectx.Vars)
		if err != nil {
			return nil, validationErr("urlContains: %v", err)
		}
		pattern = fmt.Sprintf("url containing %q", needle)
		for i := range frames {
			if strings.Contains(frames[i].URL, needle) {
				target = &frames[i]
				break
			}
		}
	default:
		pattern = "top frame"
		for i := range frames {
			if frames[i].FrameID == 0 {
				target = &frames[i]
				break
			}
		}
	}
	if target == nil {
		return nil, schemas.NewActionError(schemas.ErrCodeFrameNotFound, "no frame matches %s", pattern)
	}

	ectx.FrameID = intRef(target.FrameID)
	ectx.Log(fmt.Sprintf("switched to frame %d (%s)", target.FrameID, target.URL), LevelDebug)
	return success(), nil
}
