// File: internal/scheduler/scheduler.go
// Description: Drives a recorded flow through the action registry, honoring the
// control directives that handlers return.

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scalpel-replay/api/schemas"
	"github.com/xkilldash9x/scalpel-replay/internal/actions"
)

// DefaultMaxSubflowDepth bounds subflow nesting.
const DefaultMaxSubflowDepth = 16

var (
	// ErrStepFailed wraps the coded error of the step that stopped a run.
	ErrStepFailed = errors.New("step failed")
	// ErrSubflowDepth is returned when subflows nest deeper than allowed.
	ErrSubflowDepth = errors.New("subflow nesting too deep")
	// ErrUnknownSubflow is returned when a directive names a missing subflow.
	ErrUnknownSubflow = errors.New("unknown subflow")
)

// Executor runs one action to a settled result. *actions.Registry satisfies it.
type Executor interface {
	Execute(ctx context.Context, ectx *actions.ExecutionContext, action schemas.Action) schemas.ActionExecutionResult
}

// StepResult is one executed action in a run.
type StepResult struct {
	Path     string                        `json:"path"`
	ActionID string                        `json:"actionId,omitempty"`
	Type     schemas.ActionType            `json:"type"`
	Result   schemas.ActionExecutionResult `json:"result"`
}

// RunReport summarizes a finished run.
type RunReport struct {
	RunID      string                `json:"runId"`
	FlowID     string                `json:"flowId"`
	Status     schemas.ActionStatus  `json:"status"`
	Error      *schemas.ActionError  `json:"error,omitempty"`
	Steps      []StepResult          `json:"steps"`
	Log        []actions.LogEntry    `json:"log"`
	Vars       actions.VariableStore `json:"vars"`
	DurationMs int64                 `json:"durationMs"`
}

// Scheduler executes flows step by step.
type Scheduler struct {
	exec     Executor
	logger   *zap.Logger
	maxDepth int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxDepth overrides DefaultMaxSubflowDepth.
func WithMaxDepth(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxDepth = n
		}
	}
}

// New creates a scheduler over exec.
func New(exec Executor, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if exec == nil {
		return nil, fmt.Errorf("cannot initialize scheduler with a nil executor")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		exec:     exec,
		logger:   logger.Named("scheduler"),
		maxDepth: DefaultMaxSubflowDepth,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// run is the state of one Run call, shared by concurrent foreach children.
type run struct {
	flow *schemas.Flow

	mu    sync.Mutex
	steps []StepResult
}

func (r *run) record(step StepResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

// Run executes the flow's top-level actions. Flow variables seed ectx without
// overriding values the caller already set. The report is returned even when
// the run fails.
func (s *Scheduler) Run(ctx context.Context, flow *schemas.Flow, ectx *actions.ExecutionContext) (*RunReport, error) {
	if flow == nil {
		return nil, fmt.Errorf("cannot run a nil flow")
	}
	if ectx == nil {
		ectx = actions.NewExecutionContext(s.logger, nil, nil)
	}
	for k, v := range flow.Variables {
		if _, ok := ectx.Vars.Get(k); !ok {
			ectx.Vars.Set(k, v)
		}
	}

	start := time.Now()
	log := s.logger.With(zap.String("flow_id", flow.ID), zap.String("run_id", ectx.RunID))
	log.Info("Starting flow run.", zap.Int("actions", len(flow.Actions)))

	r := &run{flow: flow}
	err := s.runSequence(ctx, r, ectx, flow.Actions, "main", 0)

	report := &RunReport{
		RunID:      ectx.RunID,
		FlowID:     flow.ID,
		Status:     schemas.StatusSuccess,
		Steps:      r.steps,
		Log:        ectx.RunLog().Entries(),
		Vars:       ectx.Vars,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		report.Status = schemas.StatusFailed
		report.Error = actions.NormalizeError(err)
		log.Warn("Flow run failed.", zap.Error(err), zap.Int("steps", len(report.Steps)))
		return report, err
	}
	log.Info("Flow run finished.", zap.Int("steps", len(report.Steps)), zap.Int64("duration_ms", report.DurationMs))
	return report, nil
}

func (s *Scheduler) runSequence(ctx context.Context, r *run, ectx *actions.ExecutionContext, seq []schemas.Action, scope string, depth int) error {
	if depth > s.maxDepth {
		return fmt.Errorf("%w: %s exceeds depth %d", ErrSubflowDepth, scope, s.maxDepth)
	}
	for i, action := range seq {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := fmt.Sprintf("%s[%d]", scope, i)
		res := s.exec.Execute(ctx, ectx, action)
		r.record(StepResult{Path: path, ActionID: action.ID, Type: action.Type, Result: res})

		if res.Status == schemas.StatusFailed {
			ectx.PushLog(actions.LogEntry{
				Level:    actions.LevelError,
				Message:  fmt.Sprintf("%s (%s) failed: %v", path, action.Type, res.Error),
				ActionID: action.ID,
			})
			return fmt.Errorf("%w: %s: %w", ErrStepFailed, path, res.Error)
		}

		if res.NextLabel != "" {
			if sub, ok := r.flow.Subflow(res.NextLabel); ok {
				if err := s.runSequence(ctx, r, ectx, sub, scope+"/"+res.NextLabel, depth+1); err != nil {
					return err
				}
			} else {
				ectx.Log(fmt.Sprintf("%s chose label %q, no subflow by that name", path, res.NextLabel), actions.LevelDebug)
			}
		}

		if d := res.Control; d != nil {
			var err error
			switch d.Kind {
			case schemas.DirectiveForeach:
				err = s.runForeach(ctx, r, ectx, d, path, depth+1)
			case schemas.DirectiveWhile:
				err = s.runWhile(ctx, r, ectx, d, path, depth+1)
			default:
				err = fmt.Errorf("%w: %s: unknown directive %q", ErrStepFailed, path, d.Kind)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// runForeach runs the subflow once per list item on at most d.Concurrency
// goroutines. Each child works on a forked context; the first failure cancels
// the rest.
func (s *Scheduler) runForeach(ctx context.Context, r *run, ectx *actions.ExecutionContext, d *schemas.ControlDirective, path string, depth int) error {
	sub, ok := r.flow.Subflow(d.SubflowID)
	if !ok {
		return fmt.Errorf("%w: %s: %q", ErrUnknownSubflow, path, d.SubflowID)
	}
	v, err := actions.LookupVar(ectx.Vars, d.ListVar)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStepFailed, path, err)
	}
	items, ok := actions.ListItems(v)
	if !ok {
		return fmt.Errorf("%w: %s: %q is not a list", ErrStepFailed, path, d.ListVar)
	}
	itemVar := d.ItemVar
	if itemVar == "" {
		itemVar = actions.DefaultItemVar
	}
	limit := d.Concurrency
	if limit < 1 {
		limit = 1
	}

	s.logger.Debug("Running foreach.",
		zap.String("path", path),
		zap.String("subflow", d.SubflowID),
		zap.Int("items", len(items)),
		zap.Int("concurrency", limit))

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, item := range items {
		if groupCtx.Err() != nil {
			break
		}
		child := ectx.Fork()
		child.Vars.Set(itemVar, item)
		child.Vars.Set(itemVar+"Index", i)
		scope := fmt.Sprintf("%s/%s#%d", path, d.SubflowID, i)
		g.Go(func() error {
			return s.runSequence(groupCtx, r, child, sub, scope, depth)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// runWhile runs the subflow while the condition holds, re-evaluating it before
// every iteration after the first. Hitting MaxIterations stops the loop with a
// warning.
func (s *Scheduler) runWhile(ctx context.Context, r *run, ectx *actions.ExecutionContext, d *schemas.ControlDirective, path string, depth int) error {
	sub, ok := r.flow.Subflow(d.SubflowID)
	if !ok {
		return fmt.Errorf("%w: %s: %q", ErrUnknownSubflow, path, d.SubflowID)
	}
	limit := d.MaxIterations
	if limit <= 0 {
		limit = actions.DefaultMaxIterations
	}

	for iter := 0; ; iter++ {
		if iter >= limit {
			msg := fmt.Sprintf("%s stopped after reaching maxIterations (%d)", path, limit)
			s.logger.Warn("While loop hit its iteration limit.", zap.String("path", path), zap.Int("max_iterations", limit))
			ectx.PushLog(actions.LogEntry{Level: actions.LevelWarn, Message: msg})
			return nil
		}
		if iter > 0 {
			holds, err := actions.EvaluateCondition(d.Condition, ectx.Vars)
			if err != nil {
				return fmt.Errorf("%w: %s: condition: %w", ErrStepFailed, path, err)
			}
			if !holds {
				return nil
			}
		}
		scope := fmt.Sprintf("%s/%s@%d", path, d.SubflowID, iter)
		if err := s.runSequence(ctx, r, ectx, sub, scope, depth); err != nil {
			return err
		}
	}
}
