// internal/actions/registry.go
package actions

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-replay/api/schemas"
)

// Handler executes one action type. Validate and Run are separate so
// validation failures never reach the retry loop.
type Handler interface {
	Type() schemas.ActionType
	// Validate returns human readable problems. Empty means valid.
	Validate(action schemas.Action) []string
	// Run performs the action. Returning a coded *schemas.ActionError keeps its
	// code; any other error becomes UNKNOWN.
	Run(ctx context.Context, ectx *ExecutionContext, action schemas.Action) (*schemas.ActionExecutionResult, error)
}

// BeforeHook runs before each attempt. A non-nil result short-circuits the
// handler. Errors are logged and ignored.
type BeforeHook func(ctx context.Context, ectx *ExecutionContext, action schemas.Action, attempt int) (*schemas.ActionExecutionResult, error)

// AfterHook runs after every settled attempt, including validation failures.
// A non-nil result replaces the current one. Errors are logged and ignored.
type AfterHook func(ctx context.Context, ectx *ExecutionContext, action schemas.Action, result schemas.ActionExecutionResult) (*schemas.ActionExecutionResult, error)

// Registry holds one handler per action type and runs actions with retry,
// timeout and hooks.
type Registry struct {
	logger         *zap.Logger
	mu             sync.RWMutex
	handlers       map[schemas.ActionType]Handler
	before         []BeforeHook
	after          []AfterHook
	defaultTimeout time.Duration
	jitter         JitterFunc
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDefaultTimeout bounds every attempt of actions that carry no timeout
// policy. Zero disables it.
func WithDefaultTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.defaultTimeout = d }
}

// WithJitter replaces the full-jitter source, mostly for tests.
func WithJitter(fn JitterFunc) RegistryOption {
	return func(r *Registry) { r.jitter = fn }
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		logger:   logger.Named("action_registry"),
		handlers: make(map[schemas.ActionType]Handler),
		jitter:   FullJitter,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces the handler for its type.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Type()] = h
}

// Before registers a hook that runs before every attempt.
func (r *Registry) Before(h BeforeHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.before = append(r.before, h)
}

// After registers a hook that runs after every settled attempt.
func (r *Registry) After(h AfterHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.after = append(r.after, h)
}

// Handler returns the handler registered for t.
func (r *Registry) Handler(t schemas.ActionType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Validate runs handler and policy validation without executing anything.
func (r *Registry) Validate(action schemas.Action) []string {
	h, ok := r.Handler(action.Type)
	if !ok {
		return []string{fmt.Sprintf("no handler registered for action type %q", action.Type)}
	}
	errs := validatePolicy(action.Policy)
	return append(errs, h.Validate(action)...)
}

// Execute runs one action to a settled result. It never returns an error;
// every outcome, including a skip, is described by the result and carries the
// elapsed time.
func (r *Registry) Execute(ctx context.Context, ectx *ExecutionContext, action schemas.Action) schemas.ActionExecutionResult {
	start := time.Now()
	log := r.logger.With(zap.String("action_type", string(action.Type)), zap.String("action_id", action.ID))
	finish := func(res schemas.ActionExecutionResult) schemas.ActionExecutionResult {
		res.DurationMs = time.Since(start).Milliseconds()
		return res
	}

	if action.Disabled {
		log.Debug("Action disabled, skipping.")
		return finish(schemas.ActionExecutionResult{Status: schemas.StatusSkipped})
	}

	if errs := r.Validate(action); len(errs) > 0 {
		log.Debug("Action failed validation.", zap.Strings("errors", errs))
		res := failure(schemas.ErrCodeValidation, "%s", strings.Join(errs, "; "))
		return finish(r.runAfter(ctx, ectx, action, res))
	}
	handler, _ := r.Handler(action.Type)

	var retry *schemas.RetryPolicy
	var timeout *schemas.TimeoutPolicy
	if action.Policy != nil {
		retry, timeout = action.Policy.Retry, action.Policy.Timeout
	}
	maxAttempts := 1
	if retry != nil && retry.Retries > 0 {
		maxAttempts += retry.Retries
	}

	var deadline time.Time
	if timeout != nil && timeout.Ms > 0 && timeout.Scope == schemas.TimeoutScopeAction {
		deadline = start.Add(time.Duration(timeout.Ms) * time.Millisecond)
	}

	var res schemas.ActionExecutionResult
	for attempt := 0; attempt < maxAttempts; attempt++ {
		budget := r.defaultTimeout
		if timeout != nil && timeout.Ms > 0 {
			budget = time.Duration(timeout.Ms) * time.Millisecond
		}
		if !deadline.IsZero() {
			budget = time.Until(deadline)
		}

		if !deadline.IsZero() && budget <= 0 {
			res = failure(schemas.ErrCodeTimeout, "action deadline of %dms exhausted before attempt %d", timeout.Ms, attempt+1)
		} else {
			res = r.attempt(ctx, ectx, handler, action, attempt, budget)
		}
		res = r.runAfter(ctx, ectx, action, res)

		if res.Status != schemas.StatusFailed {
			return finish(res)
		}
		if attempt+1 >= maxAttempts || !shouldRetry(retry, res.Error) {
			break
		}

		delay := computeRetryDelay(retry, attempt, r.jitter)
		if !deadline.IsZero() && time.Until(deadline) < delay {
			log.Debug("Remaining action deadline is shorter than the retry delay, giving up.",
				zap.Duration("delay", delay))
			break
		}
		log.Debug("Retrying action.",
			zap.Int("attempt", attempt+1),
			zap.String("code", string(res.Error.Code)),
			zap.Duration("delay", delay))
		if err := sleepCtx(ctx, delay); err != nil {
			break
		}
	}
	return finish(res)
}

// attempt runs the hooks and the handler once, racing the handler against the
// timeout. A timed out handler keeps running in its goroutine; its result is
// discarded.
func (r *Registry) attempt(ctx context.Context, ectx *ExecutionContext, h Handler, action schemas.Action, attempt int, budget time.Duration) schemas.ActionExecutionResult {
	if res := r.runBefore(ctx, ectx, action, attempt); res != nil {
		return settle(res, nil)
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if budget > 0 {
		runCtx, cancel = context.WithTimeout(ctx, budget)
	}
	defer cancel()

	done := make(chan schemas.ActionExecutionResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("Action handler panicked.",
					zap.String("action_type", string(action.Type)),
					zap.Any("panic", p))
				done <- failure(schemas.ErrCodeUnknown, "handler panicked: %v", p)
			}
		}()
		res, err := h.Run(runCtx, ectx, action)
		done <- settle(res, err)
	}()

	select {
	case res := <-done:
		return res
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return schemas.ActionExecutionResult{Status: schemas.StatusFailed, Error: NormalizeError(ctx.Err())}
		}
		return failure(schemas.ErrCodeTimeout, "attempt timed out after %s", budget)
	}
}

func (r *Registry) runBefore(ctx context.Context, ectx *ExecutionContext, action schemas.Action, attempt int) *schemas.ActionExecutionResult {
	r.mu.RLock()
	hooks := append([]BeforeHook(nil), r.before...)
	r.mu.RUnlock()

	for i, hook := range hooks {
		res, err := r.callBefore(ctx, ectx, action, attempt, hook, i)
		if err != nil {
			r.logger.Warn("Before hook failed, ignoring.", zap.Int("hook", i), zap.Error(err))
			continue
		}
		if res != nil {
			return res
		}
	}
	return nil
}

func (r *Registry) callBefore(ctx context.Context, ectx *ExecutionContext, action schemas.Action, attempt int, hook BeforeHook, idx int) (res *schemas.ActionExecutionResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, fmt.Errorf("before hook %d panicked: %v", idx, p)
		}
	}()
	return hook(ctx, ectx, action, attempt)
}

func (r *Registry) runAfter(ctx context.Context, ectx *ExecutionContext, action schemas.Action, res schemas.ActionExecutionResult) schemas.ActionExecutionResult {
	r.mu.RLock()
	hooks := append([]AfterHook(nil), r.after...)
	r.mu.RUnlock()

	for i, hook := range hooks {
		replaced, err := r.callAfter(ctx, ectx, action, res, hook, i)
		if err != nil {
			r.logger.Warn("After hook failed, ignoring.", zap.Int("hook", i), zap.Error(err))
			continue
		}
		if replaced != nil {
			res = settle(replaced, nil)
		}
	}
	return res
}

func (r *Registry) callAfter(ctx context.Context, ectx *ExecutionContext, action schemas.Action, in schemas.ActionExecutionResult, hook AfterHook, idx int) (res *schemas.ActionExecutionResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, fmt.Errorf("after hook %d panicked: %v", idx, p)
		}
	}()
	return hook(ctx, ectx, action, in)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
