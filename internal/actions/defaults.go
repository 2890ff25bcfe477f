// internal/actions/defaults.go
package actions

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-replay/api/schemas"
	"github.com/xkilldash9x/scalpel-replay/internal/selector"
)

// Dependencies are the collaborators the built-in handlers need.
type Dependencies struct {
	Transport schemas.Transport
	// Locator defaults to a selector.Locator over Transport.
	Locator                   ElementLocator
	Locate                    selector.LocateOptions
	MaxWhileIterations        int
	DefaultForeachConcurrency int
}

// NewDefaultRegistry returns a registry with every built-in handler
// registered.
func NewDefaultRegistry(logger *zap.Logger, deps Dependencies, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := NewRegistry(logger, opts...)

	loc := deps.Locator
	if loc == nil && deps.Transport != nil {
		loc = selector.NewLocator(deps.Transport, logger)
	}

	r.Register(NewClickHandler(deps.Transport, loc, deps.Locate))
	r.Register(NewFillHandler(deps.Transport, loc, deps.Locate))
	r.Register(DelayHandler{})
	r.Register(SetVarHandler{})
	r.Register(AssertHandler{})
	r.Register(IfHandler{})
	r.Register(ForeachHandler{DefaultConcurrency: deps.DefaultForeachConcurrency})
	r.Register(WhileHandler{DefaultMaxIterations: deps.MaxWhileIterations})
	r.Register(SwitchFrameHandler{Transport: deps.Transport})
	return r
}
