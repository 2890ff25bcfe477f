// internal/actions/context.go
package actions

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel is the severity of a run log entry.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// LogEntry is one line of the human-facing run log.
type LogEntry struct {
	Time     time.Time `json:"time"`
	Level    LogLevel  `json:"level"`
	Message  string    `json:"message"`
	ActionID string    `json:"actionId,omitempty"`
}

// RunLog collects entries for a run. It is shared by forked contexts, so it is
// safe for concurrent use.
type RunLog struct {
	mu      sync.Mutex
	entries []LogEntry
}

// Append adds an entry.
func (l *RunLog) Append(e LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

// Entries returns a copy of the collected entries.
func (l *RunLog) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// -- Variable Store --

// VariableStore is the flat name to JSON value mapping of one run.
type VariableStore map[string]interface{}

// Get returns a variable by name.
func (v VariableStore) Get(name string) (interface{}, bool) {
	val, ok := v[name]
	return val, ok
}

// Set assigns a variable.
func (v VariableStore) Set(name string, value interface{}) {
	v[name] = value
}

// Clone returns a deep copy, so mutations in a child run never leak back.
func (v VariableStore) Clone() VariableStore {
	out := make(VariableStore, len(v))
	for k, val := range v {
		out[k] = deepCopy(val)
	}
	return out
}

func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[k] = deepCopy(val)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, val := range t {
			s[i] = deepCopy(val)
		}
		return s
	default:
		return v
	}
}

// -- Execution Context --

// ExecutionContext is the per-run state handed to every handler. TabID and
// FrameID are nil when unset. A run is driven by one goroutine; concurrent
// children get their own context via Fork.
type ExecutionContext struct {
	RunID   string
	TabID   *int
	FrameID *int
	Vars    VariableStore

	logger *zap.Logger
	runLog *RunLog
}

// NewExecutionContext creates the root context of a run.
func NewExecutionContext(logger *zap.Logger, tabID *int, vars VariableStore) *ExecutionContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	if vars == nil {
		vars = VariableStore{}
	}
	runID := uuid.NewString()
	return &ExecutionContext{
		RunID:  runID,
		TabID:  tabID,
		Vars:   vars,
		logger: logger.Named("run").With(zap.String("run_id", runID)),
		runLog: &RunLog{},
	}
}

// Logger returns the run-scoped logger.
func (c *ExecutionContext) Logger() *zap.Logger {
	if c.logger == nil {
		return zap.NewNop()
	}
	return c.logger
}

// Log writes msg to the run logger and the run log.
func (c *ExecutionContext) Log(msg string, level LogLevel) {
	if ce := c.Logger().Check(level.zapLevel(), msg); ce != nil {
		ce.Write()
	}
	c.PushLog(LogEntry{Time: time.Now(), Level: level, Message: msg})
}

// PushLog appends a prepared entry to the run log.
func (c *ExecutionContext) PushLog(e LogEntry) {
	if c.runLog == nil {
		c.runLog = &RunLog{}
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	c.runLog.Append(e)
}

// RunLog exposes the shared run log.
func (c *ExecutionContext) RunLog() *RunLog {
	if c.runLog == nil {
		c.runLog = &RunLog{}
	}
	return c.runLog
}

// Fork returns a child context with a cloned VariableStore. The tab, frame,
// logger and run log are shared.
func (c *ExecutionContext) Fork() *ExecutionContext {
	child := &ExecutionContext{
		RunID:  c.RunID,
		TabID:  c.TabID,
		Vars:   c.Vars.Clone(),
		logger: c.logger,
		runLog: c.RunLog(),
	}
	if c.FrameID != nil {
		child.FrameID = intRef(*c.FrameID)
	}
	return child
}

func intRef(i int) *int { return &i }
