package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-replay/api/schemas"
	"github.com/xkilldash9x/scalpel-replay/internal/actions"
	"github.com/xkilldash9x/scalpel-replay/internal/config"
	"github.com/xkilldash9x/scalpel-replay/internal/flow"
	"github.com/xkilldash9x/scalpel-replay/internal/observability"
	"github.com/xkilldash9x/scalpel-replay/internal/scheduler"
	"github.com/xkilldash9x/scalpel-replay/internal/selector"
	"github.com/xkilldash9x/scalpel-replay/internal/store"
	"github.com/xkilldash9x/scalpel-replay/internal/transport"
)

const snapshotTabID = 1

// replayOptions holds the flags of the replay command.
type replayOptions struct {
	flowPath  string
	flowID    string
	htmlPath  string
	pageURL   string
	frames    []string
	kind      string
	remoteURL string
	vars      []string
	record    bool
	timeout   time.Duration
}

// replayOutput is what the command prints: the run report plus, for snapshot
// replays, the interactions performed.
type replayOutput struct {
	*scheduler.RunReport
	Events []transport.Event `json:"events,omitempty"`
}

// replayTarget is an opened page ready for a run.
type replayTarget struct {
	Transport schemas.Transport
	TabID     int
	snapshot  *transport.SnapshotTransport
	closeFn   func()
}

func (t *replayTarget) Close() {
	if t.closeFn != nil {
		t.closeFn()
	}
}

// newReplayCmd creates the `replay` command.
func newReplayCmd(a *app) *cobra.Command {
	opts := &replayOptions{}

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Replays a recorded flow against a saved page or a live browser",
		Example: `  scalpel-replay replay --flow checkout.yaml --html checkout.html --var email=a@b.test
  scalpel-replay replay --flow-id checkout --transport cdp --url https://shop.test/checkout --record`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, a, opts)
		},
	}

	f := replayCmd.Flags()
	f.StringVar(&opts.flowPath, "flow", "", "Path to a YAML or JSON flow document")
	f.StringVar(&opts.flowID, "flow-id", "", "Id of a flow in the flow store")
	f.StringVar(&opts.htmlPath, "html", "", "Saved HTML page to replay against (snapshot transport)")
	f.StringVar(&opts.pageURL, "url", "", "Page URL. Navigated to by the cdp transport, the document URL for snapshots")
	f.StringArrayVar(&opts.frames, "frame", nil, "Child frame of the snapshot page as url=path, repeatable")
	f.StringVar(&opts.kind, "transport", "", "Transport kind, snapshot or cdp. (Overrides config/env)")
	f.StringVar(&opts.remoteURL, "remote-url", "", "DevTools websocket of a running browser. (Overrides config/env)")
	f.StringArrayVar(&opts.vars, "var", nil, "Initial variable as key=value, repeatable. JSON values are decoded")
	f.BoolVar(&opts.record, "record", false, "Save the run report to the flow store")
	f.DurationVar(&opts.timeout, "timeout", 0, "Abort the whole run after this long (0 means no limit)")
	replayCmd.MarkFlagsMutuallyExclusive("flow", "flow-id")
	replayCmd.MarkFlagsOneRequired("flow", "flow-id")

	return replayCmd
}

func runReplay(cmd *cobra.Command, a *app, opts *replayOptions) error {
	ctx := cmd.Context()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}
	logger := observability.GetLogger()

	cfg := a.config()
	if opts.kind != "" {
		cfg.SetTransportKind(strings.ToLower(opts.kind))
	}
	if opts.remoteURL != "" {
		cfg.SetTransportRemoteURL(opts.remoteURL)
	}
	tc := cfg.Transport()
	if err := tc.Validate(); err != nil {
		return fmt.Errorf("transport configuration invalid: %w", err)
	}

	vars, err := parseVars(opts.vars)
	if err != nil {
		return err
	}

	var s flowStore
	if opts.flowID != "" || opts.record {
		var closeFn func()
		if s, closeFn, err = a.connectStore(ctx); err != nil {
			return err
		}
		defer closeFn()
	}

	var f *schemas.Flow
	if opts.flowPath != "" {
		f, err = flow.LoadFile(opts.flowPath)
	} else {
		f, err = s.GetFlow(ctx, opts.flowID)
	}
	if err != nil {
		return err
	}

	target, err := openTarget(ctx, tc, opts, logger)
	if err != nil {
		return err
	}
	defer target.Close()

	limited := transport.WithRateLimit(target.Transport, transport.NewLimiter(tc.MessagesPerSecond, tc.Burst))
	registry := newRegistry(cfg, limited, logger)
	if err := flow.Validate(f, registry); err != nil {
		return err
	}
	sched, err := scheduler.New(registry, logger, scheduler.WithMaxDepth(cfg.Executor().MaxSubflowDepth))
	if err != nil {
		return err
	}

	tabID := target.TabID
	ectx := actions.NewExecutionContext(logger, &tabID, vars)
	started := time.Now()
	report, runErr := sched.Run(ctx, f, ectx)
	if report == nil {
		return runErr
	}

	out := replayOutput{RunReport: report}
	if target.snapshot != nil {
		out.Events = target.snapshot.Events()
	}
	if err := writeJSON(cmd, out); err != nil {
		return err
	}

	if opts.record {
		if err := recordRun(ctx, s, report, started); err != nil {
			logger.Error("Failed to record run.", zap.String("run_id", report.RunID), zap.Error(err))
			if runErr == nil {
				return err
			}
		}
	}
	return runErr
}

func newRegistry(cfg config.Interface, t schemas.Transport, logger *zap.Logger) *actions.Registry {
	lc := cfg.Locator()
	ec := cfg.Executor()
	return actions.NewDefaultRegistry(logger, actions.Dependencies{
		Transport: t,
		Locate: selector.LocateOptions{
			PreferRef:         lc.PreferRef,
			AllowMultiple:     lc.AllowMultiple,
			VerifyFingerprint: lc.VerifyFingerprint,
		},
		MaxWhileIterations:        ec.MaxWhileIterations,
		DefaultForeachConcurrency: ec.DefaultForeachConcurrency,
	}, actions.WithDefaultTimeout(ec.DefaultTimeout))
}

// openTarget builds the configured transport and opens the page on it.
func openTarget(ctx context.Context, tc config.TransportConfig, opts *replayOptions, logger *zap.Logger) (*replayTarget, error) {
	switch strings.ToLower(tc.Kind) {
	case config.TransportCDP:
		if opts.pageURL == "" {
			return nil, fmt.Errorf("--url is required with the cdp transport")
		}
		cdpT, err := transport.NewCDPTransport(ctx, transport.CDPOptions{RemoteURL: tc.RemoteURL, Headless: tc.Headless}, logger)
		if err != nil {
			return nil, err
		}
		tabID, err := cdpT.OpenTab(ctx, opts.pageURL)
		if err != nil {
			_ = cdpT.Close()
			return nil, err
		}
		return &replayTarget{Transport: cdpT, TabID: tabID, closeFn: func() { _ = cdpT.Close() }}, nil
	}

	if opts.htmlPath == "" {
		return nil, fmt.Errorf("--html is required with the snapshot transport")
	}
	snap := transport.NewSnapshotTransport(logger)
	pageURL := opts.pageURL
	if pageURL == "" {
		pageURL = "about:blank"
	}
	if err := addDocument(opts.htmlPath, func(r *os.File) error { return snap.AddTab(snapshotTabID, pageURL, r) }); err != nil {
		return nil, err
	}
	for _, spec := range opts.frames {
		// Frame URLs may carry query strings, so split on the last '='.
		i := strings.LastIndex(spec, "=")
		if i <= 0 || i == len(spec)-1 {
			return nil, fmt.Errorf("invalid --frame %q, want url=path", spec)
		}
		frameURL, path := spec[:i], spec[i+1:]
		err := addDocument(path, func(r *os.File) error {
			_, err := snap.AddFrame(snapshotTabID, 0, frameURL, r)
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	return &replayTarget{Transport: snap, TabID: snapshotTabID, snapshot: snap}, nil
}

func addDocument(path string, add func(*os.File) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening HTML document: %w", err)
	}
	defer file.Close()
	if err := add(file); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// parseVars decodes key=value pairs. Values that parse as JSON keep their
// type, anything else is a string.
func parseVars(pairs []string) (actions.VariableStore, error) {
	vars := actions.VariableStore{}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q, want key=value", pair)
		}
		var value interface{} = raw
		if json.Valid([]byte(raw)) {
			var decoded interface{}
			if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
				value = decoded
			}
		}
		vars.Set(key, value)
	}
	return vars, nil
}

func recordRun(ctx context.Context, s flowStore, report *scheduler.RunReport, started time.Time) error {
	if s == nil {
		return errors.New("no flow store")
	}
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding run report: %w", err)
	}
	rec := store.RunRecord{
		RunID:      report.RunID,
		FlowID:     report.FlowID,
		Status:     report.Status,
		Report:     body,
		StartedAt:  started,
		DurationMs: report.DurationMs,
	}
	if report.Error != nil {
		rec.ErrorCode = report.Error.Code
	}
	// The run may have been cancelled; the record should still land.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return s.SaveRun(saveCtx, rec)
}
