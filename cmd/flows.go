package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-replay/api/schemas"
	"github.com/xkilldash9x/scalpel-replay/internal/actions"
	"github.com/xkilldash9x/scalpel-replay/internal/flow"
	"github.com/xkilldash9x/scalpel-replay/internal/observability"
	"github.com/xkilldash9x/scalpel-replay/internal/store"
)

// flowStore is the part of *store.Store the commands use.
type flowStore interface {
	EnsureSchema(ctx context.Context) error
	SaveFlow(ctx context.Context, f *schemas.Flow) error
	ImportFlows(ctx context.Context, flows []*schemas.Flow) error
	GetFlow(ctx context.Context, id string) (*schemas.Flow, error)
	ListFlows(ctx context.Context) ([]schemas.FlowSummary, error)
	DeleteFlow(ctx context.Context, id string) error
	SaveRun(ctx context.Context, rec store.RunRecord) error
	ListRuns(ctx context.Context, flowID string, limit int) ([]store.RunRecord, error)
}

// openStore connects to the flow store. Tests replace it.
var openStore = func(ctx context.Context, url string, logger *zap.Logger) (flowStore, func(), error) {
	s, closeFn, err := store.Connect(ctx, url, logger)
	if err != nil {
		return nil, nil, err
	}
	return s, closeFn, nil
}

// connectStore opens the configured store and makes sure its tables exist.
func (a *app) connectStore(ctx context.Context) (flowStore, func(), error) {
	url := a.config().Database().URL
	if url == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (%s_DATABASE_URL or --database-url)", envPrefix)
	}
	s, closeFn, err := openStore(ctx, url, observability.GetLogger())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize flow store: %w", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}
	return s, closeFn, nil
}

// newFlowsCmd creates the `flows` command group for the flow store.
func newFlowsCmd(a *app) *cobra.Command {
	flowsCmd := &cobra.Command{
		Use:   "flows",
		Short: "Validates flow documents and manages stored flows",
	}
	flowsCmd.AddCommand(
		newFlowsValidateCmd(),
		newFlowsImportCmd(a),
		newFlowsListCmd(a),
		newFlowsShowCmd(a),
		newFlowsDeleteCmd(a),
		newFlowsRunsCmd(a),
	)
	return flowsCmd
}

// loadFlows parses and validates every file, reporting all failures at once.
func loadFlows(paths []string) ([]*schemas.Flow, error) {
	validator := actions.NewDefaultRegistry(observability.GetLogger(), actions.Dependencies{})
	var (
		flows []*schemas.Flow
		errs  []error
	)
	for _, path := range paths {
		f, err := flow.LoadFile(path)
		if err == nil {
			if vErr := flow.Validate(f, validator); vErr != nil {
				err = fmt.Errorf("%s: %w", path, vErr)
			}
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		flows = append(flows, f)
	}
	return flows, errors.Join(errs...)
}

func newFlowsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Checks flow documents without storing them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flows, err := loadFlows(args)
			for _, f := range flows {
				fmt.Fprintf(cmd.OutOrStdout(), "ok\t%s\n", f.ID)
			}
			return err
		},
	}
}

func newFlowsImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>...",
		Short: "Validates flow documents and stores them, replacing flows with the same id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flows, err := loadFlows(args)
			if err != nil {
				return err
			}
			seen := make(map[string]bool, len(flows))
			for _, f := range flows {
				if seen[f.ID] {
					return fmt.Errorf("flow id %q appears in more than one file", f.ID)
				}
				seen[f.ID] = true
			}

			ctx := cmd.Context()
			s, closeFn, err := a.connectStore(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := s.ImportFlows(ctx, flows); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d flow(s).\n", len(flows))
			return nil
		},
	}
}

func newFlowsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lists stored flows, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, closeFn, err := a.connectStore(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			flows, err := s.ListFlows(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tUPDATED")
			for _, f := range flows {
				fmt.Fprintf(w, "%s\t%s\t%s\n", f.ID, f.Name, f.UpdatedAt.UTC().Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func newFlowsShowCmd(a *app) *cobra.Command {
	var format string
	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Prints a stored flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out flow.Format
			switch format {
			case "yaml", "yml":
				out = flow.FormatYAML
			case "json":
				out = flow.FormatJSON
			default:
				return fmt.Errorf("unsupported format %q (yaml or json)", format)
			}

			ctx := cmd.Context()
			s, closeFn, err := a.connectStore(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			f, err := s.GetFlow(ctx, args[0])
			if err != nil {
				return err
			}
			doc, err := flow.Encode(f, out)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(doc)
			return err
		},
	}
	showCmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format (yaml or json)")
	return showCmd
}

func newFlowsDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Removes a stored flow. Its run history is kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, closeFn, err := a.connectStore(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := s.DeleteFlow(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted flow %s.\n", args[0])
			return nil
		},
	}
}

func newFlowsRunsCmd(a *app) *cobra.Command {
	var limit int
	runsCmd := &cobra.Command{
		Use:   "runs <id>",
		Short: "Lists recorded replays of a flow, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, closeFn, err := a.connectStore(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			runs, err := s.ListRuns(ctx, args[0], limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSTATUS\tERROR\tSTARTED\tDURATION")
			for _, r := range runs {
				code := string(r.ErrorCode)
				if code == "" {
					code = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dms\n", r.RunID, r.Status, code, r.StartedAt.UTC().Format(time.RFC3339), r.DurationMs)
			}
			return w.Flush()
		},
	}
	runsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list")
	return runsCmd
}
