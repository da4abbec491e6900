// earnctl runs the earnings engine batch operations from the command line.
// Every command builds the same engine as the server from the environment
// and prints its report as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/umbra/earnings-engine/bootstrap"
	"github.com/umbra/earnings-engine/config"
	"github.com/umbra/earnings-engine/engine"
	"github.com/umbra/earnings-engine/factory"
	"github.com/umbra/earnings-engine/generic"
	"github.com/umbra/earnings-engine/logging"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "earnctl",
		Short:        "Operate the Umbra earnings engine",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			return nil
		},
	}
	root.AddCommand(
		newSweepCmd(),
		newAutoCloseCmd(),
		newMonthlyCmd(),
		newPayrollCmd(),
		newReferenceCmd(),
	)
	return root
}

// withEngine builds the engine from the environment, runs fn under the
// "cli" trigger and prints its result.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *engine.Engine) (any, error)) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger = logger.With(zap.String("command", cmd.CommandPath()))

	ctx := engine.WithTrigger(cmd.Context(), "cli")
	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	out, err := fn(ctx, app.Engine)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Approve expired holds and run the burn check if due",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) (any, error) {
				return e.SweepBonusHolds(ctx)
			})
		},
	}
}

func newAutoCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auto-close",
		Short: "Close forgotten shifts and mark no-shows missed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) (any, error) {
				return e.AutoCloseShifts(ctx)
			})
		},
	}
}

func newMonthlyCmd() *cobra.Command {
	var req engine.MonthlyRequest
	var processor string
	cmd := &cobra.Command{
		Use:   "monthly",
		Short: "Calculate monthly tier bonuses",
		Long: `Calculate monthly tier bonuses for one month.

Without --month the previous month is used. With --dry-run nothing is
persisted and the report shows what would be paid.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req.ProcessorID = generic.ProcessorID(processor)
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) (any, error) {
				return e.CalculateMonthlyBonus(ctx, req)
			})
		},
	}
	cmd.Flags().StringVar(&req.Month, "month", "", "month as YYYY-MM (default: previous month)")
	cmd.Flags().BoolVar(&req.DryRun, "dry-run", false, "compute without persisting")
	cmd.Flags().StringVar(&processor, "processor", "", "only this agent")
	return cmd
}

func newPayrollCmd() *cobra.Command {
	var month string
	cmd := &cobra.Command{
		Use:   "payroll",
		Short: "Print the payroll report for a month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) (any, error) {
				return e.Payroll(ctx, month)
			})
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "month as YYYY-MM (default: current)")
	return cmd
}

func newReferenceCmd() *cobra.Command {
	ref := &cobra.Command{
		Use:   "reference",
		Short: "Manage reference data",
	}

	var file string
	load := &cobra.Command{
		Use:   "load",
		Short: "Replace grid, tiers and salary from a YAML or JSON file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := factory.LoadReferenceFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) (any, error) {
				if err := doc.Apply(ctx, e); err != nil {
					return nil, err
				}
				return doc, nil
			})
		},
	}
	load.Flags().StringVar(&file, "file", "", "reference data file (.yaml, .yml or .json)")
	_ = load.MarkFlagRequired("file")

	ref.AddCommand(load)
	return ref
}
