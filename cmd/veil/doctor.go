package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pthm/veil/internal/cli"
	"github.com/pthm/veil/internal/doctor"
)

var doctorVerbose bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks",
	Long: `Run health checks on the masking setup: preload ordering, role markers,
column label validity and masking query synthesis.`,
	Example: `  # Run health checks
  veil doctor --db postgres://localhost/mydb

  # Run with verbose output
  veil doctor --db postgres://localhost/mydb --details`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn, err := resolveDSN()
		if err != nil {
			return err
		}
		return runDoctor(ctx(cmd), dsn, doctorVerbose || verbose > 0, cmd.OutOrStdout())
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorVerbose, "details", false, "show detailed output")
}

func runDoctor(ctx context.Context, dsn string, verboseFlag bool, w io.Writer) error {
	// preload ordering is reported below instead of refusing to start
	db, err := connect(ctx, dsn)
	if err != nil {
		return err
	}
	e := wireEngine(db, nil)
	defer func() { _ = e.Close() }()

	if !quiet {
		_, _ = fmt.Fprintln(w, "veil doctor - Health Check")
	}

	d := doctor.New(doctor.Deps{
		Catalog:     e.cat,
		Labels:      e.cat,
		Settings:    e.cat,
		Checker:     e.validator,
		Synthesizer: e.rewriter,
		Preload:     cfg.Preload.Overrides(),
		Library:     cfg.Preload.Library,
	}, e.opts)
	report, err := d.Run(ctx)
	if err != nil {
		return cli.GeneralError("running doctor", err)
	}

	report.Print(w, verboseFlag)

	if report.HasErrors() {
		return cli.GeneralError("health checks failed", nil)
	}

	return nil
}
