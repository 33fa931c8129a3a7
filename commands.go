// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/524D/mzbatch/internal/classify"
	"github.com/524D/mzbatch/internal/ledger"
	"github.com/524D/mzbatch/internal/spectra"
	"github.com/524D/mzbatch/internal/validate"
)

var validateCmd = &cobra.Command{
	Use:   "validate <workdir>",
	Short: "Check and repair the spectral files without running the pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := spectra.Discover(args[0])
		if err != nil {
			return err
		}
		results, err := validate.ValidateAll(cmd.Context(), files, cfg.Validation.Workers)
		if err != nil {
			return err
		}
		printValidation(cmd.OutOrStdout(), results)
		return nil
	},
}

func printValidation(out io.Writer, results []validate.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tSTATUS\tSCAN\tBACKUP")
	for _, r := range results {
		scan, backup := "-", "-"
		if r.Status == validate.StatusRepaired {
			scan, backup = fmt.Sprint(r.Scan), r.BackupPath
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Path, r.Status, scan, backup)
	}
	w.Flush() //nolint:errcheck
	fmt.Fprintf(out, "%d files, %d repaired\n", len(results), len(validate.Repaired(results)))
}

var classifyCmd = &cobra.Command{
	Use:   "classify <workdir>",
	Short: "Print the sample classes and the report mode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		classes, err := classify.SampleClasses(args[0])
		if err != nil {
			return err
		}
		mode, err := classify.Classify(classes)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "mode: %s\nclasses: %s\n", mode, strings.Join(classes, ", "))
		return nil
	},
}

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List recorded runs, or show one run",
	Long:  "Reads the run ledger configured with ledger.path.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Ledger.Path == "" {
			return eris.New("no run ledger configured (ledger.path)")
		}
		ctx := cmd.Context()
		led, err := openLedger(ctx, cfg.Ledger.Path)
		if err != nil {
			return err
		}
		defer led.Close() //nolint:errcheck

		out := cmd.OutOrStdout()
		if len(args) == 0 {
			runs, err := led.Runs(ctx, runsLimit)
			if err != nil {
				return err
			}
			printRuns(out, runs)
			return nil
		}
		run, err := led.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		stages, err := led.Stages(ctx, run.ID)
		if err != nil {
			return err
		}
		repairs, err := led.Repairs(ctx, run.ID)
		if err != nil {
			return err
		}
		printRun(out, run, stages, repairs)
		return nil
	},
}

func printRuns(out io.Writer, runs []ledger.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tSTATUS\tMODE\tWORKDIR\tBASE")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.StartedAt.Format(time.DateTime), r.Status, r.Mode, r.Workdir, r.Base)
	}
	w.Flush() //nolint:errcheck
}

func printRun(out io.Writer, r *ledger.Run, stages []ledger.Stage, repairs []ledger.Repair) {
	fmt.Fprintf(out, "Run %s: %s %s, %s mode, %s backend, %s\n",
		r.ID, r.Workdir, r.Base, r.Mode, r.Backend, r.Status)
	if r.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", r.Error)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tELAPSED\tPEAKS\tFEATURES\tERROR")
	for _, s := range stages {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", s.Name, s.Elapsed, s.Peaks, s.Features, s.Error)
	}
	w.Flush() //nolint:errcheck
	for _, rp := range repairs {
		fmt.Fprintf(out, "Repaired %s (scan %d), original kept as %s\n", rp.Path, rp.Scan, rp.Backup)
	}
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs to list")
	rootCmd.AddCommand(validateCmd, classifyCmd, runsCmd)
}
