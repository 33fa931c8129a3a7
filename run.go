// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/524D/mzbatch/internal/classify"
	"github.com/524D/mzbatch/internal/config"
	"github.com/524D/mzbatch/internal/ledger"
	"github.com/524D/mzbatch/internal/peaks/external"
	"github.com/524D/mzbatch/internal/peaks/native"
	"github.com/524D/mzbatch/internal/pipeline"
	"github.com/524D/mzbatch/internal/report"
	"github.com/524D/mzbatch/internal/spectra"
	"github.com/524D/mzbatch/internal/validate"
)

var (
	debugFeatures string // Print debug output for given feature range
	debugMz       string // Restrict the debug output to an m/z range
)

var runCmd = &cobra.Command{
	Use:   "run <workdir> <report-base>",
	Short: "Validate the spectral files and run the feature pipeline",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd.Context(), cfg, runOptions{
			workdir:    args[0],
			base:       args[1],
			debugRange: debugFeatures,
			debugMz:    debugMz,
			debugOut:   cmd.OutOrStdout(),
		})
	},
}

func init() {
	runCmd.Flags().StringVar(&debugFeatures, "debug", "", "print debug output for given feature `range` e.g. 3:6")
	runCmd.Flags().StringVar(&debugMz, "debug-mz", "", "only print debug output for features in m/z `range` e.g. 300:400.5")
	rootCmd.AddCommand(runCmd)
}

type runOptions struct {
	workdir    string
	base       string
	debugRange string
	debugMz    string
	debugOut   io.Writer
}

// runState is what a run has found and produced so far.
type runState struct {
	classes []string
	mode    classify.Mode
	samples []pipeline.Sample
	repairs []validate.Result
	runID   string
}

// newProcessor returns the configured peak processing backend.
func newProcessor(c config.BackendConfig) pipeline.PeakProcessor {
	if c.Name == config.BackendExternal {
		p := external.New(c.Command, c.Args...)
		if zap.L().Core().Enabled(zap.DebugLevel) {
			p.Stderr = os.Stderr
		}
		return p
	}
	return native.New()
}

// runBatch classifies the working directory, validates its files, runs
// the pipeline and converts the report. Nothing is written when the
// directory holds more than two sample classes.
func runBatch(ctx context.Context, c *config.Config, opts runOptions) (err error) {
	var st runState
	st.classes, err = classify.SampleClasses(opts.workdir)
	if err != nil {
		return err
	}
	st.mode, err = classify.Classify(st.classes)
	if err != nil {
		return err
	}
	zap.L().Info("classified samples",
		zap.String("mode", st.mode.String()), zap.Strings("classes", st.classes))

	params, err := c.Params.Pipeline()
	if err != nil {
		return err
	}
	format, err := report.ParseFormat(c.Report.Format)
	if err != nil {
		return err
	}
	files, err := spectra.Discover(opts.workdir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return eris.Wrapf(pipeline.ErrNoSamples, "no spectral files below %s", opts.workdir)
	}

	var led *ledger.Ledger
	if c.Ledger.Path != "" {
		if led, err = openLedger(ctx, c.Ledger.Path); err != nil {
			return err
		}
		defer led.Close() //nolint:errcheck
		var run *ledger.Run
		run, err = led.StartRun(ctx, ledger.Run{
			Workdir: opts.workdir,
			Base:    opts.base,
			Mode:    st.mode.String(),
			Backend: c.Backend.Name,
			Params:  params,
		})
		if err != nil {
			return err
		}
		st.runID = run.ID
		defer func() {
			if ferr := led.FinishRun(context.WithoutCancel(ctx), st.runID, err); ferr != nil {
				zap.L().Warn("ledger: finish run", zap.Error(ferr))
			}
		}()
	}

	results, err := validate.ValidateAll(ctx, files, c.Validation.Workers)
	if err != nil {
		return err
	}
	st.repairs = validate.Repaired(results)
	for _, r := range st.repairs {
		zap.L().Info("repaired file",
			zap.String("file", r.Path), zap.String("backup", r.BackupPath), zap.Int("scan", r.Scan))
		if led != nil {
			err := led.RecordRepair(ctx, ledger.Repair{
				RunID: st.runID, Path: r.Path, Backup: r.BackupPath, Repaired: r.RepairedPath, Scan: r.Scan,
			})
			if err != nil {
				return err
			}
		}
	}
	st.samples = samplesOf(opts.workdir, results)

	rawPath := report.RawPath(opts.workdir, opts.base)
	req := pipeline.ReportRequest{Mode: st.mode, Path: rawPath}
	if st.mode == classify.Differential {
		req.ClassA, req.ClassB = st.classes[0], st.classes[1]
	}
	observer := func(ev pipeline.StageEvent) {
		fields := []zap.Field{
			zap.String("stage", string(ev.Stage)), zap.Duration("elapsed", ev.Elapsed),
			zap.Int("peaks", ev.Peaks), zap.Int("features", ev.Features),
		}
		if ev.Err != nil {
			zap.L().Error("stage failed", append(fields, zap.Error(ev.Err))...)
		} else {
			zap.L().Info("stage done", fields...)
		}
		if led != nil {
			if err := led.RecordStage(context.WithoutCancel(ctx), st.runID, ev); err != nil {
				zap.L().Warn("ledger: record stage", zap.Error(err))
			}
		}
	}
	orch := pipeline.New(newProcessor(c.Backend), params, pipeline.WithObserver(observer))
	ds, err := orch.Run(ctx, st.samples, req)
	if err != nil {
		return err
	}

	finalPath := report.FinalPath(opts.workdir, opts.base, format)
	table, err := report.Convert(rawPath, finalPath, report.Options{Format: format})
	if err != nil {
		return err
	}
	zap.L().Info("report written", zap.String("file", finalPath), zap.Int("features", len(table.Rows)))

	if c.Report.LipidFinder {
		names := make([]string, len(st.samples))
		for i, s := range st.samples {
			names[i] = s.Name
		}
		lf := report.LipidFinderPath(opts.workdir, opts.base)
		if err := report.WriteLipidFinder(lf, table, names); err != nil {
			return err
		}
		zap.L().Info("lipidfinder export written", zap.String("file", lf))
	}

	if err := writeManifest(manifestPath(opts.workdir, opts.base), c, st, finalPath); err != nil {
		return err
	}
	if opts.debugRange != "" {
		if err := dumpFeatures(opts.debugOut, ds, opts.debugRange, opts.debugMz); err != nil {
			return err
		}
	}
	return nil
}

func openLedger(ctx context.Context, path string) (*ledger.Ledger, error) {
	led, err := ledger.Open(path)
	if err != nil {
		return nil, err
	}
	if err := led.Migrate(ctx); err != nil {
		led.Close() //nolint:errcheck
		return nil, err
	}
	return led, nil
}

// samplesOf turns validation results into pipeline samples, using the
// repaired file where there is one. Files directly in workdir have no
// class. Samples are named by file stem, or by their path below workdir
// when stems collide.
func samplesOf(workdir string, results []validate.Result) []pipeline.Sample {
	samples := make([]pipeline.Sample, len(results))
	stems := make(map[string]int)
	var classes []string
	for i, r := range results {
		path := r.Path
		if r.Status == validate.StatusRepaired {
			path = r.RepairedPath
		}
		samples[i] = pipeline.Sample{
			Path:  path,
			Name:  spectra.Stem(path),
			Class: classify.ClassOf(workdir, path),
		}
		stems[samples[i].Name]++
		if c := samples[i].Class; c != "" && !slices.Contains(classes, c) {
			classes = append(classes, c)
		}
	}
	// Names that are not unique or that clash with another report column
	// become the path relative to workdir.
	for i, s := range samples {
		if stems[s.Name] < 2 && !pipeline.ReservedColumn(s.Name, classes) {
			continue
		}
		rel, err := filepath.Rel(workdir, s.Path)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)
		samples[i].Name = rel[:len(rel)-len(filepath.Ext(rel))]
		if pipeline.ReservedColumn(samples[i].Name, classes) {
			samples[i].Name = rel
		}
	}
	return samples
}
