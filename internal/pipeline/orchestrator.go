package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// StageEvent reports the outcome of one stage to an observer.
type StageEvent struct {
	Stage    Stage
	Elapsed  time.Duration
	Peaks    int
	Features int
	Err      error
}

// Orchestrator runs the stages in their fixed order.
type Orchestrator struct {
	proc     PeakProcessor
	params   Params
	observer func(StageEvent)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver registers a function that is called after every stage,
// including the report.
func WithObserver(f func(StageEvent)) Option {
	return func(o *Orchestrator) { o.observer = f }
}

// New creates an orchestrator for proc.
func New(proc PeakProcessor, params Params, opts ...Option) *Orchestrator {
	o := &Orchestrator{proc: proc, params: params}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type stage struct {
	name     Stage
	requires []Stage
	run      func(ctx context.Context, o *Orchestrator, in *Dataset) (*Dataset, error)
}

// stages is the only order in which stages run.
var stages = []stage{
	{
		name: StageDetect,
		run: func(ctx context.Context, o *Orchestrator, in *Dataset) (*Dataset, error) {
			return o.proc.Detect(ctx, slices.Clone(in.Samples), o.params.Detect)
		},
	},
	{
		name:     StageGroup,
		requires: []Stage{StageDetect},
		run: func(ctx context.Context, o *Orchestrator, in *Dataset) (*Dataset, error) {
			return o.proc.Group(ctx, in, o.params.Group)
		},
	},
	{
		name:     StageRetentionCorrect,
		requires: []Stage{StageDetect, StageGroup},
		run: func(ctx context.Context, o *Orchestrator, in *Dataset) (*Dataset, error) {
			return o.proc.RetentionCorrect(ctx, in, o.params.Retention)
		},
	},
	{
		name:     StageRegroup,
		requires: []Stage{StageRetentionCorrect},
		run: func(ctx context.Context, o *Orchestrator, in *Dataset) (*Dataset, error) {
			return o.proc.Group(ctx, in, o.params.Regroup)
		},
	},
	{
		name:     StageFillGaps,
		requires: []Stage{StageRegroup},
		run: func(ctx context.Context, o *Orchestrator, in *Dataset) (*Dataset, error) {
			return o.proc.FillGaps(ctx, in)
		},
	},
}

// Run runs all stages on samples and then requests the report. Any
// failure is returned as a *StageFailure; on failure no dataset is
// returned and a partly written report is removed.
func (o *Orchestrator) Run(ctx context.Context, samples []Sample, req ReportRequest) (*Dataset, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	ds := &Dataset{Samples: slices.Clone(samples)}
	for _, s := range stages {
		start := time.Now()
		out, err := o.runStage(ctx, s, ds)
		o.notify(StageEvent{Stage: s.name, Elapsed: time.Since(start), Err: err}, out)
		if err != nil {
			return nil, err
		}
		ds = out
	}

	start := time.Now()
	err := ctx.Err()
	if err == nil {
		err = o.proc.Report(ctx, ds, req)
	}
	if err != nil {
		if rmErr := os.Remove(req.Path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			zap.L().Warn("pipeline: remove partial report", zap.String("path", req.Path), zap.Error(rmErr))
		}
		err = &StageFailure{Stage: StageReport, Err: eris.Wrap(err, "pipeline: report")}
	}
	o.notify(StageEvent{Stage: StageReport, Elapsed: time.Since(start), Err: err}, ds)
	if err != nil {
		return nil, err
	}
	return ds, nil
}

func (o *Orchestrator) runStage(ctx context.Context, s stage, in *Dataset) (*Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, &StageFailure{Stage: s.name, Err: err}
	}
	for _, r := range s.requires {
		if !in.HasStage(r) {
			return nil, &StageFailure{Stage: s.name, Err: fmt.Errorf("%w: %s needs %s", ErrStageOrder, s.name, r)}
		}
	}
	if in.HasStage(StageFillGaps) {
		return nil, &StageFailure{Stage: s.name, Err: fmt.Errorf("%w: %s after %s", ErrStageOrder, s.name, StageFillGaps)}
	}

	before := in.fingerprint()
	out, err := s.run(ctx, o, in)
	if err != nil {
		return nil, &StageFailure{Stage: s.name, Err: eris.Wrapf(err, "pipeline: %s", s.name)}
	}
	if out == nil {
		return nil, &StageFailure{Stage: s.name, Err: ErrNoDataset}
	}
	if out == in || in.fingerprint() != before {
		return nil, &StageFailure{Stage: s.name, Err: ErrInputModified}
	}
	out.Lineage = append(slices.Clone(in.Lineage), s.name)
	return out, nil
}

func (o *Orchestrator) notify(ev StageEvent, ds *Dataset) {
	if ds != nil && ev.Err == nil {
		ev.Peaks = len(ds.Peaks)
		ev.Features = len(ds.Features)
	}
	if ev.Err != nil {
		zap.L().Error("pipeline: stage failed", zap.String("stage", string(ev.Stage)), zap.Error(ev.Err))
	} else {
		zap.L().Info("pipeline: stage done",
			zap.String("stage", string(ev.Stage)),
			zap.Duration("elapsed", ev.Elapsed),
			zap.Int("peaks", ev.Peaks),
			zap.Int("features", ev.Features))
	}
	if o.observer != nil {
		o.observer(ev)
	}
}
