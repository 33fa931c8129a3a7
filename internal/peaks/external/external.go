// Package external runs the peak pipeline stages through an outside
// command. For every stage the command is started as
//
//	<command> [args...] <stage> <params.json> <in.json> <out>
//
// params.json holds the stage parameters and in.json the input (the
// sample list for detect, the dataset otherwise). Data stages write the
// resulting dataset as JSON to <out>; the report stage writes the
// intermediate comma separated table there.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/524D/mzbatch/internal/pipeline"
)

// ErrBadOutput means the command exited normally but did not produce a
// usable result.
var ErrBadOutput = errors.New("external: bad command output")

// Processor implements pipeline.PeakProcessor by running a command.
type Processor struct {
	command string
	args    []string
	// Stderr, when set, also receives the command's stderr
	Stderr io.Writer
}

// New returns a Processor running command with leading args.
func New(command string, args ...string) *Processor {
	return &Processor{command: command, args: args}
}

var _ pipeline.PeakProcessor = (*Processor)(nil)

// run executes one stage in a scratch directory that is removed when
// run returns. An empty out puts the output in the scratch directory.
// read is called with the output path after the command succeeded.
func (p *Processor) run(ctx context.Context, stage pipeline.Stage, params, in any, out string, read func(string) error) error {
	dir, err := os.MkdirTemp("", "mzbatch-"+string(stage)+"-")
	if err != nil {
		return eris.Wrap(err, "external: create scratch dir")
	}
	defer os.RemoveAll(dir)

	paramsPath := filepath.Join(dir, "params.json")
	inPath := filepath.Join(dir, "in.json")
	if err := writeJSON(paramsPath, params); err != nil {
		return err
	}
	if err := writeJSON(inPath, in); err != nil {
		return err
	}
	if out == "" {
		out = filepath.Join(dir, "out.json")
	}

	args := append(append([]string(nil), p.args...), string(stage), paramsPath, inPath, out)
	cmd := exec.CommandContext(ctx, p.command, args...)
	var stderr bytes.Buffer
	if p.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, p.Stderr)
	} else {
		cmd.Stderr = &stderr
	}
	zap.L().Debug("external: running stage", zap.String("stage", string(stage)), zap.String("command", p.command))
	if err := cmd.Run(); err != nil {
		return eris.Wrapf(err, "external: %s %s failed: %s", p.command, stage, strings.TrimSpace(stderr.String()))
	}
	if read == nil {
		return nil
	}
	return read(out)
}

func writeJSON(path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "external: encode %s", filepath.Base(path))
	}
	return eris.Wrap(os.WriteFile(path, b, 0o644), "external: write input")
}

// dataset runs a stage that produces a dataset.
func (p *Processor) dataset(ctx context.Context, stage pipeline.Stage, params, in any) (*pipeline.Dataset, error) {
	var ds *pipeline.Dataset
	err := p.run(ctx, stage, params, in, "", func(out string) error {
		b, err := os.ReadFile(out)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadOutput, err)
		}
		if err := json.Unmarshal(b, &ds); err != nil {
			return fmt.Errorf("%w: %v", ErrBadOutput, err)
		}
		if ds == nil {
			return fmt.Errorf("%w: no dataset", ErrBadOutput)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ds, nil
}

// checkPeaks verifies that feature peak indices point into the peak list.
func checkPeaks(ds *pipeline.Dataset) error {
	for fi, f := range ds.Features {
		for _, pi := range f.Peaks {
			if pi < 0 || pi >= len(ds.Peaks) {
				return fmt.Errorf("%w: feature %d refers to peak %d of %d", ErrBadOutput, fi, pi, len(ds.Peaks))
			}
		}
	}
	for i, pk := range ds.Peaks {
		if pk.Sample < 0 || pk.Sample >= len(ds.Samples) {
			return fmt.Errorf("%w: peak %d refers to sample %d of %d", ErrBadOutput, i, pk.Sample, len(ds.Samples))
		}
	}
	return nil
}

func (p *Processor) stage(ctx context.Context, stage pipeline.Stage, params, in any) (*pipeline.Dataset, error) {
	ds, err := p.dataset(ctx, stage, params, in)
	if err != nil {
		return nil, err
	}
	if err := checkPeaks(ds); err != nil {
		return nil, err
	}
	return ds, nil
}

// Detect runs the detect stage on the sample list.
func (p *Processor) Detect(ctx context.Context, samples []pipeline.Sample, params pipeline.DetectParams) (*pipeline.Dataset, error) {
	ds, err := p.stage(ctx, pipeline.StageDetect, params, samples)
	if err != nil {
		return nil, err
	}
	if len(ds.Samples) != len(samples) {
		return nil, fmt.Errorf("%w: %d samples in, %d out", ErrBadOutput, len(samples), len(ds.Samples))
	}
	return ds, nil
}

// Group runs the group stage. The regroup stage also arrives here.
func (p *Processor) Group(ctx context.Context, ds *pipeline.Dataset, params pipeline.GroupParams) (*pipeline.Dataset, error) {
	return p.stage(ctx, pipeline.StageGroup, params, ds)
}

// RetentionCorrect runs the retention correction stage.
func (p *Processor) RetentionCorrect(ctx context.Context, ds *pipeline.Dataset, params pipeline.RetentionParams) (*pipeline.Dataset, error) {
	return p.stage(ctx, pipeline.StageRetentionCorrect, params, ds)
}

// FillGaps runs the gap filling stage. It has no parameters; params.json
// holds an empty object.
func (p *Processor) FillGaps(ctx context.Context, ds *pipeline.Dataset) (*pipeline.Dataset, error) {
	return p.stage(ctx, pipeline.StageFillGaps, struct{}{}, ds)
}

// Report asks the command for the intermediate table at req.Path.
func (p *Processor) Report(ctx context.Context, ds *pipeline.Dataset, req pipeline.ReportRequest) error {
	return p.run(ctx, pipeline.StageReport, req, ds, req.Path, func(out string) error {
		if _, err := os.Stat(out); err != nil {
			return fmt.Errorf("%w: %v", ErrBadOutput, err)
		}
		return nil
	})
}
