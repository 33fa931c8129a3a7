package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProcessor records the lineage each stage sees.
type fakeProcessor struct {
	seen     [][]Stage
	groupBW  []float64
	failAt   string
	mutateAt string
	sameAt   string
}

func (f *fakeProcessor) step(name string, in *Dataset) (*Dataset, error) {
	f.seen = append(f.seen, append([]Stage(nil), in.Lineage...))
	if f.failAt == name {
		return nil, errors.New("boom")
	}
	if f.sameAt == name {
		return in, nil
	}
	if f.mutateAt == name {
		in.Peaks = append(in.Peaks, Peak{})
	}
	out := in.Clone()
	out.Peaks = append(out.Peaks, Peak{Mz: float64(len(out.Peaks))})
	return out, nil
}

func (f *fakeProcessor) Detect(_ context.Context, samples []Sample, _ DetectParams) (*Dataset, error) {
	return f.step("detect", &Dataset{Samples: samples})
}

func (f *fakeProcessor) Group(_ context.Context, ds *Dataset, p GroupParams) (*Dataset, error) {
	f.groupBW = append(f.groupBW, p.Bandwidth)
	out, err := f.step("group", ds)
	if out != nil {
		out.Features = append(out.Features, Feature{})
	}
	return out, err
}

func (f *fakeProcessor) RetentionCorrect(_ context.Context, ds *Dataset, _ RetentionParams) (*Dataset, error) {
	if !ds.HasStage(StageGroup) {
		return nil, errors.New("retention correction without grouping")
	}
	return f.step("retcor", ds)
}

func (f *fakeProcessor) FillGaps(_ context.Context, ds *Dataset) (*Dataset, error) {
	if f.failAt == "nil" {
		return nil, nil
	}
	return f.step("fill", ds)
}

func (f *fakeProcessor) Report(_ context.Context, _ *Dataset, req ReportRequest) error {
	if err := os.WriteFile(req.Path, []byte(",a\n"), 0o644); err != nil {
		return err
	}
	if f.failAt == "report" {
		return errors.New("disk full")
	}
	return nil
}

var testSamples = []Sample{{Path: "a.mzML", Name: "a"}, {Path: "b.mzML", Name: "b"}}

func testParams() Params {
	return Params{Group: GroupParams{Bandwidth: 30}, Regroup: GroupParams{Bandwidth: 10}}
}

func TestRun_Order(t *testing.T) {
	proc := &fakeProcessor{}
	var events []Stage
	o := New(proc, testParams(), WithObserver(func(ev StageEvent) {
		require.NoError(t, ev.Err)
		events = append(events, ev.Stage)
	}))
	path := filepath.Join(t.TempDir(), "r.raw.csv")
	ds, err := o.Run(context.Background(), testSamples, ReportRequest{Path: path})
	require.NoError(t, err)

	want := [][]Stage{
		nil,
		{StageDetect},
		{StageDetect, StageGroup},
		{StageDetect, StageGroup, StageRetentionCorrect},
		{StageDetect, StageGroup, StageRetentionCorrect, StageRegroup},
	}
	if diff := cmp.Diff(want, proc.seen); diff != "" {
		t.Errorf("lineage seen by stages (-want +got):\n%s", diff)
	}
	assert.Equal(t, []Stage{StageDetect, StageGroup, StageRetentionCorrect, StageRegroup, StageFillGaps}, ds.Lineage)
	assert.Equal(t, []Stage{StageDetect, StageGroup, StageRetentionCorrect, StageRegroup, StageFillGaps, StageReport}, events)
	assert.Equal(t, []float64{30, 10}, proc.groupBW)
	assert.Len(t, ds.Peaks, 5)
	assert.FileExists(t, path)
}

func TestRun_StageFailure(t *testing.T) {
	proc := &fakeProcessor{failAt: "retcor"}
	path := filepath.Join(t.TempDir(), "r.raw.csv")
	ds, err := New(proc, testParams()).Run(context.Background(), testSamples, ReportRequest{Path: path})
	assert.Nil(t, ds)
	var sf *StageFailure
	require.ErrorAs(t, err, &sf)
	assert.Equal(t, StageRetentionCorrect, sf.Stage)
	assert.ErrorContains(t, sf.Err, "pipeline: retcor")
	assert.ErrorContains(t, sf.Err, "boom")
	assert.Len(t, proc.seen, 3)
	assert.NoFileExists(t, path)
}

func TestRun_NilDataset(t *testing.T) {
	proc := &fakeProcessor{failAt: "nil"}
	_, err := New(proc, testParams()).Run(context.Background(), testSamples, ReportRequest{Path: filepath.Join(t.TempDir(), "x")})
	var sf *StageFailure
	require.ErrorAs(t, err, &sf)
	assert.Equal(t, StageFillGaps, sf.Stage)
	assert.ErrorIs(t, err, ErrNoDataset)
}

func TestRun_InputModified(t *testing.T) {
	for _, proc := range []*fakeProcessor{{mutateAt: "group"}, {sameAt: "group"}} {
		_, err := New(proc, testParams()).Run(context.Background(), testSamples, ReportRequest{Path: filepath.Join(t.TempDir(), "x")})
		assert.ErrorIs(t, err, ErrInputModified)
	}
}

func TestRun_ReportFailureRemovesTable(t *testing.T) {
	proc := &fakeProcessor{failAt: "report"}
	path := filepath.Join(t.TempDir(), "r.raw.csv")
	_, err := New(proc, testParams()).Run(context.Background(), testSamples, ReportRequest{Path: path})
	var sf *StageFailure
	require.ErrorAs(t, err, &sf)
	assert.Equal(t, StageReport, sf.Stage)
	assert.NoFileExists(t, path)
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	proc := &fakeProcessor{}
	_, err := New(proc, testParams()).Run(ctx, testSamples, ReportRequest{Path: filepath.Join(t.TempDir(), "x")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, proc.seen)
}

func TestRun_NoSamples(t *testing.T) {
	_, err := New(&fakeProcessor{}, testParams()).Run(context.Background(), nil, ReportRequest{})
	assert.ErrorIs(t, err, ErrNoSamples)
}

func TestRunStage_Prerequisites(t *testing.T) {
	o := New(&fakeProcessor{}, testParams())
	retcor := stages[2]
	require.Equal(t, StageRetentionCorrect, retcor.name)

	_, err := o.runStage(context.Background(), retcor, &Dataset{Lineage: []Stage{StageDetect}})
	assert.ErrorIs(t, err, ErrStageOrder)

	done := &Dataset{Lineage: []Stage{StageDetect, StageGroup, StageRetentionCorrect, StageRegroup, StageFillGaps}}
	_, err = o.runStage(context.Background(), stages[1], done)
	assert.ErrorIs(t, err, ErrStageOrder)
}

func TestStageTableOrder(t *testing.T) {
	var names []Stage
	for _, s := range stages {
		names = append(names, s.name)
	}
	assert.Equal(t, []Stage{StageDetect, StageGroup, StageRetentionCorrect, StageRegroup, StageFillGaps}, names)
}
