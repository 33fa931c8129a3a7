package ledger

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/524D/mzbatch/internal/pipeline"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() }) //nolint:errcheck
	require.NoError(t, l.Migrate(context.Background()))
	return l
}

func TestLedger_RunLifecycle(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	params := pipeline.Params{Detect: pipeline.DetectParams{PPM: 2.5}, Retention: pipeline.RetentionParams{Method: "obiwarp"}}
	run, err := l.StartRun(ctx, Run{Workdir: "/data", Base: "out", Mode: "differential", Backend: "native", Params: params})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, RunStatusRunning, run.Status)

	require.NoError(t, l.RecordRepair(ctx, Repair{RunID: run.ID, Path: "/data/A/a.mzML", Backup: "/data/A/a.mzML.bak", Repaired: "/data/A/a.mzML", Scan: 3}))
	require.NoError(t, l.RecordStage(ctx, run.ID, pipeline.StageEvent{Stage: pipeline.StageDetect, Elapsed: 1500 * time.Millisecond, Peaks: 42}))
	require.NoError(t, l.RecordStage(ctx, run.ID, pipeline.StageEvent{Stage: pipeline.StageGroup, Peaks: 42, Features: 7}))
	require.NoError(t, l.FinishRun(ctx, run.ID, nil))

	got, err := l.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusComplete, got.Status)
	assert.Equal(t, "/data", got.Workdir)
	assert.Equal(t, params, got.Params)
	assert.True(t, got.FinishedAt.Valid)
	assert.Empty(t, got.Error)

	stages, err := l.Stages(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, pipeline.StageDetect, stages[0].Name)
	assert.Equal(t, 1500*time.Millisecond, stages[0].Elapsed)
	assert.Equal(t, 7, stages[1].Features)

	repairs, err := l.Repairs(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, repairs, 1)
	assert.Equal(t, 3, repairs[0].Scan)
}

func TestLedger_FailedRun(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	run, err := l.StartRun(ctx, Run{Workdir: "/data", Base: "out", Mode: "single", Backend: "native"})
	require.NoError(t, err)
	stageErr := &pipeline.StageFailure{Stage: pipeline.StageRetentionCorrect, Err: errors.New("no anchors")}
	require.NoError(t, l.RecordStage(ctx, run.ID, pipeline.StageEvent{Stage: pipeline.StageRetentionCorrect, Err: stageErr}))
	require.NoError(t, l.FinishRun(ctx, run.ID, stageErr))

	got, err := l.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Contains(t, got.Error, "no anchors")

	stages, err := l.Stages(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Contains(t, stages[0].Error, "no anchors")
}

func TestLedger_NotFound(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, l.FinishRun(ctx, "missing", nil), ErrNotFound)
}

func TestLedger_Runs(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	for _, base := range []string{"r1", "r2", "r3"} {
		_, err := l.StartRun(ctx, Run{Workdir: "/data", Base: base, Mode: "single", Backend: "native"})
		require.NoError(t, err)
	}
	runs, err := l.Runs(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = l.Runs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestLedger_PragmasOnEveryConnection(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	// hold two connections so the pool has to open a second one
	c1, err := l.db.Conn(ctx)
	require.NoError(t, err)
	defer c1.Close() //nolint:errcheck
	c2, err := l.db.Conn(ctx)
	require.NoError(t, err)
	defer c2.Close() //nolint:errcheck

	for i, c := range []*sql.Conn{c1, c2} {
		var fk, timeout int
		require.NoError(t, c.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
		require.NoError(t, c.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout))
		assert.Equal(t, 1, fk, "connection %d", i)
		assert.Equal(t, 5000, timeout, "connection %d", i)
	}
}

func TestLedger_StageOfUnknownRun(t *testing.T) {
	l := newTestLedger(t)
	err := l.RecordStage(context.Background(), "missing", pipeline.StageEvent{Stage: pipeline.StageDetect})
	assert.Error(t, err)
}
