// Package ledger keeps a SQLite record of runs: their parameters, the
// outcome of every stage and the files repaired before the pipeline.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/524D/mzbatch/internal/pipeline"
)

// ErrNotFound means there is no run with the given id.
var ErrNotFound = errors.New("ledger: run not found")

// RunStatus is the state of a run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one invocation of the pipeline.
type Run struct {
	ID         string
	Workdir    string
	Base       string
	Mode       string
	Backend    string
	Params     pipeline.Params
	Status     RunStatus
	Error      string
	StartedAt  time.Time
	FinishedAt sql.NullTime
}

// Stage is the outcome of one pipeline stage.
type Stage struct {
	RunID    string
	Name     pipeline.Stage
	Elapsed  time.Duration
	Peaks    int
	Features int
	Error    string
}

// Repair records a file that was repaired before the pipeline ran.
type Repair struct {
	RunID    string
	Path     string
	Backup   string
	Repaired string
	Scan     int
}

// Ledger is a run ledger in a SQLite database.
type Ledger struct {
	db *sql.DB
}

// connPragmas are applied by the driver to every new connection of the
// pool.
var connPragmas = []string{"busy_timeout(5000)", "synchronous(NORMAL)", "foreign_keys(1)"}

// Open opens the SQLite database at path and configures WAL mode.
func Open(path string) (*Ledger, error) {
	q := url.Values{"_pragma": connPragmas}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+q.Encode())
	if err != nil {
		return nil, eris.Wrap(err, "ledger: open")
	}
	// journal_mode is stored in the database file, once is enough
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "ledger: exec PRAGMA journal_mode=WAL")
	}
	return &Ledger{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	workdir     TEXT NOT NULL,
	base        TEXT NOT NULL,
	mode        TEXT NOT NULL,
	backend     TEXT NOT NULL,
	params      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	error       TEXT NOT NULL DEFAULT '',
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS run_stages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	elapsed_ms INTEGER NOT NULL,
	peaks      INTEGER NOT NULL,
	features   INTEGER NOT NULL,
	error      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS repairs (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id   TEXT NOT NULL REFERENCES runs(id),
	path     TEXT NOT NULL,
	backup   TEXT NOT NULL,
	repaired TEXT NOT NULL,
	scan     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_run_stages_run_id ON run_stages(run_id);
CREATE INDEX IF NOT EXISTS idx_repairs_run_id ON repairs(run_id);
`

// Migrate creates the tables.
func (l *Ledger) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "ledger: migrate")
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// StartRun records a new running run and returns it with its id set.
func (l *Ledger) StartRun(ctx context.Context, r Run) (*Run, error) {
	r.ID = uuid.New().String()
	r.Status = RunStatusRunning
	r.StartedAt = time.Now().UTC()
	params, err := json.Marshal(r.Params)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: marshal params")
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO runs (id, workdir, base, mode, backend, params, status, started_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Workdir, r.Base, r.Mode, r.Backend, string(params), string(r.Status), r.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: insert run")
	}
	return &r, nil
}

// RecordRepair records a repaired file of a run.
func (l *Ledger) RecordRepair(ctx context.Context, r Repair) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO repairs (run_id, path, backup, repaired, scan) VALUES (?, ?, ?, ?, ?)`,
		r.RunID, r.Path, r.Backup, r.Repaired, r.Scan,
	)
	return eris.Wrapf(err, "ledger: insert repair for run %s", r.RunID)
}

// RecordStage records the outcome of a stage.
func (l *Ledger) RecordStage(ctx context.Context, runID string, ev pipeline.StageEvent) error {
	msg := ""
	if ev.Err != nil {
		msg = ev.Err.Error()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO run_stages (run_id, name, elapsed_ms, peaks, features, error) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, string(ev.Stage), ev.Elapsed.Milliseconds(), ev.Peaks, ev.Features, msg,
	)
	return eris.Wrapf(err, "ledger: insert stage for run %s", runID)
}

// FinishRun marks a run complete, or failed when runErr is not nil.
func (l *Ledger) FinishRun(ctx context.Context, runID string, runErr error) error {
	status, msg := RunStatusComplete, ""
	if runErr != nil {
		status, msg = RunStatusFailed, runErr.Error()
	}
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), msg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "ledger: update run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "ledger: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "ledger: finish run %s", runID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var r Run
	var params string
	err := row.Scan(&r.ID, &r.Workdir, &r.Base, &r.Mode, &r.Backend, &params, &r.Status, &r.Error, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
		return nil, eris.Wrap(err, "ledger: unmarshal params")
	}
	return &r, nil
}

const runColumns = `id, workdir, base, mode, backend, params, status, error, started_at, finished_at`

// GetRun returns the run with the given id.
func (l *Ledger) GetRun(ctx context.Context, runID string) (*Run, error) {
	r, err := scanRun(l.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "ledger: run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "ledger: scan run")
	}
	return r, nil
}

// Runs returns the most recent runs first, at most limit (100 if
// limit <= 0).
func (l *Ledger) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "ledger: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "ledger: list runs iterate")
}

// Stages returns the stages of a run in the order they were recorded.
func (l *Ledger) Stages(ctx context.Context, runID string) ([]Stage, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT run_id, name, elapsed_ms, peaks, features, error FROM run_stages WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: list stages of run %s", runID)
	}
	defer rows.Close()

	var stages []Stage
	for rows.Next() {
		var s Stage
		var ms int64
		if err := rows.Scan(&s.RunID, &s.Name, &ms, &s.Peaks, &s.Features, &s.Error); err != nil {
			return nil, eris.Wrap(err, "ledger: scan stage")
		}
		s.Elapsed = time.Duration(ms) * time.Millisecond
		stages = append(stages, s)
	}
	return stages, eris.Wrap(rows.Err(), "ledger: list stages iterate")
}

// Repairs returns the repairs of a run in the order they were recorded.
func (l *Ledger) Repairs(ctx context.Context, runID string) ([]Repair, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT run_id, path, backup, repaired, scan FROM repairs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: list repairs of run %s", runID)
	}
	defer rows.Close()

	var repairs []Repair
	for rows.Next() {
		var r Repair
		if err := rows.Scan(&r.RunID, &r.Path, &r.Backup, &r.Repaired, &r.Scan); err != nil {
			return nil, eris.Wrap(err, "ledger: scan repair")
		}
		repairs = append(repairs, r)
	}
	return repairs, eris.Wrap(rows.Err(), "ledger: list repairs iterate")
}
