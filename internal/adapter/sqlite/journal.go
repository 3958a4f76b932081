package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"happinstall/internal/install"

	_ "modernc.org/sqlite"
)

const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run is one recorded install run.
type Run struct {
	ID         int64
	Batch      string
	Apps       []string
	Status     string
	Completed  int
	ErrorKind  string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Event is one app state transition within a run.
type Event struct {
	Seq   int64
	AppID string
	State install.AppState
	At    time.Time
}

// Journal records install runs and their app state transitions.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal database at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	// One writer; the observer records transitions sequentially.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal db journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal db busy timeout: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS install_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	batch TEXT NOT NULL,
	apps_json TEXT NOT NULL,
	status TEXT NOT NULL,
	completed INTEGER NOT NULL DEFAULT 0,
	error_kind TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL DEFAULT ''
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize install runs schema: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS install_events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL REFERENCES install_runs(id),
	app_id TEXT NOT NULL,
	state TEXT NOT NULL,
	at TEXT NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize install events schema: %w", err)
	}

	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// BeginRun records a new running run and returns its id.
func (j *Journal) BeginRun(ctx context.Context, batch string, apps []string) (int64, error) {
	if apps == nil {
		apps = []string{}
	}
	appsJSON, err := json.Marshal(apps)
	if err != nil {
		return 0, fmt.Errorf("marshal run apps: %w", err)
	}
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO install_runs (batch, apps_json, status, started_at) VALUES (?, ?, ?, ?)`,
		batch,
		string(appsJSON),
		RunRunning,
		now(),
	)
	if err != nil {
		return 0, fmt.Errorf("begin install run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("begin install run: %w", err)
	}
	return id, nil
}

// RecordState appends one app state transition to run.
func (j *Journal) RecordState(ctx context.Context, run int64, appID string, state install.AppState) error {
	if _, err := j.db.ExecContext(ctx,
		`INSERT INTO install_events (run_id, app_id, state, at) VALUES (?, ?, ?, ?)`,
		run, appID, state.String(), now(),
	); err != nil {
		return fmt.Errorf("record app state: %w", err)
	}
	return nil
}

// FinishRun marks run as succeeded, or failed with runErr's kind and message.
func (j *Journal) FinishRun(ctx context.Context, run int64, completed int, runErr error) error {
	status, kind, msg := RunSucceeded, "", ""
	if runErr != nil {
		status, kind, msg = RunFailed, install.KindOf(runErr).String(), runErr.Error()
	}
	res, err := j.db.ExecContext(ctx,
		`UPDATE install_runs SET status = ?, completed = ?, error_kind = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, completed, kind, msg, now(), run,
	)
	if err != nil {
		return fmt.Errorf("finish install run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish install run %d: not found", run)
	}
	return nil
}

// ListRuns returns the most recent runs first. A non-positive limit
// returns every run.
func (j *Journal) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, batch, apps_json, status, completed, error_kind, error, started_at, finished_at
FROM install_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list install runs: %w", err)
	}
	defer rows.Close()

	out := make([]Run, 0)
	for rows.Next() {
		var r Run
		var appsJSON, started, finished string
		if err := rows.Scan(&r.ID, &r.Batch, &appsJSON, &r.Status, &r.Completed, &r.ErrorKind, &r.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan install run row: %w", err)
		}
		if err := json.Unmarshal([]byte(appsJSON), &r.Apps); err != nil {
			return nil, fmt.Errorf("unmarshal apps of run %d: %w", r.ID, err)
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate install run rows: %w", err)
	}
	return out, nil
}

// GetRun returns one run by id.
func (j *Journal) GetRun(ctx context.Context, id int64) (Run, bool, error) {
	var r Run
	var appsJSON, started, finished string
	err := j.db.QueryRowContext(ctx, `
SELECT id, batch, apps_json, status, completed, error_kind, error, started_at, finished_at
FROM install_runs WHERE id = ?`, id).Scan(&r.ID, &r.Batch, &appsJSON, &r.Status, &r.Completed, &r.ErrorKind, &r.Error, &started, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, false, nil
		}
		return Run{}, false, fmt.Errorf("query install run %d: %w", id, err)
	}
	if err := json.Unmarshal([]byte(appsJSON), &r.Apps); err != nil {
		return Run{}, false, fmt.Errorf("unmarshal apps of run %d: %w", id, err)
	}
	r.StartedAt = parseTime(started)
	r.FinishedAt = parseTime(finished)
	return r, true, nil
}

// RunEvents returns the state transitions of run in order.
func (j *Journal) RunEvents(ctx context.Context, run int64) ([]Event, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT seq, app_id, state, at FROM install_events WHERE run_id = ? ORDER BY seq`, run)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var e Event
		var state, at string
		if err := rows.Scan(&e.Seq, &e.AppID, &state, &at); err != nil {
			return nil, fmt.Errorf("scan run event row: %w", err)
		}
		st, ok := install.ParseAppState(state)
		if !ok {
			return nil, fmt.Errorf("run %d event %d: unknown state %q", run, e.Seq, state)
		}
		e.State = st
		e.At = parseTime(at)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run event rows: %w", err)
	}
	return out, nil
}

// RunLog records the transitions of one run. Write failures are logged and
// do not interrupt the install.
type RunLog struct {
	ctx     context.Context
	journal *Journal
	run     int64
}

var _ install.Observer = (*RunLog)(nil)

// Observe returns an observer writing into run.
func (j *Journal) Observe(ctx context.Context, run int64) *RunLog {
	return &RunLog{ctx: context.WithoutCancel(ctx), journal: j, run: run}
}

func (l *RunLog) AppStateChanged(appID string, state install.AppState) {
	if err := l.journal.RecordState(l.ctx, l.run, appID, state); err != nil {
		slog.Warn("Record app state in journal.", "run", l.run, "app", appID, "state", state.String(), "err", err)
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
