package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/elfarol/internal/engine"
)

// SchemaVersion is stored in the meta table of every database.
const SchemaVersion = "1"

// DB wraps a SQLite connection for run storage.
type DB struct {
	conn *sqlx.DB
}

// OpenSQLite opens or creates a SQLite database at the given path.
func OpenSQLite(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		seed INTEGER NOT NULL,
		grid_size INTEGER NOT NULL,
		capacity INTEGER NOT NULL,
		iterations INTEGER NOT NULL,
		rounds INTEGER NOT NULL DEFAULT 0,
		mean_ratio REAL NOT NULL DEFAULT 0,
		crowded_share REAL NOT NULL DEFAULT 0,
		switches INTEGER NOT NULL DEFAULT 0,
		config_yaml TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS rounds (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		iteration INTEGER NOT NULL,
		attendance INTEGER NOT NULL,
		capacity INTEGER NOT NULL,
		crowded INTEGER NOT NULL,
		adapted INTEGER NOT NULL,
		switches INTEGER NOT NULL,
		population INTEGER NOT NULL,
		decisions BLOB,
		PRIMARY KEY (run_id, iteration)
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		run_id TEXT PRIMARY KEY REFERENCES runs(id) ON DELETE CASCADE,
		iteration INTEGER NOT NULL,
		snapshot_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	if _, err := db.conn.Exec(schema); err != nil {
		return err
	}
	return db.SaveMeta("schema_version", SchemaVersion)
}

// runRow is the column form of RunInfo.
type runRow struct {
	ID          string        `db:"id"`
	Name        string        `db:"name"`
	Description string        `db:"description"`
	Seed        int64         `db:"seed"`
	GridSize    int           `db:"grid_size"`
	Capacity    int           `db:"capacity"`
	Iterations  int           `db:"iterations"`
	Rounds      int           `db:"rounds"`
	MeanRatio   float64       `db:"mean_ratio"`
	Crowded     float64       `db:"crowded_share"`
	Switches    int           `db:"switches"`
	ConfigYAML  string        `db:"config_yaml"`
	StartedAt   int64         `db:"started_at"`
	FinishedAt  sql.NullInt64 `db:"finished_at"`
}

func (r runRow) info() RunInfo {
	info := RunInfo{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Seed:        r.Seed,
		GridSize:    r.GridSize,
		Capacity:    r.Capacity,
		Iterations:  r.Iterations,
		Rounds:      r.Rounds,
		MeanRatio:   r.MeanRatio,
		Crowded:     r.Crowded,
		Switches:    r.Switches,
		ConfigYAML:  r.ConfigYAML,
		StartedAt:   time.Unix(0, r.StartedAt).UTC(),
	}
	if r.FinishedAt.Valid {
		t := time.Unix(0, r.FinishedAt.Int64).UTC()
		info.FinishedAt = &t
	}
	return info
}

type roundRow struct {
	Iteration  int    `db:"iteration"`
	Attendance int    `db:"attendance"`
	Capacity   int    `db:"capacity"`
	Crowded    bool   `db:"crowded"`
	Adapted    bool   `db:"adapted"`
	Switches   int    `db:"switches"`
	Population int    `db:"population"`
	Decisions  []byte `db:"decisions"`
}

func (r roundRow) record() engine.RoundRecord {
	return engine.RoundRecord{
		Iteration:  r.Iteration,
		Attendance: r.Attendance,
		Capacity:   r.Capacity,
		Crowded:    r.Crowded,
		Population: r.Population,
		Decisions:  unpackDecisions(r.Decisions, r.Population),
		Adapted:    r.Adapted,
		Switches:   r.Switches,
	}
}

// CreateRun inserts a run header.
func (db *DB) CreateRun(ctx context.Context, run RunInfo) error {
	_, err := db.conn.ExecContext(ctx, `INSERT INTO runs
		(id, name, description, seed, grid_size, capacity, iterations, config_yaml, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Name, run.Description, run.Seed, run.GridSize,
		run.Capacity, run.Iterations, run.ConfigYAML, run.StartedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// SaveRounds appends round records to a run.
func (db *DB) SaveRounds(ctx context.Context, runID string, rounds []engine.RoundRecord) error {
	if len(rounds) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO rounds
		(run_id, iteration, attendance, capacity, crowded, adapted, switches, population, decisions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rounds {
		_, err := stmt.ExecContext(ctx,
			runID, r.Iteration, r.Attendance, r.Capacity, r.Crowded,
			r.Adapted, r.Switches, r.Population, packDecisions(r.Decisions),
		)
		if err != nil {
			return fmt.Errorf("insert round %d: %w", r.Iteration, err)
		}
	}

	return tx.Commit()
}

// SaveSnapshot replaces the stored grid snapshot of a run.
func (db *DB) SaveSnapshot(ctx context.Context, runID string, snap engine.GridSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = db.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO snapshots (run_id, iteration, snapshot_json) VALUES (?, ?, ?)",
		runID, snap.Iteration, string(data),
	)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", runID, err)
	}
	return nil
}

// FinishRun stores the run summary and marks it finished.
func (db *DB) FinishRun(ctx context.Context, runID string, sum engine.Summary) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE runs
		SET rounds = ?, mean_ratio = ?, crowded_share = ?, switches = ?, finished_at = ?
		WHERE id = ?`,
		sum.Rounds, sum.MeanRatio, sum.CrowdedShare, sum.Switches, time.Now().UTC().UnixNano(), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]RunInfo, error) {
	var rows []runRow
	err := db.conn.SelectContext(ctx, &rows,
		"SELECT * FROM runs ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]RunInfo, len(rows))
	for i, r := range rows {
		out[i] = r.info()
	}
	return out, nil
}

// GetRun returns one run header.
func (db *DB) GetRun(ctx context.Context, runID string) (RunInfo, error) {
	var row runRow
	err := db.conn.GetContext(ctx, &row, "SELECT * FROM runs WHERE id = ?", runID)
	if errors.Is(err, sql.ErrNoRows) {
		return RunInfo{}, fmt.Errorf("get run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return RunInfo{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return row.info(), nil
}

// LoadRounds returns a run's rounds in order.
func (db *DB) LoadRounds(ctx context.Context, runID string) ([]engine.RoundRecord, error) {
	var rows []roundRow
	err := db.conn.SelectContext(ctx, &rows, `SELECT iteration, attendance, capacity, crowded,
		adapted, switches, population, decisions
		FROM rounds WHERE run_id = ? ORDER BY iteration`, runID)
	if err != nil {
		return nil, fmt.Errorf("load rounds %s: %w", runID, err)
	}
	out := make([]engine.RoundRecord, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	return out, nil
}

// LoadSnapshot returns the stored grid snapshot of a run.
func (db *DB) LoadSnapshot(ctx context.Context, runID string) (engine.GridSnapshot, error) {
	var data string
	err := db.conn.GetContext(ctx, &data, "SELECT snapshot_json FROM snapshots WHERE run_id = ?", runID)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.GridSnapshot{}, fmt.Errorf("load snapshot %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return engine.GridSnapshot{}, fmt.Errorf("load snapshot %s: %w", runID, err)
	}
	var snap engine.GridSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return engine.GridSnapshot{}, fmt.Errorf("decode snapshot %s: %w", runID, err)
	}
	return snap, nil
}

// SaveMeta stores a key-value pair in database metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM meta WHERE key = ?", key)
	return value, err
}
