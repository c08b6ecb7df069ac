package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/talgya/elfarol/internal/engine"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	seed BIGINT NOT NULL,
	grid_size INTEGER NOT NULL,
	capacity INTEGER NOT NULL,
	iterations INTEGER NOT NULL,
	rounds INTEGER NOT NULL DEFAULT 0,
	mean_ratio DOUBLE PRECISION NOT NULL DEFAULT 0,
	crowded_share DOUBLE PRECISION NOT NULL DEFAULT 0,
	switches INTEGER NOT NULL DEFAULT 0,
	config_yaml TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS rounds (
	run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	iteration INTEGER NOT NULL,
	attendance INTEGER NOT NULL,
	capacity INTEGER NOT NULL,
	crowded BOOLEAN NOT NULL,
	adapted BOOLEAN NOT NULL,
	switches INTEGER NOT NULL,
	population INTEGER NOT NULL,
	decisions BYTEA,
	PRIMARY KEY (run_id, iteration)
);

CREATE TABLE IF NOT EXISTS snapshots (
	run_id UUID PRIMARY KEY REFERENCES runs(id) ON DELETE CASCADE,
	iteration INTEGER NOT NULL,
	snapshot JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// Postgres stores runs in a PostgreSQL database.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and creates the schema if needed.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("execute migration: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) CreateRun(ctx context.Context, run RunInfo) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO runs
		(id, name, description, seed, grid_size, capacity, iterations, config_yaml, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.Name, run.Description, run.Seed, run.GridSize,
		run.Capacity, run.Iterations, run.ConfigYAML, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// SaveRounds bulk-loads round records with COPY.
func (p *Postgres) SaveRounds(ctx context.Context, runID string, rounds []engine.RoundRecord) error {
	if len(rounds) == 0 {
		return nil
	}
	id, err := uuid.Parse(runID)
	if err != nil {
		return fmt.Errorf("run id %q: %w", runID, err)
	}
	rows := make([][]any, len(rounds))
	for i, r := range rounds {
		rows[i] = []any{
			[16]byte(id), r.Iteration, r.Attendance, r.Capacity, r.Crowded,
			r.Adapted, r.Switches, r.Population, packDecisions(r.Decisions),
		}
	}
	_, err = p.pool.CopyFrom(ctx,
		pgx.Identifier{"rounds"},
		[]string{"run_id", "iteration", "attendance", "capacity", "crowded", "adapted", "switches", "population", "decisions"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy %d rounds: %w", len(rounds), err)
	}
	return nil
}

func (p *Postgres) SaveSnapshot(ctx context.Context, runID string, snap engine.GridSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = p.pool.Exec(ctx, `INSERT INTO snapshots (run_id, iteration, snapshot)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id) DO UPDATE SET iteration = EXCLUDED.iteration, snapshot = EXCLUDED.snapshot`,
		runID, snap.Iteration, data,
	)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", runID, err)
	}
	return nil
}

func (p *Postgres) FinishRun(ctx context.Context, runID string, sum engine.Summary) error {
	tag, err := p.pool.Exec(ctx, `UPDATE runs
		SET rounds = $1, mean_ratio = $2, crowded_share = $3, switches = $4, finished_at = $5
		WHERE id = $6`,
		sum.Rounds, sum.MeanRatio, sum.CrowdedShare, sum.Switches, time.Now().UTC(), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrNotFound)
	}
	return nil
}

const runColumns = `id::text, name, description, seed, grid_size, capacity, iterations,
	rounds, mean_ratio, crowded_share, switches, config_yaml, started_at, finished_at`

func scanRun(row pgx.Row) (RunInfo, error) {
	var r RunInfo
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Seed, &r.GridSize, &r.Capacity,
		&r.Iterations, &r.Rounds, &r.MeanRatio, &r.Crowded, &r.Switches, &r.ConfigYAML,
		&r.StartedAt, &r.FinishedAt)
	return r, err
}

func (p *Postgres) ListRuns(ctx context.Context, limit int) ([]RunInfo, error) {
	rows, err := p.pool.Query(ctx, "SELECT "+runColumns+" FROM runs ORDER BY started_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) GetRun(ctx context.Context, runID string) (RunInfo, error) {
	r, err := scanRun(p.pool.QueryRow(ctx, "SELECT "+runColumns+" FROM runs WHERE id = $1", runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return RunInfo{}, fmt.Errorf("get run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return RunInfo{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return r, nil
}

func (p *Postgres) LoadRounds(ctx context.Context, runID string) ([]engine.RoundRecord, error) {
	rows, err := p.pool.Query(ctx, `SELECT iteration, attendance, capacity, crowded,
		adapted, switches, population, decisions
		FROM rounds WHERE run_id = $1 ORDER BY iteration`, runID)
	if err != nil {
		return nil, fmt.Errorf("load rounds %s: %w", runID, err)
	}
	defer rows.Close()

	var out []engine.RoundRecord
	for rows.Next() {
		var r roundRow
		if err := rows.Scan(&r.Iteration, &r.Attendance, &r.Capacity, &r.Crowded,
			&r.Adapted, &r.Switches, &r.Population, &r.Decisions); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		out = append(out, r.record())
	}
	return out, rows.Err()
}

func (p *Postgres) LoadSnapshot(ctx context.Context, runID string) (engine.GridSnapshot, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, "SELECT snapshot FROM snapshots WHERE run_id = $1", runID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.GridSnapshot{}, fmt.Errorf("load snapshot %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return engine.GridSnapshot{}, fmt.Errorf("load snapshot %s: %w", runID, err)
	}
	var snap engine.GridSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return engine.GridSnapshot{}, fmt.Errorf("decode snapshot %s: %w", runID, err)
	}
	return snap, nil
}
