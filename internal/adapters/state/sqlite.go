package state

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/relay-run/relay/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// SQLiteStore implements core.Store with SQLite storage.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs
// migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	// WAL mode for better concurrency between the engine and readers.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet.
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// CreateRun inserts a new run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *core.Run) error {
	deliverables, err := marshalJSONField(run.Deliverables)
	if err != nil {
		return fmt.Errorf("marshaling deliverables: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, prompt, topology, status, cost_limit, timeout_ns,
			deliverables, error, created_at, updated_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(run.ID), run.Prompt, run.Topology, string(run.Status),
		nullableFloat(run.CostLimit), int64(run.Timeout),
		deliverables, run.Error,
		run.CreatedAt, run.UpdatedAt, nullableTime(run.StartedAt), nullableTime(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id core.RunID) (*core.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, prompt, topology, status, cost_limit, timeout_ns,
		       deliverables, error, created_at, updated_at, started_at, completed_at
		FROM runs WHERE id = ?
	`, string(id))

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("run", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	return run, nil
}

// UpdateRun persists a run's current state. It refuses to mutate a run that
// is already terminal in the store, so a crashed orchestrator cannot be
// overwritten by a stale in-flight goroutine.
func (s *SQLiteStore) UpdateRun(ctx context.Context, run *core.Run) error {
	deliverables, err := marshalJSONField(run.Deliverables)
	if err != nil {
		return fmt.Errorf("marshaling deliverables: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			prompt = ?, topology = ?, status = ?, cost_limit = ?, timeout_ns = ?,
			deliverables = ?, error = ?, updated_at = ?, started_at = ?, completed_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'cancelled')
	`,
		run.Prompt, run.Topology, string(run.Status),
		nullableFloat(run.CostLimit), int64(run.Timeout),
		deliverables, run.Error,
		run.UpdatedAt, nullableTime(run.StartedAt), nullableTime(run.CompletedAt),
		string(run.ID),
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetRun(ctx, run.ID); getErr != nil {
			return getErr
		}
		return core.ErrState("RUN_TERMINAL",
			fmt.Sprintf("run %s is already terminal and cannot be updated", run.ID))
	}
	return nil
}

// ListRuns returns all runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]*core.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prompt, topology, status, cost_limit, timeout_ns,
		       deliverables, error, created_at, updated_at, started_at, completed_at
		FROM runs ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CreateStage inserts a stage record.
func (s *SQLiteStore) CreateStage(ctx context.Context, stage *core.StageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stages (
			run_id, position, agent_name, role, status,
			duration_ns, output_summary, error, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(stage.RunID), stage.Position, stage.AgentName, stage.Role, string(stage.Status),
		int64(stage.Duration), stage.OutputSummary, stage.Error,
		stage.StartedAt, nullableTime(stage.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting stage: %w", err)
	}
	return nil
}

// UpdateStage persists a stage record's current state.
func (s *SQLiteStore) UpdateStage(ctx context.Context, stage *core.StageRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stages SET
			agent_name = ?, role = ?, status = ?, duration_ns = ?,
			output_summary = ?, error = ?, started_at = ?, completed_at = ?
		WHERE run_id = ? AND position = ?
	`,
		stage.AgentName, stage.Role, string(stage.Status), int64(stage.Duration),
		stage.OutputSummary, stage.Error, stage.StartedAt, nullableTime(stage.CompletedAt),
		string(stage.RunID), stage.Position,
	)
	if err != nil {
		return fmt.Errorf("updating stage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return core.ErrNotFound("stage", fmt.Sprintf("%s/%d", stage.RunID, stage.Position))
	}
	return nil
}

// ListStages returns all stage records for a run ordered by position.
func (s *SQLiteStore) ListStages(ctx context.Context, runID core.RunID) ([]*core.StageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, position, agent_name, role, status,
		       duration_ns, output_summary, error, started_at, completed_at
		FROM stages WHERE run_id = ? ORDER BY position
	`, string(runID))
	if err != nil {
		return nil, fmt.Errorf("querying stages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stages []*core.StageRecord
	for rows.Next() {
		var (
			stage       core.StageRecord
			runIDStr    string
			status      string
			durationNS  int64
			completedAt sql.NullTime
		)
		if err := rows.Scan(
			&runIDStr, &stage.Position, &stage.AgentName, &stage.Role, &status,
			&durationNS, &stage.OutputSummary, &stage.Error, &stage.StartedAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning stage: %w", err)
		}
		stage.RunID = core.RunID(runIDStr)
		stage.Status = core.StageStatus(status)
		stage.Duration = time.Duration(durationNS)
		if completedAt.Valid {
			t := completedAt.Time
			stage.CompletedAt = &t
		}
		stages = append(stages, &stage)
	}
	return stages, rows.Err()
}

// AppendLog appends one entry to a run's log. Entries are never updated.
// The store assigns the monotonically increasing ID.
func (s *SQLiteStore) AppendLog(ctx context.Context, entry *core.LogEntry) error {
	metadata, err := marshalJSONField(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling log metadata: %w", err)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO run_log (run_id, level, step, agent_name, message, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		string(entry.RunID), entry.Level, string(entry.Step), entry.AgentName,
		entry.Message, metadata, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending log entry: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// QueryLogs returns log entries matching the filter, newest first.
func (s *SQLiteStore) QueryLogs(ctx context.Context, runID core.RunID, filter core.LogFilter) ([]*core.LogEntry, error) {
	query := `
		SELECT id, run_id, level, step, agent_name, message, metadata, created_at
		FROM run_log WHERE run_id = ?
	`
	args := []any{string(runID)}
	if filter.Step != "" {
		query += " AND step = ?"
		args = append(args, string(filter.Step))
	}
	if filter.AgentName != "" {
		query += " AND agent_name = ?"
		args = append(args, filter.AgentName)
	}
	query += " ORDER BY id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying run log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*core.LogEntry
	for rows.Next() {
		var (
			entry    core.LogEntry
			runIDStr string
			step     string
			metadata sql.NullString
		)
		if err := rows.Scan(
			&entry.ID, &runIDStr, &entry.Level, &step, &entry.AgentName,
			&entry.Message, &metadata, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning log entry: %w", err)
		}
		entry.RunID = core.RunID(runIDStr)
		entry.Step = core.StepTag(step)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &entry.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling log metadata: %w", err)
			}
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*core.Run, error) {
	var (
		run          core.Run
		id           string
		status       string
		costLimit    sql.NullFloat64
		timeoutNS    int64
		deliverables sql.NullString
		startedAt    sql.NullTime
		completedAt  sql.NullTime
	)
	if err := row.Scan(
		&id, &run.Prompt, &run.Topology, &status, &costLimit, &timeoutNS,
		&deliverables, &run.Error, &run.CreatedAt, &run.UpdatedAt, &startedAt, &completedAt,
	); err != nil {
		return nil, err
	}
	run.ID = core.RunID(id)
	run.Status = core.RunStatus(status)
	run.Timeout = time.Duration(timeoutNS)
	if costLimit.Valid {
		v := costLimit.Float64
		run.CostLimit = &v
	}
	if deliverables.Valid && deliverables.String != "" {
		if err := json.Unmarshal([]byte(deliverables.String), &run.Deliverables); err != nil {
			return nil, fmt.Errorf("unmarshaling deliverables: %w", err)
		}
	}
	if startedAt.Valid {
		t := startedAt.Time
		run.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return &run, nil
}

func marshalJSONField(v any) (sql.NullString, error) {
	switch val := v.(type) {
	case map[string]string:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	case map[string]any:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullableFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
