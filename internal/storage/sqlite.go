package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"taskplanner/internal/planner"
	logx "taskplanner/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const taskColumns = `id, title, description, due_date, duration_minutes, priority, status, created_at, updated_at`

func (s *sqliteStore) CreateTask(ctx context.Context, t *Task) error {
	if err := prepareNew(t, nowUTC()); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(`+taskColumns+`) VALUES(?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, t.Description, nullTime(t.DueDate), nullInt(t.DurationMinutes), nullInt(t.Priority),
		string(t.Status), formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (s *sqliteStore) ListTasks(ctx context.Context, opt ListOptions) ([]*Task, error) {
	var q strings.Builder
	q.WriteString(`SELECT ` + taskColumns + ` FROM tasks`)
	args := []any{}
	if opt.ExcludeCompleted {
		q.WriteString(` WHERE status <> ?`)
		args = append(args, string(planner.StatusCompleted))
	}
	q.WriteString(` ORDER BY seq ASC`)
	if opt.Limit > 0 || opt.Skip > 0 {
		limit := opt.Limit
		if limit <= 0 {
			limit = -1
		}
		q.WriteString(` LIMIT ? OFFSET ?`)
		args = append(args, limit, max(opt.Skip, 0))
	}

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := []*Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateTask(ctx context.Context, id string, patch TaskPatch) (*Task, error) {
	return s.mutate(ctx, id, func(t *Task) { patch.apply(t) })
}

func (s *sqliteStore) CompleteTask(ctx context.Context, id string) (*Task, error) {
	return s.mutate(ctx, id, func(t *Task) { t.Status = planner.StatusCompleted })
}

func (s *sqliteStore) mutate(ctx context.Context, id string, fn func(t *Task)) (*Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	t, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	fn(t)
	if err := t.Validate(); err != nil {
		return nil, err
	}
	t.UpdatedAt = nowUTC()

	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET title=?, description=?, due_date=?, duration_minutes=?, priority=?, status=?, updated_at=?
		 WHERE id=?`,
		t.Title, t.Description, nullTime(t.DueDate), nullInt(t.DurationMinutes), nullInt(t.Priority),
		string(t.Status), formatTime(t.UpdatedAt), t.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *sqliteStore) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (*Task, error) {
	var (
		t                  Task
		status             string
		due                sql.NullString
		dur, prio          sql.NullInt64
		createdAt, updated string
	)
	if err := sc.Scan(&t.ID, &t.Title, &t.Description, &due, &dur, &prio, &status, &createdAt, &updated); err != nil {
		return nil, err
	}
	t.Status = planner.Status(status)
	if due.Valid {
		d, err := time.Parse(time.RFC3339Nano, due.String)
		if err != nil {
			return nil, fmt.Errorf("task %s: due_date: %w", t.ID, err)
		}
		t.DueDate = &d
	}
	if dur.Valid {
		v := int(dur.Int64)
		t.DurationMinutes = &v
	}
	if prio.Valid {
		v := int(prio.Int64)
		t.Priority = &v
	}
	var err error
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("task %s: created_at: %w", t.ID, err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("task %s: updated_at: %w", t.ID, err)
	}
	return &t, nil
}

func formatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}
