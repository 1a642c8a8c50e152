// Package sqlite is the embedded task store, backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"tasklist-api/internal/domain"
	"tasklist-api/internal/filter"
	"tasklist-api/internal/storage"
)

// timeLayout is fixed-width so TEXT comparison orders like time.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db      *sql.DB
	queries storage.Queries
	logger  *zap.Logger
}

var _ storage.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies migrations.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// LIKE is ASCII case-insensitive in SQLite by default; substring filters are case-sensitive.
	dsn := path + "?_pragma=case_sensitive_like(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn = "file:" + dsn
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := runMigrations(db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &Store{
		db: db,
		queries: storage.Queries{
			Placeholder: sq.Question,
			BindTime:    bindTime,
		},
		logger: logger.Named("sqlite"),
	}, nil
}

// runMigrations applies the embedded migrations on db. The migrate instance is
// not closed: its driver would close db with it.
func runMigrations(db *sql.DB, logger *zap.Logger) error {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("sqlite driver: %w", err)
	}

	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migrate.New: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("no new migrations to apply")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info("migrations applied")
	return nil
}

func bindTime(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(timeLayout)
	}
	return v
}

func (s *Store) logSQL(op, query string, args []any) {
	s.logger.Debug("sql", zap.String("op", op), zap.String("query", query), zap.Int("args", len(args)))
}

func (s *Store) FetchPage(ctx context.Context, userID string, f filter.FilterSpec) ([]domain.Task, error) {
	query, args, err := s.queries.Page(userID, f)
	if err != nil {
		return nil, fmt.Errorf("build page query: %w", err)
	}
	s.logSQL("FetchPage", query, args)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Unavailable("fetch page", err)
	}
	defer rows.Close()

	tasks := make([]domain.Task, 0, f.PageSize)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, storage.Unavailable("scan task", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable("fetch page", err)
	}
	return tasks, nil
}

func (s *Store) FetchStats(ctx context.Context, userID string) (domain.StatsCounts, error) {
	query, args, err := s.queries.Stats(userID)
	if err != nil {
		return domain.StatsCounts{}, fmt.Errorf("build stats query: %w", err)
	}
	s.logSQL("FetchStats", query, args)

	var c domain.StatsCounts
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&c.Total, &c.Completed, &c.Pending); err != nil {
		return domain.StatsCounts{}, storage.Unavailable("fetch stats", err)
	}
	return c, nil
}

func (s *Store) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	query, args, err := s.queries.Insert(t)
	if err != nil {
		return domain.Task{}, fmt.Errorf("build insert: %w", err)
	}
	s.logSQL("CreateTask", query, args)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return domain.Task{}, storage.Unavailable("create task", err)
	}
	return t, nil
}

func (s *Store) GetTask(ctx context.Context, userID, id string) (domain.Task, error) {
	query, args, err := s.queries.Get(userID, id)
	if err != nil {
		return domain.Task{}, fmt.Errorf("build get: %w", err)
	}
	s.logSQL("GetTask", query, args)

	t, err := scanTask(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Task{}, storage.Unavailable("get task", err)
	}
	return t, nil
}

func (s *Store) UpdateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	query, args, err := s.queries.Update(t)
	if err != nil {
		return domain.Task{}, fmt.Errorf("build update: %w", err)
	}
	s.logSQL("UpdateTask", query, args)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.Task{}, storage.Unavailable("update task", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Task{}, domain.ErrNotFound
	}
	return s.GetTask(ctx, t.UserID, t.ID)
}

func (s *Store) DeleteTask(ctx context.Context, userID, id string) error {
	query, args, err := s.queries.Delete(userID, id)
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	s.logSQL("DeleteTask", query, args)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storage.Unavailable("delete task", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return storage.Unavailable("ping", s.db.PingContext(ctx))
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (domain.Task, error) {
	var (
		t         domain.Task
		category  sql.NullString
		tags      string
		dueDate   sql.NullString
		createdAt string
	)
	if err := row.Scan(
		&t.ID, &t.UserID, &t.Title, &t.Description, &t.Completed, &t.Priority,
		&category, &tags, &dueDate, &createdAt,
	); err != nil {
		return domain.Task{}, err
	}

	if category.Valid {
		t.Category = &category.String
	}
	t.Tags = domain.SplitTags(tags)

	created, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return domain.Task{}, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	t.CreatedAt = created

	if dueDate.Valid {
		due, err := time.Parse(timeLayout, dueDate.String)
		if err != nil {
			return domain.Task{}, fmt.Errorf("parse due_date %q: %w", dueDate.String, err)
		}
		t.DueDate = &due
	}
	return t, nil
}
