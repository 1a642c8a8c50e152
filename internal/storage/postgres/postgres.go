// Package postgres is the pgxpool-backed task store.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"tasklist-api/internal/domain"
	"tasklist-api/internal/filter"
	"tasklist-api/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	pool    *pgxpool.Pool
	queries storage.Queries
	logger  *zap.Logger
}

var _ storage.Store = (*Store)(nil)

// Open migrates the schema, then opens the pool.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("postgres")

	if err := runMigrations(dsn, logger); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	logger.Info("pgxpool initialized", zap.Int32("max_conns", cfg.MaxConns))

	return &Store{
		pool:    pool,
		queries: storage.Queries{Placeholder: sq.Dollar},
		logger:  logger,
	}, nil
}

// runMigrations uses a separate database/sql handle through pgx/stdlib.
func runMigrations(dsn string, logger *zap.Logger) error {
	sqldb, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("sql.Open pgx: %w", err)
	}
	defer sqldb.Close()

	driver, err := migratepg.WithInstance(sqldb, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("postgres driver: %w", err)
	}

	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate.New: %w", err)
	}
	defer m.Close()

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

func (s *Store) FetchPage(ctx context.Context, userID string, f filter.FilterSpec) ([]domain.Task, error) {
	query, args, err := s.queries.Page(userID, f)
	if err != nil {
		return nil, fmt.Errorf("build page query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storage.Unavailable("fetch page", err)
	}
	tasks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Task, error) {
		return scanTask(row)
	})
	if err != nil {
		return nil, storage.Unavailable("fetch page", err)
	}
	return tasks, nil
}

func (s *Store) FetchStats(ctx context.Context, userID string) (domain.StatsCounts, error) {
	query, args, err := s.queries.Stats(userID)
	if err != nil {
		return domain.StatsCounts{}, fmt.Errorf("build stats query: %w", err)
	}

	var c domain.StatsCounts
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&c.Total, &c.Completed, &c.Pending); err != nil {
		return domain.StatsCounts{}, storage.Unavailable("fetch stats", err)
	}
	return c, nil
}

func (s *Store) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	query, args, err := s.queries.Insert(t)
	if err != nil {
		return domain.Task{}, fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return domain.Task{}, storage.Unavailable("create task", err)
	}
	return t, nil
}

func (s *Store) GetTask(ctx context.Context, userID, id string) (domain.Task, error) {
	query, args, err := s.queries.Get(userID, id)
	if err != nil {
		return domain.Task{}, fmt.Errorf("build get: %w", err)
	}

	t, err := scanTask(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
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

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return domain.Task{}, storage.Unavailable("update task", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Task{}, domain.ErrNotFound
	}
	return s.GetTask(ctx, t.UserID, t.ID)
}

func (s *Store) DeleteTask(ctx context.Context, userID, id string) error {
	query, args, err := s.queries.Delete(userID, id)
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return storage.Unavailable("delete task", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return storage.Unavailable("ping", s.pool.Ping(ctx))
}

func (s *Store) Close() error {
	s.logger.Info("closing pgxpool")
	s.pool.Close()
	return nil
}

func scanTask(row pgx.Row) (domain.Task, error) {
	var (
		t    domain.Task
		tags string
	)
	if err := row.Scan(
		&t.ID, &t.UserID, &t.Title, &t.Description, &t.Completed, &t.Priority,
		&t.Category, &tags, &t.DueDate, &t.CreatedAt,
	); err != nil {
		return domain.Task{}, err
	}
	t.Tags = domain.SplitTags(tags)
	return t, nil
}
