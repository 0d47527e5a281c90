package todos

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database and creates the todos table.
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse db url: %w", err)
	}
	cfg.MaxConns = 10
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	_, err = pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS todos (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		completed BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create todos table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func scanPostgres(r pgx.Row) (Todo, error) {
	var t Todo
	err := r.Scan(&t.ID, &t.Title, &t.Description, &t.Completed, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return t, ErrNotFound
	}
	return t, err
}

func (s *PostgresStore) List(ctx context.Context) ([]Todo, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+columns+" FROM todos ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	todos := []Todo{}
	for rows.Next() {
		t, err := scanPostgres(rows)
		if err != nil {
			return nil, err
		}
		todos = append(todos, t)
	}
	return todos, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (Todo, error) {
	return scanPostgres(s.pool.QueryRow(ctx, "SELECT "+columns+" FROM todos WHERE id = $1", id))
}

func (s *PostgresStore) Create(ctx context.Context, title, description string) (Todo, error) {
	return scanPostgres(s.pool.QueryRow(ctx,
		"INSERT INTO todos (title, description) VALUES ($1, $2) RETURNING "+columns, title, description))
}

func (s *PostgresStore) Update(ctx context.Context, id int64, p Patch) (Todo, error) {
	query, args, err := updateQuery(p, id, func(n int) string { return "$" + strconv.Itoa(n) })
	if err != nil {
		return Todo{}, err
	}
	return scanPostgres(s.pool.QueryRow(ctx, query, args...))
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) (Todo, error) {
	return scanPostgres(s.pool.QueryRow(ctx, "DELETE FROM todos WHERE id = $1 RETURNING "+columns, id))
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
