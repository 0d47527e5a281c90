package todos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

type SQLiteStore struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteStore opens the database file and creates the todos table.
// If file name is empty, a private in-memory db is opened.
func NewSQLiteStore(filename string) (*SQLiteStore, error) {
	if filename == "" {
		filename = ":memory:"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	if filename == ":memory:" {
		// every connection would get its own database
		db.SetMaxOpenConns(1)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS todos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		completed BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create todos table: %w", err)
	}
	return &SQLiteStore{db: db, writeMutex: &sync.Mutex{}}, nil
}

type row interface {
	Scan(dest ...any) error
}

func scanSQLite(r row) (Todo, error) {
	var t Todo
	err := r.Scan(&t.ID, &t.Title, &t.Description, &t.Completed, sqliteTime{&t.CreatedAt}, sqliteTime{&t.UpdatedAt})
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	return t, err
}

func (s *SQLiteStore) List(ctx context.Context) ([]Todo, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+columns+" FROM todos ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	todos := []Todo{}
	for rows.Next() {
		t, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		todos = append(todos, t)
	}
	return todos, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (Todo, error) {
	return scanSQLite(s.db.QueryRowContext(ctx, "SELECT "+columns+" FROM todos WHERE id = ?", id))
}

func (s *SQLiteStore) Create(ctx context.Context, title, description string) (Todo, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	return scanSQLite(s.db.QueryRowContext(ctx,
		"INSERT INTO todos (title, description) VALUES (?, ?) RETURNING "+columns, title, description))
}

func (s *SQLiteStore) Update(ctx context.Context, id int64, p Patch) (Todo, error) {
	query, args, err := updateQuery(p, id, func(int) string { return "?" })
	if err != nil {
		return Todo{}, err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	return scanSQLite(s.db.QueryRowContext(ctx, query, args...))
}

func (s *SQLiteStore) Delete(ctx context.Context, id int64) (Todo, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	return scanSQLite(s.db.QueryRowContext(ctx, "DELETE FROM todos WHERE id = ? RETURNING "+columns, id))
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteTime scans the text CURRENT_TIMESTAMP stores, or a time the
// driver already parsed.
type sqliteTime struct {
	t *time.Time
}

func (st sqliteTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*st.t = v.UTC()
		return nil
	case string:
		return st.parse(v)
	case []byte:
		return st.parse(string(v))
	}
	return fmt.Errorf("cannot scan %T into time", src)
}

func (st sqliteTime) parse(s string) error {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			*st.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("cannot parse time %q", s)
}
