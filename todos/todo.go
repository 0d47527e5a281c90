// Package todos is a small compute origin: a todo list API backed by a
// relational store, plus a greeting function.
package todos

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned for an id with no row.
	ErrNotFound = errors.New("todo not found")
	// ErrNoFields is returned by Update for an empty patch.
	ErrNoFields = errors.New("no fields to update")
)

type Todo struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Patch holds the fields of an update. Nil fields are left as they are.
type Patch struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Completed   *bool   `json:"completed"`
}

func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Completed == nil
}

// Store is a relational store of todos.
type Store interface {
	// List returns every todo, newest first.
	List(ctx context.Context) ([]Todo, error)
	Get(ctx context.Context, id int64) (Todo, error)
	Create(ctx context.Context, title, description string) (Todo, error)
	// Update sets the fields of the patch and the update time.
	Update(ctx context.Context, id int64, p Patch) (Todo, error)
	// Delete removes a todo and returns it.
	Delete(ctx context.Context, id int64) (Todo, error)
	Close() error
}

const columns = "id, title, description, completed, created_at, updated_at"

// updateQuery renders the UPDATE statement of a patch, setting only the fields the
// patch sets. placeholder renders the nth bind parameter, starting at 1.
// The returned arguments end with id, bound to the WHERE clause.
func updateQuery(p Patch, id int64, placeholder func(n int) string) (string, []any, error) {
	if p.Empty() {
		return "", nil, ErrNoFields
	}
	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, column+" = "+placeholder(len(args)))
	}
	if p.Title != nil {
		add("title", *p.Title)
	}
	if p.Description != nil {
		add("description", *p.Description)
	}
	if p.Completed != nil {
		add("completed", *p.Completed)
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)
	query := "UPDATE todos SET " + strings.Join(sets, ", ") +
		" WHERE id = " + placeholder(len(args)) + " RETURNING " + columns
	return query, args, nil
}
