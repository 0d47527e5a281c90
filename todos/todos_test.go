package todos

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// stores returns the stores to test, postgres only if a database is configured.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	s := map[string]Store{"sqlite": newSQLiteStore(t)}
	if url := os.Getenv("EDGE_TEST_DATABASE_URL"); url != "" {
		pg, err := NewPostgresStore(context.Background(), url)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := pg.pool.Exec(context.Background(), "TRUNCATE todos"); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { pg.Close() })
		s["postgres"] = pg
	}
	return s
}

func TestUpdateQuery(t *testing.T) {
	title := "new"
	dollar := func(n int) string { return "$" + strconv.Itoa(n) }
	query, args, err := updateQuery(Patch{Title: &title}, 7, dollar)
	if err != nil {
		t.Fatal(err)
	}
	if query != "UPDATE todos SET title = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 RETURNING "+columns {
		t.Fatalf("Query is %s", query)
	}
	if len(args) != 2 || args[0] != "new" || args[1] != int64(7) {
		t.Fatalf("Args are %v", args)
	}

	done := true
	query, args, _ = updateQuery(Patch{Description: &title, Completed: &done}, 1, dollar)
	if !strings.HasPrefix(query, "UPDATE todos SET description = $1, completed = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $3") || len(args) != 3 {
		t.Fatalf("Query is %s %v", query, args)
	}

	if _, _, err := updateQuery(Patch{}, 1, dollar); !errors.Is(err, ErrNoFields) {
		t.Fatalf("Error is %v", err)
	}
}

func TestStoreCRUD(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			first, err := store.Create(ctx, "first", "")
			if err != nil {
				t.Fatal(err)
			}
			second, err := store.Create(ctx, "second", "desc")
			if err != nil {
				t.Fatal(err)
			}
			if first.ID == 0 || first.CreatedAt.IsZero() || second.Description != "desc" || second.Completed {
				t.Fatalf("Created %+v %+v", first, second)
			}

			list, err := store.List(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 2 || list[0].ID != second.ID {
				t.Fatalf("List is %+v", list)
			}

			title := "renamed"
			updated, err := store.Update(ctx, second.ID, Patch{Title: &title})
			if err != nil {
				t.Fatal(err)
			}
			if updated.Title != "renamed" || updated.Description != "desc" || updated.Completed || updated.UpdatedAt.Before(second.UpdatedAt) {
				t.Fatalf("Updated %+v", updated)
			}
			if _, err := store.Update(ctx, second.ID, Patch{}); !errors.Is(err, ErrNoFields) {
				t.Fatalf("Error is %v", err)
			}
			if _, err := store.Update(ctx, 999, Patch{Title: &title}); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Error is %v", err)
			}

			deleted, err := store.Delete(ctx, first.ID)
			if err != nil || deleted.Title != "first" {
				t.Fatalf("Deleted %+v %v", deleted, err)
			}
			if _, err := store.Get(ctx, first.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Error is %v", err)
			}
			if _, err := store.Delete(ctx, first.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Error is %v", err)
			}
		})
	}
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rr
}

func TestAPI(t *testing.T) {
	h := NewRouter(newSQLiteStore(t))

	if rr := do(t, h, "POST", "/api/todos", `{"description":"no title"}`); rr.Code != 400 {
		t.Fatalf("Status is %d", rr.Code)
	}
	rr := do(t, h, "POST", "/api/todos", `{"title":"buy milk","description":"2l"}`)
	if rr.Code != 201 {
		t.Fatalf("Status is %d: %s", rr.Code, rr.Body)
	}
	var created Todo
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	path := "/api/todos/" + strconv.FormatInt(created.ID, 10)

	rr = do(t, h, "PUT", path, `{"title":"buy oat milk"}`)
	var updated Todo
	if err := json.Unmarshal(rr.Body.Bytes(), &updated); err != nil || rr.Code != 200 {
		t.Fatalf("Status is %d: %s", rr.Code, rr.Body)
	}
	if updated.Title != "buy oat milk" || updated.Description != "2l" {
		t.Fatalf("Updated %+v", updated)
	}
	for _, body := range []string{"", "{}"} {
		if rr := do(t, h, "PUT", path, body); rr.Code != 400 || !strings.Contains(rr.Body.String(), "No fields to update") {
			t.Fatalf("PUT %q is %d: %s", body, rr.Code, rr.Body)
		}
	}
	if rr := do(t, h, "PUT", path, "{"); rr.Code != 400 {
		t.Fatalf("Status is %d", rr.Code)
	}

	rr = do(t, h, "GET", "/api/todos", "")
	var list []Todo
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("List is %s", rr.Body)
	}
	if rr := do(t, h, "GET", path, ""); rr.Code != 200 {
		t.Fatalf("Status is %d", rr.Code)
	}
	if rr := do(t, h, "DELETE", path, ""); rr.Code != 200 {
		t.Fatalf("Status is %d", rr.Code)
	}
	for _, target := range []string{path, "/api/todos/abc"} {
		if rr := do(t, h, "GET", target, ""); rr.Code != 404 {
			t.Fatalf("GET %s is %d", target, rr.Code)
		}
	}
	if rr := do(t, h, "GET", "/healthz", ""); rr.Code != 200 {
		t.Fatalf("Status is %d", rr.Code)
	}
}

func TestHello(t *testing.T) {
	h := NewRouter(newSQLiteStore(t))
	cases := map[string]string{
		"/api/hello":           "Hello, Amplify User! This message is from your Lambda function.",
		"/api/hello?name=Edge": "Hello, Edge! This message is from your Lambda function.",
	}
	for target, expected := range cases {
		var body struct{ Message string }
		rr := do(t, h, "GET", target, "")
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body.Message != expected {
			t.Fatalf("GET %s is %s", target, rr.Body)
		}
	}
}
