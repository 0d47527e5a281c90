package todos

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

// DefaultName is greeted when the hello function gets no name.
const DefaultName = "Amplify User"

// Hello is the greeting of the hello function.
func Hello(name string) string {
	if name == "" {
		name = DefaultName
	}
	return "Hello, " + name + "! This message is from your Lambda function."
}

// NewRouter returns the HTTP API of the origin.
// Handlers log through the request logger hlog puts in the context.
func NewRouter(store Store) chi.Router {
	a := &api{store: store}
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/api/hello", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": Hello(r.URL.Query().Get("name"))})
	})
	r.Route("/api/todos", func(r chi.Router) {
		r.Get("/", a.list)
		r.Post("/", a.create)
		r.Get("/{id}", a.get)
		r.Put("/{id}", a.update)
		r.Delete("/{id}", a.delete)
	})
	return r
}

type api struct {
	store Store
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// fail answers a store error. Unexpected errors are logged and
// answered with failure as message.
func fail(w http.ResponseWriter, r *http.Request, err error, failure string) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "Todo not found")
	case errors.Is(err, ErrNoFields):
		writeError(w, http.StatusBadRequest, "No fields to update")
	default:
		hlog.FromRequest(r).Error().Err(err).Msg(failure)
		writeError(w, http.StatusInternalServerError, failure)
	}
}

// id returns the id path parameter. Ids that are not numbers match no row.
func id(r *http.Request) (int64, error) {
	n, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, ErrNotFound
	}
	return n, nil
}

func (a *api) list(w http.ResponseWriter, r *http.Request) {
	todos, err := a.store.List(r.Context())
	if err != nil {
		fail(w, r, err, "Failed to fetch todos")
		return
	}
	writeJSON(w, http.StatusOK, todos)
}

func (a *api) get(w http.ResponseWriter, r *http.Request) {
	n, err := id(r)
	if err == nil {
		var t Todo
		if t, err = a.store.Get(r.Context(), n); err == nil {
			writeJSON(w, http.StatusOK, t)
			return
		}
	}
	fail(w, r, err, "Failed to fetch todo")
}

func (a *api) create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title       *string `json:"title"`
		Description string  `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if body.Title == nil || *body.Title == "" {
		writeError(w, http.StatusBadRequest, "Title is required and must be a string")
		return
	}
	t, err := a.store.Create(r.Context(), *body.Title, body.Description)
	if err != nil {
		fail(w, r, err, "Failed to create todo")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (a *api) update(w http.ResponseWriter, r *http.Request) {
	n, err := id(r)
	if err != nil {
		fail(w, r, err, "Failed to update todo")
		return
	}
	var p Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	t, err := a.store.Update(r.Context(), n, p)
	if err != nil {
		fail(w, r, err, "Failed to update todo")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *api) delete(w http.ResponseWriter, r *http.Request) {
	n, err := id(r)
	if err == nil {
		var t Todo
		if t, err = a.store.Delete(r.Context(), n); err == nil {
			writeJSON(w, http.StatusOK, t)
			return
		}
	}
	fail(w, r, err, "Failed to delete todo")
}
