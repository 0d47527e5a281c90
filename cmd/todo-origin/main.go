package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/edge/todos"
)

var (
	portFlag           int
	dbFilenameFlag     string
	verbosityTraceFlag bool
)

func init() {
	flag.IntVar(&portFlag, "port", 3000, "Port to listen on")
	flag.StringVar(&dbFilenameFlag, "db", "todos.db", "SQLite file name, used when DATABASE_URL is not set")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
}

func main() {
	_ = godotenv.Load()
	flag.Parse()

	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}
	log.Logger = log.Level(logLevel).Output(zerolog.ConsoleWriter{Out: os.Stdout})

	var store todos.Store
	var err error
	if url := os.Getenv("DATABASE_URL"); url != "" {
		store, err = todos.NewPostgresStore(context.Background(), url)
	} else {
		store, err = todos.NewSQLiteStore(dbFilenameFlag)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open store")
	}
	defer store.Close()

	router := todos.NewRouter(store)
	handler := hlog.NewHandler(log.Logger)(
		hlog.RequestIDHandler("req_id", "Request-Id")(
			hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
				hlog.FromRequest(r).Debug().
					Str("method", r.Method).
					Stringer("url", r.URL).
					Int("status", status).
					Int("size", size).
					Dur("duration", duration).
					Msg("Request")
			})(router)))

	log.Info().Msgf("Todo origin listening on port %d", portFlag)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", portFlag), handler); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}
