package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/always-cache/edge"
	"github.com/always-cache/edge/cache"
	"github.com/always-cache/edge/config"
)

var (
	// CLI flags
	configFlag         string
	portFlag           int
	staticFlag         string
	dynamicFlag        string
	providerFlag       string
	invalidateFlag     string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFlag, "config", "", "Path to config file")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	flag.StringVar(&staticFlag, "static", "", "Static origin address for the reference config (s3:// or file://)")
	flag.StringVar(&dynamicFlag, "dynamic", "", "Dynamic origin URL for the reference config")
	flag.StringVar(&providerFlag, "provider", "", "Caching provider to use: memory, sqlite or redis (overrides config)")
	flag.StringVar(&invalidateFlag, "invalidate", "", "Invalidate cached paths matching this pattern (e.g. '/*') in the sqlite or redis cache and exit")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	_ = godotenv.Load()
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Edge stopped")
	}
}

func loadConfig() (*config.File, error) {
	var cfg *config.File
	switch {
	case configFlag != "":
		var err error
		if cfg, err = config.Load(configFlag); err != nil {
			return nil, err
		}
	case staticFlag != "" && dynamicFlag != "":
		cfg = config.Reference(staticFlag, dynamicFlag)
	default:
		return nil, errors.New("specify -config, or -static and -dynamic")
	}
	if portFlag != 0 {
		cfg.Port = portFlag
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if providerFlag != "" {
		cfg.Cache.Provider = providerFlag
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.File) error {
	if invalidateFlag != "" {
		_, err := invalidate(ctx, cfg, invalidateFlag)
		return err
	}

	built, err := cfg.Build()
	if err != nil {
		return err
	}
	provider, err := cfg.CacheProvider(ctx)
	if err != nil {
		return err
	}
	if closer, ok := provider.(io.Closer); ok {
		defer closer.Close()
	}
	clients, err := cfg.Clients(ctx, built)
	if err != nil {
		return err
	}
	dispatcher, err := edge.CreateDispatcher(edge.Config{
		Table:        built.Table,
		Clients:      clients,
		Cache:        provider,
		Logger:       &log.Logger,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	for _, rule := range built.Table.Rules() {
		log.Info().
			Str("pattern", rule.Pattern).
			Str("origin", rule.Origin.Name).
			Str("policy", rule.CachePolicy.Name()).
			Msg("Route")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           dispatcher,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Msgf("Listening on port %d", cfg.Port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if sqlite, ok := provider.(cache.SQLiteCache); ok {
		g.Go(func() error {
			evict(gctx, sqlite, time.Duration(cfg.Cache.EvictInterval))
			return nil
		})
	}
	return g.Wait()
}

// invalidate purges pattern from the configured cache without opening any
// origin. A memory cache lives in the serving process only, so it is refused.
func invalidate(ctx context.Context, cfg *config.File, pattern string) (int, error) {
	if !cfg.SharedCache() {
		return 0, errors.New("cannot invalidate the memory cache of another process, use sqlite or redis")
	}
	built, err := cfg.Build()
	if err != nil {
		return 0, err
	}
	provider, err := cfg.CacheProvider(ctx)
	if err != nil {
		return 0, err
	}
	if closer, ok := provider.(io.Closer); ok {
		defer closer.Close()
	}
	removed, err := edge.InvalidateCache(ctx, provider, built.Table, pattern)
	if err != nil {
		return removed, err
	}
	log.Info().Str("pattern", pattern).Int("removed", removed).Msg("Invalidated cache")
	return removed, nil
}

// evict removes expired entries from the sqlite cache until ctx is done.
func evict(ctx context.Context, sqlite cache.SQLiteCache, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := sqlite.Evict(ctx); err != nil {
				log.Error().Err(err).Msg("Could not evict expired entries")
			} else if n > 0 {
				log.Debug().Int("evicted", n).Msg("Evicted expired entries")
			}
		}
	}
}
