// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/cmmgraph/internal/api"
	"github.com/starford/cmmgraph/internal/ctxcache"
	"github.com/starford/cmmgraph/internal/engine"
	"github.com/starford/cmmgraph/internal/filter"
	"github.com/starford/cmmgraph/internal/graphdef"
	"github.com/starford/cmmgraph/internal/index"
	"github.com/starford/cmmgraph/internal/mcpserver"
	"github.com/starford/cmmgraph/internal/module"
	"github.com/starford/cmmgraph/internal/modules"
	"github.com/starford/cmmgraph/internal/sse"
	"github.com/starford/cmmgraph/internal/storage"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// logger initializes the structured JSON logger.
func (a *application) logger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// runtime registers the built-in modules and creates the filter runtime.
func (a *application) runtime(logger *slog.Logger) (*filter.Runtime, error) {
	cfg := a.config
	reg := module.NewRegistry(module.WithLogger(logger))
	if err := modules.Register(reg, cfg.Modules.Disabled...); err != nil {
		return nil, fmt.Errorf("register modules: %w", err)
	}
	cache := ctxcache.New(cfg.Cache.DefaultExpiration, cfg.Cache.CleanupInterval, ctxcache.WithLogger(logger))
	return filter.NewRuntime(reg,
		filter.WithCache(cache),
		filter.WithCompat(modules.Compat()),
		filter.WithLogger(logger),
	), nil
}

// open wires runtime, graph store and catalog into an engine. The returned
// func releases everything open returned.
func (a *application) open(logger *slog.Logger, opts ...engine.Option) (*engine.Engine, func(), error) {
	cfg := a.config

	rt, err := a.runtime(logger)
	if err != nil {
		return nil, nil, err
	}

	// Ensure graph directory exists.
	if err := os.MkdirAll(cfg.Graphs.Path, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create graphs dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Graphs.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.Index.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("init index: %w", err)
	}

	opts = append([]engine.Option{
		engine.WithLogger(logger),
		engine.WithPreferred(cfg.Modules.Preferred),
	}, opts...)
	eng := engine.New(rt, store, db, opts...)

	// Run initial sync.
	if err := eng.Sync(); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	return eng, func() {
		eng.Close()
		_ = rt.Registry.Close()
		_ = db.Close()
	}, nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("graphs_path", cfg.Graphs.Path),
		slog.String("index_path", cfg.Index.Path),
		slog.String("preferred", cfg.Modules.Preferred),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	eng, closeEngine, err := app.open(logger, engine.WithPublisher(broker))
	if err != nil {
		return err
	}
	defer closeEngine()

	apiRouter := api.NewRouter(eng, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if eng.Runtime().Registry.Count() == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"no modules"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start graph watcher; changes are re-catalogued and pushed to SSE.
	if cfg.Graphs.Watch {
		g.Go(func() error {
			if err := graphdef.Watch(gCtx, cfg.Graphs.Path, logger, eng.HandleFileEvent); err != nil {
				logger.Error("graph watcher failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools on stdin/stdout. Logs go to stderr unless
// WithLogOutput says otherwise.
func RunMCP(_ context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	logger := app.logger()

	eng, closeEngine, err := app.open(logger)
	if err != nil {
		return err
	}
	defer closeEngine()

	logger.Info("MCP server starting", slog.String("graphs_path", app.config.Graphs.Path))
	return mcpserver.New(eng).ServeStdio()
}

// Dump builds the graph defined in the YAML file at path on a fresh runtime
// and writes its dot text to w. No catalog is opened, so device bindings
// are ignored and the configured preferred module applies.
func Dump(path string, w io.Writer, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(io.Discard)}, opts...))
	if err != nil {
		return err
	}
	logger := app.logger()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read graph: %w", err)
	}
	def, err := graphdef.Parse(data)
	if err != nil {
		return err
	}

	rt, err := app.runtime(logger)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Registry.Close() }()

	g, err := graphdef.Build(rt, def, app.config.Modules.Preferred)
	if err != nil {
		return err
	}
	defer g.Release()

	conv, err := g.Conversion()
	if err != nil {
		return err
	}
	head := def.Name
	if head == "" {
		head = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	_, err = io.WriteString(w, conv.ToText(head))
	return err
}
