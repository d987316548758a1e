// Package server serves the flowchart editor over HTTP: an HTML page with the
// rendered diagram, a JSON API for every gesture and a datastar stream that
// pushes the diagram to the browser after each change.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TFMV/flowboard/diagram"
	"github.com/TFMV/flowboard/graph"
	"github.com/TFMV/flowboard/ingest"
	"github.com/TFMV/flowboard/models"
	"github.com/TFMV/flowboard/notifier"
)

// reloadDebounce coalesces the burst of events editors produce on save.
const reloadDebounce = 100 * time.Millisecond

// Configuration for the server
type Config struct {
	Port         int
	DatasetPath  string // File the diagram is saved to and, with Watch, reloaded from
	Watch        bool
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration // Zero keeps update streams open indefinitely
	IdleTimeout  time.Duration
	History      bool
	MaxHistory   int
	Viewport     graph.Viewport
	Title        string
	Layout       string // Places unlocated nodes of reloaded datasets and renders
	Render       RenderConfig
}

// RenderConfig holds the rendering settings used for served diagrams.
type RenderConfig struct {
	Background string
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Port:        8080,
		CORSOrigins: []string{"*"},
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
		History:     true,
		Viewport:    graph.Viewport{Width: 1000, Height: 600, Scale: 1},
		Title:       diagram.DefaultTitle,
	}
}

// Server is the HTTP front end of one diagram.
type Server struct {
	cfg      Config
	app      *diagram.App
	logger   *zap.Logger
	notifier *notifier.Notifier
	metrics  *Metrics
	router   chi.Router
}

// New creates a server editing ds.
func New(cfg Config, ds models.Dataset, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		notifier: notifier.New(),
	}
	s.metrics = NewMetrics(s.counts, s.notifier.Len)

	app, err := diagram.New(ds,
		diagram.WithLogger(logger.Named("diagram")),
		diagram.WithHistory(cfg.History, cfg.MaxHistory),
		diagram.WithViewport(cfg.Viewport),
		diagram.WithTitle(cfg.Title),
		diagram.WithNotify(func() { s.notifier.Broadcast() }),
		diagram.WithChangeHook(s.metrics.ObserveChange),
	)
	if err != nil {
		return nil, fmt.Errorf("loading diagram: %w", err)
	}
	s.app = app
	s.router = s.routes()
	return s, nil
}

func (s *Server) counts() (int, int) {
	if s.app == nil {
		return 0, 0
	}
	ds := s.app.Dataset()
	return len(ds.Nodes), len(ds.Links)
}

// App returns the diagram the server edits.
func (s *Server) App() *diagram.App {
	return s.app
}

// Handler returns the HTTP handler with every route mounted.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		requestLogger(s.logger.Named("http"), s.metrics),
		cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}),
	)

	r.Get("/", s.handleIndex)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/model", s.handleModel)
		r.Get("/model.svg", s.handleRender("svg", "image/svg+xml"))
		r.Get("/model.dot", s.handleRender("dot", "text/vnd.graphviz"))
		r.Get("/templates", s.handleTemplates)
		r.Get("/state", s.handleState)
		r.Get("/updates", s.handleUpdates)

		r.Route("/nodes", func(r chi.Router) {
			r.Post("/", s.handleCreateNode)
			r.Patch("/{key}", s.handleUpdateNode)
			r.Delete("/{key}", s.handleDeleteNode)
			r.Post("/{key}/successor", s.handleSuccessor)
		})
		r.Route("/links", func(r chi.Router) {
			r.Post("/", s.handleCreateLink)
			r.Patch("/{key}", s.handleUpdateLink)
			r.Delete("/{key}", s.handleDeleteLink)
		})

		r.Post("/selection/{key}", s.handleSelect)
		r.Delete("/selection", s.handleClearSelection)
		r.Put("/viewport", s.handleViewport)
		r.Put("/modeldata", s.handleModelData)
		r.Post("/undo", s.handleHistory(s.app.Undo))
		r.Post("/redo", s.handleHistory(s.app.Redo))
		r.Post("/save", s.handleSave)
	})
	return r
}

// Serve listens on the configured port and blocks until ctx is cancelled or
// the listener fails. Shutdown waits up to five seconds for open requests.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return egctx },
	}

	s.logger.Info("starting server", zap.String("addr", ln.Addr().String()))

	if s.cfg.Watch && s.cfg.DatasetPath != "" {
		eg.Go(func() error { return s.watchDataset(egctx) })
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		s.notifier.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Debug("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// watchDataset reloads the dataset file whenever it changes on disk. The
// directory is watched rather than the file, so editors that replace the
// file on save keep being followed.
func (s *Server) watchDataset(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	target, err := filepath.Abs(s.cfg.DatasetPath)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		s.logger.Error("cannot watch dataset", zap.String("path", target), zap.Error(err))
		return nil
	}

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if name, err := filepath.Abs(event.Name); err != nil || name != target {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() { s.reload(target) })

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher error", zap.Error(err))
		}
	}
}

// reload reads the dataset file and pushes it into the diagram. A file that
// fails to parse or validate leaves the diagram as it is, and so do unsaved
// edits: the next save overwrites the file instead.
func (s *Server) reload(path string) {
	ds, err := ingest.LoadWithLayout(path, s.cfg.Layout)
	if err == nil {
		err = s.app.Reload(ds)
	}
	if errors.Is(err, diagram.ErrUnsavedChanges) {
		s.metrics.reloads.WithLabelValues("skipped").Inc()
		s.logger.Warn("dataset changed on disk, keeping unsaved edits", zap.String("path", path))
		return
	}
	if err != nil {
		s.metrics.reloads.WithLabelValues("error").Inc()
		s.logger.Warn("dataset reload failed", zap.String("path", path), zap.Error(err))
		return
	}
	s.metrics.reloads.WithLabelValues("ok").Inc()
	s.logger.Info("dataset reloaded", zap.String("path", path))
}

func jsonString(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
