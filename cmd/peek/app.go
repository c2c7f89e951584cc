package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"peek/internal/backends"
	"peek/internal/backends/lsp"
	"peek/internal/backends/scip"
	"peek/internal/config"
	"peek/internal/locations"
	"peek/internal/loop"
	"peek/internal/protocol"
	"peek/internal/render"
	"peek/internal/session"
	"peek/internal/slogutil"
)

// shutdownTimeout bounds backend shutdown on exit.
const shutdownTimeout = 5 * time.Second

// app wires the backends, the loop and the session for one command.
type app struct {
	root     string
	cfg      *config.Config
	logger   *slog.Logger
	loop     *loop.Loop
	registry *backends.Registry
	files    *locations.FileReader
	session  *session.Session
	text     *render.Text

	cancel  context.CancelFunc
	closers []io.Closer
}

// workspaceRoot returns the absolute workspace root.
func workspaceRoot() (string, error) {
	root := rootFlag
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		root = wd
	}
	return filepath.Abs(root)
}

// loadConfig loads --config when given, else the workspace config.
func loadConfig(root string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFlag != "" {
		cfg, err = config.LoadFile(configFlag)
	} else {
		cfg, err = config.LoadConfig(root)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// logLevel resolves the log level: -v/-q, then --log-level, then the
// config.
func logLevel(cfg config.LoggingConfig) slog.Level {
	if verboseFlag > 0 || quietFlag {
		return slogutil.LevelFromVerbosity(verboseFlag, quietFlag)
	}
	if logLevelFlag != "" {
		return slogutil.LevelFromString(logLevelFlag)
	}
	return slogutil.LevelFromString(cfg.Level)
}

// newAppLogger logs to stderr, or to the configured file with warnings
// still shown on stderr.
func newAppLogger(root string, cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	level := logLevel(cfg)
	if cfg.File == "" {
		return slogutil.NewLogger(os.Stderr, level), nil, nil
	}
	path := cfg.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	stderrLevel := max(level, slog.LevelWarn)
	return slogutil.NewFileLogger(path, level, cfg.MaxSize, cfg.MaxBackups,
		slogutil.NewLineHandler(os.Stderr, &slog.HandlerOptions{Level: stderrLevel}))
}

// newMethods builds the kind table with the configured extra kinds.
func newMethods(cfg *config.Config) (*protocol.Methods, error) {
	methods := protocol.NewMethods()
	for _, m := range cfg.Dispatch.ExtraMethods {
		entry := protocol.Method{Kind: protocol.Kind(m.Kind), Method: m.Method, Label: m.Label}
		if err := methods.Register(entry); err != nil {
			return nil, fmt.Errorf("extra method %s: %w", m.Kind, err)
		}
	}
	return methods, nil
}

// newApp loads the config and starts the loop. views may be nil.
func newApp(views func(text *render.Text) session.ViewFactory) (*app, error) {
	root, err := workspaceRoot()
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, err
	}
	logger, logCloser, err := newAppLogger(root, cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}

	a := &app{
		root:     root,
		cfg:      cfg,
		logger:   logger,
		registry: backends.NewRegistry(logger),
		text:     render.NewText(cfg.Render),
	}
	if logCloser != nil {
		a.closers = append(a.closers, logCloser)
	}

	methods, err := newMethods(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := a.registerBackends(); err != nil {
		a.Close()
		return nil, err
	}

	a.files, err = locations.NewFileReader(cfg.Preview.FileCacheSize)
	if err != nil {
		a.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.loop = loop.New(64, logger)
	a.loop.Start(ctx)

	var factory session.ViewFactory
	if views != nil {
		factory = views(a.text)
	}
	aggregator := locations.NewAggregator(root, nil, a.files, logger)
	a.session = session.New(a.loop, a.registry, methods, aggregator, factory, cfg, logger)
	return a, nil
}

func (a *app) registerBackends() error {
	limit := a.cfg.Dispatch.MaxInFlight
	if a.cfg.Backends.Lsp.Enabled && len(a.cfg.Backends.Lsp.Servers) > 0 {
		supervisor := lsp.NewSupervisor(a.root, a.cfg.Backends.Lsp.Servers, a.logger)
		for _, b := range lsp.NewBackends(supervisor, a.logger) {
			if err := a.registry.Register(backends.Limit(b, limit)); err != nil {
				return err
			}
		}
	}
	if a.cfg.Backends.Scip.Enabled {
		adapter := scip.NewAdapter(a.root, a.cfg.Backends.Scip, a.logger)
		if a.cfg.Backends.Scip.Watch {
			if err := adapter.Watch(); err != nil {
				a.logger.Warn("SCIP index watch unavailable", "path", adapter.IndexPath(), "error", err.Error())
			}
		}
		if err := a.registry.Register(backends.Limit(adapter, limit)); err != nil {
			return err
		}
	}
	return nil
}

// run executes fn on the loop and waits for it.
func (a *app) run(fn func()) error {
	if !a.loop.Call(fn) {
		return errors.New("event loop stopped")
	}
	return nil
}

// query issues req and waits for its outcome.
func (a *app) query(ctx context.Context, req session.Request) (*session.Outcome, error) {
	out := make(chan *session.Outcome, 1)
	var qerr error
	if err := a.run(func() {
		qerr = a.session.Query(req, func(o *session.Outcome) { out <- o })
	}); err != nil {
		return nil, err
	}
	if qerr != nil {
		return nil, qerr
	}
	select {
	case o := <-out:
		return o, nil
	case <-ctx.Done():
		_ = a.run(func() { a.session.Dispatcher().Cancel(req.Kind) })
		return nil, fmt.Errorf("%s: %w", req.Kind, ctx.Err())
	}
}

// Close stops the loop and shuts the backends down.
func (a *app) Close() {
	if a.loop != nil {
		_ = a.run(func() {
			a.session.Dispatcher().CancelAll()
			a.session.Destroy()
		})
		a.loop.Stop()
		<-a.loop.Done()
	}
	if a.cancel != nil {
		a.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.registry.Shutdown(ctx); err != nil {
		a.logger.Warn("Shutdown incomplete", "error", err.Error())
	}
	if a.files != nil {
		a.files.Close()
	}
	for _, c := range a.closers {
		_ = c.Close()
	}
}
