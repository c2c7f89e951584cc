package lsp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"peek/internal/config"
	"peek/internal/errors"
	"peek/internal/slogutil"
)

const (
	// BaseBackoff is the wait before the first restart after a crash
	BaseBackoff = time.Second
	// MaxBackoff caps the restart backoff
	MaxBackoff = 30 * time.Second
)

// spawnFunc starts and initializes a server process.
type spawnFunc func(ctx context.Context, language string, server config.LspServerConfig) (*Process, error)

type restartState struct {
	count  int
	nextAt time.Time
}

// Supervisor starts language servers on demand, one process per language,
// and restarts crashed ones with exponential backoff.
type Supervisor struct {
	root    string
	servers map[string]config.LspServerConfig
	logger  *slog.Logger
	spawn   spawnFunc
	now     func() time.Time

	mu        sync.Mutex
	processes map[string]*Process
	restarts  map[string]*restartState
	closed    bool

	starting singleflight.Group
}

// NewSupervisor creates a supervisor for the configured servers.
func NewSupervisor(root string, servers map[string]config.LspServerConfig, logger *slog.Logger) *Supervisor {
	s := &Supervisor{
		root:      root,
		servers:   servers,
		logger:    slogutil.Component(logger, "lsp"),
		now:       time.Now,
		processes: make(map[string]*Process),
		restarts:  make(map[string]*restartState),
	}
	s.spawn = s.spawnProcess
	return s
}

// Languages returns the configured languages in sorted order.
func (s *Supervisor) Languages() []string {
	out := make([]string, 0, len(s.servers))
	for lang := range s.servers {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// Server returns the configuration for language.
func (s *Supervisor) Server(language string) (config.LspServerConfig, bool) {
	server, ok := s.servers[language]
	return server, ok
}

// Running returns the ready process for language, or nil.
func (s *Supervisor) Running(language string) *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	proc := s.processes[language]
	if proc == nil || !proc.IsReady() {
		return nil
	}
	return proc
}

// BackingOff reports whether a crashed server is waiting to be restarted.
func (s *Supervisor) BackingOff(language string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.restarts[language]
	return ok && s.now().Before(st.nextAt)
}

// Process returns the ready process for language, starting it if needed.
// Concurrent callers share one start.
func (s *Supervisor) Process(ctx context.Context, language string) (*Process, error) {
	if proc := s.Running(language); proc != nil {
		return proc, nil
	}

	v, err, _ := s.starting.Do(language, func() (any, error) {
		return s.startServer(ctx, language)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Process), nil
}

func (s *Supervisor) startServer(ctx context.Context, language string) (*Process, error) {
	server, ok := s.servers[language]
	if !ok {
		return nil, errors.Newf(errors.BackendUnavailable, "no language server configured for %s", language)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New(errors.BackendUnavailable, "supervisor is shut down", nil)
	}
	if proc := s.processes[language]; proc != nil {
		if proc.IsReady() {
			s.mu.Unlock()
			return proc, nil
		}
		// Dead process: count towards backoff.
		delete(s.processes, language)
		s.recordCrashLocked(language)
	}
	if st, ok := s.restarts[language]; ok && s.now().Before(st.nextAt) {
		s.mu.Unlock()
		return nil, errors.Newf(errors.BackendUnavailable, "%s server restarting in %s", language, st.nextAt.Sub(s.now()).Round(time.Millisecond))
	}
	s.mu.Unlock()

	proc, err := s.spawn(ctx, language, server)
	if err != nil {
		s.mu.Lock()
		s.recordCrashLocked(language)
		s.mu.Unlock()
		s.logger.Warn("Language server failed to start", "language", language, "error", err.Error())
		return nil, errors.New(errors.BackendUnavailable, "start "+language+" server", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		go func() { _ = proc.Shutdown(context.Background()) }()
		return nil, errors.New(errors.BackendUnavailable, "supervisor is shut down", nil)
	}
	if st, ok := s.restarts[language]; ok {
		proc.restartCount = st.count
	}
	s.processes[language] = proc
	return proc, nil
}

func (s *Supervisor) spawnProcess(ctx context.Context, language string, server config.LspServerConfig) (*Process, error) {
	proc := NewProcess(language, s.root, s.logger)
	if err := proc.start(server.Command, server.Args); err != nil {
		return nil, err
	}
	if err := proc.initialize(ctx); err != nil {
		_ = proc.Shutdown(context.Background())
		return nil, err
	}
	return proc, nil
}

func (s *Supervisor) recordCrashLocked(language string) {
	st, ok := s.restarts[language]
	if !ok {
		st = &restartState{}
		s.restarts[language] = st
	}
	st.count++
	st.nextAt = s.now().Add(computeBackoff(st.count))
}

// computeBackoff doubles BaseBackoff per restart, capped at MaxBackoff.
func computeBackoff(restartCount int) time.Duration {
	backoff := BaseBackoff
	for i := 1; i < restartCount && backoff < MaxBackoff; i++ {
		backoff *= 2
	}
	if backoff > MaxBackoff {
		backoff = MaxBackoff
	}
	return backoff
}

// Prewarm starts the servers for languages concurrently. Failures are
// logged and returned; they do not stop the other starts.
func (s *Supervisor) Prewarm(ctx context.Context, languages []string) error {
	var g errgroup.Group
	for _, lang := range languages {
		g.Go(func() error {
			if _, err := s.Process(ctx, lang); err != nil {
				return fmt.Errorf("prewarm %s: %w", lang, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// StopServer stops the server for language.
func (s *Supervisor) StopServer(ctx context.Context, language string) error {
	s.mu.Lock()
	proc, ok := s.processes[language]
	delete(s.processes, language)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no server running for language: %s", language)
	}
	return proc.Shutdown(ctx)
}

// Shutdown stops every server.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	procs := s.processes
	s.processes = make(map[string]*Process)
	s.mu.Unlock()

	var g errgroup.Group
	for lang, proc := range procs {
		s.logger.Info("Shutting down language server", "language", lang)
		g.Go(func() error { return proc.Shutdown(ctx) })
	}
	return g.Wait()
}
