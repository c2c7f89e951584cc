package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"peek/internal/protocol"
	"peek/internal/slogutil"
)

// ProcessState represents the state of a language server process
type ProcessState string

const (
	// StateStarting indicates the process is being spawned
	StateStarting ProcessState = "starting"
	// StateInitializing indicates the initialize request is in flight
	StateInitializing ProcessState = "initializing"
	// StateReady indicates the process is ready to handle requests
	StateReady ProcessState = "ready"
	// StateDead indicates the process has terminated
	StateDead ProcessState = "dead"
)

// Process is one running language server.
type Process struct {
	Language      string
	WorkspaceRoot string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	mu           sync.RWMutex
	state        ProcessState
	capabilities ServerCapabilities
	encoding     protocol.PositionEncoding
	restartCount int
	lastResponse time.Time

	writeMu sync.Mutex

	requestsMu    sync.Mutex
	nextMessageID int64
	pending       map[int64]chan *Message

	docsMu sync.Mutex
	docs   map[string]int

	done     chan struct{}
	doneOnce sync.Once

	logger *slog.Logger
}

// NewProcess creates a process for language (but doesn't start it yet)
func NewProcess(language, workspaceRoot string, logger *slog.Logger) *Process {
	return &Process{
		Language:      language,
		WorkspaceRoot: workspaceRoot,
		state:         StateStarting,
		encoding:      protocol.EncodingUTF16,
		pending:       make(map[int64]chan *Message),
		docs:          make(map[string]int),
		done:          make(chan struct{}),
		logger:        slogutil.Component(logger, "lsp").With("language", language),
	}
}

// start spawns command and begins reading its output.
func (p *Process) start(command string, args []string) error {
	cmd := exec.Command(command, args...)
	cmd.Dir = p.WorkspaceRoot

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start language server: %w", err)
	}

	p.cmd = cmd
	p.attach(stdout, stdin, stderr)
	p.logger.Info("Started language server", "command", command, "pid", cmd.Process.Pid)
	return nil
}

// attach connects the process to already-open streams.
func (p *Process) attach(stdout io.ReadCloser, stdin io.WriteCloser, stderr io.ReadCloser) {
	p.stdin = stdin
	p.stdout = stdout
	p.stderr = stderr
	go p.readLoop()
	go p.stderrLoop()
}

// initialize runs the initialize handshake and records the negotiated
// capabilities and position encoding.
func (p *Process) initialize(ctx context.Context) error {
	p.SetState(StateInitializing)

	params := map[string]any{
		"processId": nil,
		"rootUri":   protocol.PathToURI(p.WorkspaceRoot),
		"capabilities": map[string]any{
			"general": map[string]any{
				"positionEncodings": []string{"utf-8", "utf-16", "utf-32"},
			},
			"textDocument": map[string]any{
				"definition":     map[string]any{"linkSupport": true},
				"typeDefinition": map[string]any{"linkSupport": true},
				"implementation": map[string]any{"linkSupport": true},
				"references":     map[string]any{},
				"callHierarchy":  map[string]any{},
			},
			// clangd before positionEncoding
			"offsetEncoding": []string{"utf-8", "utf-16"},
		},
	}

	result, err := p.sendRequest(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize request failed: %w", err)
	}

	var init initializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		return fmt.Errorf("decode initialize result: %w", err)
	}

	p.mu.Lock()
	p.capabilities = init.Capabilities
	p.encoding = init.encoding()
	p.mu.Unlock()

	if err := p.sendNotification("initialized", map[string]any{}); err != nil {
		return fmt.Errorf("initialized notification failed: %w", err)
	}

	p.SetState(StateReady)
	p.RecordSuccess()
	p.logger.Debug("Initialized", "encoding", p.Encoding())
	return nil
}

// State returns the current state (thread-safe)
func (p *Process) State() ProcessState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// SetState sets the current state (thread-safe)
func (p *Process) SetState(state ProcessState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
}

// IsReady reports whether the process can take requests.
func (p *Process) IsReady() bool {
	return p.State() == StateReady
}

// IsDead returns true if the process has terminated
func (p *Process) IsDead() bool {
	return p.State() == StateDead
}

// Capabilities returns the server capabilities
func (p *Process) Capabilities() ServerCapabilities {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.capabilities
}

// Encoding returns the negotiated position encoding
func (p *Process) Encoding() protocol.PositionEncoding {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.encoding
}

// RecordSuccess records a successful request
func (p *Process) RecordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastResponse = time.Now()
}

// LastResponse returns the last successful response time
func (p *Process) LastResponse() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastResponse
}

func (p *Process) closing() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Shutdown asks the server to exit and kills it if it lingers.
func (p *Process) Shutdown(ctx context.Context) error {
	var err error
	p.doneOnce.Do(func() {
		if p.IsReady() {
			shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			_, _ = p.sendRequest(shutdownCtx, "shutdown", nil)
			cancel()
			_ = p.sendNotification("exit", nil)
		}
		close(p.done)

		if p.stdin != nil {
			_ = p.stdin.Close()
		}
		if p.cmd != nil && p.cmd.Process != nil {
			waited := make(chan error, 1)
			go func() { waited <- p.cmd.Wait() }()
			select {
			case <-waited:
			case <-time.After(2 * time.Second):
				err = p.cmd.Process.Kill()
			}
		}
		p.SetState(StateDead)
	})
	return err
}
