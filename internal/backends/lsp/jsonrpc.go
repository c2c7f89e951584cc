package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"peek/internal/errors"
)

// Message is a JSON-RPC 2.0 message. Params and Result stay raw so that
// decoding is left to the caller.
type Message struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("LSP error [%d]: %s", e.Code, e.Message)
}

// JSON-RPC error codes
const (
	ParseError       = -32700
	InvalidRequest   = -32600
	MethodNotFound   = -32601
	InvalidParams    = -32602
	InternalError    = -32603
	RequestCancelled = -32800
)

var nullResult = json.RawMessage("null")

// sendRequest sends a request and waits for its response. Cancelling ctx
// abandons the request and tells the server with $/cancelRequest.
func (p *Process) sendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, errors.New(errors.InvalidParams, "encode "+method+" params", err)
	}

	p.requestsMu.Lock()
	p.nextMessageID++
	id := p.nextMessageID
	respChan := make(chan *Message, 1)
	p.pending[id] = respChan
	p.requestsMu.Unlock()

	if err := p.writeMessage(&Message{Jsonrpc: "2.0", ID: &id, Method: method, Params: raw}); err != nil {
		p.forget(id)
		return nil, errors.New(errors.BackendUnavailable, "send "+method, err)
	}

	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, errors.New(errors.BackendUnavailable, "server exited during "+method, nil)
		}
		if resp.Error != nil {
			return nil, errors.New(errors.BackendError, method+" failed", resp.Error)
		}
		if len(resp.Result) == 0 {
			return nullResult, nil
		}
		return resp.Result, nil
	case <-ctx.Done():
		p.forget(id)
		_ = p.sendNotification("$/cancelRequest", map[string]any{"id": id})
		return nil, ctx.Err()
	case <-p.done:
		return nil, errors.New(errors.BackendUnavailable, "process shutting down", nil)
	}
}

func (p *Process) forget(id int64) {
	p.requestsMu.Lock()
	delete(p.pending, id)
	p.requestsMu.Unlock()
}

// sendNotification sends a JSON-RPC notification (no response expected)
func (p *Process) sendNotification(method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	return p.writeMessage(&Message{Jsonrpc: "2.0", Method: method, Params: raw})
}

func marshalParams(params any) (json.RawMessage, error) {
	switch v := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// writeMessage writes a framed message to the server's stdin
func (p *Process) writeMessage(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.stdin == nil {
		return fmt.Errorf("stdin not available")
	}
	return writeFrame(p.stdin, data)
}

func writeFrame(w io.Writer, data []byte) error {
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(data)); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

// readLoop reads messages until the stream ends.
func (p *Process) readLoop() {
	defer func() {
		p.SetState(StateDead)

		p.requestsMu.Lock()
		for id, ch := range p.pending {
			close(ch)
			delete(p.pending, id)
		}
		p.requestsMu.Unlock()
	}()

	reader := bufio.NewReader(p.stdout)
	for {
		msg, err := readMessage(reader)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF || p.closing() {
				return
			}
			p.logger.Debug("Skipping malformed message", "error", err.Error())
			continue
		}
		p.handleMessage(msg)
	}
}

// readMessage reads a single framed message (headers + content)
func readMessage(reader *bufio.Reader) (*Message, error) {
	contentLength := -1
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("invalid Content-Length: %w", err)
			}
			contentLength = n
		}
	}
	if contentLength < 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}

	content := make([]byte, contentLength)
	if _, err := io.ReadFull(reader, content); err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(content, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &msg, nil
}

// handleMessage routes responses to their waiters and answers server requests.
func (p *Process) handleMessage(msg *Message) {
	if msg.ID != nil && msg.Method == "" {
		p.requestsMu.Lock()
		respChan, ok := p.pending[*msg.ID]
		if ok {
			delete(p.pending, *msg.ID)
		}
		p.requestsMu.Unlock()

		if ok {
			respChan <- msg
		}
		return
	}

	switch msg.Method {
	case "window/logMessage", "window/showMessage":
		var params struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(msg.Params, &params)
		p.logger.Debug("Server message", "message", params.Message)
	}

	// Server requests (workspace/configuration, window/workDoneProgress/create ...)
	// get a null result so the server does not block on us.
	if msg.ID != nil {
		_ = p.writeMessage(&Message{Jsonrpc: "2.0", ID: msg.ID, Result: nullResult})
	}
}

// stderrLoop forwards server stderr to the debug log.
func (p *Process) stderrLoop() {
	if p.stderr == nil {
		return
	}
	scanner := bufio.NewScanner(p.stderr)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		p.logger.Debug("stderr", "line", scanner.Text())
	}
}
