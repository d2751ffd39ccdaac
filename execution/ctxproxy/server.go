// Package ctxproxy lets operation subprocesses reach back into the parent
// operation context over a local HTTP endpoint. The wire contract is a
// single POST: request {"args": [...]}, response {"type": "ok" | "error" |
// "stop_operation", "payload": ...}.
package ctxproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/apache/incubator-ariatosca-sub004/workflow"
)

// Response types on the wire.
const (
	TypeOK            = "ok"
	TypeError         = "error"
	TypeStopOperation = "stop_operation"
)

// Request is the wire request: a command path evaluated against the
// operation context, e.g. ["node", "attributes", "get", "port"].
type Request struct {
	Args []any `json:"args"`
}

// Response is the wire response envelope.
type Response struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// ErrorPayload is the payload of an "error" response.
type ErrorPayload struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Traceback string `json:"traceback"`
}

// stopError makes a handler return a stop_operation response.
type stopError struct{ message string }

func (e stopError) Error() string { return e.message }

// Server serves one operation attempt's context to its subprocess.
type Server struct {
	octx   *workflow.OperationContext
	inputs map[string]any
	logger *slog.Logger

	listener net.Listener
	httpSrv  *http.Server
}

// NewServer starts a proxy bound to a random loopback port. Callers must
// Close it when the attempt ends.
func NewServer(octx *workflow.OperationContext, inputs map[string]any, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen ctx proxy: %w", err)
	}

	s := &Server{
		octx:     octx,
		inputs:   inputs,
		logger:   logger,
		listener: listener,
	}
	s.httpSrv = &http.Server{
		Handler:      http.HandlerFunc(s.handle),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error("ctx proxy serve", "error", err)
		}
	}()
	return s, nil
}

// URL returns the endpoint the child should POST to; advertised to the
// subprocess in CTX_SOCKET_URL.
func (s *Server) URL() string {
	return fmt.Sprintf("http://%s", s.listener.Addr().String())
}

// Close shuts the proxy down.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, Response{Type: TypeError, Payload: ErrorPayload{
			Type:    "bad_request",
			Message: fmt.Sprintf("decode request: %v", err),
		}})
		return
	}

	payload, err := s.dispatch(r.Context(), req.Args)
	switch e := err.(type) {
	case nil:
		writeResponse(w, Response{Type: TypeOK, Payload: payload})
	case stopError:
		writeResponse(w, Response{Type: TypeStopOperation, Payload: e.message})
	default:
		writeResponse(w, Response{Type: TypeError, Payload: ErrorPayload{
			Type:      fmt.Sprintf("%T", err),
			Message:   err.Error(),
			Traceback: string(debug.Stack()),
		}})
	}
}

func writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// dispatch evaluates a command path against the operation context.
func (s *Server) dispatch(ctx context.Context, args []any) (any, error) {
	path, err := stringArgs(args)
	if err != nil {
		return nil, err
	}
	if len(path) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	switch path[0] {
	case "task":
		return s.taskCommand(ctx, path[1:])
	case "node":
		return s.nodeCommand(ctx, path[1:], args)
	case "inputs":
		return s.inputsCommand(path[1:])
	case "logger":
		return s.loggerCommand(path[1:])
	case "abort":
		return nil, stopError{message: tailMessage(path[1:], "operation aborted")}
	default:
		return nil, fmt.Errorf("unknown command %q", path[0])
	}
}

func (s *Server) taskCommand(ctx context.Context, path []string) (any, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("task: missing subcommand")
	}
	switch path[0] {
	case "id":
		return s.octx.TaskRecordID, nil
	case "attempts":
		record, err := s.octx.TaskRecord(ctx)
		if err != nil {
			return nil, err
		}
		return record.Attempts, nil
	default:
		return nil, fmt.Errorf("task: unknown subcommand %q", path[0])
	}
}

func (s *Server) nodeCommand(ctx context.Context, path []string, rawArgs []any) (any, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("node: missing subcommand")
	}
	switch path[0] {
	case "id":
		return s.octx.NodeID, nil
	case "name":
		node, err := s.octx.Node(ctx)
		if err != nil {
			return nil, err
		}
		return node.Name, nil
	case "attributes":
		return s.attributesCommand(ctx, path[1:], rawArgs)
	default:
		return nil, fmt.Errorf("node: unknown subcommand %q", path[0])
	}
}

func (s *Server) attributesCommand(ctx context.Context, path []string, rawArgs []any) (any, error) {
	attrs := s.octx.Attributes()
	if len(path) == 0 {
		return nil, fmt.Errorf("attributes: missing subcommand")
	}
	switch path[0] {
	case "get":
		if len(path) != 2 {
			return nil, fmt.Errorf("attributes get: want one key")
		}
		return attrs.Get(ctx, path[1])
	case "set":
		if len(path) != 3 {
			return nil, fmt.Errorf("attributes set: want key and value")
		}
		// The value keeps its JSON type; rawArgs preserves non-strings
		// the string path would have flattened.
		value := rawArgs[len(rawArgs)-1]
		return nil, attrs.Set(ctx, path[1], value)
	case "delete":
		if len(path) != 2 {
			return nil, fmt.Errorf("attributes delete: want one key")
		}
		return nil, attrs.Delete(ctx, path[1])
	default:
		return nil, fmt.Errorf("attributes: unknown subcommand %q", path[0])
	}
}

func (s *Server) inputsCommand(path []string) (any, error) {
	switch len(path) {
	case 0:
		return s.inputs, nil
	case 1:
		value, ok := s.inputs[path[0]]
		if !ok {
			return nil, fmt.Errorf("unknown input %q", path[0])
		}
		return value, nil
	default:
		return nil, fmt.Errorf("inputs: want at most one key")
	}
}

func (s *Server) loggerCommand(path []string) (any, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("logger: want level and message")
	}
	message := tailMessage(path[1:], "")
	switch path[0] {
	case "debug":
		s.octx.Logger.Debug(message, "task_record_id", s.octx.TaskRecordID)
	case "info":
		s.octx.Logger.Info(message, "task_record_id", s.octx.TaskRecordID)
	case "warning", "warn":
		s.octx.Logger.Warn(message, "task_record_id", s.octx.TaskRecordID)
	case "error":
		s.octx.Logger.Error(message, "task_record_id", s.octx.TaskRecordID)
	default:
		return nil, fmt.Errorf("logger: unknown level %q", path[0])
	}
	return nil, nil
}

// stringArgs renders each arg as its string form for path matching.
// Non-string JSON values stringify through their encoding.
func stringArgs(args []any) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		switch v := arg.(type) {
		case string:
			out = append(out, v)
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encode argument: %w", err)
			}
			out = append(out, string(encoded))
		}
	}
	return out, nil
}

func tailMessage(parts []string, fallback string) string {
	if len(parts) == 0 {
		return fallback
	}
	message := parts[0]
	for _, p := range parts[1:] {
		message += " " + p
	}
	return message
}
