package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	mentaterrors "github.com/mentat-sh/mentat/internal/errors"
)

// HandlerFunc handles one decoded method call and returns the result
// value to wrap in Response.Result, or an error.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Server dispatches line-delimited JSON-RPC requests to registered
// HandlerFuncs.
type Server struct {
	handlers map[string]HandlerFunc
}

// NewServer returns an empty Server; call Handlers.Register (see tools.go)
// to wire in the required surface.
func NewServer() *Server {
	return &Server{handlers: make(map[string]HandlerFunc)}
}

// Handle registers a method handler, replacing any existing one.
func (s *Server) Handle(method string, fn HandlerFunc) {
	s.handlers[method] = fn
}

// Serve reads one JSON-RPC request per line from r until EOF or ctx is
// cancelled, writing one JSON-RPC response per line to w. Malformed
// lines produce a ParseError response rather than aborting the loop.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := s.dispatchLine(ctx, line)
		if resp == nil {
			continue // notification: no response
		}
		if err := writeLine(w, resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatchLine(ctx context.Context, line []byte) *Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return &Response{JSONRPC: jsonrpcVersion, Error: &Error{Code: CodeParseError, Message: "invalid JSON", Timestamp: now()}}
	}
	if req.Method == "" {
		return &Response{JSONRPC: jsonrpcVersion, ID: req.ID, Error: &Error{Code: CodeInvalidRequest, Message: "missing method", Timestamp: now()}}
	}

	handler, ok := s.handlers[req.Method]
	if !ok {
		return &Response{JSONRPC: jsonrpcVersion, ID: req.ID, Error: &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method), Timestamp: now()}}
	}

	result, err := handler(ctx, req.Params)
	if len(req.ID) == 0 {
		if err != nil {
			slog.Warn("rpc: notification handler failed", "method", req.Method, "error", err)
		}
		return nil
	}
	if err != nil {
		return &Response{JSONRPC: jsonrpcVersion, ID: req.ID, Error: toRPCError(err)}
	}
	return &Response{JSONRPC: jsonrpcVersion, ID: req.ID, Result: result}
}

// toRPCError classifies err against the errors taxonomy into an
// application error code, falling back to an internal error.
func toRPCError(err error) *Error {
	rpcErr := &Error{Message: err.Error(), Timestamp: now()}
	switch {
	case mentaterrors.IsCategory(err, mentaterrors.ErrInvalidInput):
		rpcErr.Code = CodeInvalidParams
		rpcErr.Type = "InvalidInput"
	case mentaterrors.IsCategory(err, mentaterrors.ErrAuth):
		rpcErr.Code = CodeAuth
		rpcErr.Type = "AuthError"
	case mentaterrors.IsCategory(err, mentaterrors.ErrTimeout):
		rpcErr.Code = CodeTimeout
		rpcErr.Type = "TimeoutError"
	case mentaterrors.IsCategory(err, mentaterrors.ErrQueueFull):
		rpcErr.Code = CodeQueueFull
		rpcErr.Type = "QueueFull"
	case mentaterrors.IsCategory(err, mentaterrors.ErrAllProvidersFailed):
		rpcErr.Code = CodeAllProvidersFailed
		rpcErr.Type = "AllProvidersFailed"
	default:
		rpcErr.Code = CodeInternalError
		rpcErr.Type = "InternalError"
	}
	return rpcErr
}

func writeLine(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }
