// Package server binds a TCP listener to a storage engine. Connections
// are served sequentially, one request and one response per connection.
package server

import (
	"errors"
	"net"

	"go.uber.org/zap"

	api "github.com/Gibson-Gichuru/kvs/api/v1"
	"github.com/Gibson-Gichuru/kvs/internal/engine"
)

// Server owns a storage engine and serves it over TCP.
type Server struct {
	logger   *zap.Logger
	engine   engine.Engine
	listener net.Listener
}

// Start binds a listener on addr and returns a server ready to Run. The
// engine is held by exclusive ownership; nothing else may use it while
// the server runs.
func Start(logger *zap.Logger, eng engine.Engine, addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, api.E(api.Io, err)
	}

	logger.Info("server listening", zap.String("addr", listener.Addr().String()))

	return &Server{
		logger:   logger,
		engine:   eng,
		listener: listener,
	}, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Run accepts connections until the listener is closed. Accept failures
// and per-connection errors are logged and do not stop the loop.
func (s *Server) Run() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		if err := s.handle(conn); err != nil {
			s.logger.Warn(
				"connection error",
				zap.String("peer", conn.RemoteAddr().String()),
				zap.Error(err),
			)
		}
	}
}

// Close shuts the listener down, which makes Run return.
func (s *Server) Close() error {
	if err := s.listener.Close(); err != nil {
		return api.E(api.Io, err)
	}
	return nil
}

// handle serves one connection: decode a request, dispatch it, write the
// response, close. A request that fails to decode gets an InvalidRequest
// response rather than killing the connection.
func (s *Server) handle(conn net.Conn) error {
	defer conn.Close()

	req, err := api.ReadRequest(conn)
	if err != nil {
		s.logger.Warn("invalid request", zap.Error(err))
		return api.WriteResponse(conn, api.ErrResponse(api.ErrInvalidRequest, err.Error()))
	}

	resp, err := s.dispatch(req)
	if err != nil {
		return err
	}

	return api.WriteResponse(conn, resp)
}

// dispatch runs a request against the engine and maps the outcome onto
// the wire. Engine failures become EngineError responses; KeyNotFound
// becomes NotFound. An error that maps to no response terminates the
// connection and is returned for logging.
func (s *Server) dispatch(req api.Request) (api.Response, error) {
	switch req.Op {
	case api.OpGet:
		value, found, err := s.engine.Get(req.Key)
		if err != nil {
			return engineError(err)
		}
		if !found {
			return api.NotFound(), nil
		}
		return api.Found(value), nil

	case api.OpSet:
		if err := s.engine.Set(req.Key, req.Value); err != nil {
			return engineError(err)
		}
		return api.Ok(), nil

	case api.OpRemove:
		err := s.engine.Remove(req.Key)
		if api.IsKind(err, api.KeyNotFound) {
			return api.NotFound(), nil
		}
		if err != nil {
			return engineError(err)
		}
		return api.Ok(), nil

	default:
		return api.ErrResponse(api.ErrInvalidRequest, "unknown operation"), nil
	}
}

// engineError maps a storage failure onto an EngineError response. Kinds
// that have no wire representation propagate unchanged.
func engineError(err error) (api.Response, error) {
	if api.IsKind(err, api.Io) || api.IsKind(err, api.Decode) || api.IsKind(err, api.Encode) {
		return api.ErrResponse(api.ErrEngineError, err.Error()), nil
	}
	return api.Response{}, err
}
