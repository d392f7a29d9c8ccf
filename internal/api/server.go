package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/openpsg/pressure-sensor/internal/control"
	"github.com/openpsg/pressure-sensor/internal/sampler"
)

// JSON-RPC method names.
const (
	MethodSignals = "openpsg.signals"
	MethodStart   = "openpsg.start"
	MethodStop    = "openpsg.stop"
	MethodValues  = "openpsg.values"
)

// notifyTimeout bounds a notification write when the caller's context has
// no deadline of its own.
const notifyTimeout = 5 * time.Second

// Server accepts JSON-RPC 2.0 connections framed with Content-Length
// headers. Start and stop commands go to the mailbox; windows passed to
// Notify are broadcast to every connected client.
type Server struct {
	mailbox *control.Mailbox

	mu    sync.Mutex
	conns map[*jsonrpc2.Conn]net.Conn

	// notifyMu keeps concurrent Notify calls from interleaving.
	notifyMu sync.Mutex
}

// NewServer creates a Server feeding the given mailbox.
func NewServer(mailbox *control.Mailbox) *Server {
	return &Server{
		mailbox: mailbox,
		conns:   make(map[*jsonrpc2.Conn]net.Conn),
	}
}

// Serve accepts connections on ln until ctx is cancelled, then closes ln
// and every open connection. It returns nil on cancellation.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	defer s.closeAll()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("api: accept: %w", err)
		}
		s.accept(ctx, nc)
	}
}

func (s *Server) accept(ctx context.Context, nc net.Conn) {
	stream := jsonrpc2.NewBufferedStream(nc, jsonrpc2.VSCodeObjectCodec{})
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.HandlerWithError(s.handle))

	s.mu.Lock()
	s.conns[conn] = nc
	s.mu.Unlock()
	log.Printf("api: client %s connected", nc.RemoteAddr())

	go func() {
		<-conn.DisconnectNotify()
		s.remove(conn)
		log.Printf("api: client %s disconnected", nc.RemoteAddr())
	}()
}

func (s *Server) handle(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	switch req.Method {
	case MethodSignals:
		return Catalog(), nil
	case MethodStart, MethodStop:
		var raw []byte
		if req.Params != nil {
			raw = *req.Params
		}
		if _, err := ParseSignalIDs(raw); err != nil {
			log.Printf("api: %s: %v", req.Method, err)
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
		}
		if req.Method == MethodStart {
			s.mailbox.Send(control.Start)
		} else {
			s.mailbox.Send(control.Stop)
		}
		return nil, nil
	default:
		return nil, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeMethodNotFound,
			Message: fmt.Sprintf("method not found: %s", req.Method),
		}
	}
}

// Notify sends v as an openpsg.values notification to every client. A
// client whose write does not finish by the ctx deadline, or within
// notifyTimeout without one, is disconnected and its error returned. With
// no clients connected it does nothing.
func (s *Server) Notify(ctx context.Context, v sampler.Values) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(notifyTimeout)
	}

	var errs []error
	for conn, nc := range s.clients() {
		// jsonrpc2 writes without watching ctx, so the socket deadline is
		// what unblocks a client that stopped reading.
		nc.SetWriteDeadline(deadline)
		err := conn.Notify(ctx, MethodValues, v)
		nc.SetWriteDeadline(time.Time{})
		if err != nil {
			errs = append(errs, fmt.Errorf("api: notify %s: %w", nc.RemoteAddr(), err))
			conn.Close()
			s.remove(conn)
		}
	}
	return errors.Join(errs...)
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) clients() map[*jsonrpc2.Conn]net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[*jsonrpc2.Conn]net.Conn, len(s.conns))
	for c, nc := range s.conns {
		out[c] = nc
	}
	return out
}

func (s *Server) remove(conn *jsonrpc2.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) closeAll() {
	for conn := range s.clients() {
		conn.Close()
		s.remove(conn)
	}
}
