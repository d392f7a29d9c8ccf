// Package web provides an HTTP status server for the pressure sensor daemon.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/openpsg/pressure-sensor/internal/api"
	"github.com/openpsg/pressure-sensor/internal/status"
)

// Server serves daemon status, the signal catalog and its EDF signal
// headers as JSON over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker) *Server {
	s := &Server{tracker: tracker}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleStatus)
	mux.HandleFunc("/status.json", s.handleStatus)
	mux.HandleFunc("/signals.json", s.handleSignals)
	mux.HandleFunc("/edf.json", s.handleEDF)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/status.json" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(api.Catalog())
}

// handleEDF returns the EDF signal headers a recorder writes for the
// catalog. The optional record parameter sets the data record duration.
func (s *Server) handleEDF(w http.ResponseWriter, r *http.Request) {
	record := time.Second
	if v := r.URL.Query().Get("record"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			http.Error(w, fmt.Sprintf("invalid record duration %q", v), http.StatusBadRequest)
			return
		}
		record = d
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(api.EDFSignals(record))
}
