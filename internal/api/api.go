// Package api exposes the daemon's HTTP status surface: health, process
// info, the adjacency list, and metrics.
package api

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrroute/pkg/adjacency"
	"github.com/ryandielhenn/zephyrroute/pkg/name"
)

type Server struct {
	router      name.Name
	adjacencies *adjacency.List
	start       time.Time
	log         *zap.SugaredLogger
}

func NewServer(router name.Name, adjacencies *adjacency.List, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{
		router:      router,
		adjacencies: adjacencies,
		start:       time.Now(),
		log:         log,
	}
}

// Healthz returns 200 OK to indicate the daemon is alive.
func (s *Server) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Info writes a JSON payload with the process ID, router identity, uptime
// and neighbor counts.
func (s *Server) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		PID             int       `json:"pid"`
		Now             time.Time `json:"now"`
		Router          string    `json:"router"`
		UptimeSeconds   float64   `json:"uptime_seconds"`
		Neighbors       int       `json:"neighbors"`
		ActiveNeighbors int       `json:"active_neighbors"`
	}
	s.writeJSON(w, resp{
		PID:             os.Getpid(),
		Now:             time.Now(),
		Router:          s.router.String(),
		UptimeSeconds:   time.Since(s.start).Seconds(),
		Neighbors:       s.adjacencies.Len(),
		ActiveNeighbors: s.adjacencies.ActiveCount(),
	})
}

// Neighbors dumps the adjacency list with liveness state.
func (s *Server) Neighbors(w http.ResponseWriter, _ *http.Request) {
	type neighbor struct {
		Name         string `json:"name"`
		Address      string `json:"address,omitempty"`
		FaceID       uint64 `json:"face_id"`
		Status       string `json:"status"`
		TimeoutCount uint32 `json:"timeout_count"`
	}
	out := make([]neighbor, 0)
	for _, nb := range s.adjacencies.Snapshot() {
		out = append(out, neighbor{
			Name:         nb.Name.String(),
			Address:      nb.Address,
			FaceID:       nb.FaceID,
			Status:       nb.Status.String(),
			TimeoutCount: nb.TimeoutCount,
		})
	}
	s.writeJSON(w, out)
}

// Handler mounts all endpoints, with metrics served by the given handler.
func (s *Server) Handler(metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.Healthz)
	mux.HandleFunc("/info", s.Info)
	mux.HandleFunc("/neighbors", s.Neighbors)
	mux.Handle("/metrics", metrics)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Warnw("encoding response failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
