package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pixperk/solo/pkg/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// point-in-time view of one instance
type Status struct {
	PID        int                   `json:"pid"`
	InstanceID string                `json:"instance_id"`
	Port       int                   `json:"port"`
	Project    types.ProjectIdentity `json:"project"`
	Waiting    bool                  `json:"waiting"`
	Exclusive  bool                  `json:"exclusive"`
}

type StatusFunc func() Status

const shutdownTimeout = 5 * time.Second

// HTTP side door for operators: /metrics and /status
type Server struct {
	httpServer *http.Server
	status     StatusFunc
}

func NewServer(httpAddr string, status StatusFunc) *Server {
	s := &Server{status: status}
	s.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.status())
}

// serves until Stop or until ctx ends; the listener is bound before
// returning an error so a busy address fails fast
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP gateway: %w", err)
	}

	served := make(chan struct{})
	defer close(served)
	go func() {
		select {
		case <-ctx.Done():
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = s.httpServer.Shutdown(sctx)
		case <-served:
		}
	}()

	if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP gateway failed: %w", err)
	}

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
