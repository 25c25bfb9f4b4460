package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/veris-memory/mcp-server/internal/metrics"
)

// startOpsListener binds the optional operational HTTP surface described
// in SPEC_FULL.md's §4.K expansion: GET /healthz (the §4.J aggregate
// report) and GET /metrics (the Prometheus text-exposition facade over
// the same in-memory series). It is ambient ops tooling, not part of the
// MCP tool surface, and is only started when addr is non-empty.
func (s *Server) startOpsListener(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/metrics", s.handleMetrics)

	srv := &http.Server{Addr: addr, Handler: mux}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.opsMu.Lock()
	s.opsSrv = srv
	s.opsMu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Warn("ops listener exited", "error", err.Error())
		}
	}()
	return nil
}

func (s *Server) stopOpsListener(ctx context.Context) {
	s.opsMu.Lock()
	srv := s.opsSrv
	s.opsMu.Unlock()
	if srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("ops listener shutdown error", "error", err.Error())
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	report := s.healthRegistry.RunAll(r.Context())

	status := http.StatusOK
	if report.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(report)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	aggs, _ := s.latestAggregates.Load().([]metrics.Aggregated)
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(metrics.Expose(aggs)))
}
