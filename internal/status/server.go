// Package status serves the read-only health, status and metrics endpoint.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"sorare-trading-bot/internal/guard"
	"sorare-trading-bot/internal/metrics"
	"sorare-trading-bot/internal/version"
)

// Sources are the components the status report reads from.
type Sources struct {
	Emergency   *guard.EmergencyStop
	RateLimiter *guard.RateLimiter
	Spending    *guard.SpendingGuard
	Metrics     *metrics.Metrics
}

// Report is the /status payload.
type Report struct {
	Version         string                `json:"version"`
	Timestamp       time.Time             `json:"timestamp"`
	Emergency       guard.EmergencyStatus `json:"emergency"`
	TradesLastHour  int                   `json:"trades_last_hour"`
	TradeLimit      int                   `json:"trade_limit"`
	RemainingDaily  string                `json:"remaining_daily_eth"`
	RemainingWeekly string                `json:"remaining_weekly_eth"`
	BudgetError     string                `json:"budget_error,omitempty"`
}

// Server exposes the status endpoint.
type Server struct {
	addr    string
	sources Sources
	router  *mux.Router
	logger  zerolog.Logger
}

// NewServer builds the router.
func NewServer(addr string, sources Sources, logger zerolog.Logger) *Server {
	s := &Server{addr: addr, sources: sources, logger: logger.With().Str("component", "status_server").Logger()}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.getHealth).Methods(http.MethodGet)
	router.HandleFunc("/status", s.getStatus).Methods(http.MethodGet)
	router.Handle("/metrics", sources.Metrics.Handler()).Methods(http.MethodGet)
	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("status server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	report := Report{
		Version:   version.Version,
		Timestamp: time.Now().UTC(),
	}
	if s.sources.Emergency != nil {
		report.Emergency = s.sources.Emergency.Status()
	}
	if s.sources.RateLimiter != nil {
		report.TradesLastHour = s.sources.RateLimiter.Count()
		report.TradeLimit = s.sources.RateLimiter.Limit()
	}
	if s.sources.Spending != nil {
		daily, weekly, err := s.sources.Spending.Remaining(r.Context())
		if err != nil {
			s.logger.Warn().Err(err).Msg("read remaining budget")
			report.BudgetError = err.Error()
		} else {
			report.RemainingDaily = daily.String()
			report.RemainingWeekly = weekly.String()
		}
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
