package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sorare-trading-bot/internal/guard"
	"sorare-trading-bot/internal/metrics"
)

func newTestServer(t *testing.T) (*Server, *guard.EmergencyStop, *guard.RateLimiter) {
	t.Helper()
	emergency, err := guard.NewEmergencyStop(t.TempDir(), time.Second, zerolog.Nop())
	if err != nil {
		t.Fatalf("emergency stop: %v", err)
	}
	limiter := guard.NewRateLimiter(5)
	spending := guard.NewSpendingGuard(guard.Limits{
		MaxSingle:          decimal.RequireFromString("0.5"),
		MaxDaily:           decimal.RequireFromString("1"),
		MaxWeekly:          decimal.RequireFromString("3"),
		HighValueThreshold: decimal.RequireFromString("0.25"),
	}, guard.NewMemoryLedger(), zerolog.Nop())

	m := metrics.New()
	m.Trade("purchase")
	srv := NewServer(":0", Sources{Emergency: emergency, RateLimiter: limiter, Spending: spending, Metrics: m}, zerolog.Nop())
	return srv, emergency, limiter
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
}

func TestStatusReport(t *testing.T) {
	srv, emergency, limiter := newTestServer(t)
	limiter.TryReserve()
	limiter.TryReserve()
	if err := emergency.Trigger("manual halt"); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}

	var report Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !report.Emergency.Active || report.Emergency.Reason != "manual halt" {
		t.Fatalf("unexpected emergency state: %+v", report.Emergency)
	}
	if report.TradesLastHour != 2 || report.TradeLimit != 5 {
		t.Fatalf("unexpected rate window: %+v", report)
	}
	if report.RemainingDaily != "1" || report.RemainingWeekly != "3" {
		t.Fatalf("unexpected budget: %+v", report)
	}
}

func TestMetricsRoute(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `sorarebot_trades_total{kind="purchase"} 1`) {
		t.Fatalf("metrics not served: %s", rec.Body.String())
	}
}

func TestStatusRejectsWrites(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /status = %d, want 405", rec.Code)
	}
}
