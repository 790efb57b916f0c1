package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sorare-trading-bot/internal/config"
	"sorare-trading-bot/internal/guard"
	"sorare-trading-bot/internal/model"
	"sorare-trading-bot/internal/storage"
)

func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Database:  config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(dir, "bot.db")},
		Priority:  config.PriorityConfig{File: filepath.Join(dir, "high_priority_players.txt")},
		Emergency: config.EmergencyConfig{Dir: filepath.Join(dir, "emergency"), PollInterval: time.Second},
		Export:    config.ExportConfig{MaxRows: 100},
		Spending: config.SpendingConfig{
			MaxSingle:          decimal.RequireFromString("0.5"),
			MaxDaily:           decimal.RequireFromString("1"),
			MaxWeekly:          decimal.RequireFromString("3"),
			HighValueThreshold: decimal.RequireFromString("0.25"),
			ApprovalMode:       "deny",
		},
	}
	out := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop())
	a.Out = out
	return a, out
}

func TestWatchlistCommands(t *testing.T) {
	ctx := context.Background()
	a, out := newTestApp(t)

	if err := a.WatchAdd(ctx, model.Asset{PlayerID: "kylian-mbappe", Name: "Kylian Mbappé", Rarity: "Limited"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := a.WatchAdd(ctx, model.Asset{PlayerID: "", Rarity: "rare"}); err == nil {
		t.Fatal("empty player id should fail")
	}

	out.Reset()
	if err := a.WatchList(ctx); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out.String(), "kylian-mbappe") || !strings.Contains(out.String(), "limited") {
		t.Fatalf("unexpected list output:\n%s", out.String())
	}

	out.Reset()
	if err := a.WatchRemove(ctx, model.AssetKey{PlayerID: "kylian-mbappe", Rarity: "limited"}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	out.Reset()
	_ = a.WatchList(ctx)
	if !strings.Contains(out.String(), "watchlist is empty") {
		t.Fatalf("watchlist should be empty:\n%s", out.String())
	}
}

func TestPriorityCommands(t *testing.T) {
	ctx := context.Background()
	a, out := newTestApp(t)

	if err := a.PriorityAdd("p1", "RARE"); err != nil {
		t.Fatalf("add: %v", err)
	}
	out.Reset()
	if err := a.PriorityList(); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out.String(), "p1") || !strings.Contains(out.String(), "rare") {
		t.Fatalf("unexpected list output:\n%s", out.String())
	}

	err := a.withRepository(ctx, func(repo storage.Repository) error {
		key := model.AssetKey{PlayerID: "p1", Rarity: "rare"}
		base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
		for i, price := range []string{"0.1", "0.2", "0.3"} {
			sale := model.Sale{Price: decimal.RequireFromString(price), RecordedAt: base.Add(time.Duration(i) * time.Hour)}
			if err := repo.AppendSale(ctx, key, sale, 5); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed sales: %v", err)
	}

	out.Reset()
	if err := a.PriorityHistory(ctx, "p1"); err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out.String(), "average of 3: 0.2 ETH") {
		t.Fatalf("unexpected history output:\n%s", out.String())
	}
	if err := a.PriorityHistory(ctx, "unknown"); err == nil {
		t.Fatal("history of a non priority player should fail")
	}

	out.Reset()
	if err := a.PriorityRemove("p1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !strings.Contains(out.String(), "removed p1") {
		t.Fatalf("unexpected remove output: %s", out.String())
	}
}

func TestSerialAndJerseyCommands(t *testing.T) {
	ctx := context.Background()
	a, out := newTestApp(t)

	if err := a.SerialAdd(ctx, model.FavoriteSerial{Serial: 7, Rarity: "Rare"}); err != nil {
		t.Fatalf("add serial: %v", err)
	}
	if err := a.SerialAdd(ctx, model.FavoriteSerial{Serial: 0}); err == nil {
		t.Fatal("zero serial should fail")
	}
	out.Reset()
	if err := a.SerialList(ctx); err != nil {
		t.Fatalf("list serials: %v", err)
	}
	if !strings.Contains(out.String(), "#7 (rare)") {
		t.Fatalf("unexpected serial output: %s", out.String())
	}

	if err := a.JerseyEnable(ctx, true); err != nil {
		t.Fatalf("jersey on: %v", err)
	}
	price := decimal.RequireFromString("0.3")
	if err := a.JerseyMaxPrice(ctx, &price); err != nil {
		t.Fatalf("jersey price: %v", err)
	}
	out.Reset()
	if err := a.JerseyStatus(ctx); err != nil {
		t.Fatalf("jersey status: %v", err)
	}
	if !strings.Contains(out.String(), "notifications: on") || !strings.Contains(out.String(), "max price: 0.3 ETH") {
		t.Fatalf("unexpected jersey output: %s", out.String())
	}
}

func TestEmergencyCommands(t *testing.T) {
	a, out := newTestApp(t)

	if err := a.EmergencyStop(" ", false); err == nil {
		t.Fatal("blank reason should fail")
	}
	if err := a.EmergencyStop("manual halt", false); err != nil {
		t.Fatalf("stop: %v", err)
	}

	out.Reset()
	if err := a.EmergencyStatus(); err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out.String(), "ACTIVE") || !strings.Contains(out.String(), "manual halt") {
		t.Fatalf("unexpected status output: %s", out.String())
	}

	if err := a.EmergencyClear(false); !errors.Is(err, guard.ErrMarkerPresent) {
		t.Fatalf("clear without force should fail with the marker present, got %v", err)
	}
	if err := a.EmergencyClear(true); err != nil {
		t.Fatalf("forced clear: %v", err)
	}
	if _, err := os.Stat(filepath.Join(a.Config.Emergency.Dir, guard.MarkerFile)); !os.IsNotExist(err) {
		t.Fatalf("marker should be gone: %v", err)
	}
}

func seedTransactions(t *testing.T, a *App) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	recs := []model.TransactionRecord{
		{ID: "1", CardID: "c1", Kind: model.KindPurchase, Amount: decimal.RequireFromString("0.84"), Reference: "0xaa", CreatedAt: now.Add(-3 * time.Hour)},
		{ID: "2", CardID: "c1", Kind: model.KindListing, Amount: decimal.RequireFromString("0.882"), Reference: "l-1", CreatedAt: now.Add(-3 * time.Hour).Add(time.Second)},
		{ID: "3", CardID: "c2", Kind: model.KindPurchase, Amount: decimal.RequireFromString("0.5"), Reference: "0xbb", CreatedAt: now.Add(-30 * time.Minute)},
		{ID: "4", CardID: "c1", Kind: model.KindSale, Amount: decimal.RequireFromString("0.9"), Reference: "0xcc", CreatedAt: now.Add(-10 * time.Minute)},
	}
	err := a.withRepository(ctx, func(repo storage.Repository) error {
		for _, rec := range recs {
			if err := repo.AppendTransaction(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed transactions: %v", err)
	}
}

func TestTransactionsCommand(t *testing.T) {
	a, out := newTestApp(t)
	seedTransactions(t, a)

	if err := a.Transactions(context.Background(), TransactionsOptions{Limit: 2}); err != nil {
		t.Fatalf("transactions: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got:\n%s", out.String())
	}
	if !strings.Contains(lines[1], "sale") || !strings.Contains(lines[1], "0.900000") {
		t.Fatalf("newest transaction should come first:\n%s", out.String())
	}
}

func TestPreloadRateWindowCountsTradesOnly(t *testing.T) {
	a, _ := newTestApp(t)
	seedTransactions(t, a)

	limiter := guard.NewRateLimiter(5)
	err := a.withRepository(context.Background(), func(repo storage.Repository) error {
		return a.preloadRateWindow(context.Background(), repo, limiter)
	})
	if err != nil {
		t.Fatalf("preload: %v", err)
	}
	if got := limiter.Count(); got != 2 {
		t.Fatalf("reservations = %d, want 2 (purchase and sale within the hour)", got)
	}
}

func TestExportCSV(t *testing.T) {
	a, _ := newTestApp(t)
	seedTransactions(t, a)

	path := filepath.Join(t.TempDir(), "out", "transactions.csv")
	if err := a.Export(context.Background(), ExportOptions{CSVPath: path}); err != nil {
		t.Fatalf("export: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected header and 4 rows, got %d", len(rows))
	}
	if rows[1][1] != "purchase" || rows[1][3] != "0.84" || rows[4][1] != "sale" {
		t.Fatalf("rows should be oldest first: %v", rows)
	}
}

func TestExportRequiresOutput(t *testing.T) {
	a, _ := newTestApp(t)
	if err := a.Export(context.Background(), ExportOptions{}); err == nil {
		t.Fatal("export without outputs should fail")
	}
}

func TestSpendingGuardFromConfig(t *testing.T) {
	a, _ := newTestApp(t)
	g := a.newSpendingGuard(guard.NewMemoryLedger())

	decision, err := g.Authorize(context.Background(), "x", decimal.RequireFromString("0.3"), "high value")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if decision != guard.RejectedHighValueNotApproved {
		t.Fatalf("deny mode should reject high value purchases, got %s", decision)
	}
}

func TestRunRequiresMarketplaceToken(t *testing.T) {
	a, _ := newTestApp(t)
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("run without marketplace settings should fail")
	}
}

func TestEmergencyStopNotifiesOnlyWhenAsked(t *testing.T) {
	var sent atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sent.Add(1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	a, _ := newTestApp(t)
	a.Config.Alerting = config.AlertingConfig{
		Enabled: true,
		Telegram: config.TelegramConfig{
			Enabled:  true,
			BotToken: "token",
			ChatID:   "42",
			APIBase:  srv.URL,
			Timeout:  time.Second,
		},
	}

	if err := a.EmergencyStop("daemon will notify", false); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := sent.Load(); got != 0 {
		t.Fatalf("notifications sent = %d, want 0", got)
	}

	if err := a.EmergencyClear(true); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := a.EmergencyStop("no daemon running", true); err != nil {
		t.Fatalf("stop with notify: %v", err)
	}
	if got := sent.Load(); got != 1 {
		t.Fatalf("notifications sent = %d, want 1", got)
	}
}

func TestEmergencyStopPickedUpByPoller(t *testing.T) {
	a, _ := newTestApp(t)
	var hooks atomic.Int32
	daemon, err := a.openEmergency(guard.WithActivationHook(func(guard.EmergencyStatus) { hooks.Add(1) }))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go daemon.Run(ctx)

	if err := a.EmergencyStop("from the cli", false); err != nil {
		t.Fatalf("stop: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !daemon.Active() && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if !daemon.Active() {
		t.Fatal("daemon should pick up the marker")
	}
	if got := hooks.Load(); got != 1 {
		t.Fatalf("daemon activation hooks = %d, want 1", got)
	}
}
