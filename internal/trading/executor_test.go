package trading

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sorare-trading-bot/internal/alerting"
	"sorare-trading-bot/internal/guard"
	"sorare-trading-bot/internal/history"
	"sorare-trading-bot/internal/metrics"
	"sorare-trading-bot/internal/model"
	"sorare-trading-bot/internal/storage"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type fakeMarket struct {
	mu       sync.Mutex
	listings map[model.AssetKey][]model.Listing
	floors   map[model.AssetKey]decimal.Decimal
	offers   []model.Offer
	cards    map[string]model.Card

	listingCalls []model.AssetKey
	bought       []model.Listing
	listed       map[string]decimal.Decimal
	accepted     []string

	listErr error
	buyErr  error
	onBuy   func()
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		listings: make(map[model.AssetKey][]model.Listing),
		floors:   make(map[model.AssetKey]decimal.Decimal),
		cards:    make(map[string]model.Card),
		listed:   make(map[string]decimal.Decimal),
	}
}

func (m *fakeMarket) Listings(_ context.Context, key model.AssetKey) ([]model.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listingCalls = append(m.listingCalls, key)
	return m.listings[key], nil
}

func (m *fakeMarket) FloorPrice(_ context.Context, key model.AssetKey) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	floor, ok := m.floors[key]
	if !ok {
		return decimal.Decimal{}, errors.New("no floor")
	}
	return floor, nil
}

func (m *fakeMarket) Buy(_ context.Context, l model.Listing) (string, error) {
	m.mu.Lock()
	if m.buyErr != nil {
		m.mu.Unlock()
		return "", m.buyErr
	}
	m.bought = append(m.bought, l)
	hook := m.onBuy
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	return "0xbuy-" + l.CardID, nil
}

func (m *fakeMarket) CreateListing(_ context.Context, cardID string, price decimal.Decimal) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return "", m.listErr
	}
	m.listed[cardID] = price
	return "listing-" + cardID, nil
}

func (m *fakeMarket) ReceivedOffers(context.Context) ([]model.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offers, nil
}

func (m *fakeMarket) AcceptOffer(_ context.Context, offerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accepted = append(m.accepted, offerID)
	return "0xsale-" + offerID, nil
}

func (m *fakeMarket) Card(_ context.Context, cardID string) (model.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	card, ok := m.cards[cardID]
	if !ok {
		return model.Card{}, fmt.Errorf("card %s not found", cardID)
	}
	return card, nil
}

type fakeLog struct {
	mu      sync.Mutex
	records []model.TransactionRecord
}

func (l *fakeLog) AppendTransaction(_ context.Context, rec model.TransactionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

func (l *fakeLog) LatestPurchase(_ context.Context, cardID string) (model.TransactionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.records) - 1; i >= 0; i-- {
		if r := l.records[i]; r.CardID == cardID && r.Kind == model.KindPurchase {
			return r, nil
		}
	}
	return model.TransactionRecord{}, storage.ErrNotFound
}

func (l *fakeLog) byKind(kind model.TransactionKind) []model.TransactionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.TransactionRecord
	for _, r := range l.records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

type fakeWatch []model.Asset

func (w fakeWatch) ListWatch(context.Context) ([]model.Asset, error) { return w, nil }

type fakePrefs struct {
	favorites []model.FavoriteSerial
	jersey    model.JerseyMintPreference
}

func (p fakePrefs) ListFavoriteSerials(context.Context) ([]model.FavoriteSerial, error) {
	return p.favorites, nil
}

func (p fakePrefs) JerseyMint(context.Context) (model.JerseyMintPreference, error) {
	return p.jersey, nil
}

// fakePriority maps player id to rarity.
type fakePriority map[string]string

func (p fakePriority) Contains(playerID string) bool {
	_, ok := p[playerID]
	return ok
}

func (fakePriority) Refresh() (bool, error) { return false, nil }

// reloadingPriority swaps in next on the first Refresh.
type reloadingPriority struct {
	fakePriority
	next      fakePriority
	refreshes int
}

func (p *reloadingPriority) Refresh() (bool, error) {
	p.refreshes++
	if p.next == nil {
		return false, nil
	}
	p.fakePriority, p.next = p.next, nil
	return true, nil
}

func (p fakePriority) Assets() []model.Asset {
	out := make([]model.Asset, 0, len(p))
	for id, rarity := range p {
		out = append(out, model.Asset{PlayerID: id, Rarity: rarity})
	}
	return out
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n alerting.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recordingNotifier) count(kind alerting.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, note := range r.notes {
		if note.Kind == kind {
			n++
		}
	}
	return n
}

type fixture struct {
	exec      *Executor
	market    *fakeMarket
	log       *fakeLog
	tracker   *history.Tracker
	emergency *guard.EmergencyStop
	spending  *guard.SpendingGuard
	limiter   *guard.RateLimiter
	notes     *recordingNotifier
}

type fixtureOpts struct {
	watch    fakeWatch
	priority PriorityList
	prefs    fakePrefs
	maxRate  int
}

func newFixture(t *testing.T, o fixtureOpts) *fixture {
	t.Helper()
	logger := zerolog.Nop()

	emergency, err := guard.NewEmergencyStop(t.TempDir(), time.Second, logger)
	if err != nil {
		t.Fatalf("emergency stop: %v", err)
	}
	if o.maxRate == 0 {
		o.maxRate = 5
	}
	if o.priority == nil {
		o.priority = fakePriority{}
	}
	spending := guard.NewSpendingGuard(guard.Limits{
		MaxSingle:          d("2"),
		MaxDaily:           d("10"),
		MaxWeekly:          d("20"),
		HighValueThreshold: d("5"),
	}, guard.NewMemoryLedger(), logger)

	var (
		clockMu sync.Mutex
		clock   = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		ids     int
	)
	f := &fixture{
		market:    newFakeMarket(),
		log:       &fakeLog{},
		tracker:   history.NewTracker(history.NewMemoryStore(), logger),
		emergency: emergency,
		spending:  spending,
		limiter:   guard.NewRateLimiter(o.maxRate),
		notes:     &recordingNotifier{},
	}
	exec, err := New(Deps{
		Market:       f.market,
		Transactions: f.log,
		Watchlist:    o.watch,
		Preferences:  o.prefs,
		Priority:     o.priority,
		History:      f.tracker,
		Emergency:    emergency,
		RateLimiter:  f.limiter,
		Spending:     spending,
		Notifier:     f.notes,
		Metrics:      metrics.New(),
	}, Options{
		Now: func() time.Time {
			clockMu.Lock()
			defer clockMu.Unlock()
			clock = clock.Add(time.Second)
			return clock
		},
		NewID: func() string {
			clockMu.Lock()
			defer clockMu.Unlock()
			ids++
			return fmt.Sprintf("id-%d", ids)
		},
	}, logger)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	f.exec = exec
	return f
}

func listing(card, player, price string) model.Listing {
	return model.Listing{CardID: card, PlayerID: player, Rarity: "limited", Price: d(price), Serial: 42, SerialCount: 1000}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Deps{}, Options{}, zerolog.Nop()); err == nil {
		t.Fatal("missing dependencies should fail")
	}
}

func TestStandardScanBuysUndervaluedCard(t *testing.T) {
	key := model.AssetKey{PlayerID: "p1", Rarity: "limited"}
	f := newFixture(t, fixtureOpts{watch: fakeWatch{{PlayerID: "p1", Rarity: "limited"}}})
	f.market.floors[key] = d("1.000")
	f.market.listings[key] = []model.Listing{
		listing("c1", "p1", "0.840"),
		listing("c2", "p1", "0.850"),
	}

	if err := f.exec.StandardScan(context.Background()); err != nil {
		t.Fatalf("standard scan: %v", err)
	}

	if len(f.market.bought) != 1 || f.market.bought[0].CardID != "c1" {
		t.Fatalf("expected only c1 bought, got %+v", f.market.bought)
	}
	if got := f.market.listed["c1"]; !got.Equal(d("0.882")) {
		t.Fatalf("listed at %s, want 0.882", got)
	}

	purchases := f.log.byKind(model.KindPurchase)
	if len(purchases) != 1 || !purchases[0].Amount.Equal(d("0.840")) || purchases[0].Reference != "0xbuy-c1" {
		t.Fatalf("unexpected purchase records: %+v", purchases)
	}
	listings := f.log.byKind(model.KindListing)
	if len(listings) != 1 || !listings[0].Amount.Equal(d("0.882")) || listings[0].Reference != "listing-c1" {
		t.Fatalf("unexpected listing records: %+v", listings)
	}

	daily, _, err := f.spending.Remaining(context.Background())
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if !daily.Equal(d("9.16")) {
		t.Fatalf("daily remaining = %s, want 9.16", daily)
	}
	if f.notes.count(alerting.KindPurchase) != 1 {
		t.Fatal("expected one purchase notification")
	}
	if f.notes.count(alerting.KindGap) != 0 {
		t.Fatal("no gap expected")
	}
}

func TestStandardScanSkipsHighPriorityPlayers(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		watch:    fakeWatch{{PlayerID: "p1", Rarity: "limited"}, {PlayerID: "p2", Rarity: "rare"}},
		priority: fakePriority{"p2": "rare"},
	})

	if err := f.exec.StandardScan(context.Background()); err != nil {
		t.Fatalf("standard scan: %v", err)
	}
	for _, k := range f.market.listingCalls {
		if k.PlayerID == "p2" {
			t.Fatal("high-priority player must not be scanned by the standard cycle")
		}
	}
	if len(f.market.listingCalls) != 1 {
		t.Fatalf("listing calls = %v", f.market.listingCalls)
	}
}

func TestHighPriorityScanBuysBelowAverage(t *testing.T) {
	ctx := context.Background()
	key := model.AssetKey{PlayerID: "p1", Rarity: "limited"}
	f := newFixture(t, fixtureOpts{priority: fakePriority{"p1": "limited"}})

	base := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := f.tracker.RecordSale(ctx, key, d("0.500"), base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("seed history: %v", err)
		}
	}
	f.market.listings[key] = []model.Listing{
		listing("c2", "p1", "0.480"),
		listing("c1", "p1", "0.450"),
	}

	if err := f.exec.HighPriorityScan(ctx); err != nil {
		t.Fatalf("high-priority scan: %v", err)
	}

	if len(f.market.bought) != 1 || f.market.bought[0].CardID != "c1" {
		t.Fatalf("expected lowest card bought, got %+v", f.market.bought)
	}
	if got := f.market.listed["c1"]; !got.Equal(d("0.500")) {
		t.Fatalf("relisted at %s, want 0.500", got)
	}

	sales, err := f.tracker.History(ctx, key)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(sales) != history.MaxEntries || !sales[0].Price.Equal(d("0.450")) {
		t.Fatalf("purchase should be the newest sale: %+v", sales)
	}
}

func TestHighPriorityScanIgnoresCardsAtAverage(t *testing.T) {
	ctx := context.Background()
	key := model.AssetKey{PlayerID: "p1", Rarity: "limited"}
	f := newFixture(t, fixtureOpts{priority: fakePriority{"p1": "limited"}})

	base := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_ = f.tracker.RecordSale(ctx, key, d("0.500"), base.Add(time.Duration(i)*time.Hour))
	}
	f.market.listings[key] = []model.Listing{listing("c1", "p1", "0.500")}

	if err := f.exec.HighPriorityScan(ctx); err != nil {
		t.Fatalf("high-priority scan: %v", err)
	}
	if len(f.market.bought) != 0 {
		t.Fatalf("card at the average must not be bought: %+v", f.market.bought)
	}
}

func TestHighPriorityScanBootstrapsFromFloor(t *testing.T) {
	ctx := context.Background()
	key := model.AssetKey{PlayerID: "p1", Rarity: "limited"}
	f := newFixture(t, fixtureOpts{priority: fakePriority{"p1": "limited"}})
	f.market.floors[key] = d("1.000")
	f.market.listings[key] = []model.Listing{
		listing("c1", "p1", "0.840"),
		listing("c2", "p1", "0.950"),
	}

	if err := f.exec.HighPriorityScan(ctx); err != nil {
		t.Fatalf("high-priority scan: %v", err)
	}

	if len(f.market.bought) != 1 || f.market.bought[0].CardID != "c1" {
		t.Fatalf("standard rule should buy c1 only, got %+v", f.market.bought)
	}
	if got := f.market.listed["c1"]; !got.Equal(d("0.882")) {
		t.Fatalf("listed at %s, want 0.882", got)
	}

	sales, err := f.tracker.History(ctx, key)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(sales) != 2 {
		t.Fatalf("expected floor and purchase in history, got %+v", sales)
	}
	if !sales[0].Price.Equal(d("0.840")) || !sales[1].Price.Equal(d("1.000")) {
		t.Fatalf("unexpected history order: %+v", sales)
	}
}

func TestReconcileOffers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{priority: fakePriority{"p1": "limited"}})
	_ = f.log.AppendTransaction(ctx, model.TransactionRecord{ID: "seed", CardID: "c1", Kind: model.KindPurchase, Amount: d("1.000")})
	f.market.cards["c1"] = model.Card{ID: "c1", PlayerID: "p1", Rarity: "limited"}

	now := time.Now()
	f.market.offers = []model.Offer{
		{ID: "low", CardID: "c1", Price: d("0.90")},
		{ID: "expired", CardID: "c1", Price: d("1.50"), ExpiresAt: now.Add(-24 * time.Hour * 365 * 10)},
		{ID: "unknown", CardID: "c9", Price: d("5")},
		{ID: "good", CardID: "c1", Price: d("0.96")},
	}

	if err := f.exec.ReconcileOffers(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if len(f.market.accepted) != 1 || f.market.accepted[0] != "good" {
		t.Fatalf("accepted = %v, want [good]", f.market.accepted)
	}
	sales := f.log.byKind(model.KindSale)
	if len(sales) != 1 || !sales[0].Amount.Equal(d("0.96")) || sales[0].Reference != "0xsale-good" {
		t.Fatalf("unexpected sale records: %+v", sales)
	}

	avg, err := f.tracker.AverageOfLast(ctx, model.AssetKey{PlayerID: "p1", Rarity: "limited"}, 1)
	if err != nil || !avg.Equal(d("0.96")) {
		t.Fatalf("sale should be appended to history: %s %v", avg, err)
	}
}

func TestEmergencyDuringTradeLeavesGap(t *testing.T) {
	key := model.AssetKey{PlayerID: "p1", Rarity: "limited"}
	f := newFixture(t, fixtureOpts{watch: fakeWatch{{PlayerID: "p1", Rarity: "limited"}}})
	f.market.floors[key] = d("1.000")
	f.market.listings[key] = []model.Listing{listing("c1", "p1", "0.500"), listing("c2", "p1", "0.600")}
	f.market.onBuy = func() {
		if err := f.emergency.Trigger("operator halt"); err != nil {
			t.Errorf("trigger: %v", err)
		}
	}

	if err := f.exec.StandardScan(context.Background()); err != nil {
		t.Fatalf("standard scan: %v", err)
	}

	if len(f.market.bought) != 1 {
		t.Fatalf("only the in-flight purchase may complete, got %+v", f.market.bought)
	}
	if len(f.market.listed) != 0 {
		t.Fatal("no listing may be created after the emergency stop")
	}
	if len(f.log.byKind(model.KindPurchase)) != 1 {
		t.Fatal("the executed purchase must still be recorded")
	}
	if f.notes.count(alerting.KindGap) != 1 {
		t.Fatalf("expected one gap notification, got %+v", f.notes.notes)
	}
}

func TestListingFailureLeavesGap(t *testing.T) {
	key := model.AssetKey{PlayerID: "p1", Rarity: "limited"}
	f := newFixture(t, fixtureOpts{watch: fakeWatch{{PlayerID: "p1", Rarity: "limited"}}})
	f.market.floors[key] = d("1.000")
	f.market.listings[key] = []model.Listing{listing("c1", "p1", "0.500")}
	f.market.listErr = errors.New("listing rejected")

	if err := f.exec.StandardScan(context.Background()); err != nil {
		t.Fatalf("standard scan: %v", err)
	}
	if len(f.log.byKind(model.KindPurchase)) != 1 || len(f.log.byKind(model.KindListing)) != 0 {
		t.Fatalf("unexpected records: %+v", f.log.records)
	}
	if f.notes.count(alerting.KindGap) != 1 {
		t.Fatal("listing failure should raise a gap")
	}
	daily, _, _ := f.spending.Remaining(context.Background())
	if !daily.Equal(d("9.5")) {
		t.Fatalf("spend must be recorded despite the gap, daily remaining %s", daily)
	}
}

func TestCycleSkippedWhileEmergencyActive(t *testing.T) {
	f := newFixture(t, fixtureOpts{watch: fakeWatch{{PlayerID: "p1", Rarity: "limited"}}})
	if err := f.emergency.Trigger("halt"); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	for _, run := range []func(context.Context) error{f.exec.StandardScan, f.exec.HighPriorityScan, f.exec.ReconcileOffers} {
		if err := run(context.Background()); err != nil {
			t.Fatalf("skipped cycle should not fail: %v", err)
		}
	}
	if len(f.market.listingCalls) != 0 {
		t.Fatal("no market calls expected while stopped")
	}
}

func TestRateLimitCapsPurchases(t *testing.T) {
	key := model.AssetKey{PlayerID: "p1", Rarity: "limited"}
	f := newFixture(t, fixtureOpts{watch: fakeWatch{{PlayerID: "p1", Rarity: "limited"}}, maxRate: 1})
	f.market.floors[key] = d("1.000")
	f.market.listings[key] = []model.Listing{listing("c1", "p1", "0.500"), listing("c2", "p1", "0.600")}

	if err := f.exec.StandardScan(context.Background()); err != nil {
		t.Fatalf("standard scan: %v", err)
	}
	if len(f.market.bought) != 1 || f.market.bought[0].CardID != "c1" {
		t.Fatalf("rate limit should allow a single purchase, got %+v", f.market.bought)
	}
}

func TestSpendingCeilingBlocksPurchase(t *testing.T) {
	key := model.AssetKey{PlayerID: "p1", Rarity: "limited"}
	f := newFixture(t, fixtureOpts{watch: fakeWatch{{PlayerID: "p1", Rarity: "limited"}}})
	f.market.floors[key] = d("10")
	f.market.listings[key] = []model.Listing{listing("c1", "p1", "2.5")}

	if err := f.exec.StandardScan(context.Background()); err != nil {
		t.Fatalf("standard scan: %v", err)
	}
	if len(f.market.bought) != 0 {
		t.Fatalf("purchase above the single ceiling must not run: %+v", f.market.bought)
	}
	if len(f.log.records) != 0 {
		t.Fatal("nothing should be recorded")
	}
}

func TestSpecialCardNotifications(t *testing.T) {
	key := model.AssetKey{PlayerID: "p1", Rarity: "limited"}
	maxPrice := d("3")
	f := newFixture(t, fixtureOpts{
		watch: fakeWatch{{PlayerID: "p1", Rarity: "limited"}},
		prefs: fakePrefs{
			favorites: []model.FavoriteSerial{{Serial: 10}},
			jersey:    model.JerseyMintPreference{Enabled: true, MaxPrice: &maxPrice},
		},
	})
	jersey := 7
	f.market.floors[key] = d("1")
	f.market.listings[key] = []model.Listing{
		{CardID: "fav", PlayerID: "p1", Rarity: "limited", Price: d("2"), Serial: 10, SerialCount: 1000},
		{CardID: "jersey", PlayerID: "p1", Rarity: "limited", Price: d("2"), Serial: 7, SerialCount: 1000, JerseyNumber: &jersey},
		{CardID: "pricey", PlayerID: "p1", Rarity: "limited", Price: d("4"), Serial: 7, SerialCount: 1000, JerseyNumber: &jersey},
	}

	if err := f.exec.StandardScan(context.Background()); err != nil {
		t.Fatalf("standard scan: %v", err)
	}
	if got := f.notes.count(alerting.KindSpecialCard); got != 2 {
		t.Fatalf("special notifications = %d, want 2 (%+v)", got, f.notes.notes)
	}
	if len(f.market.bought) != 0 {
		t.Fatal("none of the cards are undervalued")
	}
}

func TestFailedBuyKeepsBudgetAndUsesReservation(t *testing.T) {
	ctx := context.Background()
	key := model.AssetKey{PlayerID: "p1", Rarity: "limited"}
	f := newFixture(t, fixtureOpts{watch: fakeWatch{{PlayerID: "p1", Rarity: "limited"}}})
	f.market.floors[key] = d("1.000")
	f.market.listings[key] = []model.Listing{listing("c1", "p1", "0.840")}
	f.market.buyErr = errors.New("marketplace unavailable")

	dailyBefore, weeklyBefore, err := f.spending.Remaining(ctx)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	countBefore := f.limiter.Count()

	if err := f.exec.StandardScan(ctx); err != nil {
		t.Fatalf("standard scan: %v", err)
	}

	daily, weekly, err := f.spending.Remaining(ctx)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if !daily.Equal(dailyBefore) || !weekly.Equal(weeklyBefore) {
		t.Fatalf("budget changed after failed buy: daily %s -> %s, weekly %s -> %s", dailyBefore, daily, weeklyBefore, weekly)
	}
	if recs := f.log.byKind(model.KindPurchase); len(recs) != 0 {
		t.Fatalf("no purchase should be recorded: %+v", recs)
	}
	if len(f.market.listed) != 0 {
		t.Fatalf("nothing should be listed: %+v", f.market.listed)
	}
	if got := f.limiter.Count(); got != countBefore+1 {
		t.Fatalf("reservations = %d, want %d", got, countBefore+1)
	}
	if f.notes.count(alerting.KindGap) != 0 {
		t.Fatal("a failed buy is not a gap")
	}
}

func TestEmergencyDuringApprovalBlocksBuy(t *testing.T) {
	ctx := context.Background()
	key := model.AssetKey{PlayerID: "p1", Rarity: "limited"}
	f := newFixture(t, fixtureOpts{watch: fakeWatch{{PlayerID: "p1", Rarity: "limited"}}})
	f.market.floors[key] = d("1.000")
	f.market.listings[key] = []model.Listing{listing("c1", "p1", "0.840")}

	// The policy triggers the stop while the purchase waits for approval.
	spending := guard.NewSpendingGuard(guard.Limits{
		MaxSingle:          d("2"),
		MaxDaily:           d("10"),
		MaxWeekly:          d("20"),
		HighValueThreshold: d("0.5"),
	}, guard.NewMemoryLedger(), zerolog.Nop(), guard.WithApprovalPolicy(guard.ApprovalFunc(
		func(context.Context, guard.ApprovalRequest) (bool, error) {
			if err := f.emergency.Trigger("halt during approval"); err != nil {
				t.Errorf("trigger: %v", err)
			}
			return true, nil
		})))
	f.exec.deps.Spending = spending

	if err := f.exec.StandardScan(ctx); err != nil {
		t.Fatalf("standard scan: %v", err)
	}
	if len(f.market.bought) != 0 {
		t.Fatalf("buy must not run once the stop is active: %+v", f.market.bought)
	}
	daily, _, _ := spending.Remaining(ctx)
	if !daily.Equal(d("10")) {
		t.Fatalf("daily remaining = %s, want 10", daily)
	}
}

func TestCycleRefreshesPriorityList(t *testing.T) {
	key := model.AssetKey{PlayerID: "p1", Rarity: "limited"}
	prio := &reloadingPriority{fakePriority: fakePriority{}, next: fakePriority{"p1": "limited"}}
	f := newFixture(t, fixtureOpts{watch: fakeWatch{{PlayerID: "p1", Rarity: "limited"}}, priority: prio})
	f.market.floors[key] = d("1.000")
	f.market.listings[key] = []model.Listing{listing("c1", "p1", "0.840")}

	if err := f.exec.StandardScan(context.Background()); err != nil {
		t.Fatalf("standard scan: %v", err)
	}
	if prio.refreshes != 1 {
		t.Fatalf("refreshes = %d, want 1", prio.refreshes)
	}
	if len(f.market.listingCalls) != 0 || len(f.market.bought) != 0 {
		t.Fatalf("a player made high priority by the refresh must not be scanned by the standard rule: %+v", f.market.listingCalls)
	}
}
