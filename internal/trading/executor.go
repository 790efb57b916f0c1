// Package trading runs the buy, list and counter-offer cycles behind the safety gates.
package trading

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sorare-trading-bot/internal/alerting"
	"sorare-trading-bot/internal/guard"
	"sorare-trading-bot/internal/history"
	"sorare-trading-bot/internal/metrics"
	"sorare-trading-bot/internal/model"
	"sorare-trading-bot/internal/pricing"
)

// Cycle names, used for logs and metrics labels.
const (
	CycleStandard     = "standard_scan"
	CycleHighPriority = "high_priority_scan"
	CycleOffers       = "counter_offers"
)

const defaultPostTradeTimeout = 30 * time.Second

// Market is the marketplace surface the executor trades against.
type Market interface {
	Listings(ctx context.Context, key model.AssetKey) ([]model.Listing, error)
	FloorPrice(ctx context.Context, key model.AssetKey) (decimal.Decimal, error)
	Buy(ctx context.Context, listing model.Listing) (string, error)
	CreateListing(ctx context.Context, cardID string, price decimal.Decimal) (string, error)
	ReceivedOffers(ctx context.Context) ([]model.Offer, error)
	AcceptOffer(ctx context.Context, offerID string) (string, error)
	Card(ctx context.Context, cardID string) (model.Card, error)
}

// TransactionLog is the append-only trade record.
type TransactionLog interface {
	AppendTransaction(ctx context.Context, rec model.TransactionRecord) error
	LatestPurchase(ctx context.Context, cardID string) (model.TransactionRecord, error)
}

// Watchlist lists the assets covered by the standard scan.
type Watchlist interface {
	ListWatch(ctx context.Context) ([]model.Asset, error)
}

// Preferences exposes the special card settings.
type Preferences interface {
	ListFavoriteSerials(ctx context.Context) ([]model.FavoriteSerial, error)
	JerseyMint(ctx context.Context) (model.JerseyMintPreference, error)
}

// PriorityList is the set of high-priority players. Refresh picks up edits made by other
// processes and reports whether the set was reloaded.
type PriorityList interface {
	Contains(playerID string) bool
	Assets() []model.Asset
	Refresh() (bool, error)
}

// Deps wires the executor's collaborators. Notifier and Metrics are optional.
type Deps struct {
	Market       Market
	Transactions TransactionLog
	Watchlist    Watchlist
	Preferences  Preferences
	Priority     PriorityList
	History      *history.Tracker
	Emergency    *guard.EmergencyStop
	RateLimiter  *guard.RateLimiter
	Spending     *guard.SpendingGuard
	Notifier     alerting.Notifier
	Metrics      *metrics.Metrics
}

// Options carry the price rules.
type Options struct {
	Discount          decimal.Decimal
	Markup            decimal.Decimal
	CounterOfferFloor decimal.Decimal
	HistoryWindow     int
	// PostTradeTimeout bounds the bookkeeping that follows a buy or accept.
	PostTradeTimeout time.Duration
	Now              func() time.Time
	NewID            func() string
}

// Executor evaluates listings and offers and executes trades.
type Executor struct {
	deps      Deps
	evaluator pricing.Evaluator
	markup    decimal.Decimal
	floor     decimal.Decimal
	window    int
	postTrade time.Duration
	now       func() time.Time
	newID     func() string
	logger    zerolog.Logger
}

// New validates the dependencies and builds an executor.
func New(deps Deps, opts Options, logger zerolog.Logger) (*Executor, error) {
	switch {
	case deps.Market == nil:
		return nil, errors.New("trading: market client is required")
	case deps.Transactions == nil:
		return nil, errors.New("trading: transaction log is required")
	case deps.Watchlist == nil:
		return nil, errors.New("trading: watchlist is required")
	case deps.Preferences == nil:
		return nil, errors.New("trading: preferences are required")
	case deps.Priority == nil:
		return nil, errors.New("trading: priority list is required")
	case deps.History == nil:
		return nil, errors.New("trading: sales history is required")
	case deps.Emergency == nil || deps.RateLimiter == nil || deps.Spending == nil:
		return nil, errors.New("trading: emergency stop, rate limiter and spending guard are required")
	}
	if deps.Notifier == nil {
		deps.Notifier = alerting.Nop{}
	}

	markup := opts.Markup
	if !markup.IsPositive() {
		markup = pricing.DefaultMarkup
	}
	floor := opts.CounterOfferFloor
	if !floor.IsPositive() {
		floor = pricing.DefaultCounterOfferFloor
	}
	window := opts.HistoryWindow
	if window <= 0 || window > history.MaxEntries {
		window = history.MaxEntries
	}
	postTrade := opts.PostTradeTimeout
	if postTrade <= 0 {
		postTrade = defaultPostTradeTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}

	return &Executor{
		deps:      deps,
		evaluator: pricing.NewEvaluator(opts.Discount),
		markup:    markup,
		floor:     floor,
		window:    window,
		postTrade: postTrade,
		now:       now,
		newID:     newID,
		logger:    logger.With().Str("component", "trade_executor").Logger(),
	}, nil
}

// StandardScan buys undervalued listings of watched players that are not high priority.
func (e *Executor) StandardScan(ctx context.Context) error {
	return e.cycle(ctx, CycleStandard, e.standardScan)
}

// HighPriorityScan applies the rolling average rule to high-priority players.
func (e *Executor) HighPriorityScan(ctx context.Context) error {
	return e.cycle(ctx, CycleHighPriority, e.highPriorityScan)
}

// ReconcileOffers accepts received offers at or above the counter-offer floor.
func (e *Executor) ReconcileOffers(ctx context.Context) error {
	return e.cycle(ctx, CycleOffers, e.reconcileOffers)
}

func (e *Executor) cycle(ctx context.Context, name string, run func(context.Context, zerolog.Logger) error) error {
	logger := e.logger.With().Str("cycle", name).Logger()
	if e.deps.Emergency.Active() {
		logger.Warn().Str("reason", e.deps.Emergency.Status().Reason).Msg("cycle skipped, emergency stop is active")
		return nil
	}
	if reloaded, err := e.deps.Priority.Refresh(); err != nil {
		logger.Warn().Err(err).Msg("refresh high-priority players, keeping previous list")
	} else if reloaded {
		logger.Info().Int("players", len(e.deps.Priority.Assets())).Msg("high-priority players reloaded")
	}

	start := time.Now()
	err := run(ctx, logger)
	e.deps.Metrics.ObserveCycle(name, time.Since(start))
	if err != nil {
		e.deps.Metrics.CycleError(name)
		return err
	}
	logger.Debug().Dur("took", time.Since(start)).Msg("cycle complete")
	return nil
}

func (e *Executor) notify(ctx context.Context, note alerting.Notification) {
	if note.At.IsZero() {
		note.At = e.now().UTC()
	}
	if err := e.deps.Notifier.Notify(ctx, note); err != nil {
		e.logger.Warn().Err(err).Str("kind", string(note.Kind)).Str("card_id", note.CardID).Msg("notification failed")
	}
}

// bookkeeping returns a context that survives cancellation of the cycle, so that
// records following an executed trade are still written.
func (e *Executor) bookkeeping(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.postTrade)
}
