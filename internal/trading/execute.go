package trading

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sorare-trading-bot/internal/alerting"
	"sorare-trading-bot/internal/guard"
	"sorare-trading-bot/internal/model"
)

// Gap stages, logged in the gap field when a trade is left half done.
const (
	GapSpendRecord     = "spend_record"
	GapPurchaseRecord  = "purchase_record"
	GapHistory         = "history_append"
	GapEmergencyListed = "emergency_before_listing"
	GapListing         = "create_listing"
	GapListingRecord   = "listing_record"
	GapSaleRecord      = "sale_record"
)

type purchase struct {
	listing      model.Listing
	listPrice    decimal.Decimal
	reference    decimal.Decimal
	highPriority bool
}

// execute runs one purchase through the guards, buys, records and lists the card.
// It reports whether the buy went through.
func (e *Executor) execute(ctx context.Context, p purchase) bool {
	l := p.listing
	logger := e.logger.With().
		Str("card_id", l.CardID).
		Str("player_id", l.PlayerID).
		Str("price", l.Price.String()).
		Logger()

	if e.deps.Emergency.Active() {
		logger.Warn().Msg("purchase skipped, emergency stop is active")
		e.deps.Metrics.Rejection("emergency", "active")
		return false
	}
	if !e.deps.RateLimiter.TryReserve() {
		logger.Warn().Int("limit", e.deps.RateLimiter.Limit()).Msg("purchase skipped, transaction rate limit reached")
		e.deps.Metrics.Rejection("rate_limit", "rejected")
		return false
	}

	id := e.newID()
	description := fmt.Sprintf("buy %s (%s %s)", l.CardID, l.PlayerID, l.Rarity)
	decision, err := e.deps.Spending.Authorize(ctx, id, l.Price, description)
	if err != nil {
		logger.Error().Err(err).Msg("spending check failed")
		return false
	}
	if decision != guard.Approved {
		e.deps.Metrics.Rejection("spending", decision.String())
		return false
	}

	// Approval may have blocked; the stop can be triggered meanwhile.
	if e.deps.Emergency.Active() {
		logger.Warn().Msg("purchase aborted before buy, emergency stop is active")
		e.deps.Metrics.Rejection("emergency", "active")
		return false
	}

	hash, err := e.deps.Market.Buy(ctx, l)
	if err != nil {
		logger.Error().Err(err).Msg("buy failed")
		return false
	}
	logger = logger.With().Str("tx_hash", hash).Logger()
	logger.Info().Msg("card bought")
	e.deps.Metrics.Trade(string(model.KindPurchase))

	bctx, cancel := e.bookkeeping(ctx)
	defer cancel()

	if err := e.deps.Spending.Record(bctx, id, l.Price, description); err != nil {
		e.gap(bctx, logger, GapSpendRecord, l, err)
	}
	purchaseRec := model.TransactionRecord{
		ID:        id,
		CardID:    l.CardID,
		Kind:      model.KindPurchase,
		Amount:    l.Price,
		Reference: hash,
		CreatedAt: e.now().UTC(),
	}
	if err := e.deps.Transactions.AppendTransaction(bctx, purchaseRec); err != nil {
		e.gap(bctx, logger, GapPurchaseRecord, l, err)
	}
	if p.highPriority {
		if err := e.deps.History.RecordSale(bctx, l.Key(), l.Price, e.now().UTC()); err != nil {
			e.gap(bctx, logger, GapHistory, l, err)
		}
	}

	if e.deps.Emergency.Active() {
		e.gap(bctx, logger, GapEmergencyListed, l, fmt.Errorf("emergency stop: %s", e.deps.Emergency.Status().Reason))
		return true
	}

	listingID, err := e.deps.Market.CreateListing(bctx, l.CardID, p.listPrice)
	if err != nil {
		e.gap(bctx, logger, GapListing, l, err)
		return true
	}
	logger.Info().Str("listing_id", listingID).Str("list_price", p.listPrice.String()).Msg("card listed")
	e.deps.Metrics.Trade(string(model.KindListing))

	listingRec := model.TransactionRecord{
		ID:        e.newID(),
		CardID:    l.CardID,
		Kind:      model.KindListing,
		Amount:    p.listPrice,
		Reference: listingID,
		CreatedAt: e.now().UTC(),
	}
	if err := e.deps.Transactions.AppendTransaction(bctx, listingRec); err != nil {
		e.gap(bctx, logger, GapListingRecord, l, err)
	}

	e.notify(bctx, alerting.Notification{
		Kind:      alerting.KindPurchase,
		Title:     "Card bought",
		CardID:    l.CardID,
		Player:    playerLabel(l),
		Rarity:    l.Rarity,
		Serial:    l.SerialString(),
		Price:     l.Price,
		Reference: p.reference,
		Message:   fmt.Sprintf("Listed for %s ETH", p.listPrice.String()),
	})
	return true
}

// gap reports a trade left half done. Gaps are never retried automatically.
func (e *Executor) gap(ctx context.Context, logger zerolog.Logger, stage string, l model.Listing, cause error) {
	logger.Error().Err(cause).Str("gap", stage).Msg("reconciliation gap, manual action required")
	e.deps.Metrics.Gap()
	e.notify(ctx, alerting.Notification{
		Kind:    alerting.KindGap,
		Title:   "Reconciliation gap",
		CardID:  l.CardID,
		Player:  playerLabel(l),
		Rarity:  l.Rarity,
		Price:   l.Price,
		Message: fmt.Sprintf("%s: %v", stage, cause),
	})
}
