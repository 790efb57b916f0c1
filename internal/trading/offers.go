package trading

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"sorare-trading-bot/internal/model"
	"sorare-trading-bot/internal/pricing"
	"sorare-trading-bot/internal/storage"
)

func (e *Executor) reconcileOffers(ctx context.Context, logger zerolog.Logger) error {
	offers, err := e.deps.Market.ReceivedOffers(ctx)
	if err != nil {
		return fmt.Errorf("fetch received offers: %w", err)
	}

	now := e.now()
	for _, offer := range offers {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		offerLog := logger.With().
			Str("offer_id", offer.ID).
			Str("card_id", offer.CardID).
			Str("price", offer.Price.String()).
			Logger()

		if offer.Expired(now) {
			offerLog.Debug().Time("expires_at", offer.ExpiresAt).Msg("offer expired")
			continue
		}

		bought, err := e.deps.Transactions.LatestPurchase(ctx, offer.CardID)
		if errors.Is(err, storage.ErrNotFound) {
			offerLog.Warn().Msg("no purchase record for card")
			continue
		}
		if err != nil {
			offerLog.Error().Err(err).Msg("load purchase record")
			continue
		}

		minimum := pricing.MinAcceptable(bought.Amount, e.floor)
		if offer.Price.LessThan(minimum) {
			offerLog.Info().Str("minimum", minimum.String()).Msg("offer rejected, price too low")
			continue
		}

		if e.deps.Emergency.Active() {
			offerLog.Warn().Msg("offer skipped, emergency stop is active")
			e.deps.Metrics.Rejection("emergency", "active")
			return nil
		}
		if !e.deps.RateLimiter.TryReserve() {
			offerLog.Warn().Int("limit", e.deps.RateLimiter.Limit()).Msg("offer skipped, transaction rate limit reached")
			e.deps.Metrics.Rejection("rate_limit", "rejected")
			continue
		}

		e.accept(ctx, offerLog, offer)
	}
	return nil
}

func (e *Executor) accept(ctx context.Context, logger zerolog.Logger, offer model.Offer) {
	hash, err := e.deps.Market.AcceptOffer(ctx, offer.ID)
	if err != nil {
		logger.Error().Err(err).Msg("accept offer failed")
		return
	}
	logger = logger.With().Str("tx_hash", hash).Logger()
	logger.Info().Msg("offer accepted")
	e.deps.Metrics.Trade(string(model.KindSale))

	bctx, cancel := e.bookkeeping(ctx)
	defer cancel()

	rec := model.TransactionRecord{
		ID:        e.newID(),
		CardID:    offer.CardID,
		Kind:      model.KindSale,
		Amount:    offer.Price,
		Reference: hash,
		CreatedAt: e.now().UTC(),
	}
	if err := e.deps.Transactions.AppendTransaction(bctx, rec); err != nil {
		e.gap(bctx, logger, GapSaleRecord, model.Listing{CardID: offer.CardID, Price: offer.Price}, err)
	}

	card, err := e.deps.Market.Card(bctx, offer.CardID)
	if err != nil {
		logger.Warn().Err(err).Msg("look up sold card")
		return
	}
	if !e.deps.Priority.Contains(card.PlayerID) {
		return
	}
	if err := e.deps.History.RecordSale(bctx, card.Key(), offer.Price, e.now().UTC()); err != nil {
		logger.Warn().Err(err).Msg("record sale in history")
	}
}
