package trading

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sorare-trading-bot/internal/alerting"
	"sorare-trading-bot/internal/history"
	"sorare-trading-bot/internal/model"
	"sorare-trading-bot/internal/pricing"
)

// specialPrefs is the per-cycle snapshot of the special card preferences.
type specialPrefs struct {
	favorites []model.FavoriteSerial
	jersey    model.JerseyMintPreference
}

func (e *Executor) loadPrefs(ctx context.Context, logger zerolog.Logger) specialPrefs {
	var prefs specialPrefs
	favorites, err := e.deps.Preferences.ListFavoriteSerials(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("load favorite serials")
	}
	prefs.favorites = favorites
	jersey, err := e.deps.Preferences.JerseyMint(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("load jersey mint preference")
	}
	prefs.jersey = jersey
	return prefs
}

func (e *Executor) standardScan(ctx context.Context, logger zerolog.Logger) error {
	watch, err := e.deps.Watchlist.ListWatch(ctx)
	if err != nil {
		return fmt.Errorf("load watchlist: %w", err)
	}
	prefs := e.loadPrefs(ctx, logger)

	for _, asset := range watch {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if e.deps.Priority.Contains(asset.PlayerID) {
			continue
		}
		assetLog := logger.With().Str("player_id", asset.PlayerID).Str("rarity", asset.Rarity).Logger()

		listings, err := e.deps.Market.Listings(ctx, asset.Key())
		if err != nil {
			assetLog.Error().Err(err).Msg("fetch listings")
			continue
		}
		if len(listings) == 0 {
			continue
		}
		floor, err := e.deps.Market.FloorPrice(ctx, asset.Key())
		if err != nil {
			assetLog.Error().Err(err).Msg("fetch floor price")
			continue
		}
		if err := pricing.Validate(floor); err != nil {
			assetLog.Warn().Str("floor", floor.String()).Msg("invalid floor price, asset skipped")
			continue
		}

		for _, l := range listings {
			e.evaluateStandard(ctx, assetLog, normalize(l, asset), floor, prefs)
		}
	}
	return nil
}

// evaluateStandard runs the special card checks and buys when the listing is undervalued.
func (e *Executor) evaluateStandard(ctx context.Context, logger zerolog.Logger, l model.Listing, reference decimal.Decimal, prefs specialPrefs) {
	e.checkSpecial(ctx, l, prefs)

	if err := pricing.Validate(l.Price); err != nil {
		logger.Warn().Str("card_id", l.CardID).Str("price", l.Price.String()).Msg("invalid listing price")
		return
	}
	if !e.evaluator.IsUndervalued(l.Price, reference) {
		return
	}

	logger.Info().
		Str("card_id", l.CardID).
		Str("price", l.Price.String()).
		Str("floor", reference.String()).
		Msg("undervalued card found")

	e.execute(ctx, purchase{
		listing:      l,
		listPrice:    pricing.Markup(l.Price, e.markup),
		reference:    reference,
		highPriority: e.deps.Priority.Contains(l.PlayerID),
	})
}

func (e *Executor) highPriorityScan(ctx context.Context, logger zerolog.Logger) error {
	assets := e.deps.Priority.Assets()
	if len(assets) == 0 {
		logger.Debug().Msg("no high-priority players")
		return nil
	}
	var prefs *specialPrefs

	for _, asset := range assets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		key := asset.Key()
		assetLog := logger.With().Str("player_id", asset.PlayerID).Str("rarity", asset.Rarity).Logger()

		listings, err := e.deps.Market.Listings(ctx, key)
		if err != nil {
			assetLog.Error().Err(err).Msg("fetch listings")
			continue
		}
		if len(listings) == 0 {
			assetLog.Info().Msg("no cards listed for high-priority player")
			continue
		}

		average, err := e.deps.History.AverageOfLast(ctx, key, e.window)
		if errors.Is(err, history.ErrInsufficientData) {
			if prefs == nil {
				p := e.loadPrefs(ctx, logger)
				prefs = &p
			}
			e.bootstrap(ctx, assetLog, asset, listings, *prefs)
			continue
		}
		if err != nil {
			assetLog.Error().Err(err).Msg("load sales history")
			continue
		}

		lowest := lowestPriced(listings)
		if err := pricing.Validate(lowest.Price); err != nil {
			assetLog.Warn().Str("card_id", lowest.CardID).Msg("invalid listing price")
			continue
		}
		if !lowest.Price.LessThan(average) {
			assetLog.Debug().Str("lowest", lowest.Price.String()).Str("average", average.String()).Msg("no card below average")
			continue
		}

		assetLog.Info().
			Str("card_id", lowest.CardID).
			Str("price", lowest.Price.String()).
			Str("average", average.String()).
			Msg("high-priority card below average sale price")

		e.execute(ctx, purchase{
			listing:      normalize(lowest, asset),
			listPrice:    pricing.RelistPrice(lowest.Price, e.markup, average),
			reference:    average,
			highPriority: true,
		})
	}
	return nil
}

// bootstrap seeds the sale history with the floor price and applies the standard rule.
func (e *Executor) bootstrap(ctx context.Context, logger zerolog.Logger, asset model.Asset, listings []model.Listing, prefs specialPrefs) {
	floor, err := e.deps.Market.FloorPrice(ctx, asset.Key())
	if err != nil {
		logger.Error().Err(err).Msg("fetch floor price")
		return
	}
	if err := pricing.Validate(floor); err != nil {
		logger.Warn().Str("floor", floor.String()).Msg("invalid floor price, asset skipped")
		return
	}
	if err := e.deps.History.RecordSale(ctx, asset.Key(), floor, e.now().UTC()); err != nil {
		logger.Warn().Err(err).Msg("record bootstrap sale")
	}
	logger.Info().Str("floor", floor.String()).Msg("not enough sales history, using floor price")

	for _, l := range listings {
		e.evaluateStandard(ctx, logger, normalize(l, asset), floor, prefs)
	}
}

// checkSpecial sends notifications for favorite serials, jersey mints and
// high-priority cards listed under their rolling average.
func (e *Executor) checkSpecial(ctx context.Context, l model.Listing, prefs specialPrefs) {
	base := alerting.Notification{
		Kind:   alerting.KindSpecialCard,
		CardID: l.CardID,
		Player: playerLabel(l),
		Rarity: l.Rarity,
		Serial: l.SerialString(),
		Price:  l.Price,
	}

	if l.IsJerseyMint() && prefs.jersey.Allows(l.Price) {
		note := base
		note.Title = "Jersey mint"
		note.Message = fmt.Sprintf("Jersey mint #%d", *l.JerseyNumber)
		e.notify(ctx, note)
	}

	for _, fav := range prefs.favorites {
		if fav.Matches(l) {
			note := base
			note.Title = "Favorite serial"
			note.Message = "Favorite serial number " + l.SerialString()
			e.notify(ctx, note)
			break
		}
	}

	if !e.deps.Priority.Contains(l.PlayerID) {
		return
	}
	average, err := e.deps.History.AverageOfLast(ctx, l.Key(), e.window)
	if err != nil {
		return
	}
	if l.Price.LessThan(average) {
		note := base
		note.Title = "High-priority card below average"
		note.Reference = average
		e.notify(ctx, note)
	}
}

func lowestPriced(listings []model.Listing) model.Listing {
	lowest := listings[0]
	for _, l := range listings[1:] {
		if l.Price.LessThan(lowest.Price) {
			lowest = l
		}
	}
	return lowest
}

// normalize fills in identity fields the marketplace may leave empty.
func normalize(l model.Listing, asset model.Asset) model.Listing {
	if l.PlayerID == "" {
		l.PlayerID = asset.PlayerID
	}
	if l.Rarity == "" {
		l.Rarity = asset.Rarity
	}
	if l.PlayerName == "" {
		l.PlayerName = asset.Name
	}
	return l
}

func playerLabel(l model.Listing) string {
	if l.PlayerName != "" {
		return l.PlayerName
	}
	return l.PlayerID
}
