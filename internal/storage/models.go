package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sorare-trading-bot/internal/model"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("storage: not found")
)

// TransactionStore is the append-only trade log.
type TransactionStore interface {
	AppendTransaction(ctx context.Context, rec model.TransactionRecord) error
	LatestPurchase(ctx context.Context, cardID string) (model.TransactionRecord, error)
	RecentTransactions(ctx context.Context, limit int) ([]model.TransactionRecord, error)
	TransactionsSince(ctx context.Context, since time.Time) ([]model.TransactionRecord, error)
}

// SpendLedger backs the spending guard. It matches guard.Ledger.
type SpendLedger interface {
	AppendSpend(ctx context.Context, entry model.SpendEntry) error
	SpendSince(ctx context.Context, since time.Time) (decimal.Decimal, error)
}

// SaleStore backs the sales history tracker. It matches history.SaleStore.
type SaleStore interface {
	AppendSale(ctx context.Context, key model.AssetKey, sale model.Sale, keep int) error
	RecentSales(ctx context.Context, key model.AssetKey, limit int) ([]model.Sale, error)
}

// WatchlistStore holds the assets watched by the standard scan.
type WatchlistStore interface {
	UpsertWatch(ctx context.Context, asset model.Asset) error
	RemoveWatch(ctx context.Context, key model.AssetKey) (bool, error)
	ListWatch(ctx context.Context) ([]model.Asset, error)
}

// PreferenceStore holds the special card preferences.
type PreferenceStore interface {
	AddFavoriteSerial(ctx context.Context, fav model.FavoriteSerial) error
	RemoveFavoriteSerial(ctx context.Context, fav model.FavoriteSerial) (bool, error)
	ListFavoriteSerials(ctx context.Context) ([]model.FavoriteSerial, error)
	JerseyMint(ctx context.Context) (model.JerseyMintPreference, error)
	SetJerseyMint(ctx context.Context, pref model.JerseyMintPreference) error
}

// Repository aggregates every persistence concern of the bot.
type Repository interface {
	TransactionStore
	SpendLedger
	SaleStore
	WatchlistStore
	PreferenceStore
	Close() error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Preference keys persisted in the key/value preference table.
const (
	PrefJerseyEnabled  = "jersey_mint_enabled"
	PrefJerseyMaxPrice = "jersey_mint_max_price"
)

// ParseDecimal parses a persisted decimal column.
func ParseDecimal(field, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s: %w", field, err)
	}
	return d, nil
}

// JerseyFromPrefs rebuilds the jersey mint preference from key/value rows.
func JerseyFromPrefs(values map[string]string) (model.JerseyMintPreference, error) {
	pref := model.JerseyMintPreference{Enabled: values[PrefJerseyEnabled] == "true"}
	if raw := values[PrefJerseyMaxPrice]; raw != "" {
		max, err := ParseDecimal("jersey max price", raw)
		if err != nil {
			return model.JerseyMintPreference{}, err
		}
		pref.MaxPrice = &max
	}
	return pref, nil
}

// JerseyToPrefs flattens the jersey mint preference into key/value rows.
func JerseyToPrefs(pref model.JerseyMintPreference) map[string]string {
	values := map[string]string{PrefJerseyEnabled: "false", PrefJerseyMaxPrice: ""}
	if pref.Enabled {
		values[PrefJerseyEnabled] = "true"
	}
	if pref.MaxPrice != nil {
		values[PrefJerseyMaxPrice] = pref.MaxPrice.String()
	}
	return values
}
