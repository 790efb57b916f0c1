// Package history keeps the rolling sale window used by the high-priority buying rule.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sorare-trading-bot/internal/model"
	"sorare-trading-bot/internal/pricing"
)

// MaxEntries is the number of sales retained per (player, rarity).
const MaxEntries = 5

var (
	// ErrInsufficientData is returned when fewer than n sales are recorded.
	ErrInsufficientData = errors.New("history: insufficient sales data")
	// ErrWindowRange is returned when n is outside [1, MaxEntries].
	ErrWindowRange = fmt.Errorf("history: window must be between 1 and %d", MaxEntries)
)

// SaleStore persists sales. AppendSale must insert and prune to keep entries atomically.
type SaleStore interface {
	AppendSale(ctx context.Context, key model.AssetKey, sale model.Sale, keep int) error
	RecentSales(ctx context.Context, key model.AssetKey, limit int) ([]model.Sale, error)
}

// Tracker computes trailing averages over the most recent sales.
type Tracker struct {
	store  SaleStore
	logger zerolog.Logger
}

// NewTracker wires a tracker on top of a sale store.
func NewTracker(store SaleStore, logger zerolog.Logger) *Tracker {
	return &Tracker{store: store, logger: logger.With().Str("component", "sales_history").Logger()}
}

// RecordSale appends a sale and prunes the key to the MaxEntries most recent by timestamp.
func (t *Tracker) RecordSale(ctx context.Context, key model.AssetKey, price decimal.Decimal, at time.Time) error {
	if err := pricing.Validate(price); err != nil {
		return err
	}
	if err := t.store.AppendSale(ctx, key, model.Sale{Price: price, RecordedAt: at.UTC()}, MaxEntries); err != nil {
		return fmt.Errorf("record sale for %s: %w", key, err)
	}
	t.logger.Info().Str("asset", key.String()).Str("price", price.String()).Msg("sale recorded")
	return nil
}

// AverageOfLast returns the mean of the n most recent sales rounded half-up to 6 digits.
func (t *Tracker) AverageOfLast(ctx context.Context, key model.AssetKey, n int) (decimal.Decimal, error) {
	if n < 1 || n > MaxEntries {
		return decimal.Decimal{}, ErrWindowRange
	}

	sales, err := t.store.RecentSales(ctx, key, n)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("load sales for %s: %w", key, err)
	}
	if len(sales) < n {
		t.logger.Debug().Str("asset", key.String()).Int("have", len(sales)).Int("want", n).Msg("not enough sales")
		return decimal.Decimal{}, ErrInsufficientData
	}

	return Mean(sales[:n]), nil
}

// History returns the retained sales, newest first.
func (t *Tracker) History(ctx context.Context, key model.AssetKey) ([]model.Sale, error) {
	sales, err := t.store.RecentSales(ctx, key, MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("load sales for %s: %w", key, err)
	}
	return sales, nil
}

// Mean averages sale prices, rounded half-up to pricing.PriceScale digits.
func Mean(sales []model.Sale) decimal.Decimal {
	if len(sales) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, s := range sales {
		sum = sum.Add(s.Price)
	}
	return sum.DivRound(decimal.NewFromInt(int64(len(sales))), pricing.PriceScale)
}

// MemoryStore is an in-process SaleStore.
type MemoryStore struct {
	mu    sync.Mutex
	sales map[model.AssetKey][]model.Sale
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sales: make(map[model.AssetKey][]model.Sale)}
}

// AppendSale inserts the sale, orders the key newest first and drops everything past keep.
func (m *MemoryStore) AppendSale(_ context.Context, key model.AssetKey, sale model.Sale, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := append(m.sales[key], sale)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].RecordedAt.After(entries[j].RecordedAt)
	})
	if keep > 0 && len(entries) > keep {
		entries = entries[:keep]
	}
	m.sales[key] = entries
	return nil
}

// RecentSales returns up to limit sales newest first; limit <= 0 returns all.
func (m *MemoryStore) RecentSales(_ context.Context, key model.AssetKey, limit int) ([]model.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.sales[key]
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]model.Sale, len(entries))
	copy(out, entries)
	return out, nil
}

var _ SaleStore = (*MemoryStore)(nil)
