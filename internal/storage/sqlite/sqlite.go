// Package sqlite is the default single-file Repository, built on gorm and the pure Go
// SQLite driver.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"sorare-trading-bot/internal/model"
	"sorare-trading-bot/internal/storage"
)

// Timestamps are unix nanoseconds so ordering and range queries stay exact.

type transactionRow struct {
	ID        string `gorm:"primaryKey"`
	CardID    string `gorm:"index:idx_tx_card_kind"`
	Kind      string `gorm:"index:idx_tx_card_kind"`
	Amount    string
	Reference string
	CreatedAt int64 `gorm:"index;autoCreateTime:false"`
}

func (transactionRow) TableName() string { return "transactions" }

type spendRow struct {
	Seq         uint `gorm:"primaryKey;autoIncrement"`
	EntryID     string
	Amount      string
	Description string
	CreatedAt   int64 `gorm:"index;autoCreateTime:false"`
}

func (spendRow) TableName() string { return "spend_ledger" }

type saleRow struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	PlayerID   string `gorm:"index:idx_sales_key"`
	Rarity     string `gorm:"index:idx_sales_key"`
	Price      string
	RecordedAt int64 `gorm:"index:idx_sales_key"`
}

func (saleRow) TableName() string { return "player_sales_history" }

type watchRow struct {
	PlayerID  string `gorm:"primaryKey"`
	Rarity    string `gorm:"primaryKey"`
	Name      string
	CreatedAt time.Time
}

func (watchRow) TableName() string { return "watchlist" }

type favoriteRow struct {
	Serial int    `gorm:"primaryKey;autoIncrement:false"`
	Rarity string `gorm:"primaryKey"`
}

func (favoriteRow) TableName() string { return "favorite_serials" }

type preferenceRow struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

func (preferenceRow) TableName() string { return "preferences" }

// Store implements storage.Repository on a SQLite file.
type Store struct {
	db *gorm.DB
}

// Open creates the parent directory, connects and migrates the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// single writer keeps sqlite from returning SQLITE_BUSY under concurrent cycles
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&transactionRow{}, &spendRow{}, &saleRow{}, &watchRow{}, &favoriteRow{}, &preferenceRow{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AppendTransaction persists a trade log entry.
func (s *Store) AppendTransaction(ctx context.Context, rec model.TransactionRecord) error {
	row := transactionRow{
		ID:        rec.ID,
		CardID:    rec.CardID,
		Kind:      string(rec.Kind),
		Amount:    rec.Amount.String(),
		Reference: rec.Reference,
		CreatedAt: rec.CreatedAt.UnixNano(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// LatestPurchase returns the most recent purchase of a card or storage.ErrNotFound.
func (s *Store) LatestPurchase(ctx context.Context, cardID string) (model.TransactionRecord, error) {
	var row transactionRow
	err := s.db.WithContext(ctx).
		Where("card_id = ? AND kind = ?", cardID, string(model.KindPurchase)).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.TransactionRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return model.TransactionRecord{}, fmt.Errorf("latest purchase: %w", err)
	}
	return row.record()
}

// RecentTransactions lists the newest entries first.
func (s *Store) RecentTransactions(ctx context.Context, limit int) ([]model.TransactionRecord, error) {
	var rows []transactionRow
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list recent transactions: %w", err)
	}
	return records(rows)
}

// TransactionsSince lists entries after since, oldest first.
func (s *Store) TransactionsSince(ctx context.Context, since time.Time) ([]model.TransactionRecord, error) {
	var rows []transactionRow
	if err := s.db.WithContext(ctx).Where("created_at > ?", since.UnixNano()).Order("created_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list transactions since: %w", err)
	}
	return records(rows)
}

func (r transactionRow) record() (model.TransactionRecord, error) {
	kind, err := model.ParseTransactionKind(r.Kind)
	if err != nil {
		return model.TransactionRecord{}, err
	}
	amount, err := storage.ParseDecimal("transaction amount", r.Amount)
	if err != nil {
		return model.TransactionRecord{}, err
	}
	return model.TransactionRecord{
		ID:        r.ID,
		CardID:    r.CardID,
		Kind:      kind,
		Amount:    amount,
		Reference: r.Reference,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
	}, nil
}

func records(rows []transactionRow) ([]model.TransactionRecord, error) {
	out := make([]model.TransactionRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// AppendSpend records an executed purchase in the spend ledger.
func (s *Store) AppendSpend(ctx context.Context, entry model.SpendEntry) error {
	row := spendRow{
		EntryID:     entry.ID,
		Amount:      entry.Amount.String(),
		Description: entry.Description,
		CreatedAt:   entry.CreatedAt.UnixNano(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert spend: %w", err)
	}
	return nil
}

// SpendSince sums the ledger after since. Amounts are summed as decimals, not floats.
func (s *Store) SpendSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	var amounts []string
	if err := s.db.WithContext(ctx).Model(&spendRow{}).Where("created_at > ?", since.UnixNano()).Pluck("amount", &amounts).Error; err != nil {
		return decimal.Zero, fmt.Errorf("sum spend: %w", err)
	}
	total := decimal.Zero
	for _, a := range amounts {
		d, err := storage.ParseDecimal("spend amount", a)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(d)
	}
	return total, nil
}

// AppendSale inserts a sale and prunes the key to keep entries in one transaction.
func (s *Store) AppendSale(ctx context.Context, key model.AssetKey, sale model.Sale, keep int) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := saleRow{
			PlayerID:   key.PlayerID,
			Rarity:     key.Rarity,
			Price:      sale.Price.String(),
			RecordedAt: sale.RecordedAt.UnixNano(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if keep <= 0 {
			return nil
		}

		var ids []uint
		if err := tx.Model(&saleRow{}).
			Where("player_id = ? AND rarity = ?", key.PlayerID, key.Rarity).
			Order("recorded_at DESC, id DESC").
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) <= keep {
			return nil
		}
		return tx.Where("id IN ?", ids[keep:]).Delete(&saleRow{}).Error
	})
	if err != nil {
		return fmt.Errorf("append sale: %w", err)
	}
	return nil
}

// RecentSales returns up to limit sales for the key, newest first.
func (s *Store) RecentSales(ctx context.Context, key model.AssetKey, limit int) ([]model.Sale, error) {
	var rows []saleRow
	q := s.db.WithContext(ctx).
		Where("player_id = ? AND rarity = ?", key.PlayerID, key.Rarity).
		Order("recorded_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list recent sales: %w", err)
	}

	sales := make([]model.Sale, 0, len(rows))
	for _, r := range rows {
		price, err := storage.ParseDecimal("sale price", r.Price)
		if err != nil {
			return nil, err
		}
		sales = append(sales, model.Sale{Price: price, RecordedAt: time.Unix(0, r.RecordedAt).UTC()})
	}
	return sales, nil
}

// UpsertWatch adds an asset to the watchlist or renames it.
func (s *Store) UpsertWatch(ctx context.Context, asset model.Asset) error {
	row := watchRow{PlayerID: asset.PlayerID, Rarity: asset.Rarity, Name: asset.Name, CreatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "player_id"}, {Name: "rarity"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert watch: %w", err)
	}
	return nil
}

// RemoveWatch deletes an asset and reports whether it existed.
func (s *Store) RemoveWatch(ctx context.Context, key model.AssetKey) (bool, error) {
	res := s.db.WithContext(ctx).Where("player_id = ? AND rarity = ?", key.PlayerID, key.Rarity).Delete(&watchRow{})
	if res.Error != nil {
		return false, fmt.Errorf("delete watch: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListWatch returns every watched asset.
func (s *Store) ListWatch(ctx context.Context) ([]model.Asset, error) {
	var rows []watchRow
	if err := s.db.WithContext(ctx).Order("player_id, rarity").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list watch: %w", err)
	}
	assets := make([]model.Asset, 0, len(rows))
	for _, r := range rows {
		assets = append(assets, model.Asset{PlayerID: r.PlayerID, Name: r.Name, Rarity: r.Rarity})
	}
	return assets, nil
}

// AddFavoriteSerial stores a favorite serial; duplicates are ignored.
func (s *Store) AddFavoriteSerial(ctx context.Context, fav model.FavoriteSerial) error {
	row := favoriteRow{Serial: fav.Serial, Rarity: fav.Rarity}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("insert favorite serial: %w", err)
	}
	return nil
}

// RemoveFavoriteSerial deletes a favorite serial and reports whether it existed.
func (s *Store) RemoveFavoriteSerial(ctx context.Context, fav model.FavoriteSerial) (bool, error) {
	res := s.db.WithContext(ctx).Where("serial = ? AND rarity = ?", fav.Serial, fav.Rarity).Delete(&favoriteRow{})
	if res.Error != nil {
		return false, fmt.Errorf("delete favorite serial: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListFavoriteSerials returns every favorite serial.
func (s *Store) ListFavoriteSerials(ctx context.Context) ([]model.FavoriteSerial, error) {
	var rows []favoriteRow
	if err := s.db.WithContext(ctx).Order("serial, rarity").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list favorite serials: %w", err)
	}
	favs := make([]model.FavoriteSerial, 0, len(rows))
	for _, r := range rows {
		favs = append(favs, model.FavoriteSerial{Serial: r.Serial, Rarity: r.Rarity})
	}
	return favs, nil
}

// JerseyMint loads the jersey mint preference; missing rows mean disabled.
func (s *Store) JerseyMint(ctx context.Context) (model.JerseyMintPreference, error) {
	var rows []preferenceRow
	if err := s.db.WithContext(ctx).Where(`"key" IN ?`, []string{storage.PrefJerseyEnabled, storage.PrefJerseyMaxPrice}).Find(&rows).Error; err != nil {
		return model.JerseyMintPreference{}, fmt.Errorf("load preferences: %w", err)
	}
	values := make(map[string]string, len(rows))
	for _, r := range rows {
		values[r.Key] = r.Value
	}
	return storage.JerseyFromPrefs(values)
}

// SetJerseyMint persists the jersey mint preference.
func (s *Store) SetJerseyMint(ctx context.Context, pref model.JerseyMintPreference) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for k, v := range storage.JerseyToPrefs(pref) {
			if err := tx.Save(&preferenceRow{Key: k, Value: v}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

var _ storage.Repository = (*Store)(nil)
