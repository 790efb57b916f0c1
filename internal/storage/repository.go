package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"sorare-trading-bot/internal/model"
)

const (
	insertTransactionSQL = `INSERT INTO transactions (
        id,
        card_id,
        kind,
        amount,
        reference,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    );`

	latestPurchaseSQL = `SELECT id, card_id, kind, amount, reference, created_at
    FROM transactions
    WHERE card_id = $1 AND kind = 'purchase'
    ORDER BY created_at DESC
    LIMIT 1;`

	listRecentTransactionsSQL = `SELECT id, card_id, kind, amount, reference, created_at
    FROM transactions
    ORDER BY created_at DESC
    LIMIT $1;`

	listTransactionsSinceSQL = `SELECT id, card_id, kind, amount, reference, created_at
    FROM transactions
    WHERE created_at > $1
    ORDER BY created_at;`

	insertSpendSQL = `INSERT INTO spend_ledger (entry_id, amount, description, created_at)
    VALUES ($1,$2,$3,$4);`

	sumSpendSinceSQL = `SELECT COALESCE(SUM(amount::numeric), 0)::text
    FROM spend_ledger
    WHERE created_at > $1;`

	insertSaleSQL = `INSERT INTO player_sales_history (player_id, rarity, price, recorded_at)
    VALUES ($1,$2,$3,$4);`

	pruneSalesSQL = `DELETE FROM player_sales_history
    WHERE id IN (
        SELECT id FROM player_sales_history
        WHERE player_id = $1 AND rarity = $2
        ORDER BY recorded_at DESC, id DESC
        OFFSET $3
    );`

	listRecentSalesSQL = `SELECT price, recorded_at
    FROM player_sales_history
    WHERE player_id = $1 AND rarity = $2
    ORDER BY recorded_at DESC, id DESC
    LIMIT $3;`

	upsertWatchSQL = `INSERT INTO watchlist (player_id, rarity, name)
    VALUES ($1,$2,$3)
    ON CONFLICT (player_id, rarity) DO UPDATE
    SET name = EXCLUDED.name;`

	deleteWatchSQL = `DELETE FROM watchlist WHERE player_id = $1 AND rarity = $2;`

	listWatchSQL = `SELECT player_id, rarity, name FROM watchlist ORDER BY player_id, rarity;`

	insertFavoriteSQL = `INSERT INTO favorite_serials (serial, rarity)
    VALUES ($1,$2)
    ON CONFLICT (serial, rarity) DO NOTHING;`

	deleteFavoriteSQL = `DELETE FROM favorite_serials WHERE serial = $1 AND rarity = $2;`

	listFavoritesSQL = `SELECT serial, rarity FROM favorite_serials ORDER BY serial, rarity;`

	listPreferencesSQL = `SELECT key, value FROM preferences WHERE key = ANY($1);`

	upsertPreferenceSQL = `INSERT INTO preferences (key, value)
    VALUES ($1,$2)
    ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store is the PostgreSQL Repository.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session lock goes away with the connection anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// AppendTransaction persists a trade log entry.
func (s *Store) AppendTransaction(ctx context.Context, rec model.TransactionRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, insertTransactionSQL,
		rec.ID,
		rec.CardID,
		string(rec.Kind),
		rec.Amount.String(),
		rec.Reference,
		rec.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// LatestPurchase returns the most recent purchase of a card or ErrNotFound.
func (s *Store) LatestPurchase(ctx context.Context, cardID string) (model.TransactionRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return model.TransactionRecord{}, err
	}
	rows, err := pool.Query(ctx, latestPurchaseSQL, cardID)
	if err != nil {
		return model.TransactionRecord{}, fmt.Errorf("latest purchase: %w", err)
	}
	recs, err := collectTransactions(rows)
	if err != nil {
		return model.TransactionRecord{}, err
	}
	if len(recs) == 0 {
		return model.TransactionRecord{}, ErrNotFound
	}
	return recs[0], nil
}

// RecentTransactions lists the newest entries first.
func (s *Store) RecentTransactions(ctx context.Context, limit int) ([]model.TransactionRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listRecentTransactionsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent transactions: %w", err)
	}
	return collectTransactions(rows)
}

// TransactionsSince lists entries after since, oldest first.
func (s *Store) TransactionsSince(ctx context.Context, since time.Time) ([]model.TransactionRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listTransactionsSinceSQL, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("list transactions since: %w", err)
	}
	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]model.TransactionRecord, error) {
	defer rows.Close()

	recs := make([]model.TransactionRecord, 0)
	for rows.Next() {
		var (
			rec       model.TransactionRecord
			kind      string
			amountStr string
		)
		if err := rows.Scan(&rec.ID, &rec.CardID, &kind, &amountStr, &rec.Reference, &rec.CreatedAt); err != nil {
			return nil, err
		}
		parsedKind, err := model.ParseTransactionKind(kind)
		if err != nil {
			return nil, err
		}
		rec.Kind = parsedKind
		if rec.Amount, err = ParseDecimal("transaction amount", amountStr); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return recs, nil
}

// AppendSpend records an executed purchase in the spend ledger.
func (s *Store) AppendSpend(ctx context.Context, entry model.SpendEntry) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, insertSpendSQL, entry.ID, entry.Amount.String(), entry.Description, entry.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("insert spend: %w", err)
	}
	return nil
}

// SpendSince sums the ledger after since.
func (s *Store) SpendSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	pool, err := s.getPool()
	if err != nil {
		return decimal.Zero, err
	}
	var total string
	if err := pool.QueryRow(ctx, sumSpendSinceSQL, since.UTC()).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("sum spend: %w", err)
	}
	return ParseDecimal("spend total", total)
}

// AppendSale inserts a sale and prunes the key to keep entries in one transaction.
func (s *Store) AppendSale(ctx context.Context, key model.AssetKey, sale model.Sale, keep int) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin sale tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, insertSaleSQL, key.PlayerID, key.Rarity, sale.Price.String(), sale.RecordedAt.UTC()); err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	if keep > 0 {
		if _, err := tx.Exec(ctx, pruneSalesSQL, key.PlayerID, key.Rarity, keep); err != nil {
			return fmt.Errorf("prune sales: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit sale tx: %w", err)
	}
	return nil
}

// RecentSales returns up to limit sales for the key, newest first.
func (s *Store) RecentSales(ctx context.Context, key model.AssetKey, limit int) ([]model.Sale, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listRecentSalesSQL, key.PlayerID, key.Rarity, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent sales: %w", err)
	}
	defer rows.Close()

	sales := make([]model.Sale, 0, limit)
	for rows.Next() {
		var (
			sale     model.Sale
			priceStr string
		)
		if err := rows.Scan(&priceStr, &sale.RecordedAt); err != nil {
			return nil, err
		}
		if sale.Price, err = ParseDecimal("sale price", priceStr); err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return sales, nil
}

// UpsertWatch adds an asset to the watchlist or renames it.
func (s *Store) UpsertWatch(ctx context.Context, asset model.Asset) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, upsertWatchSQL, asset.PlayerID, asset.Rarity, asset.Name); err != nil {
		return fmt.Errorf("upsert watch: %w", err)
	}
	return nil
}

// RemoveWatch deletes an asset and reports whether it existed.
func (s *Store) RemoveWatch(ctx context.Context, key model.AssetKey) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, err := pool.Exec(ctx, deleteWatchSQL, key.PlayerID, key.Rarity)
	if err != nil {
		return false, fmt.Errorf("delete watch: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListWatch returns every watched asset.
func (s *Store) ListWatch(ctx context.Context) ([]model.Asset, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listWatchSQL)
	if err != nil {
		return nil, fmt.Errorf("list watch: %w", err)
	}
	defer rows.Close()

	assets := make([]model.Asset, 0)
	for rows.Next() {
		var a model.Asset
		if err := rows.Scan(&a.PlayerID, &a.Rarity, &a.Name); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return assets, nil
}

// AddFavoriteSerial stores a favorite serial; duplicates are ignored.
func (s *Store) AddFavoriteSerial(ctx context.Context, fav model.FavoriteSerial) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, insertFavoriteSQL, fav.Serial, fav.Rarity); err != nil {
		return fmt.Errorf("insert favorite serial: %w", err)
	}
	return nil
}

// RemoveFavoriteSerial deletes a favorite serial and reports whether it existed.
func (s *Store) RemoveFavoriteSerial(ctx context.Context, fav model.FavoriteSerial) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, err := pool.Exec(ctx, deleteFavoriteSQL, fav.Serial, fav.Rarity)
	if err != nil {
		return false, fmt.Errorf("delete favorite serial: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListFavoriteSerials returns every favorite serial.
func (s *Store) ListFavoriteSerials(ctx context.Context) ([]model.FavoriteSerial, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listFavoritesSQL)
	if err != nil {
		return nil, fmt.Errorf("list favorite serials: %w", err)
	}
	defer rows.Close()

	favs := make([]model.FavoriteSerial, 0)
	for rows.Next() {
		var f model.FavoriteSerial
		if err := rows.Scan(&f.Serial, &f.Rarity); err != nil {
			return nil, err
		}
		favs = append(favs, f)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return favs, nil
}

// JerseyMint loads the jersey mint preference; missing rows mean disabled.
func (s *Store) JerseyMint(ctx context.Context) (model.JerseyMintPreference, error) {
	pool, err := s.getPool()
	if err != nil {
		return model.JerseyMintPreference{}, err
	}
	rows, err := pool.Query(ctx, listPreferencesSQL, []string{PrefJerseyEnabled, PrefJerseyMaxPrice})
	if err != nil {
		return model.JerseyMintPreference{}, fmt.Errorf("load preferences: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return model.JerseyMintPreference{}, err
		}
		values[k] = v
	}
	if rows.Err() != nil {
		return model.JerseyMintPreference{}, rows.Err()
	}
	return JerseyFromPrefs(values)
}

// SetJerseyMint persists the jersey mint preference.
func (s *Store) SetJerseyMint(ctx context.Context, pref model.JerseyMintPreference) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin preference tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for k, v := range JerseyToPrefs(pref) {
		if _, err := tx.Exec(ctx, upsertPreferenceSQL, k, v); err != nil {
			return fmt.Errorf("upsert preference %s: %w", k, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit preference tx: %w", err)
	}
	return nil
}

var (
	_ Repository     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
