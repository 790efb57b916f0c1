package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AssetKey identifies a watched (player, rarity) pair.
type AssetKey struct {
	PlayerID string
	Rarity   string
}

func (k AssetKey) String() string {
	return k.PlayerID + "/" + k.Rarity
}

// Asset is a watchlist or high-priority entry.
type Asset struct {
	PlayerID string
	Name     string
	Rarity   string
}

// Key returns the history key of the asset.
func (a Asset) Key() AssetKey {
	return AssetKey{PlayerID: a.PlayerID, Rarity: a.Rarity}
}

// Listing is an immutable snapshot of a card offered on the marketplace.
type Listing struct {
	CardID       string
	PlayerID     string
	PlayerName   string
	Rarity       string
	Price        decimal.Decimal
	Seller       string
	ListedAt     time.Time
	Serial       int
	SerialCount  int
	JerseyNumber *int
	// OfferID is the marketplace's id for the sale offer, needed to buy it.
	OfferID string
}

// Key returns the (player, rarity) the card belongs to.
func (l Listing) Key() AssetKey {
	return AssetKey{PlayerID: l.PlayerID, Rarity: l.Rarity}
}

// IsJerseyMint reports whether the serial matches the player's jersey number.
func (l Listing) IsJerseyMint() bool {
	return l.JerseyNumber != nil && *l.JerseyNumber == l.Serial
}

// SerialString renders the serial as "n/total".
func (l Listing) SerialString() string {
	return fmt.Sprintf("%d/%d", l.Serial, l.SerialCount)
}

// Card is the marketplace's view of a single card, used to map offers back to players.
type Card struct {
	ID         string
	PlayerID   string
	PlayerName string
	Rarity     string
	Serial     int
}

// Key returns the (player, rarity) the card belongs to.
func (c Card) Key() AssetKey {
	return AssetKey{PlayerID: c.PlayerID, Rarity: c.Rarity}
}

// Offer is a purchase offer received for one of our cards.
type Offer struct {
	ID        string
	CardID    string
	BuyerID   string
	Price     decimal.Decimal
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the offer expired before now.
func (o Offer) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)
}

// TransactionKind classifies a ledger entry.
type TransactionKind string

const (
	KindPurchase TransactionKind = "purchase"
	KindListing  TransactionKind = "listing"
	KindSale     TransactionKind = "sale"
)

// ParseTransactionKind accepts the persisted representation of a kind.
func ParseTransactionKind(v string) (TransactionKind, error) {
	switch TransactionKind(strings.ToLower(strings.TrimSpace(v))) {
	case KindPurchase:
		return KindPurchase, nil
	case KindListing:
		return KindListing, nil
	case KindSale:
		return KindSale, nil
	default:
		return "", fmt.Errorf("unknown transaction kind %q", v)
	}
}

// TransactionRecord is an append-only ledger entry.
type TransactionRecord struct {
	ID        string
	CardID    string
	Kind      TransactionKind
	Amount    decimal.Decimal
	Reference string
	CreatedAt time.Time
}

// SpendEntry is a spending guard ledger entry for an executed purchase.
type SpendEntry struct {
	ID          string
	Amount      decimal.Decimal
	Description string
	CreatedAt   time.Time
}

// Sale is one observed sale price in a player's rolling history.
type Sale struct {
	Price      decimal.Decimal
	RecordedAt time.Time
}

// FavoriteSerial marks a serial number worth notifying about, optionally per rarity.
type FavoriteSerial struct {
	Serial int
	Rarity string
}

// Matches reports whether the listing carries this favorite serial.
func (f FavoriteSerial) Matches(l Listing) bool {
	if f.Serial != l.Serial {
		return false
	}
	return f.Rarity == "" || strings.EqualFold(f.Rarity, l.Rarity)
}

// JerseyMintPreference controls jersey mint notifications.
type JerseyMintPreference struct {
	Enabled  bool
	MaxPrice *decimal.Decimal
}

// Allows reports whether a jersey mint at price should be notified.
func (p JerseyMintPreference) Allows(price decimal.Decimal) bool {
	if !p.Enabled {
		return false
	}
	return p.MaxPrice == nil || price.LessThanOrEqual(*p.MaxPrice)
}
