package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sorare-trading-bot/internal/model"
)

// Amounts cross the wire as wei strings.
const weiExponent = 18

const (
	playerCardsQuery = `query PlayerCards($playerSlug: String!, $rarity: String!) {
  player(slug: $playerSlug) {
    displayName
    liveSingleSaleOffers(rarities: [$rarity]) {
      nodes {
        id
        priceWei
        createdAt
        sender { slug }
        card { slug rarity serialNumber supply jerseyNumber player { slug } }
      }
    }
  }
}`

	floorPriceQuery = `query FloorPrice($playerSlug: String!, $rarity: String!) {
  player(slug: $playerSlug) {
    lowestPriceWei(rarity: $rarity)
  }
}`

	buyNowMutation = `mutation BuyNow($offerId: String!, $cardSlug: String!, $priceWei: String!) {
  buyNow(input: { offerId: $offerId, cardSlug: $cardSlug, priceWei: $priceWei }) {
    transactionHash
  }
}`

	createListingMutation = `mutation CreateListing($cardSlug: String!, $priceWei: String!) {
  createListing(input: { cardSlug: $cardSlug, priceWei: $priceWei }) {
    id
  }
}`

	receivedOffersQuery = `query ReceivedOffers {
  currentUser {
    receivedOffers {
      nodes { id priceWei createdAt endDate sender { slug } card { slug } }
    }
  }
}`

	acceptOfferMutation = `mutation AcceptOffer($offerId: String!) {
  acceptOffer(input: { offerId: $offerId }) {
    transactionHash
  }
}`

	cardQuery = `query Card($slug: String!) {
  card(slug: $slug) {
    slug rarity serialNumber player { slug displayName }
  }
}`
)

// ErrNoFloor is returned when the marketplace reports no floor price.
var ErrNoFloor = errors.New("market: no floor price")

// Client implements the trading market operations over GraphQL.
// It does not sign anything: Buy and AcceptOffer return the hash reported by the API.
type Client struct {
	gql *GraphQLClient
}

// NewClient wraps a GraphQL transport.
func NewClient(gql *GraphQLClient) *Client {
	return &Client{gql: gql}
}

type cardNode struct {
	Slug         string `json:"slug"`
	Rarity       string `json:"rarity"`
	SerialNumber int    `json:"serialNumber"`
	Supply       int    `json:"supply"`
	JerseyNumber *int   `json:"jerseyNumber"`
	Player       struct {
		Slug        string `json:"slug"`
		DisplayName string `json:"displayName"`
	} `json:"player"`
}

type offerNode struct {
	ID        string    `json:"id"`
	PriceWei  string    `json:"priceWei"`
	CreatedAt time.Time `json:"createdAt"`
	EndDate   time.Time `json:"endDate"`
	Sender    struct {
		Slug string `json:"slug"`
	} `json:"sender"`
	Card cardNode `json:"card"`
}

// Listings returns the live listings of a (player, rarity).
func (c *Client) Listings(ctx context.Context, key model.AssetKey) ([]model.Listing, error) {
	var data struct {
		Player *struct {
			DisplayName          string `json:"displayName"`
			LiveSingleSaleOffers struct {
				Nodes []offerNode `json:"nodes"`
			} `json:"liveSingleSaleOffers"`
		} `json:"player"`
	}
	vars := map[string]any{"playerSlug": key.PlayerID, "rarity": key.Rarity}
	if err := c.gql.Do(ctx, "PlayerCards", playerCardsQuery, vars, &data); err != nil {
		return nil, err
	}
	if data.Player == nil {
		return nil, nil
	}

	listings := make([]model.Listing, 0, len(data.Player.LiveSingleSaleOffers.Nodes))
	for _, n := range data.Player.LiveSingleSaleOffers.Nodes {
		price, err := FromWei(n.PriceWei)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", n.ID, err)
		}
		playerID := n.Card.Player.Slug
		if playerID == "" {
			playerID = key.PlayerID
		}
		listings = append(listings, model.Listing{
			CardID:       n.Card.Slug,
			PlayerID:     playerID,
			PlayerName:   data.Player.DisplayName,
			Rarity:       n.Card.Rarity,
			Price:        price,
			Seller:       n.Sender.Slug,
			ListedAt:     n.CreatedAt,
			Serial:       n.Card.SerialNumber,
			SerialCount:  n.Card.Supply,
			JerseyNumber: n.Card.JerseyNumber,
			OfferID:      n.ID,
		})
	}
	return listings, nil
}

// FloorPrice returns the lowest live price for a (player, rarity).
func (c *Client) FloorPrice(ctx context.Context, key model.AssetKey) (decimal.Decimal, error) {
	var data struct {
		Player *struct {
			LowestPriceWei *string `json:"lowestPriceWei"`
		} `json:"player"`
	}
	vars := map[string]any{"playerSlug": key.PlayerID, "rarity": key.Rarity}
	if err := c.gql.Do(ctx, "FloorPrice", floorPriceQuery, vars, &data); err != nil {
		return decimal.Decimal{}, err
	}
	if data.Player == nil || data.Player.LowestPriceWei == nil {
		return decimal.Decimal{}, ErrNoFloor
	}
	return FromWei(*data.Player.LowestPriceWei)
}

// Buy purchases a listing at its listed price and returns the transaction hash.
func (c *Client) Buy(ctx context.Context, listing model.Listing) (string, error) {
	var data struct {
		BuyNow struct {
			TransactionHash string `json:"transactionHash"`
		} `json:"buyNow"`
	}
	vars := map[string]any{"offerId": listing.OfferID, "cardSlug": listing.CardID, "priceWei": ToWei(listing.Price)}
	if err := c.gql.Do(ctx, "BuyNow", buyNowMutation, vars, &data); err != nil {
		return "", err
	}
	return data.BuyNow.TransactionHash, nil
}

// CreateListing lists a card and returns the listing id.
func (c *Client) CreateListing(ctx context.Context, cardID string, price decimal.Decimal) (string, error) {
	var data struct {
		CreateListing struct {
			ID string `json:"id"`
		} `json:"createListing"`
	}
	vars := map[string]any{"cardSlug": cardID, "priceWei": ToWei(price)}
	if err := c.gql.Do(ctx, "CreateListing", createListingMutation, vars, &data); err != nil {
		return "", err
	}
	return data.CreateListing.ID, nil
}

// ReceivedOffers lists offers made on our cards.
func (c *Client) ReceivedOffers(ctx context.Context) ([]model.Offer, error) {
	var data struct {
		CurrentUser *struct {
			ReceivedOffers struct {
				Nodes []offerNode `json:"nodes"`
			} `json:"receivedOffers"`
		} `json:"currentUser"`
	}
	if err := c.gql.Do(ctx, "ReceivedOffers", receivedOffersQuery, nil, &data); err != nil {
		return nil, err
	}
	if data.CurrentUser == nil {
		return nil, nil
	}

	offers := make([]model.Offer, 0, len(data.CurrentUser.ReceivedOffers.Nodes))
	for _, n := range data.CurrentUser.ReceivedOffers.Nodes {
		price, err := FromWei(n.PriceWei)
		if err != nil {
			return nil, fmt.Errorf("offer %s: %w", n.ID, err)
		}
		offers = append(offers, model.Offer{
			ID:        n.ID,
			CardID:    n.Card.Slug,
			BuyerID:   n.Sender.Slug,
			Price:     price,
			CreatedAt: n.CreatedAt,
			ExpiresAt: n.EndDate,
		})
	}
	return offers, nil
}

// AcceptOffer accepts a received offer and returns the transaction hash.
func (c *Client) AcceptOffer(ctx context.Context, offerID string) (string, error) {
	var data struct {
		AcceptOffer struct {
			TransactionHash string `json:"transactionHash"`
		} `json:"acceptOffer"`
	}
	if err := c.gql.Do(ctx, "AcceptOffer", acceptOfferMutation, map[string]any{"offerId": offerID}, &data); err != nil {
		return "", err
	}
	return data.AcceptOffer.TransactionHash, nil
}

// Card looks up a card's player and rarity.
func (c *Client) Card(ctx context.Context, cardID string) (model.Card, error) {
	var data struct {
		Card *cardNode `json:"card"`
	}
	if err := c.gql.Do(ctx, "Card", cardQuery, map[string]any{"slug": cardID}, &data); err != nil {
		return model.Card{}, err
	}
	if data.Card == nil {
		return model.Card{}, fmt.Errorf("card %s not found", cardID)
	}
	return model.Card{
		ID:         data.Card.Slug,
		PlayerID:   data.Card.Player.Slug,
		PlayerName: data.Card.Player.DisplayName,
		Rarity:     data.Card.Rarity,
		Serial:     data.Card.SerialNumber,
	}, nil
}

// FromWei converts a wei string into ETH.
func FromWei(wei string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(wei)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse wei %q: %w", wei, err)
	}
	return d.Shift(-weiExponent), nil
}

// ToWei converts ETH into an integral wei string.
func ToWei(eth decimal.Decimal) string {
	return eth.Shift(weiExponent).Round(0).StringFixed(0)
}
