package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"sorare-trading-bot/internal/history"
	"sorare-trading-bot/internal/model"
	"sorare-trading-bot/internal/storage"
)

// WatchAdd adds or updates a watchlist entry.
func (a *App) WatchAdd(ctx context.Context, asset model.Asset) error {
	asset.PlayerID = strings.TrimSpace(asset.PlayerID)
	asset.Rarity = strings.ToLower(strings.TrimSpace(asset.Rarity))
	if asset.PlayerID == "" || asset.Rarity == "" {
		return errors.New("player id and rarity are required")
	}
	if asset.Name == "" {
		asset.Name = asset.PlayerID
	}
	return a.withRepository(ctx, func(repo storage.Repository) error {
		if err := repo.UpsertWatch(ctx, asset); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "watching %s (%s)\n", asset.Name, asset.Key())
		return nil
	})
}

// WatchRemove drops a watchlist entry.
func (a *App) WatchRemove(ctx context.Context, key model.AssetKey) error {
	key.Rarity = strings.ToLower(key.Rarity)
	return a.withRepository(ctx, func(repo storage.Repository) error {
		removed, err := repo.RemoveWatch(ctx, key)
		if err != nil {
			return err
		}
		if !removed {
			fmt.Fprintf(a.Out, "%s was not on the watchlist\n", key)
			return nil
		}
		fmt.Fprintf(a.Out, "removed %s\n", key)
		return nil
	})
}

// WatchList prints the watchlist.
func (a *App) WatchList(ctx context.Context) error {
	return a.withRepository(ctx, func(repo storage.Repository) error {
		assets, err := repo.ListWatch(ctx)
		if err != nil {
			return err
		}
		if len(assets) == 0 {
			fmt.Fprintln(a.Out, "watchlist is empty")
			return nil
		}
		writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Player\tName\tRarity")
		for _, asset := range assets {
			fmt.Fprintf(writer, "%s\t%s\t%s\n", asset.PlayerID, asset.Name, asset.Rarity)
		}
		return writer.Flush()
	})
}

// PriorityAdd marks a player high priority.
func (a *App) PriorityAdd(playerID, rarity string) error {
	list, err := a.openPriority()
	if err != nil {
		return err
	}
	if err := list.Add(playerID, strings.ToLower(rarity)); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "high priority: %s (%s)\n", playerID, strings.ToLower(rarity))
	return nil
}

// PriorityRemove drops a high-priority player.
func (a *App) PriorityRemove(playerID string) error {
	list, err := a.openPriority()
	if err != nil {
		return err
	}
	removed, err := list.Remove(playerID)
	if err != nil {
		return err
	}
	if !removed {
		fmt.Fprintf(a.Out, "%s was not high priority\n", playerID)
		return nil
	}
	fmt.Fprintf(a.Out, "removed %s\n", playerID)
	return nil
}

// PriorityList prints the high-priority players.
func (a *App) PriorityList() error {
	list, err := a.openPriority()
	if err != nil {
		return err
	}
	assets := list.Assets()
	if len(assets) == 0 {
		fmt.Fprintln(a.Out, "no high-priority players")
		return nil
	}
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Player\tRarity")
	for _, asset := range assets {
		fmt.Fprintf(writer, "%s\t%s\n", asset.PlayerID, asset.Rarity)
	}
	return writer.Flush()
}

// PriorityHistory prints the retained sales of a high-priority player and their average.
func (a *App) PriorityHistory(ctx context.Context, playerID string) error {
	list, err := a.openPriority()
	if err != nil {
		return err
	}
	rarity, ok := list.Rarity(playerID)
	if !ok {
		return fmt.Errorf("%s is not a high-priority player", playerID)
	}
	key := model.AssetKey{PlayerID: playerID, Rarity: rarity}

	return a.withRepository(ctx, func(repo storage.Repository) error {
		tracker := history.NewTracker(repo, a.Logger)
		sales, err := tracker.History(ctx, key)
		if err != nil {
			return err
		}
		if len(sales) == 0 {
			fmt.Fprintf(a.Out, "no sales recorded for %s\n", key)
			return nil
		}
		writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Time (UTC)\tPrice (ETH)")
		for _, sale := range sales {
			fmt.Fprintf(writer, "%s\t%s\n", sale.RecordedAt.UTC().Format(time.RFC3339), sale.Price.String())
		}
		if err := writer.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "average of %d: %s ETH\n", len(sales), history.Mean(sales).String())
		return nil
	})
}

// SerialAdd registers a favorite serial, optionally for a single rarity.
func (a *App) SerialAdd(ctx context.Context, fav model.FavoriteSerial) error {
	if fav.Serial <= 0 {
		return errors.New("serial must be greater than zero")
	}
	fav.Rarity = strings.ToLower(strings.TrimSpace(fav.Rarity))
	return a.withRepository(ctx, func(repo storage.Repository) error {
		if err := repo.AddFavoriteSerial(ctx, fav); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "favorite serial %s\n", describeSerial(fav))
		return nil
	})
}

// SerialRemove removes a favorite serial.
func (a *App) SerialRemove(ctx context.Context, fav model.FavoriteSerial) error {
	fav.Rarity = strings.ToLower(strings.TrimSpace(fav.Rarity))
	return a.withRepository(ctx, func(repo storage.Repository) error {
		removed, err := repo.RemoveFavoriteSerial(ctx, fav)
		if err != nil {
			return err
		}
		if !removed {
			fmt.Fprintf(a.Out, "serial %s was not a favorite\n", describeSerial(fav))
			return nil
		}
		fmt.Fprintf(a.Out, "removed serial %s\n", describeSerial(fav))
		return nil
	})
}

// SerialList prints the favorite serials.
func (a *App) SerialList(ctx context.Context) error {
	return a.withRepository(ctx, func(repo storage.Repository) error {
		favs, err := repo.ListFavoriteSerials(ctx)
		if err != nil {
			return err
		}
		if len(favs) == 0 {
			fmt.Fprintln(a.Out, "no favorite serials")
			return nil
		}
		for _, fav := range favs {
			fmt.Fprintln(a.Out, describeSerial(fav))
		}
		return nil
	})
}

// JerseyEnable switches jersey mint notifications on or off.
func (a *App) JerseyEnable(ctx context.Context, enabled bool) error {
	return a.updateJersey(ctx, func(p *model.JerseyMintPreference) { p.Enabled = enabled })
}

// JerseyMaxPrice sets the jersey mint price ceiling. A nil price removes it.
func (a *App) JerseyMaxPrice(ctx context.Context, price *decimal.Decimal) error {
	if price != nil && !price.IsPositive() {
		return errors.New("max price must be greater than zero")
	}
	return a.updateJersey(ctx, func(p *model.JerseyMintPreference) { p.MaxPrice = price })
}

// JerseyStatus prints the jersey mint preference.
func (a *App) JerseyStatus(ctx context.Context) error {
	return a.withRepository(ctx, func(repo storage.Repository) error {
		pref, err := repo.JerseyMint(ctx)
		if err != nil {
			return err
		}
		a.printJersey(pref)
		return nil
	})
}

func (a *App) updateJersey(ctx context.Context, mutate func(*model.JerseyMintPreference)) error {
	return a.withRepository(ctx, func(repo storage.Repository) error {
		pref, err := repo.JerseyMint(ctx)
		if err != nil {
			return err
		}
		mutate(&pref)
		if err := repo.SetJerseyMint(ctx, pref); err != nil {
			return err
		}
		a.printJersey(pref)
		return nil
	})
}

func (a *App) printJersey(pref model.JerseyMintPreference) {
	state := "off"
	if pref.Enabled {
		state = "on"
	}
	limit := "none"
	if pref.MaxPrice != nil {
		limit = pref.MaxPrice.String() + " ETH"
	}
	fmt.Fprintf(a.Out, "jersey mint notifications: %s\nmax price: %s\n", state, limit)
}

func describeSerial(fav model.FavoriteSerial) string {
	if fav.Rarity == "" {
		return fmt.Sprintf("#%d (any rarity)", fav.Serial)
	}
	return fmt.Sprintf("#%d (%s)", fav.Serial, fav.Rarity)
}
