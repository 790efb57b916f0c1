package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"sorare-trading-bot/internal/model"
)

var (
	watchName    string
	serialRarity string
)

var watchlistCmd = &cobra.Command{
	Use:   "watchlist",
	Short: "Manage the players scanned by the standard rule",
}

var watchAddCmd = &cobra.Command{
	Use:   "add <player_id> <rarity>",
	Short: "Add a player and rarity to the watchlist",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		asset := model.Asset{PlayerID: args[0], Rarity: args[1], Name: watchName}
		return getApp().WatchAdd(cmd.Context(), asset)
	},
}

var watchRemoveCmd = &cobra.Command{
	Use:   "remove <player_id> <rarity>",
	Short: "Remove a watchlist entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().WatchRemove(cmd.Context(), model.AssetKey{PlayerID: args[0], Rarity: args[1]})
	},
}

var watchListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the watchlist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().WatchList(cmd.Context())
	},
}

var priorityCmd = &cobra.Command{
	Use:   "priority",
	Short: "Manage high-priority players",
}

var priorityAddCmd = &cobra.Command{
	Use:   "add <player_id> <rarity>",
	Short: "Mark a player high priority",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().PriorityAdd(args[0], args[1])
	},
}

var priorityRemoveCmd = &cobra.Command{
	Use:   "remove <player_id>",
	Short: "Drop a high-priority player",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().PriorityRemove(args[0])
	},
}

var priorityListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show high-priority players",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().PriorityList()
	},
}

var priorityHistoryCmd = &cobra.Command{
	Use:   "history <player_id>",
	Short: "Show recorded sales and their average",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().PriorityHistory(cmd.Context(), args[0])
	},
}

var serialCmd = &cobra.Command{
	Use:   "serial",
	Short: "Manage favorite serial numbers",
}

var serialAddCmd = &cobra.Command{
	Use:   "add <serial>",
	Short: "Add a favorite serial",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fav, err := parseSerial(args[0])
		if err != nil {
			return err
		}
		return getApp().SerialAdd(cmd.Context(), fav)
	},
}

var serialRemoveCmd = &cobra.Command{
	Use:   "remove <serial>",
	Short: "Remove a favorite serial",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fav, err := parseSerial(args[0])
		if err != nil {
			return err
		}
		return getApp().SerialRemove(cmd.Context(), fav)
	},
}

var serialListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show favorite serials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SerialList(cmd.Context())
	},
}

var jerseyCmd = &cobra.Command{
	Use:   "jersey",
	Short: "Configure jersey mint notifications",
}

var jerseyOnCmd = &cobra.Command{
	Use:   "on",
	Short: "Enable jersey mint notifications",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().JerseyEnable(cmd.Context(), true)
	},
}

var jerseyOffCmd = &cobra.Command{
	Use:   "off",
	Short: "Disable jersey mint notifications",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().JerseyEnable(cmd.Context(), false)
	},
}

var jerseyPriceCmd = &cobra.Command{
	Use:   "price <eth|none>",
	Short: "Set the jersey mint price ceiling",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.EqualFold(args[0], "none") {
			return getApp().JerseyMaxPrice(cmd.Context(), nil)
		}
		price, err := decimal.NewFromString(args[0])
		if err != nil {
			return fmt.Errorf("invalid price %q: %w", args[0], err)
		}
		return getApp().JerseyMaxPrice(cmd.Context(), &price)
	},
}

var jerseyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show jersey mint settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().JerseyStatus(cmd.Context())
	},
}

func parseSerial(arg string) (model.FavoriteSerial, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return model.FavoriteSerial{}, fmt.Errorf("invalid serial %q", arg)
	}
	return model.FavoriteSerial{Serial: n, Rarity: serialRarity}, nil
}

func init() {
	watchAddCmd.Flags().StringVar(&watchName, "name", "", "Display name (defaults to the player id)")
	watchlistCmd.AddCommand(watchAddCmd, watchRemoveCmd, watchListCmd)

	priorityCmd.AddCommand(priorityAddCmd, priorityRemoveCmd, priorityListCmd, priorityHistoryCmd)

	serialCmd.PersistentFlags().StringVar(&serialRarity, "rarity", "", "Restrict the serial to one rarity")
	serialCmd.AddCommand(serialAddCmd, serialRemoveCmd, serialListCmd)

	jerseyCmd.AddCommand(jerseyOnCmd, jerseyOffCmd, jerseyPriceCmd, jerseyStatusCmd)
}
