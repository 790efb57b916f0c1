package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulatePlayer string
	simulatePrice  string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "发送一条模拟的特殊卡牌通知",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		price, err := decimal.NewFromString(simulatePrice)
		if err != nil {
			return errors.New("--price 必须是 ETH 金额，例如 0.25")
		}
		return getApp().SimulateAlert(cmd.Context(), simulatePlayer, price)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulatePlayer, "player", "Simulated Player", "通知中显示的球员名")
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "0.1", "通知中显示的价格 (ETH)")
}
