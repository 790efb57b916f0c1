package cli

import (
	"github.com/spf13/cobra"

	"sorare-trading-bot/internal/app"
)

var transactionsLimit int

var transactionsCmd = &cobra.Command{
	Use:   "transactions",
	Short: "Display recent trades",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Transactions(cmd.Context(), app.TransactionsOptions{Limit: transactionsLimit})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <hash>",
	Short: "Check a transaction receipt on chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().VerifyTransaction(cmd.Context(), args[0])
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show the trading wallet balance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Balance(cmd.Context())
	},
}

func init() {
	transactionsCmd.Flags().IntVar(&transactionsLimit, "limit", 20, "Number of transactions to display")
	transactionsCmd.AddCommand(verifyCmd)
}
