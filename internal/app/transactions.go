package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"sorare-trading-bot/internal/chain"
	"sorare-trading-bot/internal/storage"
)

// Transactions prints the most recent ledger entries.
func (a *App) Transactions(ctx context.Context, opts TransactionsOptions) error {
	if opts.Limit <= 0 {
		return errors.New("limit must be greater than zero")
	}
	return a.withRepository(ctx, func(repo storage.Repository) error {
		recs, err := repo.RecentTransactions(ctx, opts.Limit)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Fprintln(a.Out, "no transactions found")
			return nil
		}

		writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Time (UTC)\tKind\tCard\tAmount (ETH)\tReference")
		for _, rec := range recs {
			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%s\t%s\n",
				rec.CreatedAt.UTC().Format(time.RFC3339),
				rec.Kind,
				sanitizeInline(rec.CardID),
				formatDecimal(rec.Amount, 6),
				sanitizeInline(rec.Reference),
			)
		}
		return writer.Flush()
	})
}

// VerifyTransaction looks a transaction hash up on chain.
func (a *App) VerifyTransaction(ctx context.Context, hash string) error {
	reader := a.newChainReader()
	defer reader.Close()

	receipt, err := reader.VerifyReceipt(ctx, hash)
	if errors.Is(err, chain.ErrReceiptNotFound) {
		fmt.Fprintf(a.Out, "%s: not found or still pending\n", hash)
		return nil
	}
	if err != nil {
		return err
	}

	state := "failed"
	if receipt.Success {
		state = "success"
	}
	fmt.Fprintf(a.Out, "%s: %s in block %d (gas used %d)\n", receipt.Hash, state, receipt.BlockNumber, receipt.GasUsed)
	return nil
}

// Balance prints the trading wallet's ETH balance and, when configured, its card count.
func (a *App) Balance(ctx context.Context) error {
	reader := a.newChainReader()
	defer reader.Close()

	balance, block, err := reader.Balance(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "balance: %s ETH (block %d)\n", formatDecimal(balance, 6), block)
	if balance.LessThan(a.Config.Ethereum.LowBalanceWarning) {
		fmt.Fprintf(a.Out, "warning: below %s ETH\n", a.Config.Ethereum.LowBalanceWarning.String())
	}

	if a.Config.Ethereum.CardsContract != "" {
		count, err := reader.CardCount(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "cards held: %d\n", count)
	}
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
