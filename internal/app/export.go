package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"sorare-trading-bot/internal/model"
	"sorare-trading-bot/internal/storage"
)

// chartMaxPoints caps the points drawn per series.
const chartMaxPoints = 500

// Export renders the transaction log as CSV and/or a PNG chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxRows = a.Config.ResolveMaxRows(opts.MaxRows)

	return a.withRepository(ctx, func(repo storage.Repository) error {
		recs, err := repo.RecentTransactions(ctx, opts.MaxRows)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			a.Logger.Info().Msg("no transactions to export")
			return nil
		}
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
		a.Logger.Info().Int("exported", len(recs)).Msg("exporting transactions")

		if opts.CSVPath != "" {
			if err := writeTransactionsCSV(opts.CSVPath, recs); err != nil {
				return err
			}
		}
		if opts.PNGPath != "" {
			if err := writeTransactionsPNG(opts.PNGPath, recs, chartMaxPoints); err != nil {
				return err
			}
		}
		return nil
	})
}

func downsample(recs []model.TransactionRecord, max int) []model.TransactionRecord {
	if max <= 1 || len(recs) <= max {
		return recs
	}

	result := make([]model.TransactionRecord, 0, max)
	step := float64(len(recs)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(recs) {
			idx = len(recs) - 1
		}
		result = append(result, recs[idx])
	}
	return result
}

func writeTransactionsCSV(path string, recs []model.TransactionRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"created_at", "kind", "card_id", "amount_eth", "reference", "id"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range recs {
		record := []string{
			rec.CreatedAt.UTC().Format(time.RFC3339),
			string(rec.Kind),
			rec.CardID,
			rec.Amount.String(),
			rec.Reference,
			rec.ID,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// writeTransactionsPNG charts amounts over time, one series per kind. Kinds with fewer
// than two points are left out because a line needs two.
func writeTransactionsPNG(path string, recs []model.TransactionRecord, maxPoints int) error {
	byKind := make(map[model.TransactionKind][]model.TransactionRecord)
	for _, rec := range recs {
		byKind[rec.Kind] = append(byKind[rec.Kind], rec)
	}

	var series []chart.Series
	for _, kind := range []model.TransactionKind{model.KindPurchase, model.KindListing, model.KindSale} {
		points := downsample(byKind[kind], maxPoints)
		if len(points) < 2 {
			continue
		}
		x := make([]time.Time, len(points))
		y := make([]float64, len(points))
		for i, rec := range points {
			x[i] = rec.CreatedAt
			y[i] = rec.Amount.InexactFloat64()
		}
		series = append(series, chart.TimeSeries{Name: string(kind), XValues: x, YValues: y})
	}
	if len(series) == 0 {
		return errors.New("not enough transactions to chart; need two of the same kind")
	}

	if err := ensureDir(path); err != nil {
		return err
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Amount (ETH)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.4f")
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
