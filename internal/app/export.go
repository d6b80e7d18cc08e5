package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"swapquoter/internal/storage"
)

// ExportOptions hold parameters for exporting round history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// Export renders historical rounds as CSV and/or a PNG chart of the
// best quote's net fiat value over time.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-30 * 24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	rounds, err := store.ListRoundsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(rounds) == 0 {
		a.Logger.Info().Msg("no rounds found for export window")
		return nil
	}

	downsampled := downsampleRounds(rounds, opts.MaxPoints)
	a.Logger.Info().Int("total", len(rounds)).Int("exported", len(downsampled)).Msg("exporting rounds")

	if opts.CSVPath != "" {
		if err := writeRoundsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRoundsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRounds(rounds []storage.QuoteRound, max int) []storage.QuoteRound {
	if max <= 0 || len(rounds) <= max {
		return rounds
	}

	result := make([]storage.QuoteRound, 0, max)
	step := float64(len(rounds)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(rounds) {
			idx = len(rounds) - 1
		}
		result = append(result, rounds[idx])
	}
	return result
}

func writeRoundsCSV(path string, rounds []storage.QuoteRound) error {
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

	header := []string{"started_at", "chain_id", "pay_symbol", "receive_symbol", "pay_amount", "best_key", "best_net_fiat", "include_gas"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, round := range rounds {
		includeGas := "false"
		if round.IncludeGas {
			includeGas = "true"
		}
		record := []string{
			round.StartedAt.Format(time.RFC3339),
			strconv.FormatInt(round.ChainID, 10),
			round.PaySymbol,
			round.ReceiveSymbol,
			round.PayAmount.String(),
			round.BestKey,
			round.BestNetFiat.String(),
			includeGas,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeRoundsPNG(path string, rounds []storage.QuoteRound) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(rounds))
	bestNet := make([]float64, len(rounds))
	for i, round := range rounds {
		x[i] = round.StartedAt
		bestNet[i] = round.BestNetFiat.InexactFloat64()
	}

	fiatFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Best net value (USD)",
			ValueFormatter: fiatFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Best quote",
				XValues: x,
				YValues: bestNet,
			},
		},
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
