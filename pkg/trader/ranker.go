package trader

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tkhamidov/surge/pkg/exchange"
	"github.com/tkhamidov/surge/pkg/models"
)

// momentumTimeframes is the fixed set of candle intervals a candidate is
// scored across.
var momentumTimeframes = []string{"1m", "5m", "30m", "1h", "1d"}

// scanConcurrency bounds the parallel candle fetches during a ranking
// scan. The client's rate limiter paces the actual requests.
const scanConcurrency = 16

// MomentumRanker scores tradable pairs by aggregate percentage price
// change across a fixed set of timeframes and returns them best-first.
type MomentumRanker struct {
	market         exchange.MarketData
	quoteAsset     string
	topK           int
	volumeWeighted bool
	logger         *logrus.Logger
}

func NewMomentumRanker(market exchange.MarketData, quoteAsset string, topK int, volumeWeighted bool, logger *logrus.Logger) *MomentumRanker {
	if topK <= 0 {
		topK = 10
	}
	return &MomentumRanker{
		market:         market,
		quoteAsset:     strings.ToUpper(quoteAsset),
		topK:           topK,
		volumeWeighted: volumeWeighted,
		logger:         logger,
	}
}

// Rank scores every candidate pair and returns the top ones in descending
// score order. Ties keep the exchange's enumeration order. A symbol whose
// candle data cannot be fetched for any timeframe is skipped; one bad
// symbol never aborts the scan.
func (r *MomentumRanker) Rank(ctx context.Context) ([]models.MomentumScore, error) {
	tickers, err := r.market.AllTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tickers: %w", err)
	}

	candidates := lo.FilterMap(tickers, func(t models.Ticker, _ int) (models.Symbol, bool) {
		return t.Symbol, r.isCandidate(t.Symbol)
	})

	scored := make([]*models.MomentumScore, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanConcurrency)
	for i, symbol := range candidates {
		i, symbol := i, symbol
		g.Go(func() error {
			score, err := r.score(gctx, symbol)
			if err != nil {
				// Missing data disqualifies the symbol, nothing more.
				r.logger.WithError(err).WithField("symbol", symbol.String()).Debug("Skipping symbol in momentum scan")
				return nil
			}
			if !r.volumeWeighted && score <= 0 {
				return nil
			}
			scored[i] = &models.MomentumScore{Symbol: symbol, Score: score}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Compact in enumeration order so the stable sort breaks ties the
	// same way the exchange listed them.
	ranked := make([]models.MomentumScore, 0, len(scored))
	for _, s := range scored {
		if s != nil {
			ranked = append(ranked, *s)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if len(ranked) > r.topK {
		ranked = ranked[:r.topK]
	}
	r.logger.WithField("trending", lo.Map(ranked, func(s models.MomentumScore, _ int) string {
		return s.Symbol.String()
	})).Info("Momentum scan complete")
	return ranked, nil
}

// isCandidate keeps pairs settled in the quote asset and drops stablecoin
// variants of it (USDCUSDT and friends).
func (r *MomentumRanker) isCandidate(symbol models.Symbol) bool {
	return symbol.QuotedIn(r.quoteAsset) && !strings.HasPrefix(symbol.String(), "USD")
}

func (r *MomentumRanker) score(ctx context.Context, symbol models.Symbol) (float64, error) {
	var total float64
	for _, timeframe := range momentumTimeframes {
		candles, err := r.market.Candles(ctx, symbol, timeframe, 2)
		if err != nil {
			return 0, fmt.Errorf("fetch %s candles: %w", timeframe, err)
		}
		if len(candles) == 0 {
			return 0, fmt.Errorf("no %s candles", timeframe)
		}

		open := candles[0].Open
		if open == 0 {
			return 0, fmt.Errorf("zero open on %s candle", timeframe)
		}
		latest := candles[len(candles)-1]
		change := (latest.Close - open) / open * 100
		if r.volumeWeighted {
			change *= latest.Volume
		}
		total += change
	}
	return total, nil
}
