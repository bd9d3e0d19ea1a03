package exchange

import (
	"context"
	"fmt"

	"github.com/tkhamidov/surge/pkg/models"
)

// MarketData supplies everything the trading cycle reads from the exchange:
// balances, tickers, candles, symbol rules and live trade streams.
type MarketData interface {
	FreeBalance(ctx context.Context, asset string) (float64, error)
	AllTickers(ctx context.Context) ([]models.Ticker, error)
	Candles(ctx context.Context, symbol models.Symbol, interval string, limit int) ([]models.Candle, error)
	SymbolRule(ctx context.Context, symbol models.Symbol) (models.TradingRule, error)
	LastPrice(ctx context.Context, symbol models.Symbol) (float64, error)
	SubscribeTrades(ctx context.Context, symbol models.Symbol) (TradeStream, error)
}

// TradeStream is a live per-symbol trade feed. Prices is closed by the
// implementation when the underlying stream fails; Close unsubscribes.
type TradeStream interface {
	Prices() <-chan models.TradePrice
	Close() error
}

// Execution places market orders and reports the actual fill price.
type Execution interface {
	MarketBuy(ctx context.Context, symbol models.Symbol, quantity float64) (fillPrice float64, err error)
	MarketSell(ctx context.Context, symbol models.Symbol, quantity float64) (fillPrice float64, err error)
}

// ExecutionError wraps an order placement failure with the reason the
// exchange gave.
type ExecutionError struct {
	Op     string
	Symbol models.Symbol
	Reason string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s %s rejected: %s", e.Op, e.Symbol, e.Reason)
}
