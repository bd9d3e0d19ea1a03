package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/tkhamidov/surge/pkg/exchange"
	"github.com/tkhamidov/surge/pkg/models"
)

// Client implements the MarketData and Execution ports against Binance
// spot. All REST calls go through a shared rate limiter so the momentum
// scan cannot trip the exchange request weight limits.
type Client struct {
	api     *binance.Client
	limiter *rate.Limiter
	testnet bool
	logger  *logrus.Logger
}

func NewClient(apiKey, apiSecret string, testnet bool, requestsPerSecond float64, logger *logrus.Logger) *Client {
	binance.UseTestnet = testnet
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	return &Client{
		api:     binance.NewClient(apiKey, apiSecret),
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		testnet: testnet,
		logger:  logger,
	}
}

func (c *Client) FreeBalance(ctx context.Context, asset string) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	account, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch account: %w", err)
	}
	for _, b := range account.Balances {
		if b.Asset == asset {
			free, err := strconv.ParseFloat(b.Free, 64)
			if err != nil {
				return 0, fmt.Errorf("parse free balance for %s: %w", asset, err)
			}
			return free, nil
		}
	}
	return 0, nil
}

func (c *Client) AllTickers(ctx context.Context) ([]models.Ticker, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	stats, err := c.api.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch 24h tickers: %w", err)
	}
	return lo.Map(stats, func(s *binance.PriceChangeStats, _ int) models.Ticker {
		last, _ := strconv.ParseFloat(s.LastPrice, 64)
		volume, _ := strconv.ParseFloat(s.Volume, 64)
		return models.Ticker{
			Symbol:    models.NewSymbol(s.Symbol),
			LastPrice: last,
			Volume:    volume,
		}
	}), nil
}

func (c *Client) Candles(ctx context.Context, symbol models.Symbol, interval string, limit int) ([]models.Candle, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	klines, err := c.api.NewKlinesService().
		Symbol(symbol.String()).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s klines for %s: %w", interval, symbol, err)
	}

	candles := make([]models.Candle, len(klines))
	for i, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		close, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)
		candles[i] = models.Candle{Open: open, Close: close, Volume: volume}
	}
	return candles, nil
}

func (c *Client) SymbolRule(ctx context.Context, symbol models.Symbol) (models.TradingRule, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return models.TradingRule{}, err
	}
	info, err := c.api.NewExchangeInfoService().Symbols(symbol.String()).Do(ctx)
	if err != nil {
		return models.TradingRule{}, fmt.Errorf("fetch exchange info for %s: %w", symbol, err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol.String() {
			continue
		}
		lot := s.LotSizeFilter()
		if lot == nil {
			return models.TradingRule{}, fmt.Errorf("no lot size filter for %s", symbol)
		}
		step, err := strconv.ParseFloat(lot.StepSize, 64)
		if err != nil {
			return models.TradingRule{}, fmt.Errorf("parse step size for %s: %w", symbol, err)
		}
		return models.TradingRule{StepSize: step}, nil
	}
	return models.TradingRule{}, fmt.Errorf("symbol %s not found in exchange info", symbol)
}

func (c *Client) LastPrice(ctx context.Context, symbol models.Symbol) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	prices, err := c.api.NewListPricesService().Symbol(symbol.String()).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch price for %s: %w", symbol, err)
	}
	// The API returns a slice even when a symbol is given.
	for _, p := range prices {
		if p.Symbol == symbol.String() {
			return strconv.ParseFloat(p.Price, 64)
		}
	}
	return 0, fmt.Errorf("symbol %s not found in price list", symbol)
}

func (c *Client) MarketBuy(ctx context.Context, symbol models.Symbol, quantity float64) (float64, error) {
	return c.placeMarketOrder(ctx, symbol, binance.SideTypeBuy, quantity)
}

func (c *Client) MarketSell(ctx context.Context, symbol models.Symbol, quantity float64) (float64, error) {
	return c.placeMarketOrder(ctx, symbol, binance.SideTypeSell, quantity)
}

func (c *Client) placeMarketOrder(ctx context.Context, symbol models.Symbol, side binance.SideType, quantity float64) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	order, err := c.api.NewCreateOrderService().
		Symbol(symbol.String()).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(formatQuantity(quantity)).
		Do(ctx)
	if err != nil {
		return 0, &exchange.ExecutionError{
			Op:     strings.ToLower(string(side)),
			Symbol: symbol,
			Reason: err.Error(),
		}
	}
	if len(order.Fills) == 0 {
		return 0, &exchange.ExecutionError{
			Op:     strings.ToLower(string(side)),
			Symbol: symbol,
			Reason: "order accepted but reported no fills",
		}
	}
	fill, err := strconv.ParseFloat(order.Fills[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse fill price for %s: %w", symbol, err)
	}
	c.logger.WithFields(logrus.Fields{
		"symbol": symbol.String(),
		"side":   side,
		"fill":   fill,
	}).Debug("Market order filled")
	return fill, nil
}

// formatQuantity renders a quantity without scientific notation or
// trailing zeros, which is what the order endpoint expects.
func formatQuantity(quantity float64) string {
	s := strconv.FormatFloat(quantity, 'f', 8, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
