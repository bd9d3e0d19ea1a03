package trader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tkhamidov/surge/pkg/exchange"
	"github.com/tkhamidov/surge/pkg/models"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeStream is a hand-fed trade feed.
type fakeStream struct {
	ch   chan models.TradePrice
	once sync.Once
	done chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		ch:   make(chan models.TradePrice, 16),
		done: make(chan struct{}),
	}
}

func (s *fakeStream) Prices() <-chan models.TradePrice {
	return s.ch
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *fakeStream) push(price float64) {
	s.ch <- models.TradePrice{Price: price, Timestamp: time.Now()}
}

// fail simulates the stream dying: the adapter closes the price channel.
func (s *fakeStream) fail() {
	close(s.ch)
}

// fakeMarket is an in-memory MarketData port.
type fakeMarket struct {
	mu        sync.Mutex
	balance   float64
	tickers   []models.Ticker
	candles   map[models.Symbol]map[string][]models.Candle
	candleErr map[models.Symbol]error
	rules     map[models.Symbol]models.TradingRule
	prices    map[models.Symbol]float64
	streams   map[models.Symbol][]*fakeStream
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		candles:   make(map[models.Symbol]map[string][]models.Candle),
		candleErr: make(map[models.Symbol]error),
		rules:     make(map[models.Symbol]models.TradingRule),
		prices:    make(map[models.Symbol]float64),
		streams:   make(map[models.Symbol][]*fakeStream),
	}
}

// addCandidate registers a ticker plus identical 2-point candles on every
// momentum timeframe, opening at open and closing at open+change%.
func (m *fakeMarket) addCandidate(symbol models.Symbol, open, changePercent float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tickers = append(m.tickers, models.Ticker{Symbol: symbol, LastPrice: open})
	byInterval := make(map[string][]models.Candle, len(momentumTimeframes))
	closePrice := open * (1 + changePercent/100)
	for _, tf := range momentumTimeframes {
		byInterval[tf] = []models.Candle{{Open: open, Close: closePrice, Volume: 1}}
	}
	m.candles[symbol] = byInterval
}

func (m *fakeMarket) setCandleErr(symbol models.Symbol, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candleErr[symbol] = err
}

func (m *fakeMarket) setCandles(symbol models.Symbol, interval string, candles []models.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.candles[symbol] == nil {
		m.candles[symbol] = make(map[string][]models.Candle)
	}
	m.candles[symbol][interval] = candles
}

func (m *fakeMarket) FreeBalance(ctx context.Context, asset string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance, nil
}

func (m *fakeMarket) AllTickers(ctx context.Context) ([]models.Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Ticker(nil), m.tickers...), nil
}

func (m *fakeMarket) Candles(ctx context.Context, symbol models.Symbol, interval string, limit int) ([]models.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.candleErr[symbol]; err != nil {
		return nil, err
	}
	candles, ok := m.candles[symbol][interval]
	if !ok {
		return nil, fmt.Errorf("no %s candles for %s", interval, symbol)
	}
	return candles, nil
}

func (m *fakeMarket) SymbolRule(ctx context.Context, symbol models.Symbol) (models.TradingRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[symbol]
	if !ok {
		return models.TradingRule{}, errors.New("no trading rule")
	}
	return rule, nil
}

func (m *fakeMarket) LastPrice(ctx context.Context, symbol models.Symbol) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	price, ok := m.prices[symbol]
	if !ok {
		return 0, errors.New("no price")
	}
	return price, nil
}

func (m *fakeMarket) SubscribeTrades(ctx context.Context, symbol models.Symbol) (exchange.TradeStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stream := newFakeStream()
	m.streams[symbol] = append(m.streams[symbol], stream)
	return stream, nil
}

func (m *fakeMarket) lastStream(symbol models.Symbol) *fakeStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	streams := m.streams[symbol]
	if len(streams) == 0 {
		return nil
	}
	return streams[len(streams)-1]
}

func (m *fakeMarket) streamCount(symbol models.Symbol) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams[symbol])
}

type orderRecord struct {
	symbol   models.Symbol
	quantity float64
}

// fakeExecution records orders and fails sells according to a script.
type fakeExecution struct {
	mu       sync.Mutex
	buyFill  float64
	sellFill float64
	buyErr   error
	sellErrs []error
	buys     []orderRecord
	sells    []orderRecord
}

func (e *fakeExecution) MarketBuy(ctx context.Context, symbol models.Symbol, quantity float64) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buyErr != nil {
		return 0, e.buyErr
	}
	e.buys = append(e.buys, orderRecord{symbol: symbol, quantity: quantity})
	return e.buyFill, nil
}

func (e *fakeExecution) MarketSell(ctx context.Context, symbol models.Symbol, quantity float64) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sellErrs) > 0 {
		err := e.sellErrs[0]
		e.sellErrs = e.sellErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	e.sells = append(e.sells, orderRecord{symbol: symbol, quantity: quantity})
	return e.sellFill, nil
}

func (e *fakeExecution) sellCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sells)
}

func (e *fakeExecution) buyCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buys)
}

// fakeNotifier collects messages.
type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Notify(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
}

func (n *fakeNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}
