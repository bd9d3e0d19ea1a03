package models

import (
	"time"
)

// Position is one filled slot: a quantized spot holding with a fixed exit
// target. Immutable after creation; closing a position removes it from the
// book rather than mutating it.
type Position struct {
	Symbol      Symbol
	Quantity    float64
	EntryPrice  float64
	TargetPrice float64
	OpenedAt    time.Time
}

// NewPosition derives the target price from the entry fill and the
// configured profit fraction.
func NewPosition(symbol Symbol, quantity, entryPrice, profitFraction float64) Position {
	return Position{
		Symbol:      symbol,
		Quantity:    quantity,
		EntryPrice:  entryPrice,
		TargetPrice: entryPrice * (1 + profitFraction),
		OpenedAt:    time.Now(),
	}
}

// MomentumScore pairs a candidate symbol with its aggregate momentum score.
type MomentumScore struct {
	Symbol Symbol
	Score  float64
}

// Candle is the slice of a kline the momentum scan cares about.
type Candle struct {
	Open   float64
	Close  float64
	Volume float64
}

// TradePrice is one tick from a live trade stream.
type TradePrice struct {
	Price     float64
	Timestamp time.Time
}

// Ticker is the 24h stats row the exchange returns for every pair. The
// ranker only uses it to enumerate candidates.
type Ticker struct {
	Symbol    Symbol
	LastPrice float64
	Volume    float64
}
