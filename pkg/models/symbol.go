package models

import (
	"strings"
)

// Symbol identifies a tradable pair, e.g. "BTCUSDT". Always stored in
// canonical uppercase form; NewSymbol is the only place normalization
// happens.
type Symbol string

func NewSymbol(s string) Symbol {
	return Symbol(strings.ToUpper(strings.TrimSpace(s)))
}

func (s Symbol) String() string {
	return string(s)
}

// StreamName returns the lowercase form the exchange uses for websocket
// stream paths.
func (s Symbol) StreamName() string {
	return strings.ToLower(string(s))
}

// QuotedIn reports whether the pair settles in the given quote asset.
func (s Symbol) QuotedIn(quote string) bool {
	return strings.HasSuffix(string(s), strings.ToUpper(quote))
}

// Base returns the base asset of the pair given its quote asset.
func (s Symbol) Base(quote string) string {
	return strings.TrimSuffix(string(s), strings.ToUpper(quote))
}

// TradingRule holds the per-symbol order constraints that matter for
// market orders. Fetched fresh each cycle, never cached across runs.
type TradingRule struct {
	StepSize float64
}
