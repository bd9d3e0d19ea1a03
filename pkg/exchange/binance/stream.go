package binance

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/tkhamidov/surge/pkg/exchange"
	"github.com/tkhamidov/surge/pkg/models"
)

const (
	streamBaseURL        = "wss://stream.binance.com:9443/ws"
	testnetStreamBaseURL = "wss://testnet.binance.vision/ws"

	handshakeTimeout  = 10 * time.Second
	keepAliveInterval = 30 * time.Second
)

// tradeEvent is the raw <symbol>@trade payload. Decoded on the hot path,
// so only the fields we read are declared.
type tradeEvent struct {
	EventType string `json:"e"`
	Price     string `json:"p"`
	TradeTime int64  `json:"T"`
}

// tradeStream is one websocket subscription to a single symbol's trade
// feed. The prices channel is closed when the connection dies so the
// consumer can tell a dead stream from a slow one.
type tradeStream struct {
	symbol models.Symbol
	conn   *websocket.Conn
	prices chan models.TradePrice
	done   chan struct{}
	once   sync.Once
	logger *logrus.Entry
}

// SubscribeTrades opens a dedicated trade stream for the symbol. Streams
// are never shared between subscribers; closing one does not affect
// watchers on other symbols.
func (c *Client) SubscribeTrades(ctx context.Context, symbol models.Symbol) (exchange.TradeStream, error) {
	base := streamBaseURL
	if c.testnet {
		base = testnetStreamBaseURL
	}
	url := fmt.Sprintf("%s/%s@trade", base, symbol.StreamName())

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial trade stream for %s: %w", symbol, err)
	}

	s := &tradeStream{
		symbol: symbol,
		conn:   conn,
		prices: make(chan models.TradePrice),
		done:   make(chan struct{}),
		logger: c.logger.WithField("symbol", symbol.String()),
	}
	go s.readLoop()
	go s.keepAlive()
	return s, nil
}

func (s *tradeStream) Prices() <-chan models.TradePrice {
	return s.prices
}

func (s *tradeStream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
	return nil
}

func (s *tradeStream) readLoop() {
	defer close(s.prices)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				// Deliberate unsubscribe, not a stream failure.
			default:
				s.logger.WithError(err).Error("Trade stream read failed")
			}
			return
		}

		var event tradeEvent
		if err := sonic.Unmarshal(raw, &event); err != nil {
			s.logger.WithError(err).Error("Malformed trade message")
			return
		}
		if event.EventType != "trade" {
			continue
		}
		price, err := strconv.ParseFloat(event.Price, 64)
		if err != nil {
			s.logger.WithError(err).Error("Unparseable trade price")
			return
		}

		tick := models.TradePrice{
			Price:     price,
			Timestamp: time.UnixMilli(event.TradeTime),
		}
		select {
		case s.prices <- tick:
		case <-s.done:
			return
		}
	}
}

func (s *tradeStream) keepAlive() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(handshakeTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.WithError(err).Error("Failed to send ping")
				s.Close()
				return
			}
		}
	}
}
