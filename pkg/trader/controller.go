package trader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tkhamidov/surge/pkg/exchange"
	"github.com/tkhamidov/surge/pkg/models"
	"github.com/tkhamidov/surge/pkg/notify"
)

var (
	// ErrZeroQuantity means the per-slot capital quantized to nothing for
	// this symbol. The candidate is skipped, never retried.
	ErrZeroQuantity = errors.New("order quantity quantized to zero")

	// ErrUnresolvedSell means every sell attempt failed and the position
	// was put back in the book for the reconcile sweep to pick up.
	ErrUnresolvedSell = errors.New("sell attempts exhausted, position left open")

	errCycleRunning = errors.New("trade cycle already running")
)

// CycleConfig is the tuning surface of one trading cycle.
type CycleConfig struct {
	QuoteAsset        string
	Slots             int
	CapitalFraction   float64
	ProfitFraction    float64
	BuySlippage       float64
	SellSlippage      float64
	SellRetries       int
	SellRetryDelay    time.Duration
	Replacement       bool
	ReconcileInterval time.Duration
}

// Controller orchestrates the cycle: rank, allocate, buy, spawn watchers,
// handle exits, optionally refill a freed slot, and force-liquidate on
// demand. It owns the book and the watcher lifecycles outright.
type Controller struct {
	cfg       CycleConfig
	market    exchange.MarketData
	execution exchange.Execution
	ranker    *MomentumRanker
	book      *PositionBook
	notifier  notify.Notifier
	logger    *logrus.Logger
	sellRetry RetryPolicy

	running     atomic.Bool
	watchCtx    context.Context
	cancelWatch context.CancelFunc
	wg          sync.WaitGroup

	mu         sync.Mutex
	watchers   map[models.Symbol]struct{}
	unresolved map[models.Symbol]bool
	realized   float64
}

func NewController(cfg CycleConfig, market exchange.MarketData, execution exchange.Execution, ranker *MomentumRanker, book *PositionBook, notifier notify.Notifier, logger *logrus.Logger) *Controller {
	return &Controller{
		cfg:       cfg,
		market:    market,
		execution: execution,
		ranker:    ranker,
		book:      book,
		notifier:  notifier,
		logger:    logger,
		sellRetry: RetryPolicy{
			MaxAttempts: cfg.SellRetries,
			Delay:       cfg.SellRetryDelay,
		},
		watchers:   make(map[models.Symbol]struct{}),
		unresolved: make(map[models.Symbol]bool),
	}
}

// StartCycle reserves capital, ranks candidates and fills the slots in
// rank order. A failed buy is logged and skipped; the cycle moves on to
// the next candidate and never aborts.
func (c *Controller) StartCycle(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errCycleRunning
	}
	c.watchCtx, c.cancelWatch = context.WithCancel(ctx)

	balance, err := c.market.FreeBalance(ctx, c.cfg.QuoteAsset)
	if err != nil {
		c.running.Store(false)
		return fmt.Errorf("query free balance: %w", err)
	}
	c.logger.WithField("balance", balance).Info("Connected to exchange")
	c.notifier.Notify(fmt.Sprintf("✅ Connected. Initial balance: %.2f %s", balance, c.cfg.QuoteAsset))

	perSlot := balance * c.cfg.CapitalFraction / float64(c.cfg.Slots)

	ranked, err := c.ranker.Rank(ctx)
	if err != nil {
		c.running.Store(false)
		return fmt.Errorf("rank candidates: %w", err)
	}

	bought := 0
	for _, candidate := range ranked {
		if bought >= c.cfg.Slots {
			break
		}
		if err := c.buy(ctx, candidate.Symbol, perSlot); err != nil {
			c.logger.WithError(err).WithField("symbol", candidate.Symbol.String()).Warn("Buy failed, skipping candidate")
			continue
		}
		bought++
	}
	c.logger.WithFields(logrus.Fields{
		"filled": bought,
		"slots":  c.cfg.Slots,
	}).Info("Cycle started")

	if c.cfg.ReconcileInterval > 0 {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.reconcileLoop(c.watchCtx)
		}()
	}
	return nil
}

// buy sizes, places and registers a single position, then attaches its
// watcher. Quantity is floored to an exact multiple of the symbol's step.
func (c *Controller) buy(ctx context.Context, symbol models.Symbol, capital float64) error {
	if _, held := c.book.Get(symbol); held {
		return fmt.Errorf("%w: %s", ErrDuplicateSymbol, symbol)
	}

	price, err := c.market.LastPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("fetch price: %w", err)
	}
	rule, err := c.market.SymbolRule(ctx, symbol)
	if err != nil {
		return fmt.Errorf("fetch trading rule: %w", err)
	}

	quantity := quantize(capital/price, rule.StepSize)
	if quantity <= 0 {
		return fmt.Errorf("%w: %s at price %.8f with step %v", ErrZeroQuantity, symbol, price, rule.StepSize)
	}

	fill, err := c.execution.MarketBuy(ctx, symbol, quantity)
	if err != nil {
		return fmt.Errorf("place buy: %w", err)
	}

	position := models.NewPosition(symbol, quantity, fill, c.cfg.ProfitFraction)
	if err := c.book.Add(position); err != nil {
		return err
	}
	if err := c.watch(position); err != nil {
		c.book.Remove(symbol)
		return fmt.Errorf("subscribe trades: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"symbol": symbol.String(),
		"qty":    quantity,
		"fill":   fill,
		"target": position.TargetPrice,
	}).Info("Position opened")
	c.notifier.Notify(fmt.Sprintf("🟢 Bought %v %s at %.6f, target %.6f", quantity, symbol, fill, position.TargetPrice))
	return nil
}

// watch subscribes the symbol's trade stream and runs a watcher for the
// position. Registration happens before the goroutine starts so the
// active-watcher set tracks the book without a gap.
func (c *Controller) watch(position models.Position) error {
	stream, err := c.market.SubscribeTrades(c.watchCtx, position.Symbol)
	if err != nil {
		return err
	}

	watcher := NewPositionWatcher(position, stream, c.sell, c.logger)
	c.mu.Lock()
	c.watchers[position.Symbol] = struct{}{}
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.watchers, position.Symbol)
			c.mu.Unlock()
		}()
		watcher.Run(c.watchCtx)
	}()
	return nil
}

// sell closes the position for the symbol. Idempotent: removing the
// position from the book is the claim, so concurrent exit triggers and
// force-liquidation issue at most one order between them.
func (c *Controller) sell(ctx context.Context, symbol models.Symbol) error {
	position, claimed := c.book.Remove(symbol)
	if !claimed {
		return nil
	}

	var fill float64
	err := c.sellRetry.Do(ctx, func() error {
		var attemptErr error
		fill, attemptErr = c.execution.MarketSell(ctx, position.Symbol, position.Quantity)
		if attemptErr != nil {
			c.logger.WithError(attemptErr).WithField("symbol", symbol.String()).Warn("Sell attempt failed")
		}
		return attemptErr
	})
	if err != nil {
		// Put it back so the reconcile sweep still sees it.
		if addErr := c.book.Add(position); addErr != nil {
			c.logger.WithError(addErr).WithField("symbol", symbol.String()).Error("Failed to restore unsold position")
		}
		c.mu.Lock()
		c.unresolved[symbol] = true
		c.mu.Unlock()
		c.notifier.Notify(fmt.Sprintf("⚠️ Sell failed for %s, position left open", symbol))
		return fmt.Errorf("%w: %s: %v", ErrUnresolvedSell, symbol, err)
	}

	profit := (fill*(1-c.cfg.SellSlippage) - position.EntryPrice*(1+c.cfg.BuySlippage)) * position.Quantity
	c.mu.Lock()
	delete(c.unresolved, symbol)
	c.realized += profit
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"symbol": symbol.String(),
		"qty":    position.Quantity,
		"fill":   fill,
		"profit": profit,
	}).Info("Position closed")
	c.notifier.Notify(fmt.Sprintf("✅ Sold %v %s at %.6f, profit %.4f %s", position.Quantity, symbol, fill, profit, c.cfg.QuoteAsset))

	if c.cfg.Replacement && c.running.Load() {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.replaceSlot(c.watchCtx)
		}()
	}
	return nil
}

// replaceSlot refills one freed slot with the best-ranked candidate not
// already held, using a freshly computed capital share.
func (c *Controller) replaceSlot(ctx context.Context) {
	balance, err := c.market.FreeBalance(ctx, c.cfg.QuoteAsset)
	if err != nil {
		c.logger.WithError(err).Warn("Replacement aborted, balance query failed")
		return
	}
	perSlot := balance * c.cfg.CapitalFraction / float64(c.cfg.Slots)

	ranked, err := c.ranker.Rank(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("Replacement aborted, ranking failed")
		return
	}
	for _, candidate := range ranked {
		if !c.running.Load() {
			return
		}
		if _, held := c.book.Get(candidate.Symbol); held {
			continue
		}
		if err := c.buy(ctx, candidate.Symbol, perSlot); err != nil {
			c.logger.WithError(err).WithField("symbol", candidate.Symbol.String()).Debug("Replacement candidate skipped")
			continue
		}
		return
	}
	c.logger.Info("No replacement candidate available")
}

// ForceLiquidateAll cancels every watcher and sells every open position
// through the retrying sell routine, then clears the book. Safe to call
// with no positions open, and trivially idempotent after the first call.
func (c *Controller) ForceLiquidateAll(ctx context.Context) error {
	c.running.Store(false)
	if c.cancelWatch != nil {
		c.cancelWatch()
	}
	c.logger.Info("Force liquidating all positions")

	var failed int
	for _, position := range c.book.Snapshot() {
		if err := c.sell(ctx, position.Symbol); err != nil {
			failed++
			c.logger.WithError(err).WithField("symbol", position.Symbol.String()).Error("Force sell failed")
		}
	}
	c.book.Clear()
	c.wg.Wait()

	c.notifier.Notify("🛑 All positions liquidated, bot stopped")
	if failed > 0 {
		return fmt.Errorf("force liquidation finished with %d failed sells", failed)
	}
	return nil
}

// Stop cancels the watchers without selling anything. Used for graceful
// process shutdown; open positions simply stop being monitored.
func (c *Controller) Stop() {
	c.running.Store(false)
	if c.cancelWatch != nil {
		c.cancelWatch()
	}
	c.wg.Wait()
	c.logger.Info("Controller stopped")
}

// reconcileLoop periodically re-attaches watchers to stranded positions:
// book entries whose watcher died with the stream, or whose sell ran out
// of retries.
func (c *Controller) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reconcile()
		}
	}
}

func (c *Controller) reconcile() {
	for _, position := range c.book.Snapshot() {
		c.mu.Lock()
		_, watched := c.watchers[position.Symbol]
		c.mu.Unlock()
		if watched {
			continue
		}
		c.logger.WithField("symbol", position.Symbol.String()).Warn("Stranded position, re-attaching watcher")
		if err := c.watch(position); err != nil {
			c.logger.WithError(err).WithField("symbol", position.Symbol.String()).Error("Failed to re-attach watcher")
		}
	}
}

// Positions returns a snapshot of the open positions.
func (c *Controller) Positions() []models.Position {
	return c.book.Snapshot()
}

// Unresolved lists symbols whose sell exhausted its retries and which
// are still open.
func (c *Controller) Unresolved() []models.Symbol {
	c.mu.Lock()
	defer c.mu.Unlock()

	symbols := make([]models.Symbol, 0, len(c.unresolved))
	for symbol := range c.unresolved {
		symbols = append(symbols, symbol)
	}
	return symbols
}

// RealizedProfit is the slippage-adjusted profit of all closed positions
// this run.
func (c *Controller) RealizedProfit() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.realized
}

// quantize floors a raw quantity to an exact multiple of the step size.
// The epsilon keeps borderline divisions like 10/0.1 from losing a step
// to float rounding.
func quantize(quantity, step float64) float64 {
	if step <= 0 {
		return 0
	}
	return math.Floor(quantity/step+1e-9) * step
}
