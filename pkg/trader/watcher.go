package trader

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/tkhamidov/surge/pkg/exchange"
	"github.com/tkhamidov/surge/pkg/models"
)

// exitFunc is the sell routine a watcher delegates to when its target is
// hit. It must be idempotent; the watcher never issues orders itself.
type exitFunc func(ctx context.Context, symbol models.Symbol) error

// PositionWatcher consumes one symbol's live trade feed and triggers the
// exit on the first price at or above the position's target. One watcher
// per open position; watchers never share streams.
type PositionWatcher struct {
	position models.Position
	stream   exchange.TradeStream
	exit     exitFunc
	logger   *logrus.Entry
}

func NewPositionWatcher(position models.Position, stream exchange.TradeStream, exit exitFunc, logger *logrus.Logger) *PositionWatcher {
	return &PositionWatcher{
		position: position,
		stream:   stream,
		exit:     exit,
		logger: logger.WithFields(logrus.Fields{
			"symbol": position.Symbol.String(),
			"target": position.TargetPrice,
		}),
	}
}

// Run blocks until the target is hit, the stream dies, or ctx is
// cancelled. It always unsubscribes its stream before returning. If the
// stream dies the position is left in the book with no monitor; the
// controller's reconcile sweep is the only recovery path.
func (w *PositionWatcher) Run(ctx context.Context) {
	defer w.stream.Close()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Watcher cancelled")
			return
		case tick, ok := <-w.stream.Prices():
			if !ok {
				w.logger.Warn("Trade stream died, position left unmonitored")
				return
			}
			if tick.Price < w.position.TargetPrice {
				continue
			}
			w.logger.WithField("price", tick.Price).Info("Target hit")
			if err := w.exit(ctx, w.position.Symbol); err != nil {
				w.logger.WithError(err).Error("Exit failed")
			}
			return
		}
	}
}
