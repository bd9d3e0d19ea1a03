package trader

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tkhamidov/surge/pkg/models"
)

type exitRecorder struct {
	mu    sync.Mutex
	calls []models.Symbol
}

func (r *exitRecorder) exit(ctx context.Context, symbol models.Symbol) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, symbol)
	return nil
}

func (r *exitRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func runWatcher(ctx context.Context, w *PositionWatcher) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	return done
}

func waitDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not terminate")
	}
}

func TestWatcherIgnoresPriceBelowTarget(t *testing.T) {
	position := models.NewPosition("BTCUSDT", 1, 100, 0.004)
	require.InDelta(t, 100.4, position.TargetPrice, 1e-9)

	stream := newFakeStream()
	recorder := &exitRecorder{}
	watcher := NewPositionWatcher(position, stream, recorder.exit, newTestLogger())

	done := runWatcher(context.Background(), watcher)
	stream.push(100.39)
	stream.fail() // end the feed so the watcher terminates

	waitDone(t, done)
	require.Equal(t, 0, recorder.count())
}

func TestWatcherExitsAtTarget(t *testing.T) {
	position := models.NewPosition("BTCUSDT", 1, 100, 0.004)

	stream := newFakeStream()
	recorder := &exitRecorder{}
	watcher := NewPositionWatcher(position, stream, recorder.exit, newTestLogger())

	done := runWatcher(context.Background(), watcher)
	stream.push(100.39)
	stream.push(100.40)

	waitDone(t, done)
	require.Equal(t, 1, recorder.count())
	require.Equal(t, models.Symbol("BTCUSDT"), recorder.calls[0])
}

func TestWatcherCancelledWithoutSelling(t *testing.T) {
	position := models.NewPosition("ETHUSDT", 1, 100, 0.004)

	stream := newFakeStream()
	recorder := &exitRecorder{}
	watcher := NewPositionWatcher(position, stream, recorder.exit, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := runWatcher(ctx, watcher)
	cancel()

	waitDone(t, done)
	require.Equal(t, 0, recorder.count())

	// Cancellation wins even if a target-crossing price is already queued.
	select {
	case <-stream.done:
	default:
		t.Fatal("watcher did not unsubscribe its stream")
	}
}

func TestWatcherTerminatesOnDeadStream(t *testing.T) {
	position := models.NewPosition("ETHUSDT", 1, 100, 0.004)

	stream := newFakeStream()
	recorder := &exitRecorder{}
	watcher := NewPositionWatcher(position, stream, recorder.exit, newTestLogger())

	done := runWatcher(context.Background(), watcher)
	stream.fail()

	waitDone(t, done)
	require.Equal(t, 0, recorder.count())
}
