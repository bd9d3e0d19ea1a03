package trader

import (
	"errors"
	"sync"

	"github.com/tkhamidov/surge/pkg/models"
)

// ErrDuplicateSymbol is returned by Add when a position is already open
// for the symbol.
var ErrDuplicateSymbol = errors.New("position already open for symbol")

// PositionBook is the authoritative set of open positions, at most one per
// symbol. All mutation is serialized through a single mutex; iteration
// works on snapshots, never on the live map.
type PositionBook struct {
	mu        sync.Mutex
	positions map[models.Symbol]models.Position
}

func NewPositionBook() *PositionBook {
	return &PositionBook{
		positions: make(map[models.Symbol]models.Position),
	}
}

func (b *PositionBook) Add(position models.Position) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.positions[position.Symbol]; exists {
		return ErrDuplicateSymbol
	}
	b.positions[position.Symbol] = position
	return nil
}

// Remove takes the position out of the book and returns it. The second
// return reports whether anything was removed; callers use it as the
// exactly-once claim when two exit paths race for the same position.
func (b *PositionBook) Remove(symbol models.Symbol) (models.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	position, exists := b.positions[symbol]
	if exists {
		delete(b.positions, symbol)
	}
	return position, exists
}

func (b *PositionBook) Get(symbol models.Symbol) (models.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	position, exists := b.positions[symbol]
	return position, exists
}

// Snapshot returns a copy safe to iterate while the book keeps changing.
func (b *PositionBook) Snapshot() []models.Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := make([]models.Position, 0, len(b.positions))
	for _, position := range b.positions {
		snapshot = append(snapshot, position)
	}
	return snapshot
}

func (b *PositionBook) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.positions)
}

func (b *PositionBook) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions = make(map[models.Symbol]models.Position)
}
