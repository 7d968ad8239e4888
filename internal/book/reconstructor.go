package book

import (
	"sync"
	"time"

	"tickpulse/internal/domain"
	"tickpulse/internal/infra"
)

// EventSink receives every raw book event after it has been applied.
type EventSink func(domain.OrderBookEvent)

// SnapshotSink receives throttled full-book snapshots.
type SnapshotSink func(domain.OrderBookSnapshot)

// bookState is the reconstructed book for one symbol: two ordered level
// arrays, best level at position 0 on both sides.
type bookState struct {
	bids     []domain.OrderBookLevel
	asks     []domain.OrderBookLevel
	lastEmit time.Time
}

// Reconstructor maintains per-symbol order-book state from incremental
// add/edit/delete operations and full snapshots. Operations referencing
// positions outside current bounds are no-ops; upstream feed quality is not
// guaranteed and malformed input must never take the pipeline down.
type Reconstructor struct {
	mu    sync.Mutex
	books map[string]*bookState

	snapshotInterval time.Duration
	onEvent          EventSink
	onSnapshot       SnapshotSink
	metrics          *infra.Metrics

	now func() time.Time
}

// NewReconstructor creates a reconstructor. Either sink may be nil.
func NewReconstructor(cfg *infra.Config, metrics *infra.Metrics, onEvent EventSink, onSnapshot SnapshotSink) *Reconstructor {
	return &Reconstructor{
		books:            make(map[string]*bookState),
		snapshotInterval: time.Duration(cfg.Book.SnapshotIntervalMS) * time.Millisecond,
		onEvent:          onEvent,
		onSnapshot:       onSnapshot,
		metrics:          metrics,
		now:              time.Now,
	}
}

// Apply mutates the book for the event's symbol and emits the raw event.
// A snapshot of current state is additionally emitted at most once per
// throttle interval per symbol; ActionSnapshot emits immediately and resets
// the throttle.
func (r *Reconstructor) Apply(ev domain.OrderBookEvent) {
	r.mu.Lock()

	state, ok := r.books[ev.Symbol]
	if !ok {
		state = &bookState{}
		r.books[ev.Symbol] = state
	}

	forced := false
	switch ev.Action {
	case domain.ActionAdd:
		r.applyAdd(state, ev)
	case domain.ActionEdit:
		r.applyEdit(state, ev)
	case domain.ActionDelete:
		r.applyDelete(state, ev)
	case domain.ActionDeleteFrom:
		r.applyDeleteFrom(state, ev)
	case domain.ActionSnapshot:
		forced = r.applySnapshot(state, ev)
	default:
		// Unknown action code: no-op.
	}

	var snap *domain.OrderBookSnapshot
	if forced || r.now().Sub(state.lastEmit) >= r.snapshotInterval {
		state.lastEmit = r.now()
		snap = r.buildSnapshot(ev.Symbol, ev.Time, state)
	}
	r.mu.Unlock()

	r.metrics.RecordBookEvent()
	if r.onEvent != nil {
		r.onEvent(ev)
	}
	if snap != nil {
		r.metrics.RecordSnapshotEmitted()
		if r.onSnapshot != nil {
			r.onSnapshot(*snap)
		}
	}
}

// ApplySnapshot replaces both sides with freshly decoded level arrays.
func (r *Reconstructor) ApplySnapshot(symbol string, t time.Time, bids, asks []domain.OrderBookLevel) {
	r.Apply(domain.OrderBookEvent{
		Symbol: symbol,
		Time:   t,
		Action: domain.ActionSnapshot,
		Bids:   bids,
		Asks:   asks,
	})
}

func (r *Reconstructor) applyAdd(state *bookState, ev domain.OrderBookEvent) {
	levels := sideLevels(state, ev.Side)
	if levels == nil {
		return
	}

	pos := ev.Position
	if pos < 0 {
		pos = 0
	}
	if pos > len(*levels) {
		pos = len(*levels)
	}

	level := domain.OrderBookLevel{Price: ev.Price, Quantity: ev.Quantity, OrderCount: ev.OrderCount}
	*levels = append(*levels, domain.OrderBookLevel{})
	copy((*levels)[pos+1:], (*levels)[pos:])
	(*levels)[pos] = level
}

func (r *Reconstructor) applyEdit(state *bookState, ev domain.OrderBookEvent) {
	levels := sideLevels(state, ev.Side)
	if levels == nil || ev.Position < 0 || ev.Position >= len(*levels) {
		return
	}

	level := &(*levels)[ev.Position]
	level.Quantity = ev.Quantity
	level.OrderCount = ev.OrderCount
	if !ev.Price.IsZero() {
		level.Price = ev.Price
	}
}

func (r *Reconstructor) applyDelete(state *bookState, ev domain.OrderBookEvent) {
	levels := sideLevels(state, ev.Side)
	if levels == nil || ev.Position < 0 || ev.Position >= len(*levels) {
		return
	}
	*levels = append((*levels)[:ev.Position], (*levels)[ev.Position+1:]...)
}

func (r *Reconstructor) applyDeleteFrom(state *bookState, ev domain.OrderBookEvent) {
	levels := sideLevels(state, ev.Side)
	if levels == nil || ev.Position < 0 || ev.Position >= len(*levels) {
		return
	}
	*levels = (*levels)[:ev.Position]
}

// applySnapshot replaces the whole book. An event carrying no levels at all
// is treated as malformed input, not as a legitimate empty book.
func (r *Reconstructor) applySnapshot(state *bookState, ev domain.OrderBookEvent) bool {
	if len(ev.Bids) == 0 && len(ev.Asks) == 0 {
		return false
	}
	state.bids = append(state.bids[:0:0], ev.Bids...)
	state.asks = append(state.asks[:0:0], ev.Asks...)
	return true
}

func (r *Reconstructor) buildSnapshot(symbol string, t time.Time, state *bookState) *domain.OrderBookSnapshot {
	return &domain.OrderBookSnapshot{
		Symbol: symbol,
		Time:   t,
		Bids:   append([]domain.OrderBookLevel(nil), state.bids...),
		Asks:   append([]domain.OrderBookLevel(nil), state.asks...),
	}
}

// BookView returns copies of the current level arrays for a symbol.
func (r *Reconstructor) BookView(symbol string) (bids, asks []domain.OrderBookLevel, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, found := r.books[symbol]
	if !found {
		return nil, nil, false
	}
	return append([]domain.OrderBookLevel(nil), state.bids...),
		append([]domain.OrderBookLevel(nil), state.asks...),
		true
}

func sideLevels(state *bookState, side domain.BookSide) *[]domain.OrderBookLevel {
	switch side {
	case domain.SideBid:
		return &state.bids
	case domain.SideAsk:
		return &state.asks
	default:
		return nil
	}
}
