package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"tickpulse/internal/domain"
	"tickpulse/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	maxRetries       = 10
	handshakeTimeout = 10 * time.Second
	readTimeout      = 60 * time.Second
)

// Sink receives decoded feed values. Implementations must tolerate being
// called from the worker's read goroutine.
type Sink interface {
	HandleTick(tick domain.Tick)
	HandleBookEvent(ev domain.OrderBookEvent)
}

// Wire message envelopes. The upstream feed delivers JSON; any vendor binary
// level-array format has already been decoded before it reaches this worker.
type wireMessage struct {
	Type string `json:"type"` // trade | book | book_snapshot

	Symbol string `json:"symbol"`
	Time   int64  `json:"time"` // epoch millis

	// trade fields
	Venue     string          `json:"venue,omitempty"`
	Price     decimal.Decimal `json:"price,omitempty"`
	Volume    int64           `json:"volume,omitempty"`
	TradeID   int64           `json:"trade_id,omitempty"`
	BuyParty  string          `json:"buy_party,omitempty"`
	SellParty string          `json:"sell_party,omitempty"`
	Side      int8            `json:"side,omitempty"`
	Notional  decimal.Decimal `json:"notional,omitempty"`

	// book fields
	Action     string          `json:"action,omitempty"`
	BookSide   string          `json:"book_side,omitempty"`
	Position   int             `json:"position,omitempty"`
	Quantity   int64           `json:"quantity,omitempty"`
	OrderCount int32           `json:"order_count,omitempty"`

	// book_snapshot fields
	Seq  int64       `json:"seq,omitempty"`
	Bids []wireLevel `json:"bids,omitempty"`
	Asks []wireLevel `json:"asks,omitempty"`
}

type wireLevel struct {
	Price      decimal.Decimal `json:"price"`
	Quantity   int64           `json:"quantity"`
	OrderCount int32           `json:"order_count"`
}

// wirePool recycles decode envelopes; the read loop would otherwise allocate
// one per message. Decoded values are copied out before release.
var wirePool = sync.Pool{
	New: func() interface{} { return &wireMessage{} },
}

// Worker handles the market-data feed WebSocket connection
type Worker struct {
	url       string
	venue     string
	symbols   []string
	sink      Sink
	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewWorker creates a new feed gateway worker
func NewWorker(cfg *infra.Config, sink Sink) *Worker {
	return &Worker{
		url:     cfg.Feed.WSURL,
		venue:   cfg.Feed.Venue,
		symbols: cfg.Feed.Symbols,
		sink:    sink,
	}
}

// Connect starts the WebSocket connection
func (w *Worker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			slog.Warn("Feed connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			delay := infra.CalculateBackoff(retryCount)
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		} else {
			retryCount = 0
			w.readLoop(ctx)
		}
	}
}

func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	header := make(http.Header)

	conn, _, err := dialer.DialContext(ctx, w.url, header)
	if err != nil {
		return domain.NewFeedError("dial", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()

	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return err
	}

	slog.Info("Feed connected", slog.String("venue", w.venue), slog.Int("subs", len(w.symbols)))
	return nil
}

func (w *Worker) subscribe() error {
	msg := map[string]interface{}{
		"op":      "subscribe",
		"symbols": w.symbols,
	}
	b, _ := json.Marshal(msg)
	if err := w.threadSafeWrite(websocket.TextMessage, b); err != nil {
		return domain.NewFeedError("subscribe", err)
	}
	return nil
}

func (w *Worker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return fmt.Errorf("no conn")
	}
	return w.conn.WriteMessage(msgType, data)
}

func (w *Worker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.mu.RLock()
		if w.conn == nil {
			w.mu.RUnlock()
			return
		}
		w.conn.SetReadDeadline(time.Now().Add(readTimeout))
		w.mu.RUnlock()

		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			w.closeConnection()
			return
		}
		w.handleMessage(msg)
	}
}

func (w *Worker) handleMessage(raw []byte) {
	msg := wirePool.Get().(*wireMessage)
	defer func() {
		*msg = wireMessage{}
		wirePool.Put(msg)
	}()

	if json.Unmarshal(raw, msg) != nil || msg.Symbol == "" {
		return
	}

	switch msg.Type {
	case "trade":
		w.sink.HandleTick(decodeTick(msg, w.venue))
	case "book":
		w.sink.HandleBookEvent(domain.OrderBookEvent{
			Symbol:     msg.Symbol,
			Time:       time.UnixMilli(msg.Time),
			Action:     parseAction(msg.Action),
			Side:       parseSide(msg.BookSide),
			Position:   msg.Position,
			Price:      msg.Price,
			Quantity:   msg.Quantity,
			OrderCount: msg.OrderCount,
		})
	case "book_snapshot":
		w.sink.HandleBookEvent(domain.OrderBookEvent{
			Symbol: msg.Symbol,
			Time:   time.UnixMilli(msg.Time),
			Action: domain.ActionSnapshot,
			Bids:   decodeLevels(msg.Bids),
			Asks:   decodeLevels(msg.Asks),
		})
	}
}

func decodeTick(msg *wireMessage, fallbackVenue string) domain.Tick {
	venue := msg.Venue
	if venue == "" {
		venue = fallbackVenue
	}
	return domain.Tick{
		Symbol:    msg.Symbol,
		Venue:     venue,
		Price:     msg.Price,
		Volume:    msg.Volume,
		EventTime: time.UnixMilli(msg.Time),
		Seq:       msg.TradeID,
		BuyParty:  msg.BuyParty,
		SellParty: msg.SellParty,
		Side:      msg.Side,
		Notional:  msg.Notional,
	}
}

func decodeLevels(levels []wireLevel) []domain.OrderBookLevel {
	if len(levels) == 0 {
		return nil
	}
	out := make([]domain.OrderBookLevel, len(levels))
	for i, lv := range levels {
		out[i] = domain.OrderBookLevel{Price: lv.Price, Quantity: lv.Quantity, OrderCount: lv.OrderCount}
	}
	return out
}

// parseAction maps the wire action code; unknown codes yield the zero action,
// which the reconstructor treats as a no-op.
func parseAction(s string) domain.BookAction {
	switch s {
	case "ADD":
		return domain.ActionAdd
	case "EDIT":
		return domain.ActionEdit
	case "DELETE":
		return domain.ActionDelete
	case "DELETE_FROM":
		return domain.ActionDeleteFrom
	case "SNAPSHOT":
		return domain.ActionSnapshot
	default:
		return 0
	}
}

func parseSide(s string) domain.BookSide {
	switch s {
	case "BID":
		return domain.SideBid
	case "ASK":
		return domain.SideAsk
	default:
		return 0
	}
}

func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connected = false
}

// IsConnected reports whether the worker currently holds a live connection.
func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// Disconnect stops the worker and closes the connection.
func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}
