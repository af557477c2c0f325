// Package journal keeps a capped, in-memory log of the session's orders,
// trades, and connection events. Newest entries first; nothing is
// persisted — the journal lives and dies with the process, like the
// trading session it describes.
package journal

import (
	"sync"
	"time"
)

// Capacity limits per log.
const (
	maxOrders      = 100
	maxTrades      = 100
	maxConnections = 50
)

// OrderEntry records one order placement attempt.
type OrderEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Ref        string    `json:"ref"` // client-side reference id
	OrderID    string    `json:"order_id,omitempty"`
	StockCode  string    `json:"stock_code"`
	Strike     int       `json:"strike"`
	Right      string    `json:"right"`
	Action     string    `json:"action"`
	Quantity   int       `json:"quantity"`
	OrderType  string    `json:"order_type"`
	LimitPrice float64   `json:"limit_price,omitempty"`
	Err        string    `json:"error,omitempty"`
}

// TradeEntry records one completed square-off.
type TradeEntry struct {
	Timestamp time.Time `json:"timestamp"`
	OrderID   string    `json:"order_id"`
	StockCode string    `json:"stock_code"`
	Strike    int       `json:"strike"`
	Right     string    `json:"right"`
	Action    string    `json:"action"`
	Quantity  int       `json:"quantity"`
	PnL       float64   `json:"pnl"`
}

// ConnectionEntry records an auth event.
type ConnectionEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
}

// Journal is safe for concurrent use.
type Journal struct {
	mu          sync.Mutex
	orders      []OrderEntry
	trades      []TradeEntry
	connections []ConnectionEntry
	now         func() time.Time
}

// New creates an empty journal.
func New() *Journal {
	return &Journal{now: time.Now}
}

// WithClock overrides the time source (tests).
func (j *Journal) WithClock(now func() time.Time) *Journal {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.now = now
	return j
}

// LogOrder prepends an order entry, stamping it.
func (j *Journal) LogOrder(e OrderEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e.Timestamp = j.now()
	j.orders = prepend(j.orders, e, maxOrders)
}

// LogTrade prepends a trade entry, stamping it.
func (j *Journal) LogTrade(e TradeEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e.Timestamp = j.now()
	j.trades = prepend(j.trades, e, maxTrades)
}

// LogConnection prepends a connection event.
func (j *Journal) LogConnection(event string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.connections = prepend(j.connections, ConnectionEntry{
		Timestamp: j.now(),
		Event:     event,
	}, maxConnections)
}

// Orders returns a copy of the order log, newest first.
func (j *Journal) Orders() []OrderEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]OrderEntry, len(j.orders))
	copy(out, j.orders)
	return out
}

// Trades returns a copy of the trade log, newest first.
func (j *Journal) Trades() []TradeEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]TradeEntry, len(j.trades))
	copy(out, j.trades)
	return out
}

// Connections returns a copy of the connection log, newest first.
func (j *Journal) Connections() []ConnectionEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]ConnectionEntry, len(j.connections))
	copy(out, j.connections)
	return out
}

func prepend[T any](list []T, e T, capN int) []T {
	list = append([]T{e}, list...)
	if len(list) > capN {
		list = list[:capN]
	}
	return list
}
