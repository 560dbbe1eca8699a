// Package market provides local order book management.
//
// OrderBook mirrors the CLOB book for a single outcome token, fed from
// WebSocket "book" snapshots and "price_change" deltas. BookPair bundles
// the two books of a binary market and notifies a subscriber after every
// applied change.
package market

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Level is one price level of the book.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBook is the local mirror of one token's book. Bids are kept sorted
// descending by price, asks ascending, with at most one level per price.
// Not safe for concurrent use on its own; BookPair provides the locking.
type OrderBook struct {
	Bids []Level
	Asks []Level
}

// ApplySnapshot replaces the full book with the given raw levels.
// Malformed levels are skipped.
func (b *OrderBook) ApplySnapshot(bids, asks [][]json.RawMessage) {
	b.Bids = parseLevels(bids)
	b.Asks = parseLevels(asks)
	sortBids(b.Bids)
	sortAsks(b.Asks)
}

// ApplyDelta applies price_change levels. A size of zero removes the level,
// any other size replaces or inserts it.
func (b *OrderBook) ApplyDelta(bids, asks [][]json.RawMessage) {
	for _, lvl := range parseLevels(bids) {
		b.Bids = upsertLevel(b.Bids, lvl)
	}
	for _, lvl := range parseLevels(asks) {
		b.Asks = upsertLevel(b.Asks, lvl)
	}
	sortBids(b.Bids)
	sortAsks(b.Asks)
}

// BestBid returns the highest bid level, or false if the side is empty.
func (b *OrderBook) BestBid() (Level, bool) {
	if len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask level, or false if the side is empty.
func (b *OrderBook) BestAsk() (Level, bool) {
	if len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[0], true
}

// Clone returns a deep copy, safe to read after the lock is released.
func (b *OrderBook) Clone() OrderBook {
	out := OrderBook{
		Bids: make([]Level, len(b.Bids)),
		Asks: make([]Level, len(b.Asks)),
	}
	copy(out.Bids, b.Bids)
	copy(out.Asks, b.Asks)
	return out
}

func upsertLevel(levels []Level, lvl Level) []Level {
	for i, existing := range levels {
		if existing.Price.Equal(lvl.Price) {
			if lvl.Size.IsZero() {
				return append(levels[:i], levels[i+1:]...)
			}
			levels[i].Size = lvl.Size
			return levels
		}
	}
	if lvl.Size.IsZero() {
		return levels
	}
	return append(levels, lvl)
}

func sortBids(levels []Level) {
	sort.Slice(levels, func(i, j int) bool {
		return levels[i].Price.GreaterThan(levels[j].Price)
	})
}

func sortAsks(levels []Level) {
	sort.Slice(levels, func(i, j int) bool {
		return levels[i].Price.LessThan(levels[j].Price)
	})
}

// parseLevels decodes raw [price, size] pairs. The feed sends the elements
// as either JSON strings or bare numbers, so each is tried both ways.
func parseLevels(raw [][]json.RawMessage) []Level {
	levels := make([]Level, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			continue
		}
		price, ok := parseDecimal(pair[0])
		if !ok {
			continue
		}
		size, ok := parseDecimal(pair[1])
		if !ok {
			continue
		}
		levels = append(levels, Level{Price: price, Size: size})
	}
	return levels
}

func parseDecimal(raw json.RawMessage) (decimal.Decimal, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		d, err := decimal.NewFromString(s)
		return d, err == nil
	}
	var d decimal.Decimal
	if err := json.Unmarshal(raw, &d); err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// BookPair holds the books for both outcome tokens of a binary market,
// keyed by asset ID. After every applied update it signals the Updates
// channel (non-blocking, capacity 1) so a consumer can re-read state.
type BookPair struct {
	mu      sync.RWMutex
	assetA  string
	assetB  string
	bookA   OrderBook
	bookB   OrderBook
	updated time.Time
	updates chan struct{}
}

// NewBookPair creates an empty pair for the two token asset IDs.
func NewBookPair(assetA, assetB string) *BookPair {
	return &BookPair{
		assetA:  assetA,
		assetB:  assetB,
		updates: make(chan struct{}, 1),
	}
}

// Updates signals after each applied book change. The channel never closes.
func (p *BookPair) Updates() <-chan struct{} {
	return p.updates
}

// ApplySnapshot replaces one token's book from a "book" event. ts is the
// exchange timestamp of the event; a zero ts falls back to local time.
// Events for unknown asset IDs are ignored.
func (p *BookPair) ApplySnapshot(assetID string, bids, asks [][]json.RawMessage, ts time.Time) {
	p.apply(assetID, ts, func(b *OrderBook) { b.ApplySnapshot(bids, asks) })
}

// ApplyDelta applies a "price_change" event to one token's book.
func (p *BookPair) ApplyDelta(assetID string, bids, asks [][]json.RawMessage, ts time.Time) {
	// An empty delta carries no information; skip the notify.
	if len(bids) == 0 && len(asks) == 0 {
		return
	}
	p.apply(assetID, ts, func(b *OrderBook) { b.ApplyDelta(bids, asks) })
}

func (p *BookPair) apply(assetID string, ts time.Time, fn func(*OrderBook)) {
	if ts.IsZero() {
		ts = time.Now()
	}
	p.mu.Lock()
	switch assetID {
	case p.assetA:
		fn(&p.bookA)
	case p.assetB:
		fn(&p.bookB)
	default:
		p.mu.Unlock()
		return
	}
	p.updated = ts
	p.mu.Unlock()

	select {
	case p.updates <- struct{}{}:
	default:
	}
}

// Snapshot returns deep copies of both books.
func (p *BookPair) Snapshot() (a, b OrderBook) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bookA.Clone(), p.bookB.Clone()
}

// Book returns a copy of the book for the given asset ID.
func (p *BookPair) Book(assetID string) (OrderBook, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch assetID {
	case p.assetA:
		return p.bookA.Clone(), true
	case p.assetB:
		return p.bookB.Clone(), true
	}
	return OrderBook{}, false
}

// LastUpdated returns the exchange timestamp of the most recent applied
// change, or the local receive time when the event carried none.
func (p *BookPair) LastUpdated() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.updated
}
