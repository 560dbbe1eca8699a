package market

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func rawPair(price, size string) []json.RawMessage {
	return []json.RawMessage{json.RawMessage(price), json.RawMessage(size)}
}

func strPair(price, size string) []json.RawMessage {
	p, _ := json.Marshal(price)
	s, _ := json.Marshal(size)
	return []json.RawMessage{p, s}
}

func TestApplySnapshotSortsLevels(t *testing.T) {
	t.Parallel()

	var b OrderBook
	b.ApplySnapshot(
		[][]json.RawMessage{strPair("0.40", "100"), strPair("0.55", "20"), strPair("0.50", "10")},
		[][]json.RawMessage{strPair("0.70", "5"), strPair("0.60", "50")},
	)

	bid, ok := b.BestBid()
	if !ok || !bid.Price.Equal(decimal.RequireFromString("0.55")) {
		t.Fatalf("best bid = %+v, want 0.55", bid)
	}
	ask, ok := b.BestAsk()
	if !ok || !ask.Price.Equal(decimal.RequireFromString("0.60")) {
		t.Fatalf("best ask = %+v, want 0.60", ask)
	}
	if len(b.Bids) != 3 || len(b.Asks) != 2 {
		t.Fatalf("level counts: %d bids, %d asks", len(b.Bids), len(b.Asks))
	}
}

func TestApplySnapshotNumericElements(t *testing.T) {
	t.Parallel()

	// Feed may send bare numbers instead of strings.
	var b OrderBook
	b.ApplySnapshot(
		[][]json.RawMessage{rawPair("0.45", "30")},
		nil,
	)
	bid, ok := b.BestBid()
	if !ok || !bid.Price.Equal(decimal.RequireFromString("0.45")) || !bid.Size.Equal(decimal.RequireFromString("30")) {
		t.Fatalf("best bid = %+v", bid)
	}
}

func TestApplySnapshotSkipsMalformed(t *testing.T) {
	t.Parallel()

	var b OrderBook
	b.ApplySnapshot(
		[][]json.RawMessage{
			strPair("0.50", "10"),
			{json.RawMessage(`"oops"`), json.RawMessage(`"10"`)},
			{json.RawMessage(`"0.40"`)}, // missing size
		},
		nil,
	)
	if len(b.Bids) != 1 {
		t.Fatalf("got %d bids, want 1", len(b.Bids))
	}
}

func TestApplyDelta(t *testing.T) {
	t.Parallel()

	var b OrderBook
	b.ApplySnapshot(
		[][]json.RawMessage{strPair("0.50", "10"), strPair("0.45", "20")},
		[][]json.RawMessage{strPair("0.60", "5")},
	)

	// Replace, remove, insert.
	b.ApplyDelta(
		[][]json.RawMessage{
			strPair("0.50", "99"), // replace
			strPair("0.45", "0"),  // remove
			strPair("0.55", "7"),  // insert, new best
		},
		[][]json.RawMessage{strPair("0.60", "0")}, // empty the ask side
	)

	bid, _ := b.BestBid()
	if !bid.Price.Equal(decimal.RequireFromString("0.55")) || !bid.Size.Equal(decimal.RequireFromString("7")) {
		t.Fatalf("best bid = %+v", bid)
	}
	if len(b.Bids) != 2 {
		t.Fatalf("got %d bids, want 2", len(b.Bids))
	}
	if _, ok := b.BestAsk(); ok {
		t.Fatal("ask side should be empty")
	}

	// Zero-size delta for an absent level is a no-op.
	b.ApplyDelta([][]json.RawMessage{strPair("0.30", "0")}, nil)
	if len(b.Bids) != 2 {
		t.Fatalf("got %d bids after no-op delta, want 2", len(b.Bids))
	}
}

func TestBookPairRouting(t *testing.T) {
	t.Parallel()

	p := NewBookPair("tokA", "tokB")
	p.ApplySnapshot("tokA", [][]json.RawMessage{strPair("0.60", "100")}, nil, time.Time{})
	p.ApplySnapshot("tokB", nil, [][]json.RawMessage{strPair("0.40", "100")}, time.Time{})
	p.ApplySnapshot("unknown", [][]json.RawMessage{strPair("0.99", "1")}, nil, time.Time{})

	a, b := p.Snapshot()
	bid, ok := a.BestBid()
	if !ok || !bid.Price.Equal(decimal.RequireFromString("0.60")) {
		t.Fatalf("book A best bid = %+v", bid)
	}
	ask, ok := b.BestAsk()
	if !ok || !ask.Price.Equal(decimal.RequireFromString("0.40")) {
		t.Fatalf("book B best ask = %+v", ask)
	}
	if _, ok := p.Book("unknown"); ok {
		t.Fatal("unknown asset should not resolve")
	}
}

func TestBookPairUpdateSignal(t *testing.T) {
	t.Parallel()

	p := NewBookPair("tokA", "tokB")
	p.ApplySnapshot("tokA", [][]json.RawMessage{strPair("0.50", "10")}, nil, time.Time{})

	select {
	case <-p.Updates():
	default:
		t.Fatal("expected update signal after snapshot")
	}

	// Empty delta applies nothing and must not signal.
	p.ApplyDelta("tokA", nil, nil, time.Time{})
	select {
	case <-p.Updates():
		t.Fatal("empty delta should not signal")
	default:
	}

	// Unknown asset must not signal either.
	p.ApplySnapshot("nope", [][]json.RawMessage{strPair("0.50", "10")}, nil, time.Time{})
	select {
	case <-p.Updates():
		t.Fatal("unknown asset should not signal")
	default:
	}
}

func TestBookPairCarriesEventTimestamp(t *testing.T) {
	t.Parallel()

	p := NewBookPair("tokA", "tokB")
	ts := time.UnixMilli(1700000000123)
	p.ApplySnapshot("tokA", [][]json.RawMessage{strPair("0.50", "10")}, nil, ts)
	if !p.LastUpdated().Equal(ts) {
		t.Fatalf("LastUpdated = %v, want event time %v", p.LastUpdated(), ts)
	}

	// An event without a timestamp falls back to the local receive time.
	p.ApplySnapshot("tokB", nil, [][]json.RawMessage{strPair("0.60", "5")}, time.Time{})
	if !p.LastUpdated().After(ts) {
		t.Fatalf("LastUpdated = %v, want local fallback after %v", p.LastUpdated(), ts)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	t.Parallel()

	p := NewBookPair("tokA", "tokB")
	p.ApplySnapshot("tokA", [][]json.RawMessage{strPair("0.50", "10")}, nil, time.Time{})

	a, _ := p.Snapshot()
	a.Bids[0].Size = decimal.RequireFromString("999")

	a2, _ := p.Snapshot()
	if !a2.Bids[0].Size.Equal(decimal.RequireFromString("10")) {
		t.Fatal("snapshot mutation leaked into the pair")
	}
}
