package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"polymarket-taker/internal/market"
	"polymarket-taker/pkg/types"
)

func newTestFeed(t *testing.T, url string) (*MarketFeed, *market.BookPair) {
	t.Helper()
	books := market.NewBookPair("1111", "2222")
	feed := NewMarketFeed(url, "1111", "2222", books, time.Second, testLogger())
	return feed, books
}

func TestHandleFrameBookSnapshot(t *testing.T) {
	t.Parallel()
	feed, books := newTestFeed(t, "ws://unused")

	feed.handleFrame([]byte(`{
		"type": "book",
		"asset_id": "1111",
		"bids": [["0.40", "100"], ["0.39", "50"]],
		"asks": [["0.45", "80"]],
		"timestamp": "1700000000123"
	}`))

	book, ok := books.Book("1111")
	if !ok {
		t.Fatal("book for asset 1111 not found")
	}
	bid, hasBid := book.BestBid()
	if !hasBid || bid.Price.String() != "0.4" {
		t.Fatalf("best bid = %+v (ok=%v), want 0.4", bid, hasBid)
	}
	ask, hasAsk := book.BestAsk()
	if !hasAsk || ask.Price.String() != "0.45" {
		t.Fatalf("best ask = %+v (ok=%v), want 0.45", ask, hasAsk)
	}
	if want := time.UnixMilli(1700000000123); !books.LastUpdated().Equal(want) {
		t.Fatalf("LastUpdated = %v, want exchange timestamp %v", books.LastUpdated(), want)
	}
}

func TestHandleFrameEventArray(t *testing.T) {
	t.Parallel()
	feed, books := newTestFeed(t, "ws://unused")

	feed.handleFrame([]byte(`[
		{"type": "book", "asset_id": "1111", "bids": [["0.40", "100"]], "asks": []},
		{"type": "book", "asset_id": "2222", "bids": [], "asks": [["0.62", "30"]]}
	]`))

	a, b := books.Snapshot()
	if _, ok := a.BestBid(); !ok {
		t.Fatal("asset 1111 bid not applied from array frame")
	}
	if _, ok := b.BestAsk(); !ok {
		t.Fatal("asset 2222 ask not applied from array frame")
	}
}

func TestHandleFramePriceChange(t *testing.T) {
	t.Parallel()
	feed, books := newTestFeed(t, "ws://unused")

	feed.handleFrame([]byte(`{
		"type": "book",
		"asset_id": "1111",
		"bids": [["0.40", "100"]],
		"asks": [["0.45", "80"]]
	}`))
	feed.handleFrame([]byte(`{
		"type": "price_change",
		"asset_id": "1111",
		"bids": [["0.40", "0"], ["0.41", "25"]],
		"asks": []
	}`))

	book, _ := books.Book("1111")
	bid, ok := book.BestBid()
	if !ok || bid.Price.String() != "0.41" {
		t.Fatalf("best bid after delta = %+v (ok=%v), want 0.41", bid, ok)
	}
}

func TestHandleFrameIgnoresHeartbeatsAndJunk(t *testing.T) {
	t.Parallel()
	feed, books := newTestFeed(t, "ws://unused")

	feed.handleFrame([]byte("PONG"))
	feed.handleFrame([]byte("PING"))
	feed.handleFrame([]byte("  "))
	feed.handleFrame([]byte("garbage"))
	feed.handleFrame([]byte(`{"type": "tick_size_change", "asset_id": "1111"}`))

	a, b := books.Snapshot()
	if _, ok := a.BestBid(); ok {
		t.Fatal("unexpected book state after junk frames")
	}
	if _, ok := b.BestAsk(); ok {
		t.Fatal("unexpected book state after junk frames")
	}
}

func TestMarketFeedSubscribesAndApplies(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub types.WSSubscribeMsg
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if sub.Type != "market" || len(sub.AssetIDs) != 2 {
			t.Errorf("unexpected subscribe message: %+v", sub)
			return
		}

		snapshot, _ := json.Marshal(types.WSMarketEvent{
			EventType: "book",
			AssetID:   sub.AssetIDs[0],
			Bids:      [][]json.RawMessage{{json.RawMessage(`"0.40"`), json.RawMessage(`"100"`)}},
			Asks:      [][]json.RawMessage{{json.RawMessage(`"0.45"`), json.RawMessage(`"80"`)}},
		})
		if err := conn.WriteMessage(websocket.TextMessage, snapshot); err != nil {
			return
		}

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	feed, books := newTestFeed(t, wsURL)

	if feed.State() != FeedDisconnected {
		t.Fatalf("initial state = %v, want disconnected", feed.State())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go feed.Run(ctx)
	defer feed.Close()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("book never populated from feed")
		case <-books.Updates():
		case <-time.After(50 * time.Millisecond):
		}

		book, ok := books.Book("1111")
		if !ok {
			continue
		}
		if bid, has := book.BestBid(); has {
			if bid.Price.String() != "0.4" {
				t.Fatalf("best bid = %s, want 0.4", bid.Price)
			}
			if feed.State() != FeedSubscribed {
				t.Fatalf("state after snapshot = %v, want subscribed", feed.State())
			}
			return
		}
	}
}
