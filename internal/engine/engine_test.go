package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"polymarket-taker/internal/config"
	"polymarket-taker/internal/market"
)

const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testConfig() *config.Config {
	return &config.Config{
		DryRun: true,
		Wallet: config.WalletConfig{
			PrivateKey: testPrivateKey,
			ChainID:    137,
		},
		API: config.APIConfig{
			CLOBBaseURL: "http://127.0.0.1:0",
			WSMarketURL: "ws://127.0.0.1:0",
		},
		Market: config.MarketConfig{
			TokenA:       "1111",
			TokenB:       "2222",
			FirstBatting: "TEAM_A",
		},
		Trading: config.TradingConfig{
			Budget:           100,
			MaxOrderNotional: 10,
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(testConfig(), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestNewStartsIdle(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	st := e.Status()
	if st.Phase != PhaseIdle {
		t.Fatalf("phase = %q, want %q", st.Phase, PhaseIdle)
	}
	if st.Batting != "TEAM_A" || st.Innings != 1 {
		t.Fatalf("match state = %s innings %d, want TEAM_A innings 1", st.Batting, st.Innings)
	}
	if !st.Position.RemainingBudget.Equal(st.Position.TotalBudget) {
		t.Fatalf("nothing spent yet, remaining = %s budget = %s",
			st.Position.RemainingBudget, st.Position.TotalBudget)
	}
}

func TestSignalRejectedWithoutSession(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	if err := e.Signal("W"); err == nil {
		t.Fatal("expected error when no session is running")
	}
}

func TestSignalRejectsUnknownInput(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	if err := e.Signal("XYZ"); err == nil {
		t.Fatal("expected parse error for unknown signal")
	}
}

func TestStopSessionWithoutSession(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	if err := e.StopSession(); err == nil {
		t.Fatal("expected error when no session is running")
	}
}

func TestEventLogCapped(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	for i := 0; i < maxEvents+25; i++ {
		e.pushEvent("test", fmt.Sprintf("event %d", i))
	}

	events := e.Events()
	if len(events) != maxEvents {
		t.Fatalf("len(events) = %d, want %d", len(events), maxEvents)
	}
	if events[0].Detail != "event 25" {
		t.Fatalf("oldest event = %q, want %q", events[0].Detail, "event 25")
	}
	if last := events[len(events)-1].Detail; last != fmt.Sprintf("event %d", maxEvents+24) {
		t.Fatalf("newest event = %q", last)
	}
}

func TestCancelAllSweepsTrackedOrders(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	e.trackOrder("ord-1")
	e.trackOrder("ord-2")
	e.trackOrder("ord-3")

	cancelled, total := e.CancelAll(context.Background())
	if cancelled != 3 || total != 3 {
		t.Fatalf("CancelAll = (%d, %d), want (3, 3)", cancelled, total)
	}

	// A second sweep finds nothing.
	if _, total := e.CancelAll(context.Background()); total != 0 {
		t.Fatalf("second sweep tracked %d orders, want 0", total)
	}
}

func TestSessionLifecycleCarriesMatchState(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	e.bookWait = 50 * time.Millisecond

	if err := e.StartSession(); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := e.StartSession(); err == nil {
		t.Fatal("second StartSession should conflict")
	}

	if st := e.Status(); st.Phase != PhaseRunning {
		t.Fatalf("phase = %q, want running", st.Phase)
	}

	// Wait out the book grace period so the strategy loop is consuming.
	time.Sleep(150 * time.Millisecond)

	if err := e.Signal("4"); err != nil {
		t.Fatalf("Signal: %v", err)
	}

	if err := e.StopSession(); err != nil {
		t.Fatalf("StopSession: %v", err)
	}

	st := e.Status()
	if st.Phase != PhasePaused {
		t.Fatalf("phase = %q, want paused", st.Phase)
	}
	if st.Batting != "TEAM_B" || st.Innings != 2 {
		t.Fatalf("after stop: %s batting innings %d, want TEAM_B innings 2", st.Batting, st.Innings)
	}

	// The next session resumes the match, not restarts it.
	if err := e.StartSession(); err != nil {
		t.Fatalf("restart session: %v", err)
	}
	if st := e.Status(); st.Batting != "TEAM_B" || st.Innings != 2 {
		t.Fatalf("resumed session: %s batting innings %d, want TEAM_B innings 2", st.Batting, st.Innings)
	}
	if err := e.StopSession(); err != nil {
		t.Fatalf("final stop: %v", err)
	}
}

func TestMatchOverEndsSession(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	e.bookWait = 50 * time.Millisecond

	if err := e.StartSession(); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	if err := e.Signal("MO"); err != nil {
		t.Fatalf("Signal MO: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for e.Status().Phase != PhaseMatchOver {
		if time.Now().After(deadline) {
			t.Fatalf("phase = %q, want match_over", e.Status().Phase)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := e.StartSession(); err == nil {
		t.Fatal("StartSession after match over should fail until reset")
	}
	if err := e.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if st := e.Status(); st.Phase != PhaseIdle || st.Batting != "TEAM_A" || st.Innings != 1 {
		t.Fatalf("after reset: %+v", st)
	}
}

func TestResetClearsState(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	e.pushEvent("test", "something happened")
	e.trackOrder("ord-1")

	if err := e.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	st := e.Status()
	if st.Phase != PhaseIdle {
		t.Fatalf("phase = %q, want idle", st.Phase)
	}
	if st.LiveOrders != 0 {
		t.Fatalf("live orders = %d, want 0", st.LiveOrders)
	}

	events := e.Events()
	if len(events) != 1 || events[0].Kind != "reset" {
		t.Fatalf("events after reset = %+v, want single reset entry", events)
	}
}

func TestWaitForBooksWakesOnUpdate(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	e.bookWait = 3 * time.Second

	books := market.NewBookPair("1111", "2222")
	done := make(chan struct{})
	go func() {
		e.waitForBooks(context.Background(), books)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	level := []json.RawMessage{json.RawMessage(`"0.40"`), json.RawMessage(`"100"`)}
	books.ApplySnapshot("1111", [][]json.RawMessage{level}, nil, time.Time{})

	// The update signal must end the wait well before the 3s deadline.
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waitForBooks did not wake on book update")
	}
}
