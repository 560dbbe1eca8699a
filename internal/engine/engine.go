// Package engine wires the exchange client, market feed, balance reader and
// strategy into match sessions, and exposes the state the control API serves.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-taker/internal/chain"
	"polymarket-taker/internal/config"
	"polymarket-taker/internal/exchange"
	"polymarket-taker/internal/market"
	"polymarket-taker/internal/strategy"
	"polymarket-taker/pkg/types"
)

// Phase tracks where the match session is in its lifecycle.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhasePaused    Phase = "paused"
	PhaseMatchOver Phase = "match_over"
)

const (
	maxEvents       = 200
	signalBuffer    = 64
	defaultBookWait = 5 * time.Second
	sweepTimeout    = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

// EventEntry is one line of the session event log.
type EventEntry struct {
	TS     time.Time `json:"ts"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail"`
}

// InventoryPoint records token holdings at a moment in time.
type InventoryPoint struct {
	TS     time.Time       `json:"ts"`
	TeamA  decimal.Decimal `json:"team_a"`
	TeamB  decimal.Decimal `json:"team_b"`
}

// session bundles everything whose lifetime is one innings run.
type session struct {
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	signals   chan types.GameSignal
	stratDone chan struct{}
	books     *market.BookPair
	feed      *exchange.MarketFeed
	strat     *strategy.Engine
}

// Engine owns the long-lived components and the current session.
type Engine struct {
	cfg     *config.Config
	client  *exchange.Client
	builder *exchange.OrderBuilder
	balance *chain.BalanceReader
	ledger  *strategy.Ledger
	logger  *slog.Logger

	mu      sync.Mutex
	phase   Phase
	session *session
	match   types.MatchState

	eventsMu  sync.Mutex
	events    []EventEntry
	inventory []InventoryPoint
	eventCh   chan EventEntry

	ordersMu sync.Mutex
	orderIDs []string

	// bookWait caps how long a new session waits for feed data before the
	// strategy starts anyway.
	bookWait time.Duration
}

// New builds the engine from config. L2 credentials are derived on the spot
// when the config does not carry them; dry-run skips derivation since no
// authenticated call will be made.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	auth, err := exchange.NewAuth(cfg)
	if err != nil {
		return nil, fmt.Errorf("wallet init: %w", err)
	}

	client := exchange.NewClient(cfg, auth, logger)

	if !cfg.DryRun && !auth.HasL2Credentials() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := client.DeriveAPIKey(ctx); err != nil {
			return nil, fmt.Errorf("derive api credentials: %w", err)
		}
		logger.Info("L2 api credentials derived", "address", auth.Address().Hex())
	}

	e := &Engine{
		cfg:      cfg,
		client:   client,
		builder:  exchange.NewOrderBuilder(auth, cfg.ExchangeAddress()),
		ledger:   strategy.NewLedger(decimal.NewFromFloat(cfg.Trading.Budget)),
		phase:    PhaseIdle,
		match:    types.NewMatchState(types.Team(cfg.Market.FirstBatting)),
		eventCh:  make(chan EventEntry, 256),
		bookWait: defaultBookWait,
		logger:   logger.With("component", "engine"),
	}

	if cfg.API.RPCURL != "" {
		reader, err := chain.NewBalanceReader(cfg, auth.FunderAddress(), logger)
		if err != nil {
			logger.Warn("balance reader unavailable, on-chain sync disabled", "error", err)
		} else {
			e.balance = reader
		}
	}

	return e, nil
}

// StartSession spawns the market feed, the balance sync loop and the strategy
// loop for one innings. Returns an error when a session is already running.
func (e *Engine) StartSession() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase == PhaseRunning {
		return fmt.Errorf("session already running")
	}
	if e.phase == PhaseMatchOver {
		return fmt.Errorf("match is over, reset before starting a new session")
	}

	books := market.NewBookPair(e.cfg.Market.TokenA, e.cfg.Market.TokenB)
	feed := exchange.NewMarketFeed(
		e.cfg.API.WSMarketURL,
		e.cfg.Market.TokenA,
		e.cfg.Market.TokenB,
		books,
		e.cfg.Trading.HeartbeatInterval,
		e.logger,
	)
	strat := strategy.NewEngine(
		e.cfg,
		e.client,
		e.builder,
		books,
		e.ledger,
		e.pushEvent,
		e.trackOrder,
		e.logger,
	)
	// Resume where the previous innings left off.
	strat.SetMatchState(e.match)

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		cancel:    cancel,
		signals:   make(chan types.GameSignal, signalBuffer),
		stratDone: make(chan struct{}),
		books:     books,
		feed:      feed,
		strat:     strat,
	}
	e.session = s
	e.phase = PhaseRunning

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("market feed stopped", "error", err)
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		e.balanceSyncLoop(ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		e.runStrategy(ctx, s)
	}()

	state := strat.MatchState()
	e.pushEvent("session", fmt.Sprintf("innings %d started — %s batting", state.Innings, state.Batting))
	return nil
}

// runStrategy waits for book data, runs the optional initial purchase, then
// drives the signal loop until it ends.
func (e *Engine) runStrategy(ctx context.Context, s *session) {
	defer close(s.stratDone)

	e.waitForBooks(ctx, s.books)

	s.strat.BuyInitialTokens(ctx)

	err := s.strat.Run(ctx, s.signals)
	if err != nil && ctx.Err() == nil {
		e.logger.Error("strategy loop ended", "error", err)
		return
	}
	if err != nil {
		return
	}

	// Run returned cleanly either because StopSession closed the channel
	// (the session is already detached) or because MO arrived through it.
	// Only the MO case still owns the session and must tear it down.
	e.mu.Lock()
	owned := e.session == s
	if owned {
		e.session = nil
		e.phase = PhaseMatchOver
		e.match = s.strat.MatchState()
	}
	e.mu.Unlock()
	if !owned {
		return
	}

	s.cancel()
	s.feed.Close()

	sweepCtx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	e.sweepOrders(sweepCtx)

	e.pushEvent("match", "MATCH OVER")
	e.logFinalPosition()
}

// waitForBooks blocks until either book has a best price or the wait times
// out. A dead feed must not stall the strategy forever.
func (e *Engine) waitForBooks(ctx context.Context, books *market.BookPair) {
	timeout := time.NewTimer(e.bookWait)
	defer timeout.Stop()
	for {
		a, b := books.Snapshot()
		_, aBid := a.BestBid()
		_, aAsk := a.BestAsk()
		_, bBid := b.BestBid()
		_, bAsk := b.BestAsk()
		if aBid || aAsk || bBid || bAsk {
			e.logger.Info("book data received, starting strategy")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-timeout.C:
			e.logger.Warn("book wait timed out, starting strategy with empty books")
			return
		case <-books.Updates():
		}
	}
}

// balanceSyncLoop reconciles on-chain token balances into the ledger, once
// immediately and then on a fixed interval. Local tracking drifts when fills
// time out; the chain is the source of truth.
func (e *Engine) balanceSyncLoop(ctx context.Context) {
	if e.balance == nil {
		return
	}

	e.syncBalances(ctx)

	interval := e.cfg.Trading.BalanceSyncInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.syncBalances(ctx)
		}
	}
}

func (e *Engine) syncBalances(ctx context.Context) {
	tokensA, tokensB, err := e.balance.SyncBalances(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn("on-chain balance sync failed", "error", err)
		}
		return
	}
	e.ledger.SetHoldings(tokensA, tokensB)
	e.snapshotInventory()
	e.logger.Debug("on-chain balances synced", "team_a", tokensA, "team_b", tokensB)
}

// Signal parses a raw cricket signal and feeds it to the running session.
func (e *Engine) Signal(raw string) error {
	sig, ok := types.ParseSignal(raw)
	if !ok {
		return fmt.Errorf("unknown signal: %q", raw)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseRunning || e.session == nil {
		return fmt.Errorf("no session running")
	}

	select {
	case e.session.signals <- sig:
	default:
		if sig.IsWicket() {
			e.logger.Error("wicket signal dropped", "signal", raw)
		}
		return fmt.Errorf("signal backlog full, dropped %s", sig)
	}

	e.pushEvent("signal", sig.String())
	return nil
}

// StopSession ends the current innings: the innings-over signal goes through
// the strategy so the match state switches, the signal channel closes, the
// session context is cancelled and tracked resting orders are swept. Wicket
// handlers already in flight run to completion on a detached context.
func (e *Engine) StopSession() error {
	e.mu.Lock()
	if e.phase != PhaseRunning || e.session == nil {
		e.mu.Unlock()
		return fmt.Errorf("no session running")
	}
	s := e.session
	e.session = nil
	e.phase = PhasePaused

	select {
	case s.signals <- types.GameSignal{Kind: types.SignalInningsOver}:
	default:
	}
	close(s.signals)
	e.mu.Unlock()

	// Let the strategy drain the channel (including the IO) before the
	// context cut stops the feed and sync loops.
	select {
	case <-s.stratDone:
	case <-time.After(shutdownTimeout):
		e.logger.Warn("strategy loop did not stop in time")
	}
	s.cancel()
	s.feed.Close()
	s.wg.Wait()

	// The drained innings-over signal switched the batting team; carry the
	// state forward so the next session resumes the match.
	e.mu.Lock()
	e.match = s.strat.MatchState()
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	e.sweepOrders(ctx)

	e.pushEvent("session", "innings stopped")
	return nil
}

// CancelAll sweeps every tracked resting order. Returns how many were
// cancelled and how many were tracked.
func (e *Engine) CancelAll(ctx context.Context) (cancelled, total int) {
	e.ordersMu.Lock()
	ids := make([]string, len(e.orderIDs))
	copy(ids, e.orderIDs)
	e.orderIDs = e.orderIDs[:0]
	e.ordersMu.Unlock()

	failed := e.client.CancelOrders(ctx, ids)
	cancelled = len(ids) - len(failed)
	e.pushEvent("cancel", fmt.Sprintf("cancelled %d/%d orders", cancelled, len(ids)))
	return cancelled, len(ids)
}

func (e *Engine) sweepOrders(ctx context.Context) {
	cancelled, total := e.CancelAll(ctx)
	if total > 0 {
		e.logger.Info("resting orders swept", "cancelled", cancelled, "total", total)
	}
}

// Reset clears position, events and phase for a new match. Rejected while a
// session is running.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase == PhaseRunning {
		return fmt.Errorf("stop the session first")
	}

	e.ledger.Reset(decimal.NewFromFloat(e.cfg.Trading.Budget))
	e.match = types.NewMatchState(types.Team(e.cfg.Market.FirstBatting))

	e.eventsMu.Lock()
	e.events = nil
	e.inventory = nil
	e.eventsMu.Unlock()

	e.ordersMu.Lock()
	e.orderIDs = nil
	e.ordersMu.Unlock()

	e.phase = PhaseIdle
	e.pushEvent("reset", "state reset for new match")
	return nil
}

// Close releases long-lived resources. Call after the final StopSession.
func (e *Engine) Close() {
	if e.balance != nil {
		e.balance.Close()
	}
}

// Status is the control-surface view of the engine.
type Status struct {
	Phase       Phase                     `json:"phase"`
	Batting     types.Team                `json:"batting"`
	Bowling     types.Team                `json:"bowling"`
	Innings     int                       `json:"innings"`
	Position    strategy.PositionSnapshot `json:"position"`
	DryRun      bool                      `json:"dry_run"`
	LiveOrders  int                       `json:"live_orders"`
	BookABid    *decimal.Decimal          `json:"book_a_bid"`
	BookAAsk    *decimal.Decimal          `json:"book_a_ask"`
	BookBBid    *decimal.Decimal          `json:"book_b_bid"`
	BookBAsk    *decimal.Decimal          `json:"book_b_ask"`
	BookUpdated time.Time                 `json:"book_updated"`
	FeedState   string                    `json:"feed_state"`
}

// Status snapshots phase, match state, position and top of both books.
func (e *Engine) Status() Status {
	e.mu.Lock()
	phase := e.phase
	s := e.session
	e.mu.Unlock()

	st := Status{
		Phase:    phase,
		Position: e.ledger.Snapshot(),
		DryRun:   e.cfg.DryRun,
	}

	var match types.MatchState
	if s != nil {
		match = s.strat.MatchState()
	} else {
		e.mu.Lock()
		match = e.match
		e.mu.Unlock()
	}
	st.Batting = match.Batting
	st.Bowling = match.Bowling()
	st.Innings = match.Innings

	e.ordersMu.Lock()
	st.LiveOrders = len(e.orderIDs)
	e.ordersMu.Unlock()

	if s != nil {
		a, b := s.books.Snapshot()
		st.BookABid, st.BookAAsk = bestPrices(&a)
		st.BookBBid, st.BookBAsk = bestPrices(&b)
		st.BookUpdated = s.books.LastUpdated()
		st.FeedState = s.feed.State().String()
	} else {
		st.FeedState = exchange.FeedDisconnected.String()
	}
	return st
}

func bestPrices(book *market.OrderBook) (bid, ask *decimal.Decimal) {
	if lvl, ok := book.BestBid(); ok {
		p := lvl.Price
		bid = &p
	}
	if lvl, ok := book.BestAsk(); ok {
		p := lvl.Price
		ask = &p
	}
	return bid, ask
}

// Events returns a copy of the event log, oldest first.
func (e *Engine) Events() []EventEntry {
	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()
	out := make([]EventEntry, len(e.events))
	copy(out, e.events)
	return out
}

// Inventory returns the recorded holdings history.
func (e *Engine) Inventory() []InventoryPoint {
	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()
	out := make([]InventoryPoint, len(e.inventory))
	copy(out, e.inventory)
	return out
}

// EventStream delivers events as they happen. Slow consumers lose events;
// the log kept by Events is the durable record.
func (e *Engine) EventStream() <-chan EventEntry {
	return e.eventCh
}

func (e *Engine) pushEvent(kind, detail string) {
	entry := EventEntry{TS: time.Now(), Kind: kind, Detail: detail}

	e.eventsMu.Lock()
	if len(e.events) >= maxEvents {
		e.events = e.events[1:]
	}
	e.events = append(e.events, entry)
	e.eventsMu.Unlock()

	select {
	case e.eventCh <- entry:
	default:
	}
}

func (e *Engine) snapshotInventory() {
	snap := e.ledger.Snapshot()
	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()
	e.inventory = append(e.inventory, InventoryPoint{
		TS:    time.Now(),
		TeamA: snap.TokensA,
		TeamB: snap.TokensB,
	})
}

func (e *Engine) trackOrder(orderID string) {
	e.ordersMu.Lock()
	defer e.ordersMu.Unlock()
	e.orderIDs = append(e.orderIDs, orderID)
}

func (e *Engine) logFinalPosition() {
	snap := e.ledger.Snapshot()
	attrs := []any{
		"team_a_tokens", snap.TokensA,
		"team_b_tokens", snap.TokensB,
		"total_spent", snap.TotalSpent,
		"remaining_budget", snap.RemainingBudget,
		"trade_count", snap.TradeCount,
	}
	if e.balance != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if usdc, err := e.balance.CollateralBalance(ctx); err == nil {
			attrs = append(attrs, "wallet_usdc", usdc)
		} else {
			e.logger.Warn("collateral balance read failed", "error", err)
		}
		cancel()
	}
	e.logger.Info("final position", attrs...)
}
