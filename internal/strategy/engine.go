// Package strategy implements the cricket signal execution engine and the
// budget-ratcheted position ledger.
//
// The engine consumes delivery signals in order. A wicket triggers the
// two-leg taker protocol: sell the batting team into the best bid, buy the
// bowling team from the best ask, confirm fills by polling, then place
// delayed GTC orders that unwind both legs at their entry prices. Every
// other signal only mutates match state or the event log.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-taker/internal/config"
	"polymarket-taker/internal/market"
	"polymarket-taker/pkg/types"
)

// Gateway is the slice of the exchange client the engine needs.
type Gateway interface {
	PostOrder(ctx context.Context, order types.SignedOrder, orderType types.OrderType) (*types.OrderResponse, error)
	GetOrder(ctx context.Context, orderID string) (*types.OpenOrder, error)
}

// OrderBuilder signs trade intents into exchange orders.
type OrderBuilder interface {
	Build(tokenID string, side types.Side, price, size decimal.Decimal) (types.SignedOrder, error)
}

// EventFunc receives human-readable engine events for the control surface.
type EventFunc func(kind, msg string)

// TrackFunc records a resting order ID so the session can sweep it later.
type TrackFunc func(orderID string)

// Engine runs the signal loop for one match session.
type Engine struct {
	cfg     *config.Config
	gateway Gateway
	builder OrderBuilder
	books   *market.BookPair
	ledger  *Ledger

	matchMu sync.Mutex
	match   types.MatchState

	onEvent     EventFunc
	trackRevert TrackFunc

	// wicketWG counts in-flight wicket handlers so tests can join them.
	wicketWG sync.WaitGroup

	logger *slog.Logger
}

// NewEngine wires an engine for one session. onEvent and trackRevert may be
// nil.
func NewEngine(
	cfg *config.Config,
	gateway Gateway,
	builder OrderBuilder,
	books *market.BookPair,
	ledger *Ledger,
	onEvent EventFunc,
	trackRevert TrackFunc,
	logger *slog.Logger,
) *Engine {
	if onEvent == nil {
		onEvent = func(string, string) {}
	}
	if trackRevert == nil {
		trackRevert = func(string) {}
	}
	return &Engine{
		cfg:         cfg,
		gateway:     gateway,
		builder:     builder,
		books:       books,
		ledger:      ledger,
		match:       types.NewMatchState(types.Team(cfg.Market.FirstBatting)),
		onEvent:     onEvent,
		trackRevert: trackRevert,
		logger:      logger.With("component", "strategy"),
	}
}

// MatchState returns a copy of the current match state.
func (e *Engine) MatchState() types.MatchState {
	e.matchMu.Lock()
	defer e.matchMu.Unlock()
	return e.match
}

// SetMatchState seeds the match state, used when a session resumes a match
// whose earlier innings already ran.
func (e *Engine) SetMatchState(state types.MatchState) {
	e.matchMu.Lock()
	defer e.matchMu.Unlock()
	e.match = state
}

// Run consumes signals until the channel closes, MatchOver arrives, or ctx
// is cancelled. Signals are processed strictly in arrival order; wicket
// handlers detach so a slow trade never delays the next delivery.
func (e *Engine) Run(ctx context.Context, signals <-chan types.GameSignal) error {
	e.logger.Info("strategy engine started",
		"batting", e.match.Batting,
		"innings", e.match.Innings,
		"dry_run", e.cfg.DryRun,
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			if done := e.handleSignal(ctx, sig); done {
				return nil
			}
		}
	}
}

// Wait blocks until all in-flight wicket handlers finish.
func (e *Engine) Wait() {
	e.wicketWG.Wait()
}

func (e *Engine) handleSignal(ctx context.Context, sig types.GameSignal) (done bool) {
	switch sig.Kind {
	case types.SignalMatchOver:
		e.logger.Info("MO received, stopping strategy")
		e.onEvent("strategy", "match over — strategy stopped")
		return true

	case types.SignalInningsOver:
		e.matchMu.Lock()
		e.match.SwitchInnings()
		state := e.match
		e.matchMu.Unlock()
		msg := fmt.Sprintf("innings over — %s now batting (innings %d)", state.Batting, state.Innings)
		e.logger.Info(msg)
		e.onEvent("innings", msg)

	case types.SignalWicket:
		state := e.MatchState()
		msg := fmt.Sprintf("WICKET — sell %s buy %s", state.Batting, state.Bowling())
		e.logger.Info(msg, "extra_runs", sig.Extra)
		e.onEvent("wicket", msg)

		// Detached: session stop must not abort a trade mid-flight.
		handlerCtx := context.WithoutCancel(ctx)
		e.wicketWG.Add(1)
		go func() {
			defer e.wicketWG.Done()
			e.executeWicket(handlerCtx, state)
		}()

	case types.SignalRuns:
		e.logger.Debug("runs scored", "runs", sig.Extra)
		e.onEvent("ball", fmt.Sprintf("%d runs", sig.Extra))

	case types.SignalWide:
		e.logger.Debug("wide", "extra_runs", sig.Extra)
		e.onEvent("ball", fmt.Sprintf("wide +%d", sig.Extra))

	case types.SignalNoBall:
		e.logger.Debug("no ball", "extra_runs", sig.Extra)
		e.onEvent("ball", fmt.Sprintf("no ball +%d", sig.Extra))
	}
	return false
}

// leg is one side of the wicket trade.
type leg struct {
	tag       string
	team      types.Team
	side      types.Side
	price     decimal.Decimal
	size      decimal.Decimal
	orderID   string
	fillSize  decimal.Decimal
	fillPrice decimal.Decimal
	filled    bool
}

// executeWicket runs the wicket trade protocol against a snapshot of the
// books taken at signal time.
func (e *Engine) executeWicket(ctx context.Context, state types.MatchState) {
	bookA, bookB := e.books.Snapshot()

	if !e.insideSafeBand(&bookA) || !e.insideSafeBand(&bookB) {
		e.logger.Warn("wicket skipped, prices outside safe band")
		e.onEvent("warn", "wicket skipped: prices outside safe band")
		return
	}

	battingBook, bowlingBook := &bookA, &bookB
	if state.Batting == types.TeamB {
		battingBook, bowlingBook = &bookB, &bookA
	}

	legs := make([]*leg, 0, 2)
	if sell := e.buildSellLeg(state.Batting, battingBook); sell != nil {
		legs = append(legs, sell)
	}
	if buy := e.buildBuyLeg(state.Bowling(), bowlingBook); buy != nil {
		notional := buy.price.Mul(buy.size)
		if !e.ledger.CanSpend(notional) {
			e.logger.Warn("budget exceeded, dropping buy leg",
				"notional", notional,
				"remaining", e.ledger.RemainingBudget(),
			)
			e.onEvent("warn", fmt.Sprintf("%s: budget exceeded, skipping", buy.tag))
		} else {
			legs = append(legs, buy)
		}
	}
	if len(legs) == 0 {
		e.onEvent("warn", "wicket skipped: no tradeable legs")
		return
	}

	// Both legs fire together; the revert clock starts now.
	fireStart := time.Now()

	var wg sync.WaitGroup
	for _, lg := range legs {
		wg.Add(1)
		go func(lg *leg) {
			defer wg.Done()
			e.fireAndConfirm(ctx, lg)
		}(lg)
	}
	wg.Wait()

	var filled []*leg
	for _, lg := range legs {
		if lg.filled {
			e.ledger.OnFill(lg.team, lg.side, lg.fillPrice, lg.fillSize)
			e.onEvent("trade", fmt.Sprintf("%s: %s %s @ %s sz=%s",
				lg.tag, lg.side, lg.team, lg.fillPrice, lg.fillSize))
			filled = append(filled, lg)
		} else {
			e.onEvent("warn", fmt.Sprintf("%s: no fill", lg.tag))
		}
	}
	if len(filled) == 0 {
		return
	}

	// Sleep out the remainder of the revert delay, measured from the
	// moment the entry legs fired.
	if remaining := e.cfg.Trading.RevertDelay - time.Since(fireStart); remaining > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(remaining):
		}
	}

	e.onEvent("revert", fmt.Sprintf("placing %d revert orders", len(filled)))
	for _, lg := range filled {
		e.placeRevert(ctx, lg)
	}
}

// insideSafeBand checks every present best price against the configured
// band. An empty side is not a violation; only a visible extreme price is.
func (e *Engine) insideSafeBand(book *market.OrderBook) bool {
	min := decimal.NewFromFloat(e.cfg.Trading.SafeBandMinPct).Div(decimal.NewFromInt(100))
	max := decimal.NewFromInt(1).Sub(min)

	check := func(lvl market.Level, ok bool) bool {
		if !ok {
			return true
		}
		return lvl.Price.GreaterThanOrEqual(min) && lvl.Price.LessThanOrEqual(max)
	}

	bid, bidOK := book.BestBid()
	ask, askOK := book.BestAsk()
	return check(bid, bidOK) && check(ask, askOK)
}

func (e *Engine) buildSellLeg(team types.Team, book *market.OrderBook) *leg {
	bid, ok := book.BestBid()
	if !ok {
		e.logger.Warn("no bid liquidity to sell into", "team", team)
		return nil
	}
	size := e.computeSize(bid.Price, bid.Size)
	if size.IsZero() {
		e.logger.Warn("zero sell size", "team", team)
		return nil
	}
	return &leg{tag: "WICKET_SELL", team: team, side: types.SELL, price: bid.Price, size: size}
}

func (e *Engine) buildBuyLeg(team types.Team, book *market.OrderBook) *leg {
	ask, ok := book.BestAsk()
	if !ok {
		e.logger.Warn("no ask liquidity to buy from", "team", team)
		return nil
	}
	size := e.computeSize(ask.Price, ask.Size)
	if size.IsZero() {
		e.logger.Warn("zero buy size", "team", team)
		return nil
	}
	return &leg{tag: "WICKET_BUY", team: team, side: types.BUY, price: ask.Price, size: size}
}

// computeSize caps the order at the configured notional and at the
// liquidity visible at the level.
func (e *Engine) computeSize(price, available decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	maxTokens := decimal.NewFromFloat(e.cfg.Trading.MaxOrderNotional).Div(price)
	if maxTokens.LessThan(available) {
		return maxTokens
	}
	return available
}

// fireAndConfirm places one FAK leg and polls until it resolves.
func (e *Engine) fireAndConfirm(ctx context.Context, lg *leg) {
	order, err := e.builder.Build(e.tokenFor(lg.team), lg.side, lg.price, lg.size)
	if err != nil {
		e.logger.Error("build order failed", "tag", lg.tag, "error", err)
		e.onEvent("error", fmt.Sprintf("%s: %v", lg.tag, err))
		return
	}

	resp, err := e.gateway.PostOrder(ctx, order, types.OrderTypeFAK)
	if err != nil {
		e.logger.Error("FAK order failed", "tag", lg.tag, "error", err)
		e.onEvent("error", fmt.Sprintf("%s: %v", lg.tag, err))
		return
	}
	if resp.OrderID == "" {
		e.logger.Error("FAK order accepted without an id", "tag", lg.tag, "status", resp.Status)
		e.onEvent("error", fmt.Sprintf("%s: no order id returned", lg.tag))
		return
	}
	lg.orderID = resp.OrderID
	e.logger.Info("FAK order placed",
		"tag", lg.tag, "order_id", lg.orderID,
		"side", lg.side, "team", lg.team,
		"price", lg.price, "size", lg.size,
	)

	if e.cfg.DryRun {
		// Simulated venue: the whole leg fills at the limit price.
		lg.filled = true
		lg.fillSize = lg.size
		lg.fillPrice = lg.price
		return
	}

	e.pollFill(ctx, lg)
}

// pollFill polls the order until the poll deadline, stopping early on the
// first nonzero matched size or a terminal state.
func (e *Engine) pollFill(ctx context.Context, lg *leg) {
	interval := e.cfg.Trading.FillPollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	deadline := time.Now().Add(e.cfg.Trading.FillPollTimeout)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *types.OpenOrder
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		open, err := e.gateway.GetOrder(ctx, lg.orderID)
		if err != nil {
			e.logger.Warn("fill poll failed", "tag", lg.tag, "order_id", lg.orderID, "error", err)
			continue
		}
		last = open
		if open.IsTerminal() || open.FilledSize().IsPositive() {
			break
		}
	}

	// Final check catches fills that landed between the last poll and the
	// deadline.
	if last == nil || (!last.IsTerminal() && !last.FilledSize().IsPositive()) {
		if open, err := e.gateway.GetOrder(ctx, lg.orderID); err == nil {
			last = open
		}
	}
	if last == nil {
		e.logger.Warn("no fill confirmation", "tag", lg.tag, "order_id", lg.orderID)
		return
	}

	fill := last.FilledSize()
	if fill.IsPositive() {
		lg.filled = true
		lg.fillSize = fill
		lg.fillPrice = last.FillPrice()
		if lg.fillPrice.IsZero() {
			lg.fillPrice = lg.price
		}
	} else {
		e.logger.Warn("leg did not fill",
			"tag", lg.tag, "order_id", lg.orderID, "status", last.Status)
	}
}

// placeRevert unwinds one filled leg with a resting GTC on the opposite
// side at the entry fill price. Reverts are fire-and-forget: no polling,
// the ID is tracked so the session sweep can cancel leftovers.
func (e *Engine) placeRevert(ctx context.Context, lg *leg) {
	side := lg.side.Opposite()
	tag := "REVERT_" + string(side)

	order, err := e.builder.Build(e.tokenFor(lg.team), side, lg.fillPrice, lg.fillSize)
	if err != nil {
		e.logger.Error("build revert failed", "tag", tag, "error", err)
		e.onEvent("error", fmt.Sprintf("%s: %v", tag, err))
		return
	}

	resp, err := e.gateway.PostOrder(ctx, order, types.OrderTypeGTC)
	if err != nil {
		e.logger.Error("revert order failed", "tag", tag, "error", err)
		e.onEvent("error", fmt.Sprintf("%s: %v", tag, err))
		return
	}

	e.trackRevert(resp.OrderID)
	e.logger.Info("revert order placed",
		"tag", tag, "order_id", resp.OrderID,
		"team", lg.team, "price", lg.fillPrice, "size", lg.fillSize,
	)
	e.onEvent("trade", fmt.Sprintf("%s: GTC %s %s @ %s sz=%s (%s)",
		tag, side, lg.team, lg.fillPrice, lg.fillSize, resp.OrderID))
}

// BuyInitialTokens optionally opens the session with a small holding of
// both teams, splitting the configured notional across the two best asks.
// Without starting inventory the first wicket has nothing to sell.
func (e *Engine) BuyInitialTokens(ctx context.Context) {
	if e.cfg.Trading.InitialBuyUSDC <= 0 {
		e.logger.Info("initial_buy_usdc=0, skipping initial token purchase")
		return
	}

	perTeam := decimal.NewFromFloat(e.cfg.Trading.InitialBuyUSDC).Div(decimal.NewFromInt(2))
	e.logger.Info("buying initial tokens for both teams", "per_team", perTeam)

	bookA, bookB := e.books.Snapshot()
	e.buyInitial(ctx, types.TeamA, &bookA, perTeam)
	e.buyInitial(ctx, types.TeamB, &bookB, perTeam)

	snap := e.ledger.Snapshot()
	e.onEvent("trade", fmt.Sprintf("initial buy done: A=%s B=%s spent=%s",
		snap.TokensA, snap.TokensB, snap.TotalSpent))
}

func (e *Engine) buyInitial(ctx context.Context, team types.Team, book *market.OrderBook, notional decimal.Decimal) {
	ask, ok := book.BestAsk()
	if !ok {
		e.logger.Warn("no ask, can't buy initial tokens", "team", team)
		e.onEvent("warn", fmt.Sprintf("no ask for %s", team))
		return
	}

	size := notional.Div(ask.Price)
	if size.GreaterThan(ask.Size) {
		size = ask.Size
	}
	if !size.IsPositive() {
		return
	}
	if !e.ledger.CanSpend(ask.Price.Mul(size)) {
		e.logger.Warn("budget exceeded, skipping initial buy", "team", team)
		return
	}

	lg := &leg{tag: "INITIAL_BUY", team: team, side: types.BUY, price: ask.Price, size: size}
	e.fireAndConfirm(ctx, lg)
	if lg.filled {
		e.ledger.OnFill(lg.team, lg.side, lg.fillPrice, lg.fillSize)
	}
}

func (e *Engine) tokenFor(team types.Team) string {
	if team == types.TeamA {
		return e.cfg.Market.TokenA
	}
	return e.cfg.Market.TokenB
}
