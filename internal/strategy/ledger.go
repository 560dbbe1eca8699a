package strategy

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-taker/pkg/types"
)

// PositionSnapshot is a copy of the ledger state, safe to serialize.
type PositionSnapshot struct {
	TokensA         decimal.Decimal `json:"tokens_a"`
	TokensB         decimal.Decimal `json:"tokens_b"`
	TotalSpent      decimal.Decimal `json:"total_spent"`
	TotalBudget     decimal.Decimal `json:"total_budget"`
	RemainingBudget decimal.Decimal `json:"remaining_budget"`
	TradeCount      int             `json:"trade_count"`
	LastUpdated     time.Time       `json:"last_updated"`
}

// Ledger tracks token holdings per team and total USDC spent against a
// fixed session budget. Thread-safe via mutex.
//
// The budget is a ratchet: buys add to totalSpent, sells subtract tokens
// but never credit spend back. Budget headroom only ever shrinks during a
// session, which keeps a runaway signal stream from recycling the same
// capital indefinitely.
type Ledger struct {
	mu          sync.Mutex
	tokensA     decimal.Decimal
	tokensB     decimal.Decimal
	totalSpent  decimal.Decimal
	totalBudget decimal.Decimal
	tradeCount  int
	updated     time.Time
}

// NewLedger creates a ledger with the given session budget in USDC.
func NewLedger(budget decimal.Decimal) *Ledger {
	return &Ledger{totalBudget: budget}
}

// CanSpend reports whether a buy of the given notional fits the budget.
func (l *Ledger) CanSpend(notional decimal.Decimal) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalSpent.Add(notional).LessThanOrEqual(l.totalBudget)
}

// OnFill applies one confirmed fill. Buys add tokens and count against the
// budget; sells subtract tokens without crediting spend back.
func (l *Ledger) OnFill(team types.Team, side types.Side, price, size decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delta := size
	if side == types.SELL {
		delta = size.Neg()
	}
	switch team {
	case types.TeamA:
		l.tokensA = l.tokensA.Add(delta)
	case types.TeamB:
		l.tokensB = l.tokensB.Add(delta)
	}

	if side == types.BUY {
		l.totalSpent = l.totalSpent.Add(price.Mul(size))
	}

	l.tradeCount++
	l.updated = time.Now()
}

// RemainingBudget returns budget minus spend, clamped at zero.
func (l *Ledger) RemainingBudget() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remainingLocked()
}

func (l *Ledger) remainingLocked() decimal.Decimal {
	rem := l.totalBudget.Sub(l.totalSpent)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// Tokens returns the current holdings for one team.
func (l *Ledger) Tokens(team types.Team) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	if team == types.TeamA {
		return l.tokensA
	}
	return l.tokensB
}

// SetHoldings overwrites token quantities from an on-chain balance read.
// Spend and trade count are untouched: the chain knows holdings, not what
// this session paid for them.
func (l *Ledger) SetHoldings(tokensA, tokensB decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokensA = tokensA
	l.tokensB = tokensB
	l.updated = time.Now()
}

// Reset clears holdings and spend for a new session with the given budget.
func (l *Ledger) Reset(budget decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokensA = decimal.Zero
	l.tokensB = decimal.Zero
	l.totalSpent = decimal.Zero
	l.totalBudget = budget
	l.tradeCount = 0
	l.updated = time.Now()
}

// Snapshot returns a copy of the current state.
func (l *Ledger) Snapshot() PositionSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return PositionSnapshot{
		TokensA:         l.tokensA,
		TokensB:         l.tokensB,
		TotalSpent:      l.totalSpent,
		TotalBudget:     l.totalBudget,
		RemainingBudget: l.remainingLocked(),
		TradeCount:      l.tradeCount,
		LastUpdated:     l.updated,
	}
}
