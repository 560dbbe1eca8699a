package strategy

import (
	"testing"

	"github.com/shopspring/decimal"

	"polymarket-taker/pkg/types"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLedgerBuyAddsTokensAndSpend(t *testing.T) {
	t.Parallel()

	l := NewLedger(d("100"))
	l.OnFill(types.TeamA, types.BUY, d("0.40"), d("25"))

	snap := l.Snapshot()
	if !snap.TokensA.Equal(d("25")) {
		t.Errorf("TokensA = %s, want 25", snap.TokensA)
	}
	if !snap.TotalSpent.Equal(d("10")) {
		t.Errorf("TotalSpent = %s, want 10", snap.TotalSpent)
	}
	if !snap.RemainingBudget.Equal(d("90")) {
		t.Errorf("RemainingBudget = %s, want 90", snap.RemainingBudget)
	}
	if snap.TradeCount != 1 {
		t.Errorf("TradeCount = %d, want 1", snap.TradeCount)
	}
}

func TestLedgerSellNeverCreditsSpend(t *testing.T) {
	t.Parallel()

	l := NewLedger(d("100"))
	l.OnFill(types.TeamB, types.BUY, d("0.50"), d("40")) // spend 20
	l.OnFill(types.TeamB, types.SELL, d("0.80"), d("40"))

	snap := l.Snapshot()
	if !snap.TokensB.IsZero() {
		t.Errorf("TokensB = %s, want 0", snap.TokensB)
	}
	// Selling at a profit must not refill the budget.
	if !snap.TotalSpent.Equal(d("20")) {
		t.Errorf("TotalSpent = %s, want 20 (unchanged by sell)", snap.TotalSpent)
	}
	if snap.TradeCount != 2 {
		t.Errorf("TradeCount = %d, want 2", snap.TradeCount)
	}
}

func TestLedgerSellCanGoNegative(t *testing.T) {
	t.Parallel()

	// Holdings reflect session fills only; a sell without prior buys
	// (tokens bought outside the session) goes negative rather than clamp.
	l := NewLedger(d("100"))
	l.OnFill(types.TeamA, types.SELL, d("0.60"), d("10"))

	if !l.Tokens(types.TeamA).Equal(d("-10")) {
		t.Errorf("TokensA = %s, want -10", l.Tokens(types.TeamA))
	}
}

func TestLedgerCanSpendBoundary(t *testing.T) {
	t.Parallel()

	l := NewLedger(d("10"))
	if !l.CanSpend(d("10")) {
		t.Error("exact budget should be spendable")
	}
	if l.CanSpend(d("10.000001")) {
		t.Error("over budget should be rejected")
	}

	l.OnFill(types.TeamA, types.BUY, d("0.50"), d("12")) // spend 6
	if !l.CanSpend(d("4")) {
		t.Error("remaining 4 should allow 4")
	}
	if l.CanSpend(d("4.01")) {
		t.Error("remaining 4 should reject 4.01")
	}
}

func TestLedgerRemainingBudgetClamped(t *testing.T) {
	t.Parallel()

	l := NewLedger(d("5"))
	// Fills are applied as confirmed even if they overshoot the budget
	// (two concurrent legs can pass CanSpend together).
	l.OnFill(types.TeamA, types.BUY, d("1"), d("4"))
	l.OnFill(types.TeamB, types.BUY, d("1"), d("4"))

	if !l.RemainingBudget().IsZero() {
		t.Errorf("RemainingBudget = %s, want 0", l.RemainingBudget())
	}
	if l.CanSpend(d("0.01")) {
		t.Error("exhausted budget should reject any spend")
	}
}

func TestLedgerSetHoldingsPreservesSpend(t *testing.T) {
	t.Parallel()

	l := NewLedger(d("100"))
	l.OnFill(types.TeamA, types.BUY, d("0.50"), d("10")) // spend 5

	l.SetHoldings(d("42"), d("17"))

	snap := l.Snapshot()
	if !snap.TokensA.Equal(d("42")) || !snap.TokensB.Equal(d("17")) {
		t.Errorf("holdings = %s/%s, want 42/17", snap.TokensA, snap.TokensB)
	}
	if !snap.TotalSpent.Equal(d("5")) {
		t.Errorf("TotalSpent = %s, want 5 (untouched by sync)", snap.TotalSpent)
	}
	if snap.TradeCount != 1 {
		t.Errorf("TradeCount = %d, want 1 (untouched by sync)", snap.TradeCount)
	}
}

func TestLedgerReset(t *testing.T) {
	t.Parallel()

	l := NewLedger(d("100"))
	l.OnFill(types.TeamA, types.BUY, d("0.50"), d("10"))

	l.Reset(d("50"))

	snap := l.Snapshot()
	if !snap.TokensA.IsZero() || !snap.TotalSpent.IsZero() || snap.TradeCount != 0 {
		t.Errorf("reset left state behind: %+v", snap)
	}
	if !snap.TotalBudget.Equal(d("50")) {
		t.Errorf("TotalBudget = %s, want 50", snap.TotalBudget)
	}
}
