// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — teams, cricket
// signals, order types, and the CLOB wire payloads. It has no dependencies
// on internal packages, so it can be imported by any layer.
package types

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Opposite returns the other side (used when building revert orders).
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

// Uint8 returns the on-chain enum value used in the EIP-712 Order struct.
func (s Side) Uint8() uint8 {
	if s == SELL {
		return 1
	}
	return 0
}

// OrderType enumerates the supported order lifecycles.
type OrderType string

const (
	// OrderTypeFAK (fill-and-kill) executes immediately against available
	// liquidity and cancels any unfilled remainder.
	OrderTypeFAK OrderType = "FAK"
	// OrderTypeGTC rests on the book until filled or cancelled. Used only
	// for revert orders.
	OrderTypeGTC OrderType = "GTC"
)

// SignatureType identifies the signing scheme for the CTF exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account (standard wallet)
	SigProxy      SignatureType = 1 // Polymarket proxy / Magic wallet
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// ————————————————————————————————————————————————————————————————————————
// Teams and match state
// ————————————————————————————————————————————————————————————————————————

// Team identifies one of the two outcome tokens of the binary market.
// Each team's token resolves to the complement of the other.
type Team string

const (
	TeamA Team = "TEAM_A"
	TeamB Team = "TEAM_B"
)

// Opponent returns the other team.
func (t Team) Opponent() Team {
	if t == TeamA {
		return TeamB
	}
	return TeamA
}

// MatchState tracks which team is currently batting.
type MatchState struct {
	Batting Team `json:"batting"`
	Innings int  `json:"innings"`
}

// NewMatchState starts innings 1 with the given team batting.
func NewMatchState(firstBatting Team) MatchState {
	return MatchState{Batting: firstBatting, Innings: 1}
}

// Bowling returns the team currently bowling.
func (m MatchState) Bowling() Team {
	return m.Batting.Opponent()
}

// SwitchInnings swaps the batting team and advances the innings counter.
func (m *MatchState) SwitchInnings() {
	m.Batting = m.Batting.Opponent()
	m.Innings++
}

// ————————————————————————————————————————————————————————————————————————
// Cricket signals
// ————————————————————————————————————————————————————————————————————————

// SignalKind enumerates the cricket delivery signal variants.
type SignalKind int

const (
	SignalRuns        SignalKind = iota // 0-6 runs scored
	SignalWicket                        // batsman out, optionally with runs
	SignalWide                          // wide ball, optionally with runs
	SignalNoBall                        // no ball, optionally with runs
	SignalInningsOver                   // batting team switches
	SignalMatchOver                     // stop everything
)

// GameSignal is one cricket delivery event. Extra carries the run count for
// Runs, or the extra runs scored on a Wicket/Wide/NoBall delivery.
type GameSignal struct {
	Kind  SignalKind
	Extra uint8
}

// IsWicket reports whether the signal triggers the wicket trade protocol.
func (g GameSignal) IsWicket() bool {
	return g.Kind == SignalWicket
}

// ParseSignal parses a raw string into a signal.
//
// Accepted forms: "0".."6" (runs), "W"/"W1".."W6" (wicket + extras),
// "Wd"/"Wd0".."Wd6" (wide + extras), "N"/"N0".."N6" (no ball + extras),
// "IO" (innings over), "MO" (match over). Surrounding whitespace is
// trimmed. Run counts above 6 are rejected.
func ParseSignal(raw string) (GameSignal, bool) {
	s := strings.TrimSpace(raw)

	switch s {
	case "W":
		return GameSignal{Kind: SignalWicket}, true
	case "Wd":
		return GameSignal{Kind: SignalWide}, true
	case "N":
		return GameSignal{Kind: SignalNoBall}, true
	case "IO":
		return GameSignal{Kind: SignalInningsOver}, true
	case "MO":
		return GameSignal{Kind: SignalMatchOver}, true
	}

	if rest, ok := strings.CutPrefix(s, "Wd"); ok {
		return signalWithExtras(SignalWide, rest)
	}
	if rest, ok := strings.CutPrefix(s, "W"); ok {
		return signalWithExtras(SignalWicket, rest)
	}
	if rest, ok := strings.CutPrefix(s, "N"); ok {
		return signalWithExtras(SignalNoBall, rest)
	}
	return signalWithExtras(SignalRuns, s)
}

func signalWithExtras(kind SignalKind, digits string) (GameSignal, bool) {
	n, err := strconv.ParseUint(digits, 10, 8)
	if err != nil || n > 6 {
		return GameSignal{}, false
	}
	return GameSignal{Kind: kind, Extra: uint8(n)}, true
}

// String renders the canonical form accepted by ParseSignal. Zero extras on
// wicket/wide/no-ball signals collapse to the short form ("W", "Wd", "N").
func (g GameSignal) String() string {
	switch g.Kind {
	case SignalRuns:
		return strconv.Itoa(int(g.Extra))
	case SignalWicket:
		if g.Extra == 0 {
			return "W"
		}
		return "W" + strconv.Itoa(int(g.Extra))
	case SignalWide:
		if g.Extra == 0 {
			return "Wd"
		}
		return "Wd" + strconv.Itoa(int(g.Extra))
	case SignalNoBall:
		if g.Extra == 0 {
			return "N"
		}
		return "N" + strconv.Itoa(int(g.Extra))
	case SignalInningsOver:
		return "IO"
	case SignalMatchOver:
		return "MO"
	}
	return "?"
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// TradeIntent is the high-level order representation produced by the
// strategy. The exchange layer converts it to a SignedOrder for the CLOB.
type TradeIntent struct {
	Team  Team
	Side  Side
	Price decimal.Decimal // limit price in (0, 1)
	Size  decimal.Decimal // quantity in tokens
}

func (t TradeIntent) String() string {
	return string(t.Side) + " " + string(t.Team) +
		" @ " + t.Price.String() + " sz=" + t.Size.String()
}

// Notional returns price*size, the USDC value of the intent.
func (t TradeIntent) Notional() decimal.Decimal {
	return t.Price.Mul(t.Size)
}

// SignedOrder is the on-chain order format the CLOB API expects. All
// numeric fields are decimal strings; MakerAmount and TakerAmount are in
// 6-decimal USDC base units (1e6 = $1).
//
// For BUY:  maker gives MakerAmount USDC, receives TakerAmount tokens
// For SELL: maker gives MakerAmount tokens, receives TakerAmount USDC
type SignedOrder struct {
	Salt          string        `json:"salt"`
	Maker         string        `json:"maker"`       // funder/proxy wallet address
	Signer        string        `json:"signer"`      // EOA that signs the order
	Taker         string        `json:"taker"`       // zero address = open order
	TokenID       string        `json:"tokenId"`     // CTF token ID
	MakerAmount   string        `json:"makerAmount"` // what maker gives (scaled to 1e6)
	TakerAmount   string        `json:"takerAmount"` // what maker receives (scaled to 1e6)
	Side          Side          `json:"side"`
	Expiration    string        `json:"expiration"`    // unix timestamp as string, "0" = never
	Nonce         string        `json:"nonce"`         // replay protection
	FeeRateBps    string        `json:"feeRateBps"`    // fee in basis points as string
	SignatureType SignatureType `json:"signatureType"` // 0 = EOA, 1 = proxy
	Signature     string        `json:"signature"`     // EIP-712 signature hex
}

// OrderPayload is the REST API request body for POST /order.
type OrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`     // API key of the order owner
	OrderType OrderType   `json:"orderType"` // FAK or GTC
}

// OrderResponse is the REST API response for POST /order.
type OrderResponse struct {
	OrderID  string `json:"orderID"`
	ErrorMsg string `json:"errorMsg"`
	Status   string `json:"status"` // e.g. "live", "matched", "delayed"
}

// OpenOrder is the response from GET /order/{id}, used for fill polling.
type OpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"` // cumulative filled
	Price        string `json:"price"`
}

// FilledSize returns the matched quantity, zero if missing or malformed.
func (o OpenOrder) FilledSize() decimal.Decimal {
	d, err := decimal.NewFromString(o.SizeMatched)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// FillPrice returns the order's price, zero if missing or malformed.
func (o OpenOrder) FillPrice() decimal.Decimal {
	d, err := decimal.NewFromString(o.Price)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// IsTerminal reports whether the order can no longer fill. "delayed" and
// "unmatched" are live states on sports markets — keep polling those.
func (o OpenOrder) IsTerminal() bool {
	switch o.Status {
	case "matched", "cancelled", "expired":
		return true
	}
	return false
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket messages
// ————————————————————————————————————————————————————————————————————————

// WSSubscribeMsg is sent once after connecting to the market channel.
type WSSubscribeMsg struct {
	AssetIDs []string `json:"assets_ids"`
	Type     string   `json:"type"` // always "market"
}

// WSMarketEvent is one event from the market channel. The server sends
// either a single event object or an array of them; "book" events carry a
// full snapshot, "price_change" events carry level deltas. Level elements
// arrive as [price, size] pairs whose members may be JSON strings or
// numbers, hence the RawMessage indirection.
type WSMarketEvent struct {
	EventType string              `json:"type"`
	AssetID   string              `json:"asset_id"`
	Bids      [][]json.RawMessage `json:"bids"`
	Asks      [][]json.RawMessage `json:"asks"`
	Timestamp string              `json:"timestamp"`
}

// Time parses the event's millisecond epoch timestamp. Missing or
// malformed timestamps yield the zero time.
func (e WSMarketEvent) Time() time.Time {
	ms, err := strconv.ParseInt(e.Timestamp, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
