package exchange

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	"polymarket-taker/internal/config"
	"polymarket-taker/pkg/types"
)

// Well-known test vector key, never funded.
const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

const testExchangeAddr = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"

func newTestAuth(t *testing.T) *Auth {
	t.Helper()
	cfg := &config.Config{}
	cfg.Wallet.PrivateKey = testPrivateKey
	cfg.Wallet.ChainID = 137
	cfg.API.ApiKey = "test-key"
	cfg.API.Secret = "dGVzdC1zZWNyZXQ=" // "test-secret"
	cfg.API.Passphrase = "test-pass"

	auth, err := NewAuth(cfg)
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	return auth
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeAmounts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		side    types.Side
		price   string
		size    string
		wantMkr int64
		wantTkr int64
	}{
		{
			name:  "BUY at 0.40, size 25",
			side:  types.BUY,
			price: "0.40", size: "25",
			wantMkr: 10_000_000, // 25 * 0.40 = 10 USDC
			wantTkr: 25_000_000, // 25 tokens
		},
		{
			name:  "SELL at 0.60, size 16.66",
			side:  types.SELL,
			price: "0.60", size: "16.66",
			wantMkr: 16_660_000, // 16.66 tokens
			wantTkr: 9_996_000,  // 16.66 * 0.60 = 9.996 USDC
		},
		{
			name:  "BUY floors fractional base units",
			side:  types.BUY,
			price: "0.55", size: "1.999999",
			wantMkr: 1_099_999, // 1.999999 * 0.55 = 1.09999945 → floor
			wantTkr: 1_999_999,
		},
		{
			name:  "SELL floors fractional base units",
			side:  types.SELL,
			price: "0.333333", size: "3",
			wantMkr: 3_000_000,
			wantTkr: 999_999, // 3 * 0.333333 = 0.999999 USDC
		},
		{
			name:  "zero size",
			side:  types.BUY,
			price: "0.50", size: "0",
			wantMkr: 0,
			wantTkr: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mkr, tkr := ComputeAmounts(tt.side, d(tt.price), d(tt.size))

			if mkr.Cmp(big.NewInt(tt.wantMkr)) != 0 {
				t.Errorf("makerAmount = %s, want %d", mkr, tt.wantMkr)
			}
			if tkr.Cmp(big.NewInt(tt.wantTkr)) != 0 {
				t.Errorf("takerAmount = %s, want %d", tkr, tt.wantTkr)
			}
		})
	}
}

func TestComputeAmountsSellMirrorsBuy(t *testing.T) {
	t.Parallel()

	// For the same price/size, BUY's maker == SELL's taker (USDC)
	// and BUY's taker == SELL's maker (tokens)
	buyMkr, buyTkr := ComputeAmounts(types.BUY, d("0.60"), d("50"))
	sellMkr, sellTkr := ComputeAmounts(types.SELL, d("0.60"), d("50"))

	if buyMkr.Cmp(sellTkr) != 0 {
		t.Errorf("BUY maker (%s) != SELL taker (%s)", buyMkr, sellTkr)
	}
	if buyTkr.Cmp(sellMkr) != 0 {
		t.Errorf("BUY taker (%s) != SELL maker (%s)", buyTkr, sellMkr)
	}
}

func TestBuildSignedOrder(t *testing.T) {
	t.Parallel()

	auth := newTestAuth(t)
	b := NewOrderBuilder(auth, testExchangeAddr)

	order, err := b.Build("12345", types.BUY, d("0.40"), d("25"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if order.Maker != auth.Address().Hex() {
		t.Errorf("Maker = %s, want signer address (no proxy configured)", order.Maker)
	}
	if order.Signer != auth.Address().Hex() {
		t.Errorf("Signer = %s, want %s", order.Signer, auth.Address().Hex())
	}
	if order.Taker != zeroAddress {
		t.Errorf("Taker = %s, want zero address", order.Taker)
	}
	if order.MakerAmount != "10000000" || order.TakerAmount != "25000000" {
		t.Errorf("amounts = %s/%s", order.MakerAmount, order.TakerAmount)
	}
	if order.Expiration != "0" || order.Nonce != "0" || order.FeeRateBps != "0" {
		t.Errorf("expiration/nonce/fee = %s/%s/%s, want 0/0/0",
			order.Expiration, order.Nonce, order.FeeRateBps)
	}
	if len(order.Signature) != 132 { // 0x + 65 bytes hex
		t.Errorf("signature length = %d, want 132", len(order.Signature))
	}
	if order.Salt == "" {
		t.Error("salt is empty")
	}

	// V must land on 27 or 28.
	v := order.Signature[len(order.Signature)-2:]
	if v != "1b" && v != "1c" {
		t.Errorf("signature v = %s, want 1b or 1c", v)
	}
}

func TestBuildSaltUnique(t *testing.T) {
	t.Parallel()

	b := NewOrderBuilder(newTestAuth(t), testExchangeAddr)

	o1, err := b.Build("12345", types.SELL, d("0.60"), d("10"))
	if err != nil {
		t.Fatal(err)
	}
	o2, err := b.Build("12345", types.SELL, d("0.60"), d("10"))
	if err != nil {
		t.Fatal(err)
	}
	if o1.Salt == o2.Salt {
		t.Error("consecutive orders share a salt")
	}
	if o1.Signature == o2.Signature {
		t.Error("consecutive orders share a signature")
	}
}

func TestOrderStructHashFieldSensitivity(t *testing.T) {
	t.Parallel()

	base := types.SignedOrder{
		Salt:          "123456789",
		Maker:         "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		Signer:        "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		Taker:         zeroAddress,
		TokenID:       "98765",
		MakerAmount:   "10000000",
		TakerAmount:   "25000000",
		Side:          types.BUY,
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		SignatureType: types.SigEOA,
	}

	baseHash, err := OrderStructHash(base)
	if err != nil {
		t.Fatalf("OrderStructHash: %v", err)
	}

	mutations := []struct {
		name   string
		mutate func(o *types.SignedOrder)
	}{
		{"salt", func(o *types.SignedOrder) { o.Salt = "987654321" }},
		{"maker", func(o *types.SignedOrder) { o.Maker = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8" }},
		{"tokenId", func(o *types.SignedOrder) { o.TokenID = "11111" }},
		{"makerAmount", func(o *types.SignedOrder) { o.MakerAmount = "10000001" }},
		{"takerAmount", func(o *types.SignedOrder) { o.TakerAmount = "25000001" }},
		{"side", func(o *types.SignedOrder) { o.Side = types.SELL }},
		{"nonce", func(o *types.SignedOrder) { o.Nonce = "1" }},
		{"feeRateBps", func(o *types.SignedOrder) { o.FeeRateBps = "10" }},
		{"signatureType", func(o *types.SignedOrder) { o.SignatureType = types.SigProxy }},
	}

	for _, mut := range mutations {
		t.Run(mut.name, func(t *testing.T) {
			t.Parallel()
			order := base
			mut.mutate(&order)
			h, err := OrderStructHash(order)
			if err != nil {
				t.Fatalf("OrderStructHash: %v", err)
			}
			if h == baseHash {
				t.Errorf("changing %s did not change the struct hash", mut.name)
			}
		})
	}

	// Signature is not part of the struct hash.
	signed := base
	signed.Signature = "0xdeadbeef"
	h, err := OrderStructHash(signed)
	if err != nil {
		t.Fatal(err)
	}
	if h != baseHash {
		t.Error("signature field changed the struct hash")
	}
}
