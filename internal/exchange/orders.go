// orders.go builds and signs CTF exchange orders.
//
// An order is an EIP-712 typed struct over the exchange contract's domain.
// Human-readable price/size pairs are converted to 6-decimal base units
// (1e6 = $1 / 1 token), always flooring so the exchange never sees amounts
// larger than the wallet committed to.
package exchange

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"

	"polymarket-taker/pkg/types"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// orderTypes is the EIP-712 type layout of the CTF exchange Order struct.
// Field order matters: the struct hash encodes fields in this sequence.
var orderTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": {
		{Name: "salt", Type: "uint256"},
		{Name: "maker", Type: "address"},
		{Name: "signer", Type: "address"},
		{Name: "taker", Type: "address"},
		{Name: "tokenId", Type: "uint256"},
		{Name: "makerAmount", Type: "uint256"},
		{Name: "takerAmount", Type: "uint256"},
		{Name: "expiration", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "feeRateBps", Type: "uint256"},
		{Name: "side", Type: "uint8"},
		{Name: "signatureType", Type: "uint8"},
	},
}

// OrderBuilder turns trade intents into signed exchange orders.
type OrderBuilder struct {
	auth     *Auth
	exchange common.Address // verifying contract for the order domain
}

// NewOrderBuilder creates a builder signing against the given exchange
// contract address.
func NewOrderBuilder(auth *Auth, exchangeAddr string) *OrderBuilder {
	return &OrderBuilder{
		auth:     auth,
		exchange: common.HexToAddress(exchangeAddr),
	}
}

// Build constructs and signs an order for the given token. The order is
// open (zero-address taker), never expires, and carries a fresh random salt.
func (b *OrderBuilder) Build(tokenID string, side types.Side, price, size decimal.Decimal) (types.SignedOrder, error) {
	salt, err := newSalt()
	if err != nil {
		return types.SignedOrder{}, fmt.Errorf("generate salt: %w", err)
	}

	makerAmt, takerAmt := ComputeAmounts(side, price, size)

	order := types.SignedOrder{
		Salt:          salt.String(),
		Maker:         b.auth.FunderAddress().Hex(),
		Signer:        b.auth.Address().Hex(),
		Taker:         zeroAddress,
		TokenID:       tokenID,
		MakerAmount:   makerAmt.String(),
		TakerAmount:   takerAmt.String(),
		Side:          side,
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		SignatureType: b.auth.SignatureType(),
	}

	sig, err := b.auth.SignTypedData(
		&apitypes.TypedDataDomain{
			Name:              "Polymarket CTF Exchange",
			Version:           "1",
			ChainId:           (*ethmath.HexOrDecimal256)(new(big.Int).Set(b.auth.ChainID())),
			VerifyingContract: b.exchange.Hex(),
		},
		orderTypes,
		orderMessage(order),
		"Order",
	)
	if err != nil {
		return types.SignedOrder{}, fmt.Errorf("sign order: %w", err)
	}
	order.Signature = "0x" + common.Bytes2Hex(sig)

	return order, nil
}

// OrderStructHash computes the EIP-712 struct hash of an order, before the
// domain separator is applied. Any field change produces a different hash.
func OrderStructHash(order types.SignedOrder) (common.Hash, error) {
	td := apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: "Order",
		// EncodeData validates that the domain is non-empty even though the
		// domain separator is not part of the struct hash; any value works.
		Domain: apitypes.TypedDataDomain{Name: "Polymarket CTF Exchange", Version: "1"},
	}
	h, err := td.HashStruct("Order", orderMessage(order))
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash order struct: %w", err)
	}
	return common.BytesToHash(h), nil
}

func orderMessage(order types.SignedOrder) apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"salt":          order.Salt,
		"maker":         order.Maker,
		"signer":        order.Signer,
		"taker":         order.Taker,
		"tokenId":       order.TokenID,
		"makerAmount":   order.MakerAmount,
		"takerAmount":   order.TakerAmount,
		"expiration":    order.Expiration,
		"nonce":         order.Nonce,
		"feeRateBps":    order.FeeRateBps,
		"side":          strconv.Itoa(int(order.Side.Uint8())),
		"signatureType": strconv.Itoa(int(order.SignatureType)),
	}
}

// ComputeAmounts converts a price/size pair into maker and taker amounts in
// 6-decimal base units. Both amounts are floored, never rounded up.
//
// For BUY:  maker gives floor(size*price*1e6) USDC for floor(size*1e6) tokens
// For SELL: maker gives floor(size*1e6) tokens for floor(size*price*1e6) USDC
func ComputeAmounts(side types.Side, price, size decimal.Decimal) (makerAmt, takerAmt *big.Int) {
	tokens := size.Shift(6).Floor().BigInt()
	usdc := size.Mul(price).Shift(6).Floor().BigInt()

	if side == types.BUY {
		return usdc, tokens
	}
	return tokens, usdc
}

// newSalt returns a random 128-bit salt for order uniqueness.
func newSalt() (*big.Int, error) {
	max := new(big.Int).Lsh(big.NewInt(1), 128)
	return rand.Int(rand.Reader, max)
}
