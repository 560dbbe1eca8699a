// Package chain reads on-chain state needed by the trading session.
//
// The reads are the ERC-1155 balances of the two outcome tokens on the
// conditional tokens contract, used to reconcile the ledger's holdings with
// what the wallet actually owns, and the wallet's USDC collateral balance
// reported at match end.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"polymarket-taker/internal/config"
)

// BalanceReader queries CTF outcome token balances over JSON-RPC.
type BalanceReader struct {
	client *ethclient.Client
	ctf    common.Address
	usdc   common.Address
	owner  common.Address
	tokenA string
	tokenB string
	logger *slog.Logger
}

// NewBalanceReader dials the configured RPC endpoint. The owner is the
// funder wallet, which is where filled orders settle.
func NewBalanceReader(cfg *config.Config, owner common.Address, logger *slog.Logger) (*BalanceReader, error) {
	client, err := ethclient.Dial(cfg.API.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return &BalanceReader{
		client: client,
		ctf:    common.HexToAddress(config.ConditionalTokens),
		usdc:   common.HexToAddress(config.CollateralUSDC),
		owner:  owner,
		tokenA: cfg.Market.TokenA,
		tokenB: cfg.Market.TokenB,
		logger: logger.With("component", "chain"),
	}, nil
}

// Close releases the RPC connection.
func (r *BalanceReader) Close() {
	r.client.Close()
}

// SyncBalances returns the wallet's holdings of both outcome tokens, scaled
// from 6-decimal base units to whole tokens.
func (r *BalanceReader) SyncBalances(ctx context.Context) (tokensA, tokensB decimal.Decimal, err error) {
	tokensA, err = r.balanceOf(ctx, r.tokenA)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("balance token A: %w", err)
	}
	tokensB, err = r.balanceOf(ctx, r.tokenB)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("balance token B: %w", err)
	}
	r.logger.Debug("balances synced", "tokens_a", tokensA, "tokens_b", tokensB)
	return tokensA, tokensB, nil
}

// balanceOf performs an eth_call of ERC-1155 balanceOf(owner, id).
func (r *BalanceReader) balanceOf(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	id, err := parseTokenID(tokenID)
	if err != nil {
		return decimal.Zero, err
	}

	data := balanceOfCalldata(r.owner, id)
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &r.ctf, Data: data}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("eth_call: %w", err)
	}
	if len(out) < 32 {
		return decimal.Zero, fmt.Errorf("short balanceOf return: %d bytes", len(out))
	}

	raw := new(big.Int).SetBytes(out[len(out)-32:])
	// CTF tokens use the collateral's 6 decimals.
	return decimal.NewFromBigInt(raw, -6), nil
}

// CollateralBalance returns the wallet's USDC balance in whole dollars.
func (r *BalanceReader) CollateralBalance(ctx context.Context) (decimal.Decimal, error) {
	data := erc20BalanceOfCalldata(r.owner)
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &r.usdc, Data: data}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("eth_call: %w", err)
	}
	if len(out) < 32 {
		return decimal.Zero, fmt.Errorf("short balanceOf return: %d bytes", len(out))
	}

	raw := new(big.Int).SetBytes(out[len(out)-32:])
	return decimal.NewFromBigInt(raw, -6), nil
}

// erc20BalanceOfCalldata ABI-encodes balanceOf(address).
func erc20BalanceOfCalldata(owner common.Address) []byte {
	selector := crypto.Keccak256([]byte("balanceOf(address)"))[:4]

	data := make([]byte, 0, 4+32)
	data = append(data, selector...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
	return data
}

// balanceOfCalldata ABI-encodes balanceOf(address,uint256).
func balanceOfCalldata(owner common.Address, tokenID *big.Int) []byte {
	selector := crypto.Keccak256([]byte("balanceOf(address,uint256)"))[:4]

	data := make([]byte, 0, 4+64)
	data = append(data, selector...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(tokenID.Bytes(), 32)...)
	return data
}

// parseTokenID accepts decimal or 0x-hex token IDs.
func parseTokenID(tokenID string) (*big.Int, error) {
	if len(tokenID) > 2 && tokenID[:2] == "0x" {
		id, ok := new(big.Int).SetString(tokenID[2:], 16)
		if !ok {
			return nil, fmt.Errorf("malformed hex token ID %q", tokenID)
		}
		return id, nil
	}
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return nil, fmt.Errorf("malformed token ID %q", tokenID)
	}
	return id, nil
}
