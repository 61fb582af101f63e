// Package chain reads token state and sends EIP-1559 transactions for the
// staking wallets.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ligun0805/pharos-autostake/internal/retry"
)

// Fee modes.
const (
	FeeFixed   = "fixed"
	FeeSuggest = "suggest"
)

// Client binds a backend to the run's chain settings and nonce ledger.
type Client struct {
	Backend Backend
	ChainID *big.Int
	Ledger  *NonceLedger

	FeeMode      string
	FeeFloorGwei int64

	ConfirmTimeout time.Duration
	// ApproveSettle is the pause after a confirmed approval.
	ApproveSettle time.Duration

	Sleep func(ctx context.Context, d time.Duration) error
	Logf  func(format string, args ...any)
}

// NewClient returns a client with default fee and confirmation settings.
// A nil ledger gets a fresh one.
func NewClient(b Backend, chainID *big.Int, ledger *NonceLedger) *Client {
	if ledger == nil {
		ledger = NewNonceLedger()
	}
	return &Client{
		Backend:        b,
		ChainID:        chainID,
		Ledger:         ledger,
		FeeMode:        FeeFixed,
		FeeFloorGwei:   1,
		ConfirmTimeout: 300 * time.Second,
		ApproveSettle:  5 * time.Second,
	}
}

func (c *Client) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
	}
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	return retry.Sleep(ctx, d)
}

func (c *Client) floor() *big.Int {
	g := c.FeeFloorGwei
	if g <= 0 {
		g = 1
	}
	return gweiToWei(g)
}

// Fees returns tip and fee cap. Fixed mode pays the floor for both; suggest
// mode uses the node tip and 2*baseFee+tip, never below the floor.
func (c *Client) Fees(ctx context.Context) (*big.Int, *big.Int, error) {
	floor := c.floor()
	if c.FeeMode != FeeSuggest {
		return new(big.Int).Set(floor), new(big.Int).Set(floor), nil
	}
	head, err := c.Backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: latest header: %v", ErrChainQuery, err)
	}
	tip, err := c.Backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: tip cap: %v", ErrChainQuery, err)
	}
	tip = maxBig(tip, floor)
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	return tip, maxBig(feeCap, floor), nil
}

func (c *Client) estimate(ctx context.Context, from, to common.Address, data []byte) (uint64, error) {
	return c.Backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
}

// ClaimFaucet dry-runs claimFaucet() and submits it when callable.
// ErrFaucetUnavailable means the estimate failed and nothing was sent.
func (c *Client) ClaimFaucet(ctx context.Context, w *Wallet, faucet common.Address) (*TxResult, error) {
	data, err := tokenABI.Pack("claimFaucet")
	if err != nil {
		return nil, err
	}
	gas, err := c.estimate(ctx, w.Address, faucet, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFaucetUnavailable, revertReason(err))
	}
	return c.SubmitTransaction(ctx, w, TxTemplate{Kind: "faucet", To: faucet, Data: data, GasLimit: withBuffer(gas)}, DefaultTxRetries)
}

// ApproveIfNeeded approves spender for the maximum amount when the current
// allowance is below amount. The result is nil when no transaction was needed.
func (c *Client) ApproveIfNeeded(ctx context.Context, w *Wallet, spender, token common.Address, amount float64) (*TxResult, error) {
	dec, err := c.Decimals(ctx, token)
	if err != nil {
		return nil, err
	}
	need, err := ParseUnits(amount, dec)
	if err != nil {
		return nil, err
	}
	allowance, err := c.Allowance(ctx, token, w.Address, spender)
	if err != nil {
		return nil, err
	}
	if allowance.Cmp(need) >= 0 {
		return nil, nil
	}

	c.logf("%s | Approving token %s...", w.Short(), token.Hex())
	maxApproval := new(uint256.Int).SetAllOne().ToBig()
	data, err := tokenABI.Pack("approve", spender, maxApproval)
	if err != nil {
		return nil, err
	}
	gas, err := c.estimate(ctx, w.Address, token, data)
	if err != nil {
		return nil, fmt.Errorf("estimate approve: %s", revertReason(err))
	}
	res, err := c.SubmitTransaction(ctx, w, TxTemplate{Kind: "approve", To: token, Data: data, GasLimit: withBuffer(gas)}, DefaultTxRetries)
	if err != nil {
		return nil, err
	}
	settle := c.ApproveSettle
	if settle == 0 {
		settle = 5 * time.Second
	}
	if err := c.sleep(ctx, settle); err != nil {
		return res, err
	}
	return res, nil
}

// Stake sends router calldata with a gas limit of estimate*1.2.
func (c *Client) Stake(ctx context.Context, w *Wallet, router common.Address, calldata []byte) (*TxResult, error) {
	if len(calldata) == 0 {
		return nil, errors.New("empty calldata")
	}
	gas, err := c.estimate(ctx, w.Address, router, calldata)
	if err != nil {
		return nil, fmt.Errorf("estimate stake: %s", revertReason(err))
	}
	return c.SubmitTransaction(ctx, w, TxTemplate{Kind: "stake", To: router, Data: calldata, GasLimit: withBuffer(gas)}, DefaultTxRetries)
}

// PendingNonce returns the account's pending transaction count.
func (c *Client) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	n, err := c.Backend.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("%w: pending nonce: %v", ErrChainQuery, err)
	}
	return n, nil
}
