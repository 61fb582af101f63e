package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ligun0805/pharos-autostake/internal/metrics"
	"github.com/ligun0805/pharos-autostake/internal/retry"
)

const DefaultTxRetries = 5

// TxTemplate is an unsigned call; nonce and fees are filled per attempt.
// Nil fee fields are taken from the client's fee policy.
type TxTemplate struct {
	Kind     string
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
	TipCap   *big.Int
	FeeCap   *big.Int
}

// TxResult is a confirmed transaction.
type TxResult struct {
	Hash  common.Hash
	Block uint64
	Nonce uint64
}

// Build EIP-1559 transaction.
func buildDynamicTx(chain *big.Int, nonce uint64, to *common.Address, value *big.Int, gasLimit uint64, tip, feeCap *big.Int, data []byte) *types.Transaction {
	if value == nil {
		value = new(big.Int)
	}
	df := &types.DynamicFeeTx{
		ChainID:   chain,
		Nonce:     nonce,
		Gas:       gasLimit,
		GasTipCap: new(big.Int).Set(tip),
		GasFeeCap: new(big.Int).Set(feeCap),
		To:        to,
		Value:     new(big.Int).Set(value),
		Data:      data,
	}
	return types.NewTx(df)
}

// Sign transaction with latest signer for given chain ID.
func signTx(tx *types.Transaction, chain *big.Int, prv *ecdsa.PrivateKey) (*types.Transaction, error) {
	signer := types.LatestSignerForChainID(chain)
	return types.SignTx(tx, signer, prv)
}

// bumpFees raises both fee fields to at least the floor; underpriced
// rejections add 10% on top so a replacement is accepted.
func bumpFees(tip, feeCap, floor *big.Int, underpriced bool) (*big.Int, *big.Int) {
	raise := func(x *big.Int) *big.Int {
		if underpriced {
			x = new(big.Int).Div(new(big.Int).Mul(x, big.NewInt(11)), big.NewInt(10))
		}
		return maxBig(x, floor)
	}
	tip, feeCap = raise(tip), raise(feeCap)
	if feeCap.Cmp(tip) < 0 {
		feeCap = new(big.Int).Set(tip)
	}
	return tip, feeCap
}

// SubmitTransaction signs and sends tmpl, then waits for its receipt.
//
// Each attempt uses nonce max(pending, ledger). A "nonce too low" rejection
// moves the ledger past the used nonce; fee rejections raise the fees. Attempts
// are spaced 2^n seconds apart (n counted from 0). A confirmed transaction
// advances the ledger to nonce+1.
func (c *Client) SubmitTransaction(ctx context.Context, w *Wallet, tmpl TxTemplate, retries int) (*TxResult, error) {
	if retries <= 0 {
		retries = DefaultTxRetries
	}
	kind := tmpl.Kind
	if kind == "" {
		kind = "call"
	}
	tip, feeCap := tmpl.TipCap, tmpl.FeeCap
	if tip == nil || feeCap == nil {
		t, f, err := c.Fees(ctx)
		if err != nil {
			return nil, err
		}
		tip, feeCap = t, f
	}
	floor := c.floor()
	to := tmpl.To

	res, err := retry.DoValue(ctx, retry.Policy{
		Attempts: retries,
		Sleep:    c.Sleep,
		Backoff: func(attempt int, _ error) time.Duration {
			return retry.Exponential(time.Second)(attempt-1, nil)
		},
	}, func(ctx context.Context, attempt int) (*TxResult, error) {
		pending, err := c.Backend.PendingNonceAt(ctx, w.Address)
		if err != nil {
			c.logf("%s | Warning: [Attempt %d] Send TX Error: %v", w.Short(), attempt, err)
			return nil, err
		}
		nonce := c.Ledger.Pick(w.Address, pending)

		tx := buildDynamicTx(c.ChainID, nonce, &to, tmpl.Value, tmpl.GasLimit, tip, feeCap, tmpl.Data)
		signed, err := signTx(tx, c.ChainID, w.Key)
		if err != nil {
			return nil, err
		}
		if err := c.Backend.SendTransaction(ctx, signed); err != nil {
			reason := ClassifyRPCError(err)
			metrics.TxSendRetries.WithLabelValues(reason).Inc()
			switch {
			case IsNonceTooLow(err):
				c.Ledger.Advance(w.Address, nonce+1)
				tip, feeCap = bumpFees(tip, feeCap, floor, false)
			case IsUnderpriced(err):
				tip, feeCap = bumpFees(tip, feeCap, floor, true)
			default:
				c.logf("%s | Warning: [Attempt %d] Send TX Error: %v", w.Short(), attempt, err)
			}
			return nil, err
		}

		receipt, err := c.waitMined(ctx, signed)
		if err != nil {
			c.logf("%s | Warning: [Attempt %d] Send TX Error: %v", w.Short(), attempt, err)
			return nil, err
		}
		c.Ledger.Advance(w.Address, nonce+1)
		if receipt.Status != types.ReceiptStatusSuccessful {
			err := fmt.Errorf("%w: %s", ErrTxReverted, signed.Hash().Hex())
			c.logf("%s | Warning: [Attempt %d] Send TX Error: %v", w.Short(), attempt, err)
			return nil, err
		}
		return &TxResult{Hash: signed.Hash(), Block: receipt.BlockNumber.Uint64(), Nonce: nonce}, nil
	})
	if err != nil {
		metrics.Transactions.WithLabelValues(kind, "failed").Inc()
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrTxNotConfirmed, err)
	}
	metrics.Transactions.WithLabelValues(kind, "success").Inc()
	return res, nil
}

func (c *Client) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	timeout := c.ConfirmTimeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	receipt, err := bind.WaitMined(wctx, c.Backend, tx)
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", tx.Hash().Hex(), err)
	}
	return receipt, nil
}
