package staking

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ligun0805/pharos-autostake/internal/chain"
)

// Chain is one wallet's connection to the network.
type Chain interface {
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
	TokenBalance(ctx context.Context, owner, token common.Address) (chain.Amount, error)
	NextFaucetClaimTime(ctx context.Context, faucet, owner common.Address) (int64, error)
	ClaimFaucet(ctx context.Context, w *chain.Wallet, faucet common.Address) (*chain.TxResult, error)
	ApproveIfNeeded(ctx context.Context, w *chain.Wallet, spender, token common.Address, amount float64) (*chain.TxResult, error)
	Stake(ctx context.Context, w *chain.Wallet, router common.Address, calldata []byte) (*chain.TxResult, error)
	Close()
}

// ChainConnector opens a Chain through proxyURL. tag prefixes log lines.
type ChainConnector interface {
	Connect(ctx context.Context, tag, proxyURL string, nonces *chain.NonceLedger, logf func(string, ...any)) (Chain, error)
}

// RPCConnector opens JSON-RPC sessions with chain.Connector.
type RPCConnector struct {
	Connector      chain.Connector
	ChainID        *big.Int
	FeeMode        string
	FeeFloorGwei   int64
	ConfirmTimeout time.Duration
	Sleep          func(ctx context.Context, d time.Duration) error
}

func (r RPCConnector) Connect(ctx context.Context, tag, proxyURL string, nonces *chain.NonceLedger, logf func(string, ...any)) (Chain, error) {
	conn := r.Connector
	conn.Logf = logf
	if r.Sleep != nil {
		conn.Sleep = r.Sleep
	}
	b, err := conn.Connect(ctx, tag, proxyURL)
	if err != nil {
		return nil, err
	}
	c := chain.NewClient(b, r.ChainID, nonces)
	if r.FeeMode != "" {
		c.FeeMode = r.FeeMode
	}
	if r.FeeFloorGwei > 0 {
		c.FeeFloorGwei = r.FeeFloorGwei
	}
	if r.ConfirmTimeout > 0 {
		c.ConfirmTimeout = r.ConfirmTimeout
	}
	c.Sleep = r.Sleep
	c.Logf = logf
	return session{c}, nil
}

type session struct {
	*chain.Client
}

func (s session) Close() { s.Backend.Close() }
