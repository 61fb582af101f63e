package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ligun0805/pharos-autostake/internal/proxy"
	"github.com/ligun0805/pharos-autostake/internal/retry"
)

// Backend is the subset of *ethclient.Client used here.
type Backend interface {
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	Close()
}

var _ Backend = (*ethclient.Client)(nil)

// DialFunc opens a backend for rpcURL through proxyURL.
type DialFunc func(ctx context.Context, rpcURL, proxyURL string) (Backend, error)

// Dial connects to rpcURL with keep-alives and a 30s request timeout,
// routed through proxyURL when set.
func Dial(ctx context.Context, rpcURL, proxyURL string) (Backend, error) {
	hc, err := proxy.NewHTTPClient(proxyURL, 30*time.Second)
	if err != nil {
		return nil, err
	}
	rc, err := rpc.DialOptions(ctx, rpcURL, rpc.WithHTTPClient(hc), rpc.WithHeader("User-Agent", "Mozilla/5.0"))
	if err != nil {
		return nil, err
	}
	return ethclient.NewClient(rc), nil
}

// Connector dials and verifies liveness with eth_blockNumber.
type Connector struct {
	RPCURL  string
	Dial    DialFunc
	Retries int
	Delay   time.Duration
	Sleep   func(ctx context.Context, d time.Duration) error
	Logf    func(format string, args ...any)
}

// Connect returns a live backend or an error wrapping ErrRPCUnreachable.
// tag prefixes the per-attempt warning lines.
func (c Connector) Connect(ctx context.Context, tag, proxyURL string) (Backend, error) {
	dial := c.Dial
	if dial == nil {
		dial = Dial
	}
	retries := c.Retries
	if retries <= 0 {
		retries = 3
	}
	delay := c.Delay
	if delay <= 0 {
		delay = 3 * time.Second
	}
	b, err := retry.DoValue(ctx, retry.Policy{
		Attempts: retries,
		Backoff:  retry.Fixed(delay),
		Sleep:    c.Sleep,
		OnRetry: func(attempt int, err error) {
			if c.Logf != nil {
				c.Logf("%s | Warning: RPC connection attempt %d failed: %v", tag, attempt, err)
			}
		},
	}, func(ctx context.Context, _ int) (Backend, error) {
		b, err := dial(ctx, c.RPCURL, proxyURL)
		if err != nil {
			return nil, err
		}
		if _, err := b.BlockNumber(ctx); err != nil {
			b.Close()
			return nil, err
		}
		return b, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRPCUnreachable, err)
	}
	return b, nil
}
