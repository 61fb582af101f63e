package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ligun0805/pharos-autostake/internal/retry"
)

const tokenABIJSON = `[
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"address","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
 {"type":"function","name":"claimFaucet","stateMutability":"nonpayable","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getNextFaucetClaimTime","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var tokenABI = mustParseABI(tokenABIJSON)

func mustParseABI(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return a
}

// callWithRetry performs eth_call with small exponential backoff; rate-limit
// errors double the wait.
func (c *Client) callWithRetry(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	backoff := 200 * time.Millisecond
	return retry.DoValue(ctx, retry.Policy{
		Attempts: 3,
		Sleep:    c.Sleep,
		Backoff: func(_ int, err error) time.Duration {
			d := backoff
			if isRateLimitError(err) {
				backoff *= 2
			}
			return d
		},
	}, func(ctx context.Context, _ int) ([]byte, error) {
		return c.Backend.CallContract(ctx, msg, nil)
	})
}

func (c *Client) call(ctx context.Context, to common.Address, method string, args ...any) ([]any, error) {
	data, err := tokenABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := c.callWithRetry(ctx, ethereum.CallMsg{To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %s", ErrChainQuery, method, to.Hex(), revertReason(err))
	}
	vals, err := tokenABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrChainQuery, method, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%w: %s returned no data", ErrChainQuery, method)
	}
	return vals, nil
}

func (c *Client) callUint(ctx context.Context, to common.Address, method string, args ...any) (*big.Int, error) {
	vals, err := c.call(ctx, to, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: %s returned %T", ErrChainQuery, method, vals[0])
	}
	return v, nil
}

// Decimals reads decimals() of token.
func (c *Client) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	vals, err := c.call(ctx, token, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("%w: decimals returned %T", ErrChainQuery, vals[0])
	}
	return d, nil
}

// TokenBalance reads balanceOf(owner) scaled by the token's decimals.
func (c *Client) TokenBalance(ctx context.Context, owner, token common.Address) (Amount, error) {
	raw, err := c.callUint(ctx, token, "balanceOf", owner)
	if err != nil {
		return Amount{}, err
	}
	dec, err := c.Decimals(ctx, token)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Raw: raw, Decimals: dec}, nil
}

// Allowance reads allowance(owner, spender).
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return c.callUint(ctx, token, "allowance", owner, spender)
}

// NextFaucetClaimTime returns the unix second from which owner may claim again.
func (c *Client) NextFaucetClaimTime(ctx context.Context, faucet, owner common.Address) (int64, error) {
	v, err := c.callUint(ctx, faucet, "getNextFaucetClaimTime", owner)
	if err != nil {
		return 0, err
	}
	if !v.IsInt64() {
		return 0, fmt.Errorf("%w: claim time out of range: %s", ErrChainQuery, v)
	}
	return v.Int64(), nil
}
