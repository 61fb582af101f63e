// Package staking drives each wallet through faucet claiming and a number of
// recommendation-driven staking rounds.
package staking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/ligun0805/pharos-autostake/internal/api"
	"github.com/ligun0805/pharos-autostake/internal/chain"
	"github.com/ligun0805/pharos-autostake/internal/metrics"
	"github.com/ligun0805/pharos-autostake/internal/proxy"
	"github.com/ligun0805/pharos-autostake/internal/retry"
)

// LogFunc receives "<tag> | <message>" event lines.
type LogFunc func(line string)

// Recommender is the remote allocation service.
type Recommender interface {
	ResolveBaseURL(ctx context.Context, proxyURL string) string
	Recommend(ctx context.Context, base string, in api.RecommendInput) (json.RawMessage, error)
	GenerateCalldata(ctx context.Context, base string, in api.CalldataInput) ([]byte, error)
}

// TokenIssuer creates the Authorization token for an address.
type TokenIssuer interface {
	Token(address string) (string, error)
}

// ProxyChecker probes a proxy before a wallet uses it.
type ProxyChecker interface {
	Check(ctx context.Context, proxyURL string) error
}

// Addresses are the contracts a wallet interacts with.
type Addresses struct {
	USDC   common.Address
	USDT   common.Address
	MUSD   common.Address
	Faucet common.Address
	Router common.Address
}

// Amounts is the per-round stake of each asset, in whole tokens.
type Amounts struct {
	USDC float64
	USDT float64
	MUSD float64
}

// Task is one run over a set of wallets.
type Task struct {
	PrivateKeys  []string
	Proxies      *proxy.Pool
	StakingCount int
	MinDelay     int
	MaxDelay     int
	Amounts      Amounts
	UseProxy     bool
	RotateProxy  bool
	// Nonces may be shared across runs; nil starts a fresh ledger.
	Nonces *chain.NonceLedger
}

// Runner holds the collaborators used by Run.
type Runner struct {
	Connector ChainConnector
	API       Recommender
	Auth      TokenIssuer
	Checker   ProxyChecker
	Contracts Addresses
	// ExplorerURL is prefixed to transaction hashes in log lines.
	ExplorerURL string
	// Workers > 1 processes wallets concurrently.
	Workers int

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
	// Intn returns a value in [0, n).
	Intn func(n int) int
}

// wib is the timezone used for next-claim timestamps.
var wib = time.FixedZone("WIB", 7*3600)

// runState is shared by all wallets of one Run.
type runState struct {
	task  Task
	base  string
	logMu sync.Mutex
	log   LogFunc

	mu     sync.Mutex
	tokens map[common.Address]string
}

func (s *runState) emit(tag, format string, args ...any) {
	s.logf("%s | "+format, append([]any{tag}, args...)...)
}

func (s *runState) logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	s.logMu.Lock()
	defer s.logMu.Unlock()
	if s.log != nil {
		s.log(line)
	}
}

func (s *runState) authToken(auth TokenIssuer, addr common.Address) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok, ok := s.tokens[addr]; ok {
		return tok, nil
	}
	tok, err := auth.Token(addr.Hex())
	if err != nil {
		return "", err
	}
	s.tokens[addr] = tok
	return tok, nil
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	return retry.Sleep(ctx, d)
}

// randomDelay returns whole seconds in [lo, hi].
func (r *Runner) randomDelay(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	n := hi - lo + 1
	if r.Intn != nil {
		return lo + r.Intn(n)
	}
	return lo + rand.IntN(n)
}

// Run processes every key in order. Per-wallet failures are logged and the
// run moves on; only cancellation stops it early.
func (r *Runner) Run(ctx context.Context, log LogFunc, task Task) error {
	if task.Nonces == nil {
		task.Nonces = chain.NewNonceLedger()
	}
	st := &runState{task: task, log: log, tokens: make(map[common.Address]string)}
	st.logf("System | Starting AutoStaking Task...")

	first := ""
	if task.UseProxy {
		first = task.Proxies.At(0)
	}
	st.base = r.API.ResolveBaseURL(ctx, first)

	if r.Workers > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.Workers)
		for i := range task.PrivateKeys {
			g.Go(func() error {
				r.processWallet(gctx, st, i)
				return gctx.Err()
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	} else {
		for i := range task.PrivateKeys {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.processWallet(ctx, st, i)
			if i < len(task.PrivateKeys)-1 {
				d := r.randomDelay(task.MinDelay, task.MaxDelay)
				st.logf("System | Wait For %d Seconds For Next Account...", d)
				if err := r.sleep(ctx, time.Duration(d)*time.Second); err != nil {
					return err
				}
			}
		}
	}

	st.logf("System | All Accounts Have Been Processed.")
	return ctx.Err()
}

func (r *Runner) processWallet(ctx context.Context, st *runState, i int) {
	task := st.task
	w, err := chain.DeriveWallet(task.PrivateKeys[i])
	if err != nil {
		st.logf("N/A | Error: Invalid Private Key or Library Version Not Supported")
		metrics.WalletsProcessed.WithLabelValues("invalid_key").Inc()
		return
	}
	tag := w.Short()
	st.logf("System | =========================[%s]=========================", tag)

	proxyURL := ""
	if task.UseProxy {
		proxyURL = task.Proxies.At(i)
	}
	if proxyURL != "" {
		st.emit(tag, "Proxy: %s", proxyURL)
		if r.Checker != nil {
			if err := r.Checker.Check(ctx, proxyURL); err != nil {
				if task.RotateProxy && task.Proxies.Len() > 1 {
					next := task.Proxies.Next(proxyURL)
					st.emit(tag, "Warning: Connection Not 200 OK - Rotating to %s", next)
					task.Proxies.Replace(i, next)
					metrics.ProxyRotations.Inc()
				} else {
					st.emit(tag, "Error: Connection Not 200 OK")
				}
				metrics.WalletsProcessed.WithLabelValues("proxy_failed").Inc()
				return
			}
		}
	}

	token, err := st.authToken(r.Auth, w.Address)
	if err != nil {
		st.emit(tag, "Error: Cryptography Library Version Not Supported")
		metrics.WalletsProcessed.WithLabelValues("auth_failed").Inc()
		return
	}

	c, err := r.Connector.Connect(ctx, tag, proxyURL, task.Nonces, st.logf)
	if err != nil {
		st.emit(tag, "Error: Web3 Not Connected")
		metrics.WalletsProcessed.WithLabelValues("rpc_failed").Inc()
		return
	}
	defer c.Close()

	pending, err := c.PendingNonce(ctx, w.Address)
	if err != nil {
		st.emit(tag, "Error: Web3 Not Connected: %v", err)
		metrics.WalletsProcessed.WithLabelValues("rpc_failed").Inc()
		return
	}
	task.Nonces.Seed(w.Address, pending)

	wc := &walletRun{Runner: r, st: st, c: c, w: w, tag: tag, token: token, proxyURL: proxyURL}
	wc.faucet(ctx)
	if err := r.sleep(ctx, 3*time.Second); err != nil {
		return
	}
	wc.rounds(ctx)
	metrics.WalletsProcessed.WithLabelValues("done").Inc()
}

// walletRun is the per-wallet part of a run.
type walletRun struct {
	*Runner
	st       *runState
	c        Chain
	w        *chain.Wallet
	tag      string
	token    string
	proxyURL string
}

func (wr *walletRun) emit(format string, args ...any) {
	wr.st.emit(wr.tag, format, args...)
}

func (wr *walletRun) logTx(status string, res *chain.TxResult) {
	wr.emit("    %s", status)
	wr.emit("    Block: %d", res.Block)
	wr.emit("    Tx Hash: %s", res.Hash.Hex())
	wr.emit("    Explorer: %s%s", wr.ExplorerURL, res.Hash.Hex())
}

func (wr *walletRun) faucet(ctx context.Context) {
	wr.emit("Faucet:")
	next, err := wr.c.NextFaucetClaimTime(ctx, wr.Contracts.Faucet, wr.w.Address)
	if err != nil {
		wr.emit("Error: Get Next Faucet Claim Time Failed: %v", err)
		return
	}
	if wr.now().Unix() < next {
		at := time.Unix(next, 0).In(wib).Format("01/02/06, 15:04:05")
		wr.emit("Warning: Already Claimed - Next Claim at %s WIB", at)
		return
	}
	res, err := wr.c.ClaimFaucet(ctx, wr.w, wr.Contracts.Faucet)
	switch {
	case errors.Is(err, chain.ErrFaucetUnavailable):
		wr.emit("Warning: claimFaucet function not available in contract at %s, skipping faucet claim", wr.Contracts.Faucet.Hex())
	case err != nil:
		wr.emit("Error: Perform Claim Faucet Failed: %v", err)
		wr.emit("Warning: Perform On-Chain Failed")
	default:
		wr.logTx("Status: Success", res)
	}
}

type asset struct {
	name   string
	addr   common.Address
	amount float64
}

func (wr *walletRun) assets() []asset {
	a := wr.st.task.Amounts
	return []asset{
		{"USDC", wr.Contracts.USDC, a.USDC},
		{"USDT", wr.Contracts.USDT, a.USDT},
		{"MockUSD", wr.Contracts.MUSD, a.MUSD},
	}
}

func (wr *walletRun) rounds(ctx context.Context) {
	task := wr.st.task
	wr.emit("Staking:")
	for j := 0; j < task.StakingCount; j++ {
		if ctx.Err() != nil {
			return
		}
		wr.emit("Stake %d of %d", j+1, task.StakingCount)
		if !wr.round(ctx) {
			metrics.StakingRounds.WithLabelValues("insufficient").Inc()
			return
		}
		d := wr.randomDelay(task.MinDelay, task.MaxDelay)
		wr.emit("Wait For %d Seconds For Next Tx...", d)
		if err := wr.sleep(ctx, time.Duration(d)*time.Second); err != nil {
			return
		}
	}
}

// round runs one staking attempt. It returns false when a balance is short,
// which ends the wallet's rounds.
func (wr *walletRun) round(ctx context.Context) bool {
	assets := wr.assets()

	wr.emit("Balance:")
	balances := make([]chain.Amount, len(assets))
	for k, a := range assets {
		bal, err := wr.c.TokenBalance(ctx, wr.w.Address, a.addr)
		if err != nil {
			wr.emit("Error: Get Token Balance Failed for %s: %v", a.addr.Hex(), err)
		}
		balances[k] = bal
		wr.emit("%d. %s %s", k+1, bal.Text(6), a.name)
	}
	wr.emit("Amount:")
	for k, a := range assets {
		wr.emit("%d. %s %s", k+1, strconv.FormatFloat(a.amount, 'f', -1, 64), a.name)
	}
	for k, a := range assets {
		if !balances[k].Covers(a.amount) {
			wr.emit("Warning: Insufficient %s Token Balance", a.name)
			return false
		}
	}

	in := api.RecommendInput{User: wr.w.Address.Hex(), Token: wr.token, ProxyURL: wr.proxyURL}
	for _, a := range assets {
		in.Holdings = append(in.Holdings, api.Holding{Name: a.name, Symbol: a.name, Address: a.addr.Hex(), Decimals: 6, Amount: a.amount})
	}
	changes, err := wr.API.Recommend(ctx, wr.st.base, in)
	if err != nil {
		wr.emit("Error: Fetch Financial Portfolio Recommendation Failed: %v", err)
		metrics.StakingRounds.WithLabelValues("recommend_failed").Inc()
		return true
	}

	res, err := wr.stake(ctx, changes)
	if err != nil {
		wr.emit("Error: Perform On-Chain Staking Failed: %v", err)
		wr.emit("Warning: Perform On-Chain Failed")
		metrics.StakingRounds.WithLabelValues("failed").Inc()
		return true
	}
	wr.logTx("Status: Success", res)
	metrics.StakingRounds.WithLabelValues("success").Inc()
	return true
}

func (wr *walletRun) stake(ctx context.Context, changes json.RawMessage) (*chain.TxResult, error) {
	for _, a := range wr.assets() {
		res, err := wr.c.ApproveIfNeeded(ctx, wr.w, wr.Contracts.Router, a.addr, a.amount)
		if err != nil {
			return nil, fmt.Errorf("approving token contract failed for %s: %w", a.addr.Hex(), err)
		}
		if res != nil {
			wr.logTx("Approve: Success", res)
		}
	}

	calldata, err := wr.API.GenerateCalldata(ctx, wr.st.base, api.CalldataInput{
		User:     wr.w.Address.Hex(),
		Token:    wr.token,
		ProxyURL: wr.proxyURL,
		Changes:  changes,
	})
	if err != nil {
		wr.emit("Error: Fetch Transaction Calldata Failed: %v", err)
		return nil, fmt.Errorf("generate transaction calldata failed: %w", err)
	}
	return wr.c.Stake(ctx, wr.w, wr.Contracts.Router, calldata)
}
