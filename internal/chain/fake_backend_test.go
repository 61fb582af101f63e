package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type allowanceKey struct {
	token, owner, spender common.Address
}

// fakeBackend answers the token ABI from in-memory state and mines every
// accepted transaction immediately.
type fakeBackend struct {
	mu sync.Mutex

	decimals    uint8
	balances    map[common.Address]map[common.Address]*big.Int
	allowances  map[allowanceKey]*big.Int
	nextClaim   *big.Int
	pending     uint64
	baseFee     *big.Int
	tip         *big.Int
	estimateErr error
	blockErr    error
	sendErrs    []error
	status      uint64

	attempts []*types.Transaction
	sent     []*types.Transaction
	closed   int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		decimals:   6,
		balances:   map[common.Address]map[common.Address]*big.Int{},
		allowances: map[allowanceKey]*big.Int{},
		nextClaim:  big.NewInt(0),
		status:     types.ReceiptStatusSuccessful,
	}
}

func (f *fakeBackend) setBalance(token, owner common.Address, v *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balances[token] == nil {
		f.balances[token] = map[common.Address]*big.Int{}
	}
	f.balances[token][owner] = v
}

func (f *fakeBackend) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(msg.Data) < 4 {
		return nil, errors.New("execution reverted")
	}
	m, err := tokenABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := m.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	token := *msg.To
	switch m.Name {
	case "decimals":
		return m.Outputs.Pack(f.decimals)
	case "balanceOf":
		v := f.balances[token][args[0].(common.Address)]
		if v == nil {
			v = new(big.Int)
		}
		return m.Outputs.Pack(v)
	case "allowance":
		v := f.allowances[allowanceKey{token, args[0].(common.Address), args[1].(common.Address)}]
		if v == nil {
			v = new(big.Int)
		}
		return m.Outputs.Pack(v)
	case "getNextFaucetClaimTime":
		return m.Outputs.Pack(f.nextClaim)
	}
	return nil, fmt.Errorf("unexpected call %s", m.Name)
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 100_000, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, tx)
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, tx)
	if m, err := tokenABI.MethodById(tx.Data()); err == nil && m.Name == "approve" && len(tx.Data()) >= 4 {
		args, _ := m.Inputs.Unpack(tx.Data()[4:])
		from, _ := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
		f.allowances[allowanceKey{*tx.To(), from, args[0].(common.Address)}] = args[1].(*big.Int)
	}
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, tx := range f.sent {
		if tx.Hash() == hash {
			return &types.Receipt{Status: f.status, TxHash: hash, BlockNumber: big.NewInt(int64(100 + i))}, nil
		}
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return nil, nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	if f.blockErr != nil {
		return 0, f.blockErr
	}
	return 42, nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(42), BaseFee: f.baseFee}, nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	if f.tip == nil {
		return big.NewInt(0), nil
	}
	return f.tip, nil
}

func (f *fakeBackend) Close() { f.closed++ }

type sleepLog struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepLog) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return nil
}
