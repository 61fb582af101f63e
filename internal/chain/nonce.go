package chain

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NonceLedger remembers the next usable nonce per address for the run.
type NonceLedger struct {
	mu   sync.Mutex
	next map[common.Address]uint64
}

func NewNonceLedger() *NonceLedger {
	return &NonceLedger{next: make(map[common.Address]uint64)}
}

// Seed sets the next nonce unconditionally, typically from the pending count.
func (l *NonceLedger) Seed(addr common.Address, n uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next[addr] = n
}

// Get returns the recorded next nonce.
func (l *NonceLedger) Get(addr common.Address) (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, ok := l.next[addr]
	return n, ok
}

// Pick returns max(pending, recorded next nonce).
func (l *NonceLedger) Pick(addr common.Address, pending uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := l.next[addr]; n > pending {
		return n
	}
	return pending
}

// Advance moves the next nonce forward to n; it never moves backwards.
func (l *NonceLedger) Advance(addr common.Address, n uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > l.next[addr] {
		l.next[addr] = n
	}
}
