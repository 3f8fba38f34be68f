package settlement

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/R3E-Network/droplink/internal/chain"
)

// ErrMockTransferFailed is the default error injected by MockSettler.
var ErrMockTransferFailed = errors.New("mock transfer failed")

// MockSettler wraps a Ledger with controllable transfer failures. Used by
// tests and demos.
type MockSettler struct {
	*Ledger

	mu        sync.Mutex
	failNext  int
	failErr   error
	transfers []Receipt
}

var _ Custodian = (*MockSettler)(nil)

// NewMockSettler returns a settler backed by a fresh ledger.
func NewMockSettler() *MockSettler {
	return &MockSettler{Ledger: NewLedger(nil)}
}

// FailNextTransfers makes the next n transfers fail with err (or
// ErrMockTransferFailed when err is nil).
func (m *MockSettler) FailNextTransfers(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		err = ErrMockTransferFailed
	}
	m.failNext = n
	m.failErr = err
}

// Transfer fails when a failure is armed, otherwise delegates to the ledger.
func (m *MockSettler) Transfer(ctx context.Context, to chain.Address, amount *big.Int) (*Receipt, error) {
	m.mu.Lock()
	if m.failNext > 0 {
		m.failNext--
		err := m.failErr
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	receipt, err := m.Ledger.Transfer(ctx, to, amount)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.transfers = append(m.transfers, *receipt)
	m.mu.Unlock()
	return receipt, nil
}

// Transfers returns the successful transfers seen so far.
func (m *MockSettler) Transfers() []Receipt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Receipt, len(m.transfers))
	copy(out, m.transfers)
	return out
}
