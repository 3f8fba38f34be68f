package precompile

import (
	"errors"
	"fmt"
)

// Storage and transfer costs charged by the drop service.
const (
	GasStorageRead   uint64 = 2100
	GasStorageCreate uint64 = 20000
	GasStorageUpdate uint64 = 2900
	GasTransfer      uint64 = 9000
)

// ErrOutOfGas is returned when an invocation exceeds its budget.
var ErrOutOfGas = errors.New("out of gas")

// Budget meters the computational budget of a single invocation. It is not
// safe for concurrent use.
type Budget struct {
	limit uint64
	used  uint64
}

// NewBudget returns a budget allowing limit units.
func NewBudget(limit uint64) *Budget {
	return &Budget{limit: limit}
}

// Charge consumes cost units for op, failing without consuming anything when
// the remainder is too small.
func (b *Budget) Charge(op string, cost uint64) error {
	if cost > b.limit-b.used {
		return fmt.Errorf("%w: %s needs %d, %d remaining", ErrOutOfGas, op, cost, b.limit-b.used)
	}
	b.used += cost
	return nil
}

// Used returns the units consumed so far.
func (b *Budget) Used() uint64 {
	return b.used
}

// Remaining returns the units still available.
func (b *Budget) Remaining() uint64 {
	return b.limit - b.used
}

// Limit returns the configured ceiling.
func (b *Budget) Limit() uint64 {
	return b.limit
}
