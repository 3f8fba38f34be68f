package droplink

import (
	"context"

	"github.com/R3E-Network/droplink/internal/precompile"
	"github.com/R3E-Network/droplink/internal/settlement"
)

// Registry is the keyed drop store as seen by one invocation.
type Registry interface {
	// Get returns the drop and whether it exists. An absent drop is the zero Drop.
	Get(ctx context.Context, id DropID) (Drop, bool, error)
	// Create inserts a new drop, failing with ErrDropExists if the slot is taken.
	Create(ctx context.Context, drop Drop) error
	// SetInactive tombstones the drop. It is a no-op for inactive or absent drops.
	SetInactive(ctx context.Context, id DropID) error
}

// Store is a Registry with transactional updates.
type Store interface {
	Registry
	// Update runs fn against a transactional view. Mutations made through tx are
	// visible to other callers only if fn returns nil and the commit succeeds.
	Update(ctx context.Context, fn func(tx Registry) error) error
	// CountReclaimable counts active drops with ExpiresAt < now.
	CountReclaimable(ctx context.Context, now uint64) (int, error)
}

// custodyStore is a durable Store that keeps escrow next to the drops. Its
// Custodian is nil when no ledger was configured.
type custodyStore interface {
	Store
	Custodian() settlement.Custodian
}

// settlingTx is a transactional view whose custodian commits and rolls back
// with it.
type settlingTx interface {
	Custodian() settlement.Custodian
}

// meteredRegistry charges the invocation budget before each storage access.
type meteredRegistry struct {
	Registry
	budget *precompile.Budget
}

func meter(reg Registry, budget *precompile.Budget) Registry {
	if budget == nil {
		return reg
	}
	return &meteredRegistry{Registry: reg, budget: budget}
}

func (m *meteredRegistry) Get(ctx context.Context, id DropID) (Drop, bool, error) {
	if err := charge(ctx, m.budget, "storage_read", precompile.GasStorageRead); err != nil {
		return Drop{}, false, err
	}
	return m.Registry.Get(ctx, id)
}

func (m *meteredRegistry) Create(ctx context.Context, drop Drop) error {
	if err := charge(ctx, m.budget, "storage_create", precompile.GasStorageCreate); err != nil {
		return err
	}
	return m.Registry.Create(ctx, drop)
}

func (m *meteredRegistry) SetInactive(ctx context.Context, id DropID) error {
	if err := charge(ctx, m.budget, "storage_update", precompile.GasStorageUpdate); err != nil {
		return err
	}
	return m.Registry.SetInactive(ctx, id)
}

// charge consumes budget for op and aborts when the invocation was cancelled.
func charge(ctx context.Context, budget *precompile.Budget, op string, cost uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if budget == nil {
		return nil
	}
	if err := budget.Charge(op, cost); err != nil {
		return ErrBudgetExhausted.WithDetails("op", op).Wrap(err)
	}
	return nil
}
