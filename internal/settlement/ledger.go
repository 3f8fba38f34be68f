package settlement

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/R3E-Network/droplink/internal/chain"
	"github.com/R3E-Network/droplink/internal/logging"
)

// Ledger is an in-process custody ledger: a single escrow balance plus the
// balances paid out to accounts.
type Ledger struct {
	mu       sync.Mutex
	escrow   *big.Int
	balances map[chain.Address]*big.Int
	receipts map[string]*Receipt
	log      *logging.Logger
}

var _ Custodian = (*Ledger)(nil)

// NewLedger creates an empty ledger.
func NewLedger(log *logging.Logger) *Ledger {
	if log == nil {
		log = logging.Default("settlement")
	}
	return &Ledger{
		escrow:   new(big.Int),
		balances: make(map[chain.Address]*big.Int),
		receipts: make(map[string]*Receipt),
		log:      log,
	}
}

// =============================================================================
// Custody Operations
// =============================================================================

// Deposit credits escrow with value attached by from.
func (l *Ledger) Deposit(ctx context.Context, from chain.Address, amount *big.Int) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validAmount(amount) {
		return nil, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.escrow.Add(l.escrow, amount)
	receipt := l.record(ReceiptDeposit, from, amount)

	l.log.WithContext(ctx).WithField("receipt_id", receipt.ID).
		WithField("from", from.Hex()).
		WithField("amount", amount.String()).
		Debug("escrow deposit")
	return receipt, nil
}

// Transfer pays amount out of escrow to to.
func (l *Ledger) Transfer(ctx context.Context, to chain.Address, amount *big.Int) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validAmount(amount) {
		return nil, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.escrow.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: escrow %s, required %s", ErrInsufficientFunds, l.escrow, amount)
	}

	l.escrow.Sub(l.escrow, amount)
	l.balanceOf(to).Add(l.balanceOf(to), amount)
	receipt := l.record(ReceiptTransfer, to, amount)

	l.log.WithContext(ctx).WithField("receipt_id", receipt.ID).
		WithField("to", to.Hex()).
		WithField("amount", amount.String()).
		Info("escrow transfer")
	return receipt, nil
}

// Revert undoes a receipt issued by this ledger. Reverting twice is a no-op.
func (l *Ledger) Revert(ctx context.Context, receipt *Receipt) error {
	if receipt == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stored, ok := l.receipts[receipt.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownReceipt, receipt.ID)
	}
	if stored.Reverted {
		return nil
	}

	switch stored.Kind {
	case ReceiptDeposit:
		if l.escrow.Cmp(stored.Amount) < 0 {
			return fmt.Errorf("%w: cannot revert deposit %s", ErrInsufficientFunds, stored.ID)
		}
		l.escrow.Sub(l.escrow, stored.Amount)
	case ReceiptTransfer:
		bal := l.balanceOf(stored.Account)
		if bal.Cmp(stored.Amount) < 0 {
			return fmt.Errorf("%w: cannot revert transfer %s", ErrInsufficientFunds, stored.ID)
		}
		bal.Sub(bal, stored.Amount)
		l.escrow.Add(l.escrow, stored.Amount)
	}
	stored.Reverted = true
	receipt.Reverted = true

	l.log.WithContext(ctx).WithField("receipt_id", stored.ID).
		WithField("kind", string(stored.Kind)).
		Warn("receipt reverted")
	return nil
}

// Escrow returns the current escrow balance.
func (l *Ledger) Escrow() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.escrow)
}

// Balance returns what has been paid out to addr.
func (l *Ledger) Balance(addr chain.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bal, ok := l.balances[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

func (l *Ledger) balanceOf(addr chain.Address) *big.Int {
	bal, ok := l.balances[addr]
	if !ok {
		bal = new(big.Int)
		l.balances[addr] = bal
	}
	return bal
}

func (l *Ledger) record(kind ReceiptKind, account chain.Address, amount *big.Int) *Receipt {
	receipt := newReceipt(kind, account, amount)
	l.receipts[receipt.ID] = receipt
	cp := *receipt
	return &cp
}
