// Package settlement moves escrowed value between the drop vault and
// accounts.
//
// Flow:
//  1. A sender creates a drop; the attached value is deposited into escrow.
//  2. A successful claim transfers the drop amount from escrow to the receiver.
//  3. A successful reclaim transfers it back to the sender.
//  4. SQLLedger writes escrow and receipts in the drop store's transaction, so
//     both commit or neither does. The in-process Ledger cannot join that
//     transaction; its receipt is reverted when the store commit fails.
package settlement

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/droplink/internal/chain"
)

var (
	// ErrInsufficientFunds is returned when escrow cannot cover a transfer.
	ErrInsufficientFunds = errors.New("insufficient escrow balance")
	// ErrInvalidAmount is returned for negative or nil amounts.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrUnknownReceipt is returned when reverting a receipt the ledger never issued.
	ErrUnknownReceipt = errors.New("unknown receipt")
)

// ReceiptKind classifies a ledger movement.
type ReceiptKind string

const (
	ReceiptDeposit  ReceiptKind = "deposit"
	ReceiptTransfer ReceiptKind = "transfer"
)

// Receipt records a completed movement.
type Receipt struct {
	ID        string        `json:"id"`
	Kind      ReceiptKind   `json:"kind"`
	Account   chain.Address `json:"account"`
	Amount    *big.Int      `json:"amount"`
	SettledAt time.Time     `json:"settled_at"`
	Reverted  bool          `json:"reverted"`
}

// Settler transfers value out of escrow. A returned error means nothing moved.
type Settler interface {
	Transfer(ctx context.Context, to chain.Address, amount *big.Int) (*Receipt, error)
}

// Custodian is a Settler that also accepts deposits and can undo a receipt.
type Custodian interface {
	Settler
	Deposit(ctx context.Context, from chain.Address, amount *big.Int) (*Receipt, error)
	Revert(ctx context.Context, receipt *Receipt) error
}

func validAmount(amount *big.Int) bool {
	return amount != nil && amount.Sign() >= 0
}

func newReceipt(kind ReceiptKind, account chain.Address, amount *big.Int) *Receipt {
	return &Receipt{
		ID:        uuid.New().String(),
		Kind:      kind,
		Account:   account,
		Amount:    new(big.Int).Set(amount),
		SettledAt: time.Now().UTC(),
	}
}
