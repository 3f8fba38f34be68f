package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/droplink/internal/chain"
	"github.com/R3E-Network/droplink/internal/logging"
)

// ErrEscrowMissing is returned when the escrow row was never seeded.
var ErrEscrowMissing = errors.New("escrow account not initialized")

// SQLLedger keeps escrow, paid-out balances and receipts in Postgres, so
// custody survives restarts and is shared by every replica on the database.
// A ledger bound with WithTx writes through the caller's transaction.
type SQLLedger struct {
	db  *sqlx.DB
	tx  *sqlx.Tx
	log *logging.Logger
}

var _ Custodian = (*SQLLedger)(nil)

// NewSQLLedger creates a ledger over db. The schema comes from the
// settlement migrations.
func NewSQLLedger(db *sqlx.DB, log *logging.Logger) *SQLLedger {
	if log == nil {
		log = logging.Default("settlement")
	}
	return &SQLLedger{db: db, log: log}
}

// WithTx returns a copy of the ledger whose movements run inside tx and are
// committed or rolled back by its owner.
func (l *SQLLedger) WithTx(tx *sqlx.Tx) *SQLLedger {
	cp := *l
	cp.tx = tx
	return &cp
}

type receiptRow struct {
	ID       string `db:"id"`
	Kind     string `db:"kind"`
	Account  []byte `db:"account"`
	Amount   string `db:"amount"`
	Reverted bool   `db:"reverted"`
}

// =============================================================================
// Custody Operations
// =============================================================================

// Deposit credits escrow with value attached by from.
func (l *SQLLedger) Deposit(ctx context.Context, from chain.Address, amount *big.Int) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validAmount(amount) {
		return nil, ErrInvalidAmount
	}

	receipt := newReceipt(ReceiptDeposit, from, amount)
	err := l.run(ctx, func(e sqlx.ExtContext) error {
		if err := creditEscrow(ctx, e, amount); err != nil {
			return err
		}
		return insertReceipt(ctx, e, receipt)
	})
	if err != nil {
		return nil, err
	}

	l.log.WithContext(ctx).WithField("receipt_id", receipt.ID).
		WithField("from", from.Hex()).
		WithField("amount", amount.String()).
		Debug("escrow deposit")
	return receipt, nil
}

// Transfer pays amount out of escrow to to.
func (l *SQLLedger) Transfer(ctx context.Context, to chain.Address, amount *big.Int) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validAmount(amount) {
		return nil, ErrInvalidAmount
	}

	receipt := newReceipt(ReceiptTransfer, to, amount)
	err := l.run(ctx, func(e sqlx.ExtContext) error {
		if err := debitEscrow(ctx, e, amount); err != nil {
			return err
		}
		if _, err := e.ExecContext(ctx, `
			INSERT INTO settlement_balances (account, balance) VALUES ($1, $2::numeric)
			ON CONFLICT (account) DO UPDATE
			SET balance = settlement_balances.balance + EXCLUDED.balance, updated_at = NOW()
		`, to.Bytes(), amount.String()); err != nil {
			return err
		}
		return insertReceipt(ctx, e, receipt)
	})
	if err != nil {
		return nil, err
	}

	l.log.WithContext(ctx).WithField("receipt_id", receipt.ID).
		WithField("to", to.Hex()).
		WithField("amount", amount.String()).
		Info("escrow transfer")
	return receipt, nil
}

// Revert undoes a stored receipt. Reverting twice is a no-op.
func (l *SQLLedger) Revert(ctx context.Context, receipt *Receipt) error {
	if receipt == nil {
		return nil
	}

	var kind ReceiptKind
	err := l.run(ctx, func(e sqlx.ExtContext) error {
		var row receiptRow
		err := sqlx.GetContext(ctx, e, &row, `
			SELECT id, kind, account, amount::text AS amount, reverted
			FROM settlement_receipts WHERE id = $1 FOR UPDATE
		`, receipt.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrUnknownReceipt, receipt.ID)
		}
		if err != nil {
			return err
		}
		if row.Reverted {
			return nil
		}
		amount, ok := new(big.Int).SetString(row.Amount, 10)
		if !ok {
			return fmt.Errorf("receipt %s: invalid amount %q", row.ID, row.Amount)
		}

		kind = ReceiptKind(row.Kind)
		switch kind {
		case ReceiptDeposit:
			if err := debitEscrow(ctx, e, amount); err != nil {
				return fmt.Errorf("cannot revert deposit %s: %w", row.ID, err)
			}
		case ReceiptTransfer:
			res, err := e.ExecContext(ctx, `
				UPDATE settlement_balances SET balance = balance - $2::numeric, updated_at = NOW()
				WHERE account = $1 AND balance >= $2::numeric
			`, row.Account, amount.String())
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err != nil {
				return err
			} else if n == 0 {
				return fmt.Errorf("%w: cannot revert transfer %s", ErrInsufficientFunds, row.ID)
			}
			if err := creditEscrow(ctx, e, amount); err != nil {
				return err
			}
		default:
			return fmt.Errorf("receipt %s: unknown kind %q", row.ID, row.Kind)
		}
		_, err = e.ExecContext(ctx, `UPDATE settlement_receipts SET reverted = TRUE WHERE id = $1`, row.ID)
		return err
	})
	if err != nil {
		return err
	}
	receipt.Reverted = true

	if kind != "" {
		l.log.WithContext(ctx).WithField("receipt_id", receipt.ID).
			WithField("kind", string(kind)).
			Warn("receipt reverted")
	}
	return nil
}

// Escrow returns the current escrow balance.
func (l *SQLLedger) Escrow(ctx context.Context) (*big.Int, error) {
	var s string
	if err := sqlx.GetContext(ctx, l.queryer(), &s, `SELECT balance::text FROM settlement_escrow WHERE id = 1`); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEscrowMissing
		}
		return nil, err
	}
	return parseAmount(s)
}

// Balance returns what has been paid out to addr.
func (l *SQLLedger) Balance(ctx context.Context, addr chain.Address) (*big.Int, error) {
	var s string
	err := sqlx.GetContext(ctx, l.queryer(), &s, `SELECT balance::text FROM settlement_balances WHERE account = $1`, addr.Bytes())
	if errors.Is(err, sql.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return parseAmount(s)
}

// =============================================================================
// Helpers
// =============================================================================

// run executes fn in the bound transaction, or in a fresh one it commits.
func (l *SQLLedger) run(ctx context.Context, fn func(e sqlx.ExtContext) error) error {
	if l.tx != nil {
		return fn(l.tx)
	}
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (l *SQLLedger) queryer() sqlx.QueryerContext {
	if l.tx != nil {
		return l.tx
	}
	return l.db
}

func creditEscrow(ctx context.Context, e sqlx.ExecerContext, amount *big.Int) error {
	res, err := e.ExecContext(ctx, `
		UPDATE settlement_escrow SET balance = balance + $1::numeric, updated_at = NOW()
		WHERE id = 1
	`, amount.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEscrowMissing
	}
	return nil
}

// debitEscrow fails with ErrInsufficientFunds rather than driving escrow
// negative.
func debitEscrow(ctx context.Context, e sqlx.ExecerContext, amount *big.Int) error {
	res, err := e.ExecContext(ctx, `
		UPDATE settlement_escrow SET balance = balance - $1::numeric, updated_at = NOW()
		WHERE id = 1 AND balance >= $1::numeric
	`, amount.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: required %s", ErrInsufficientFunds, amount)
	}
	return nil
}

func insertReceipt(ctx context.Context, e sqlx.ExecerContext, r *Receipt) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO settlement_receipts (id, kind, account, amount, settled_at)
		VALUES ($1, $2, $3, $4::numeric, $5)
	`, r.ID, string(r.Kind), r.Account.Bytes(), r.Amount.String(), r.SettledAt)
	return err
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}
