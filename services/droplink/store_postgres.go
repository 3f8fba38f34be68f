package droplink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/droplink/internal/chain"
	"github.com/R3E-Network/droplink/internal/settlement"
)

// PostgresStore persists drops in the drops table.
type PostgresStore struct {
	db     *sqlx.DB
	ledger *settlement.SQLLedger
}

var (
	_ Store        = (*PostgresStore)(nil)
	_ custodyStore = (*PostgresStore)(nil)
)

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// WithLedger keeps escrow in ledger and settles it inside each Update
// transaction.
func (s *PostgresStore) WithLedger(ledger *settlement.SQLLedger) *PostgresStore {
	s.ledger = ledger
	return s
}

// Custodian returns the ledger set by WithLedger, or nil.
func (s *PostgresStore) Custodian() settlement.Custodian {
	if s.ledger == nil {
		return nil
	}
	return s.ledger
}

type dropRow struct {
	ID            []byte `db:"id"`
	Sender        []byte `db:"sender"`
	Amount        string `db:"amount"`
	Active        bool   `db:"active"`
	ExpiresAt     string `db:"expires_at"`
	Gatekeeper    []byte `db:"gatekeeper"`
	SignerPubKeyX []byte `db:"signer_pub_key_x"`
	SignerPubKeyY []byte `db:"signer_pub_key_y"`
}

func (r dropRow) toDrop() (Drop, error) {
	var d Drop
	copy(d.ID[:], r.ID)
	d.Sender = chain.BytesToAddress(r.Sender)
	d.Gatekeeper = chain.BytesToAddress(r.Gatekeeper)
	amount, ok := new(big.Int).SetString(r.Amount, 10)
	if !ok {
		return Drop{}, fmt.Errorf("drop %s: invalid amount %q", d.ID.Hex(), r.Amount)
	}
	d.Amount = amount
	expires, err := strconv.ParseUint(r.ExpiresAt, 10, 64)
	if err != nil {
		return Drop{}, fmt.Errorf("drop %s: invalid expires_at: %w", d.ID.Hex(), err)
	}
	d.ExpiresAt = expires
	d.Active = r.Active
	d.SignerPubKeyX = r.SignerPubKeyX
	d.SignerPubKeyY = r.SignerPubKeyY
	return d, nil
}

const selectDrop = `
	SELECT id, sender, amount::text AS amount, active, expires_at::text AS expires_at,
	       gatekeeper, signer_pub_key_x, signer_pub_key_y
	FROM drops
	WHERE id = $1`

func (s *PostgresStore) Get(ctx context.Context, id DropID) (Drop, bool, error) {
	return getDrop(ctx, s.db, id, false)
}

func (s *PostgresStore) Create(ctx context.Context, drop Drop) error {
	return createDrop(ctx, s.db, drop)
}

func (s *PostgresStore) SetInactive(ctx context.Context, id DropID) error {
	return setInactive(ctx, s.db, id)
}

// Update runs fn inside BEGIN/COMMIT. Rows read through tx are locked with
// SELECT ... FOR UPDATE until the transaction ends, and value settled through
// the transaction's custodian commits with them.
func (s *PostgresStore) Update(ctx context.Context, fn func(tx Registry) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&postgresTx{tx: tx, ledger: s.ledger}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountReclaimable(ctx context.Context, now uint64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM drops
		WHERE active AND expires_at < $1::numeric
	`, strconv.FormatUint(now, 10))
	if err != nil {
		return 0, err
	}
	return n, nil
}

type postgresTx struct {
	tx     *sqlx.Tx
	ledger *settlement.SQLLedger
}

func (t *postgresTx) Custodian() settlement.Custodian {
	if t.ledger == nil {
		return nil
	}
	return t.ledger.WithTx(t.tx)
}

func (t *postgresTx) Get(ctx context.Context, id DropID) (Drop, bool, error) {
	return getDrop(ctx, t.tx, id, true)
}

func (t *postgresTx) Create(ctx context.Context, drop Drop) error {
	return createDrop(ctx, t.tx, drop)
}

func (t *postgresTx) SetInactive(ctx context.Context, id DropID) error {
	return setInactive(ctx, t.tx, id)
}

func getDrop(ctx context.Context, q sqlx.QueryerContext, id DropID, forUpdate bool) (Drop, bool, error) {
	query := selectDrop
	if forUpdate {
		query += " FOR UPDATE"
	}
	var row dropRow
	if err := sqlx.GetContext(ctx, q, &row, query, id[:]); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Drop{}, false, nil
		}
		return Drop{}, false, err
	}
	d, err := row.toDrop()
	if err != nil {
		return Drop{}, false, err
	}
	if !d.Exists() {
		return Drop{}, false, nil
	}
	return d, true, nil
}

func createDrop(ctx context.Context, e sqlx.ExecerContext, drop Drop) error {
	amount := "0"
	if drop.Amount != nil {
		amount = drop.Amount.String()
	}
	result, err := e.ExecContext(ctx, `
		INSERT INTO drops (id, sender, amount, active, expires_at, gatekeeper, signer_pub_key_x, signer_pub_key_y)
		VALUES ($1, $2, $3::numeric, $4, $5::numeric, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, drop.ID[:], drop.Sender.Bytes(), amount, drop.Active, strconv.FormatUint(drop.ExpiresAt, 10),
		drop.Gatekeeper.Bytes(), nonNil(drop.SignerPubKeyX), nonNil(drop.SignerPubKeyY))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrDropExists.WithDetails("id", drop.ID.Hex())
	}
	return nil
}

func setInactive(ctx context.Context, e sqlx.ExecerContext, id DropID) error {
	_, err := e.ExecContext(ctx, `
		UPDATE drops SET active = FALSE, updated_at = NOW()
		WHERE id = $1 AND active
	`, id[:])
	return err
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
