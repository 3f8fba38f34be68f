package droplink

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/droplink/internal/chain"
	"github.com/R3E-Network/droplink/internal/logging"
	"github.com/R3E-Network/droplink/internal/metrics"
	"github.com/R3E-Network/droplink/internal/precompile"
	"github.com/R3E-Network/droplink/internal/settlement"
)

// DefaultGasLimit bounds an invocation when neither the request nor the
// configuration sets a limit.
const DefaultGasLimit uint64 = 100_000

// ViewCache caches projections of drops.
type ViewCache interface {
	Get(ctx context.Context, id DropID) (*DropView, bool, error)
	Set(ctx context.Context, id DropID, view DropView) error
	Invalidate(ctx context.Context, id DropID) error
}

// Config configures the drop service.
type Config struct {
	Store     Store
	Recoverer precompile.Recoverer
	Verifier  precompile.P256Verifier
	Custodian settlement.Custodian // taken from the store when it keeps escrow
	Clock     chain.Clock
	Cache     ViewCache // optional
	Metrics   *metrics.Metrics
	Logger    *logging.Logger

	DefaultGasLimit uint64
}

// Service implements drop creation, claim, reclaim and lookup. Mutating
// operations are serialized.
type Service struct {
	mu sync.Mutex

	store     Store
	engine    *Engine
	custodian settlement.Custodian
	clock     chain.Clock
	cache     ViewCache
	metrics   *metrics.Metrics
	log       *logging.Logger
	gasLimit  uint64
}

// New creates the drop service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("droplink: store is required")
	}
	if cfg.Recoverer == nil || cfg.Verifier == nil {
		return nil, fmt.Errorf("droplink: recoverer and verifier are required")
	}
	if cs, ok := cfg.Store.(custodyStore); ok {
		ledger := cs.Custodian()
		if ledger == nil {
			return nil, fmt.Errorf("droplink: durable store has no ledger; escrow would not survive a restart")
		}
		if cfg.Custodian != nil && cfg.Custodian != ledger {
			return nil, fmt.Errorf("droplink: custodian must be the store's ledger")
		}
		cfg.Custodian = ledger
	}
	if cfg.Custodian == nil {
		return nil, fmt.Errorf("droplink: custodian is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = chain.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default(ServiceID)
	}
	if cfg.DefaultGasLimit == 0 {
		cfg.DefaultGasLimit = DefaultGasLimit
	}

	return &Service{
		store:     cfg.Store,
		engine:    NewEngine(cfg.Recoverer, cfg.Verifier, cfg.Clock, cfg.Logger),
		custodian: cfg.Custodian,
		clock:     cfg.Clock,
		cache:     cfg.Cache,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
		gasLimit:  cfg.DefaultGasLimit,
	}, nil
}

// Store returns the underlying store.
func (s *Service) Store() Store {
	return s.store
}

func (s *Service) budget(requested uint64) *precompile.Budget {
	if requested == 0 {
		requested = s.gasLimit
	}
	return precompile.NewBudget(requested)
}

// =============================================================================
// Operations
// =============================================================================

// CreateDrop escrows req.Amount under req.ID.
func (s *Service) CreateDrop(ctx context.Context, req CreateDropRequest) (*Drop, error) {
	if req.Sender.IsZero() {
		return nil, ErrInvalidSender
	}
	amount := req.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	if amount.Sign() < 0 || amount.Cmp(maxUint256) > 0 {
		return nil, ErrInvalidAmount.WithDetails("amount", amount.String())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	budget := s.budget(req.GasLimit)
	drop := Drop{
		ID:            req.ID,
		Sender:        req.Sender,
		Amount:        new(big.Int).Set(amount),
		Active:        true,
		ExpiresAt:     req.ExpiresAt,
		Gatekeeper:    req.Gatekeeper,
		SignerPubKeyX: append([]byte(nil), req.PubKeyX...),
		SignerPubKeyY: append([]byte(nil), req.PubKeyY...),
	}

	var (
		receipt *settlement.Receipt
		created bool
		inTx    bool
	)
	err := s.store.Update(ctx, func(tx Registry) error {
		reg := meter(tx, budget)
		if _, exists, err := reg.Get(ctx, req.ID); err != nil {
			return err
		} else if exists {
			return ErrDropExists.WithDetails("id", req.ID.Hex())
		}
		if err := reg.Create(ctx, drop); err != nil {
			return err
		}
		created = true
		custodian, bound := s.custodyFor(tx)
		inTx = bound
		r, err := custodian.Deposit(ctx, req.Sender, amount)
		if err != nil {
			return ErrSettlementError.Wrap(err)
		}
		receipt = r
		return nil
	})

	entry := s.log.WithContext(ctx).WithFields(logrus.Fields{
		"drop_id":  req.ID.Hex(),
		"sender":   req.Sender.Hex(),
		"amount":   amount.String(),
		"gas_used": budget.Used(),
	})
	s.metrics.RecordCreate(resultCode(err))
	s.metrics.ObserveGas("create", budget.Used())

	if err != nil {
		if created {
			s.metrics.RecordRollback("create")
			entry.WithError(err).Warn("create drop rolled back")
		} else {
			entry.WithError(err).Info("create drop rejected")
		}
		if !inTx {
			s.compensate(ctx, "create", receipt)
		}
		return nil, err
	}

	s.invalidate(ctx, req.ID)
	entry.WithField("expires_at", req.ExpiresAt).Info("drop created")
	return &drop, nil
}

// ClaimDrop authorizes req against the drop and pays its amount to
// req.Receiver.
func (s *Service) ClaimDrop(ctx context.Context, req ClaimDropRequest) (*SettlementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	budget := s.budget(req.GasLimit)
	proof := ClaimProof{
		Receiver:           req.Receiver,
		AgentSignature:     req.AgentSignature,
		BiometricSignature: req.BiometricSignature,
		MessageHash:        req.MessageHash,
	}

	var (
		auth    *Authorization
		receipt *settlement.Receipt
		drop    Drop
		inTx    bool
	)
	err := s.store.Update(ctx, func(tx Registry) error {
		reg := meter(tx, budget)
		var err error
		drop, _, err = reg.Get(ctx, req.ID)
		if err != nil {
			return err
		}
		drop.ID = req.ID

		auth, err = s.engine.Authorize(ctx, drop, proof, budget)
		if err != nil {
			return err
		}
		if auth == nil {
			return ErrUnauthorized
		}

		if err := reg.SetInactive(ctx, req.ID); err != nil {
			return err
		}
		if err := charge(ctx, budget, "transfer", precompile.GasTransfer); err != nil {
			return err
		}
		custodian, bound := s.custodyFor(tx)
		inTx = bound
		receipt, err = custodian.Transfer(ctx, req.Receiver, drop.Amount)
		if err != nil {
			return ErrSettlementError.Wrap(err)
		}
		return nil
	})

	path := ""
	if auth != nil {
		path = string(auth.Path)
	}
	entry := s.log.WithContext(ctx).WithFields(logrus.Fields{
		"drop_id":  req.ID.Hex(),
		"receiver": req.Receiver.Hex(),
		"path":     path,
		"gas_used": budget.Used(),
	})
	s.metrics.RecordClaim(path, resultCode(err))
	s.metrics.ObserveGas("claim", budget.Used())

	if err != nil {
		if auth != nil {
			// authorized but not committed: the tombstone was discarded
			s.metrics.RecordRollback("claim")
			entry.WithError(err).Warn("claim rolled back")
		} else {
			entry.WithError(err).Info("claim rejected")
		}
		if !inTx {
			s.compensate(ctx, "claim", receipt)
		}
		return nil, err
	}

	s.invalidate(ctx, req.ID)
	entry.WithField("amount", drop.Amount.String()).Info("drop claimed")
	return &SettlementResult{
		ID:        req.ID,
		Recipient: req.Receiver,
		Amount:    drop.Amount.String(),
		Path:      auth.Path,
		ReceiptID: receipt.ID,
		GasUsed:   budget.Used(),
	}, nil
}

// ReclaimDrop returns an expired, unclaimed drop to its sender.
func (s *Service) ReclaimDrop(ctx context.Context, req ReclaimDropRequest) (*SettlementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	budget := s.budget(req.GasLimit)
	var (
		receipt  *settlement.Receipt
		drop     Drop
		mutating bool
		inTx     bool
	)
	err := s.store.Update(ctx, func(tx Registry) error {
		reg := meter(tx, budget)
		var err error
		drop, _, err = reg.Get(ctx, req.ID)
		if err != nil {
			return err
		}
		if req.Caller != drop.Sender {
			return ErrNotSender
		}
		now := s.clock.Now()
		if now <= drop.ExpiresAt {
			return ErrNotYetExpired.WithDetails("expires_at", drop.ExpiresAt).WithDetails("now", now)
		}
		if !drop.Active {
			return ErrDropInactive.WithDetails("id", req.ID.Hex())
		}

		mutating = true
		if err := reg.SetInactive(ctx, req.ID); err != nil {
			return err
		}
		if err := charge(ctx, budget, "transfer", precompile.GasTransfer); err != nil {
			return err
		}
		custodian, bound := s.custodyFor(tx)
		inTx = bound
		receipt, err = custodian.Transfer(ctx, drop.Sender, drop.Amount)
		if err != nil {
			return ErrSettlementError.Wrap(err)
		}
		return nil
	})

	entry := s.log.WithContext(ctx).WithFields(logrus.Fields{
		"drop_id":  req.ID.Hex(),
		"caller":   req.Caller.Hex(),
		"gas_used": budget.Used(),
	})
	s.metrics.RecordReclaim(resultCode(err))
	s.metrics.ObserveGas("reclaim", budget.Used())

	if err != nil {
		if mutating {
			s.metrics.RecordRollback("reclaim")
			entry.WithError(err).Warn("reclaim rolled back")
		} else {
			entry.WithError(err).Info("reclaim rejected")
		}
		if !inTx {
			s.compensate(ctx, "reclaim", receipt)
		}
		return nil, err
	}

	s.invalidate(ctx, req.ID)
	entry.WithField("amount", drop.Amount.String()).Info("drop reclaimed")
	return &SettlementResult{
		ID:        req.ID,
		Recipient: drop.Sender,
		Amount:    drop.Amount.String(),
		ReceiptID: receipt.ID,
		GasUsed:   budget.Used(),
	}, nil
}

// Drops returns the projection of id. Absent drops project to all zeros.
func (s *Service) Drops(ctx context.Context, id DropID) (DropView, error) {
	if s.cache != nil {
		view, ok, err := s.cache.Get(ctx, id)
		if err != nil {
			s.log.WithContext(ctx).WithError(err).WithField("drop_id", id.Hex()).Warn("view cache read failed")
		} else if ok {
			return *view, nil
		}
	}

	// held so a concurrent mutation cannot land between the read and the fill
	s.mu.Lock()
	defer s.mu.Unlock()

	drop, _, err := s.store.Get(ctx, id)
	if err != nil {
		return DropView{}, err
	}
	view := drop.View()

	if s.cache != nil {
		if err := s.cache.Set(ctx, id, view); err != nil {
			s.log.WithContext(ctx).WithError(err).WithField("drop_id", id.Hex()).Warn("view cache write failed")
		}
	}
	return view, nil
}

// =============================================================================
// Helpers
// =============================================================================

// custodyFor returns the custodian to settle through inside tx. bound reports
// whether its movements commit and roll back with tx.
func (s *Service) custodyFor(tx Registry) (settlement.Custodian, bool) {
	if st, ok := tx.(settlingTx); ok {
		if c := st.Custodian(); c != nil {
			return c, true
		}
	}
	return s.custodian, false
}

// compensate reverts a receipt whose surrounding transaction did not commit.
func (s *Service) compensate(ctx context.Context, op string, receipt *settlement.Receipt) {
	if receipt == nil {
		return
	}
	// the caller's context may already be cancelled; the revert must still run
	if err := s.custodian.Revert(context.WithoutCancel(ctx), receipt); err != nil {
		s.log.WithContext(ctx).WithError(err).
			WithField("receipt_id", receipt.ID).
			WithField("op", op).
			Error("failed to revert settlement after aborted commit")
	}
}

func (s *Service) invalidate(ctx context.Context, id DropID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(context.WithoutCancel(ctx), id); err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("drop_id", id.Hex()).Warn("view cache invalidation failed")
	}
}
