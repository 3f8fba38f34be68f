package droplink

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/R3E-Network/droplink/internal/chain"
	apperrors "github.com/R3E-Network/droplink/internal/errors"
	"github.com/R3E-Network/droplink/internal/logging"
	"github.com/R3E-Network/droplink/internal/precompile"
)

type stubRecoverer struct {
	addr   chain.Address
	err    error
	digest []byte
	calls  int
}

func (s *stubRecoverer) Recover(_ context.Context, digest, _ []byte) (chain.Address, error) {
	s.calls++
	s.digest = digest
	return s.addr, s.err
}

type stubVerifier struct {
	ok    bool
	err   error
	calls int
}

func (s *stubVerifier) VerifyP256(_ context.Context, _, _, _, _ []byte) (bool, error) {
	s.calls++
	return s.ok, s.err
}

var gatekeeperAddr = chain.MustParseAddress("0x6a7e000000000000000000000000000000000001")

func newStubEngine(r *stubRecoverer, v *stubVerifier, now uint64) *Engine {
	return NewEngine(r, v, chain.NewManualClock(now), logging.NewDiscard("engine-test"))
}

func activeDrop() Drop {
	return Drop{
		ID:            dropID(7),
		Sender:        sender,
		Amount:        big.NewInt(1),
		Active:        true,
		ExpiresAt:     100,
		Gatekeeper:    gatekeeperAddr,
		SignerPubKeyX: make([]byte, 32),
		SignerPubKeyY: make([]byte, 32),
	}
}

func TestEngine_AgentPathUsesTwoStageDigest(t *testing.T) {
	r := &stubRecoverer{addr: gatekeeperAddr}
	e := newStubEngine(r, &stubVerifier{}, 50)
	drop := activeDrop()

	auth, err := e.Authorize(context.Background(), drop, ClaimProof{Receiver: receiver, AgentSignature: make([]byte, 65)}, nil)
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if auth.Path != PathAgent || auth.Signer != gatekeeperAddr {
		t.Fatalf("unexpected authorization %+v", auth)
	}

	inner := chain.Keccak256(drop.ID[:], receiver[:])
	want := chain.Keccak256([]byte("\x19Ethereum Signed Message:\n32"), inner)
	if !bytes.Equal(r.digest, want) {
		t.Fatalf("digest = %x, want %x", r.digest, want)
	}
}

func TestEngine_AgentSoftFailFallsToBiometric(t *testing.T) {
	tests := []struct {
		name string
		rec  *stubRecoverer
	}{
		{"call error", &stubRecoverer{err: precompile.ErrCallFailed}},
		{"unexpected output", &stubRecoverer{err: precompile.ErrUnexpectedOutput}},
		{"different signer", &stubRecoverer{addr: stranger}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &stubVerifier{ok: true}
			e := newStubEngine(tt.rec, v, 50)
			auth, err := e.Authorize(context.Background(), activeDrop(), ClaimProof{
				Receiver:           receiver,
				AgentSignature:     make([]byte, 65),
				BiometricSignature: make([]byte, 64),
				MessageHash:        make([]byte, 32),
			}, nil)
			if err != nil {
				t.Fatalf("Authorize() error = %v", err)
			}
			if auth.Path != PathBiometric || v.calls != 1 {
				t.Fatalf("path = %s, verifier calls = %d", auth.Path, v.calls)
			}
		})
	}
}

func TestEngine_RecoveryCallErrorReportedOnRejection(t *testing.T) {
	tests := []struct {
		name      string
		rec       *stubRecoverer
		wantAgent bool
	}{
		{"call error", &stubRecoverer{err: precompile.ErrCallFailed}, true},
		{"different signer", &stubRecoverer{addr: stranger}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newStubEngine(tt.rec, &stubVerifier{ok: true}, 50)
			_, err := e.Authorize(context.Background(), activeDrop(), ClaimProof{
				Receiver:       receiver,
				AgentSignature: make([]byte, 65),
			}, nil)
			if !errors.Is(err, ErrBioMissing) {
				t.Fatalf("err = %v, want ErrBioMissing", err)
			}
			se := apperrors.GetServiceError(err)
			got, ok := se.Details["agent_path"]
			if ok != tt.wantAgent {
				t.Fatalf("agent_path detail present = %v, want %v", ok, tt.wantAgent)
			}
			if tt.wantAgent && got != string(CodeRecoveryCallError) {
				t.Fatalf("agent_path = %v, want %s", got, CodeRecoveryCallError)
			}
		})
	}
}

func TestEngine_CancelledDuringRecoveryAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &stubRecoverer{err: precompile.ErrCallFailed}
	v := &stubVerifier{ok: true}
	e := NewEngine(recoverFunc(func() { cancel() }, r), v, chain.NewManualClock(0), logging.NewDiscard("engine-test"))

	_, err := e.Authorize(ctx, activeDrop(), ClaimProof{
		AgentSignature:     make([]byte, 65),
		BiometricSignature: make([]byte, 64),
		MessageHash:        make([]byte, 32),
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if v.calls != 0 {
		t.Fatal("verifier must not run after cancellation")
	}
}

type cancellingRecoverer struct {
	before func()
	next   precompile.Recoverer
}

func (c cancellingRecoverer) Recover(ctx context.Context, digest, sig []byte) (chain.Address, error) {
	c.before()
	return c.next.Recover(ctx, digest, sig)
}

func recoverFunc(before func(), next precompile.Recoverer) precompile.Recoverer {
	return cancellingRecoverer{before: before, next: next}
}

func TestEngine_StateChecksComeFirst(t *testing.T) {
	r := &stubRecoverer{addr: gatekeeperAddr}
	e := newStubEngine(r, &stubVerifier{}, 101)

	drop := activeDrop()
	if _, err := e.Authorize(context.Background(), drop, ClaimProof{AgentSignature: make([]byte, 65)}, nil); !errors.Is(err, ErrDropExpired) {
		t.Fatalf("err = %v, want ErrDropExpired", err)
	}

	drop.Active = false
	if _, err := e.Authorize(context.Background(), drop, ClaimProof{AgentSignature: make([]byte, 3)}, nil); !errors.Is(err, ErrDropInactive) {
		t.Fatalf("err = %v, want ErrDropInactive", err)
	}
	if r.calls != 0 {
		t.Fatal("recoverer must not be called for rejected state")
	}
}

func TestEngine_BudgetChargedPerCall(t *testing.T) {
	r := &stubRecoverer{addr: stranger}
	v := &stubVerifier{ok: true}
	e := newStubEngine(r, v, 0)
	budget := precompile.NewBudget(precompile.EcrecoverGas + precompile.P256VerifyGas - 1)

	_, err := e.Authorize(context.Background(), activeDrop(), ClaimProof{
		AgentSignature:     make([]byte, 65),
		BiometricSignature: make([]byte, 64),
		MessageHash:        make([]byte, 32),
	}, budget)
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("err = %v, want ErrBudgetExhausted", err)
	}
	if v.calls != 0 {
		t.Fatal("verifier must not run once the budget is exhausted")
	}
	if budget.Used() != precompile.EcrecoverGas {
		t.Fatalf("used = %d, want %d", budget.Used(), precompile.EcrecoverGas)
	}
}
