package droplink

import (
	"bytes"
	"context"

	"github.com/R3E-Network/droplink/internal/chain"
	apperrors "github.com/R3E-Network/droplink/internal/errors"
	"github.com/R3E-Network/droplink/internal/logging"
	"github.com/R3E-Network/droplink/internal/precompile"
)

// Path names the proof that authorized a claim.
type Path string

const (
	PathAgent     Path = "agent"
	PathBiometric Path = "biometric"
)

const (
	agentSignatureLength = 65
	bioSignatureLength   = 64
	bioFieldLength       = 32
)

// ClaimProof carries the caller-supplied authorization material.
type ClaimProof struct {
	Receiver           chain.Address
	AgentSignature     []byte
	BiometricSignature []byte
	MessageHash        []byte
}

// Authorization is the outcome of a successful Authorize.
type Authorization struct {
	Path   Path
	Signer chain.Address
}

// Engine decides whether a claim may settle.
type Engine struct {
	recoverer precompile.Recoverer
	verifier  precompile.P256Verifier
	clock     chain.Clock
	log       *logging.Logger
}

// NewEngine builds an engine over the two cryptographic capabilities.
func NewEngine(recoverer precompile.Recoverer, verifier precompile.P256Verifier, clock chain.Clock, log *logging.Logger) *Engine {
	if clock == nil {
		clock = chain.SystemClock{}
	}
	if log == nil {
		log = logging.Default(ServiceID)
	}
	return &Engine{recoverer: recoverer, verifier: verifier, clock: clock, log: log}
}

// Authorize runs the claim state machine up to settlement:
// active check, expiry check, agent path, biometric path.
func (e *Engine) Authorize(ctx context.Context, drop Drop, proof ClaimProof, budget *precompile.Budget) (*Authorization, error) {
	if !drop.Active {
		return nil, ErrDropInactive.WithDetails("id", drop.ID.Hex())
	}
	now := e.clock.Now()
	if now > drop.ExpiresAt {
		return nil, ErrDropExpired.WithDetails("expires_at", drop.ExpiresAt).WithDetails("now", now)
	}

	var skipped *apperrors.ServiceError
	if !drop.Gatekeeper.IsZero() && len(proof.AgentSignature) > 0 {
		auth, soft, err := e.tryAgent(ctx, drop, proof, budget)
		if err != nil || auth != nil {
			return auth, err
		}
		skipped = soft
	}

	auth, err := e.tryBiometric(ctx, drop, proof, budget)
	if err != nil && skipped != nil {
		// tell the caller why the agent signature was not honoured
		if se, ok := err.(*apperrors.ServiceError); ok {
			return nil, se.WithDetails("agent_path", string(skipped.Code))
		}
	}
	return auth, err
}

// tryAgent returns no authorization and no error when the agent path
// soft-fails and the biometric path should be attempted. soft is set when the
// recovery call itself failed.
func (e *Engine) tryAgent(ctx context.Context, drop Drop, proof ClaimProof, budget *precompile.Budget) (auth *Authorization, soft *apperrors.ServiceError, err error) {
	if len(proof.AgentSignature) != agentSignatureLength {
		return nil, nil, ErrMalformedAgentSignature.WithDetails("length", len(proof.AgentSignature))
	}
	if err := charge(ctx, budget, "ecrecover", precompile.EcrecoverGas); err != nil {
		return nil, nil, err
	}

	digest := AgentDigest(drop.ID, proof.Receiver)
	signer, err := e.recoverer.Recover(ctx, digest, proof.AgentSignature)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		soft = ErrRecoveryCallError.Wrap(err)
		e.log.WithContext(ctx).
			WithField("drop_id", drop.ID.Hex()).
			WithField("code", string(soft.Code)).
			WithError(soft).
			Debug("agent path soft-failed")
		return nil, soft, nil
	}
	if signer != drop.Gatekeeper {
		e.log.WithContext(ctx).
			WithField("drop_id", drop.ID.Hex()).
			WithField("recovered", signer.Hex()).
			Debug("agent signature does not match gatekeeper")
		return nil, nil, nil
	}
	return &Authorization{Path: PathAgent, Signer: signer}, nil, nil
}

func (e *Engine) tryBiometric(ctx context.Context, drop Drop, proof ClaimProof, budget *precompile.Budget) (*Authorization, error) {
	if len(proof.BiometricSignature) == 0 {
		return nil, ErrBioMissing
	}
	if len(drop.SignerPubKeyX) != bioFieldLength ||
		len(drop.SignerPubKeyY) != bioFieldLength ||
		len(proof.MessageHash) != bioFieldLength ||
		len(proof.BiometricSignature) != bioSignatureLength {
		return nil, ErrBioLengthInvalid.
			WithDetails("pub_key_x", len(drop.SignerPubKeyX)).
			WithDetails("pub_key_y", len(drop.SignerPubKeyY)).
			WithDetails("message_hash", len(proof.MessageHash)).
			WithDetails("signature", len(proof.BiometricSignature))
	}
	if err := charge(ctx, budget, "p256verify", precompile.P256VerifyGas); err != nil {
		return nil, err
	}

	ok, err := e.verifier.VerifyP256(ctx, proof.MessageHash, proof.BiometricSignature, drop.SignerPubKeyX, drop.SignerPubKeyY)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, ErrVerificationCallError.Wrap(err)
	}
	if !ok {
		return nil, ErrBioSignatureInvalid
	}
	return &Authorization{Path: PathBiometric, Signer: signerFromKey(drop.SignerPubKeyX, drop.SignerPubKeyY)}, nil
}

// signerFromKey derives a display address for a P-256 key so logs can
// correlate claims by the same device.
func signerFromKey(x, y []byte) chain.Address {
	return chain.BytesToAddress(chain.Keccak256(bytes.Join([][]byte{x, y}, nil)))
}
