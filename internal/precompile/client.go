package precompile

import (
	"context"
	"errors"
	"fmt"

	"github.com/R3E-Network/droplink/internal/chain"
)

var (
	// ErrCallFailed wraps a failure of the call itself, as opposed to a
	// call that succeeded and reported an invalid proof.
	ErrCallFailed = errors.New("precompile call failed")
	// ErrUnexpectedOutput is returned when the response does not match the
	// contract's output size.
	ErrUnexpectedOutput = errors.New("unexpected precompile output")
)

// Recoverer recovers the signer of a 65-byte r|s|v signature over digest.
type Recoverer interface {
	Recover(ctx context.Context, digest, sig []byte) (chain.Address, error)
}

// P256Verifier verifies a 64-byte r|s P-256 signature over digest against the
// affine public key (x, y).
type P256Verifier interface {
	VerifyP256(ctx context.Context, digest, sig, x, y []byte) (bool, error)
}

// Client adapts a Caller to the Recoverer and P256Verifier capabilities,
// handling the byte encoding of both contracts.
type Client struct {
	caller Caller
}

var (
	_ Recoverer    = (*Client)(nil)
	_ P256Verifier = (*Client)(nil)
)

// NewClient wraps caller.
func NewClient(caller Caller) *Client {
	return &Client{caller: caller}
}

// Recover calls ecrecover. sig must be 65 bytes.
func (c *Client) Recover(ctx context.Context, digest, sig []byte) (chain.Address, error) {
	if len(sig) != 65 {
		return chain.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	input := EncodeEcrecoverInput(digest, sig[64], sig[:32], sig[32:64])
	out, err := c.caller.Call(ctx, EcrecoverAddress, input)
	if err != nil {
		return chain.Address{}, fmt.Errorf("%w: %v", ErrCallFailed, err)
	}
	if len(out) != 32 {
		return chain.Address{}, fmt.Errorf("%w: ecrecover returned %d bytes", ErrUnexpectedOutput, len(out))
	}
	return chain.BytesToAddress(out[12:32]), nil
}

// VerifyP256 calls the P-256 verifier. A response that is not 32 bytes or
// does not end in 1 is reported as invalid, not as an error.
func (c *Client) VerifyP256(ctx context.Context, digest, sig, x, y []byte) (bool, error) {
	if len(sig) != 64 {
		return false, fmt.Errorf("signature must be 64 bytes, got %d", len(sig))
	}
	input := EncodeP256Input(digest, sig[:32], sig[32:], x, y)
	out, err := c.caller.Call(ctx, P256VerifyAddress, input)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCallFailed, err)
	}
	if len(out) != 32 {
		return false, nil
	}
	return out[31] == 1, nil
}
