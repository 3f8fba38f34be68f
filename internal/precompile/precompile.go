// Package precompile implements the fixed byte contracts of the cryptographic
// services the claim engine calls: secp256k1 public key recovery (ecrecover)
// and P-256 signature verification (RIP-7212).
package precompile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/R3E-Network/droplink/internal/chain"
)

var (
	// EcrecoverAddress is where the recovery service is mounted.
	EcrecoverAddress = chain.BytesToAddress([]byte{0x01})
	// P256VerifyAddress is where the P-256 verification service is mounted.
	P256VerifyAddress = chain.BytesToAddress([]byte{0x01, 0x00})
)

// ErrNoPrecompile is returned when nothing is mounted at the called address.
var ErrNoPrecompile = errors.New("no precompile at address")

// Precompile is a fixed-function contract with a byte-level interface.
type Precompile interface {
	RequiredGas(input []byte) uint64
	Run(input []byte) ([]byte, error)
}

// Caller performs a static call against a precompile address.
type Caller interface {
	Call(ctx context.Context, addr chain.Address, input []byte) ([]byte, error)
}

// Registry dispatches calls to the precompiles mounted on it.
type Registry struct {
	mu        sync.RWMutex
	contracts map[chain.Address]Precompile
}

// NewRegistry returns a registry with ecrecover and P-256 verification mounted
// at their standard addresses.
func NewRegistry() *Registry {
	r := &Registry{contracts: make(map[chain.Address]Precompile)}
	r.Register(EcrecoverAddress, Ecrecover{})
	r.Register(P256VerifyAddress, P256Verify{})
	return r
}

// Register mounts p at addr, replacing any existing contract.
func (r *Registry) Register(addr chain.Address, p Precompile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contracts[addr] = p
}

// Call runs the precompile mounted at addr.
func (r *Registry) Call(ctx context.Context, addr chain.Address, input []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	p, ok := r.contracts[addr]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrNoPrecompile, addr.Hex())
	}
	return p.Run(input)
}

// RequiredGas reports the cost of calling addr with input, or 0 when nothing
// is mounted there.
func (r *Registry) RequiredGas(addr chain.Address, input []byte) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.contracts[addr]; ok {
		return p.RequiredGas(input)
	}
	return 0
}
