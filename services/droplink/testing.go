package droplink

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/R3E-Network/droplink/internal/chain"
	"github.com/R3E-Network/droplink/internal/logging"
	"github.com/R3E-Network/droplink/internal/metrics"
	"github.com/R3E-Network/droplink/internal/precompile"
	"github.com/R3E-Network/droplink/internal/settlement"
)

// TestEnv wires a Service over in-memory collaborators. Used by tests here
// and in the HTTP package.
type TestEnv struct {
	Service *Service
	Store   *MemoryStore
	Settler *settlement.MockSettler
	Clock   *chain.ManualClock
	Caller  *ScriptedCaller
	Metrics *metrics.Metrics
}

// NewTestEnv builds a service whose clock starts at now and whose
// cryptographic calls go through the real precompiles.
func NewTestEnv(now uint64) *TestEnv {
	env := &TestEnv{
		Store:   NewMemoryStore(),
		Settler: settlement.NewMockSettler(),
		Clock:   chain.NewManualClock(now),
		Caller:  &ScriptedCaller{Next: precompile.NewRegistry()},
		Metrics: metrics.New(),
	}
	client := precompile.NewClient(env.Caller)
	svc, err := New(Config{
		Store:     env.Store,
		Recoverer: client,
		Verifier:  client,
		Custodian: env.Settler,
		Clock:     env.Clock,
		Metrics:   env.Metrics,
		Logger:    logging.NewDiscard(ServiceID),
	})
	if err != nil {
		panic(err)
	}
	env.Service = svc
	return env
}

// ScriptedCaller forwards to Next unless an override is set for the address.
type ScriptedCaller struct {
	Next      precompile.Caller
	Overrides map[chain.Address]func(input []byte) ([]byte, error)
	Calls     []chain.Address
}

// Override replaces the response of the precompile at addr.
func (c *ScriptedCaller) Override(addr chain.Address, fn func(input []byte) ([]byte, error)) {
	if c.Overrides == nil {
		c.Overrides = make(map[chain.Address]func([]byte) ([]byte, error))
	}
	c.Overrides[addr] = fn
}

// Call implements precompile.Caller.
func (c *ScriptedCaller) Call(ctx context.Context, addr chain.Address, input []byte) ([]byte, error) {
	c.Calls = append(c.Calls, addr)
	if fn, ok := c.Overrides[addr]; ok {
		return fn(input)
	}
	return c.Next.Call(ctx, addr, input)
}

// Gatekeeper is a secp256k1 key that signs agent claims.
type Gatekeeper struct {
	key     *secp256k1.PrivateKey
	Address chain.Address
}

// NewGatekeeper generates a fresh key.
func NewGatekeeper() (*Gatekeeper, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return &Gatekeeper{
		key:     key,
		Address: chain.PubkeyToAddress(key.PubKey().SerializeUncompressed()),
	}, nil
}

// SignClaim returns the 65-byte r|s|v signature releasing id to receiver.
func (g *Gatekeeper) SignClaim(id DropID, receiver chain.Address) []byte {
	compact := secpecdsa.SignCompact(g.key, AgentDigest(id, receiver), false)
	sig := make([]byte, 65)
	copy(sig, compact[1:65])
	sig[64] = compact[0]
	return sig
}

// BiometricKey is a P-256 key standing in for a device authenticator.
type BiometricKey struct {
	key *ecdsa.PrivateKey
	X   []byte
	Y   []byte
}

// NewBiometricKey generates a fresh P-256 key.
func NewBiometricKey() (*BiometricKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &BiometricKey{
		key: key,
		X:   key.PublicKey.X.FillBytes(make([]byte, 32)),
		Y:   key.PublicKey.Y.FillBytes(make([]byte, 32)),
	}, nil
}

// Sign returns a 64-byte r|s signature over hash.
func (b *BiometricKey) Sign(hash []byte) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand.Reader, b.key, hash)
	if err != nil {
		return nil, fmt.Errorf("p256 sign: %w", err)
	}
	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig, nil
}
