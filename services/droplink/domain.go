// Package droplink implements escrowed value drops claimable by a gatekeeper
// signature or a biometric P-256 signature, and reclaimable by the sender
// after expiry.
package droplink

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/R3E-Network/droplink/internal/chain"
)

const (
	ServiceID   = "droplink"
	ServiceName = "Droplink Escrow Service"
	Version     = "1.0.0"
)

// DropID is an opaque 256-bit drop key, big-endian.
type DropID [32]byte

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// DropIDFromBig converts a non-negative integer below 2^256.
func DropIDFromBig(v *big.Int) (DropID, error) {
	var id DropID
	if v == nil || v.Sign() < 0 || v.Cmp(maxUint256) > 0 {
		return id, fmt.Errorf("drop id out of range")
	}
	v.FillBytes(id[:])
	return id, nil
}

// ParseDropID accepts a 0x-prefixed hex string or a decimal string.
func ParseDropID(s string) (DropID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DropID{}, fmt.Errorf("empty drop id")
	}
	v := new(big.Int)
	var ok bool
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		raw := s[2:]
		if raw == "" || len(raw) > 64 {
			return DropID{}, fmt.Errorf("drop id must be 1-64 hex digits")
		}
		_, ok = v.SetString(raw, 16)
	} else {
		_, ok = v.SetString(s, 10)
	}
	if !ok {
		return DropID{}, fmt.Errorf("invalid drop id %q", s)
	}
	return DropIDFromBig(v)
}

// Big returns the id as an integer.
func (id DropID) Big() *big.Int {
	return new(big.Int).SetBytes(id[:])
}

// Hex returns the 0x-prefixed 64-digit encoding.
func (id DropID) Hex() string {
	return "0x" + hex.EncodeToString(id[:])
}

func (id DropID) String() string {
	return id.Hex()
}

// MarshalText implements encoding.TextMarshaler.
func (id DropID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *DropID) UnmarshalText(text []byte) error {
	parsed, err := ParseDropID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// HexBytes is a byte slice carried as 0x-hex in JSON.
type HexBytes []byte

// ParseHexBytes decodes an optional-0x hex string. Empty input yields nil.
func ParseHexBytes(s string) (HexBytes, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if raw == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// MarshalText implements encoding.TextMarshaler.
func (b HexBytes) MarshalText() ([]byte, error) {
	return []byte("0x" + hex.EncodeToString(b)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *HexBytes) UnmarshalText(text []byte) error {
	parsed, err := ParseHexBytes(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Drop is one escrow record. A drop is present iff Sender is non-zero.
type Drop struct {
	ID            DropID
	Sender        chain.Address
	Amount        *big.Int
	Active        bool
	ExpiresAt     uint64
	Gatekeeper    chain.Address
	SignerPubKeyX []byte
	SignerPubKeyY []byte
}

// Exists reports whether the record occupies its slot.
func (d Drop) Exists() bool {
	return !d.Sender.IsZero()
}

// Clone returns a deep copy.
func (d Drop) Clone() Drop {
	cp := d
	if d.Amount != nil {
		cp.Amount = new(big.Int).Set(d.Amount)
	}
	cp.SignerPubKeyX = append([]byte(nil), d.SignerPubKeyX...)
	cp.SignerPubKeyY = append([]byte(nil), d.SignerPubKeyY...)
	return cp
}

// View returns the public projection. An absent drop projects to all zeros.
func (d Drop) View() DropView {
	amount := "0"
	if d.Amount != nil {
		amount = d.Amount.String()
	}
	return DropView{
		Sender:     d.Sender,
		Amount:     amount,
		Active:     d.Active,
		ExpiresAt:  d.ExpiresAt,
		Gatekeeper: d.Gatekeeper,
		PubKeyX:    append(HexBytes{}, d.SignerPubKeyX...),
		PubKeyY:    append(HexBytes{}, d.SignerPubKeyY...),
	}
}

// DropView is the read-only projection returned by Drops.
type DropView struct {
	Sender     chain.Address `json:"sender"`
	Amount     string        `json:"amount"`
	Active     bool          `json:"active"`
	ExpiresAt  uint64        `json:"expires_at"`
	Gatekeeper chain.Address `json:"gatekeeper"`
	PubKeyX    HexBytes      `json:"pub_key_x"`
	PubKeyY    HexBytes      `json:"pub_key_y"`
}

// =============================================================================
// Requests and results
// =============================================================================

// CreateDropRequest creates a drop funded with Amount by Sender.
type CreateDropRequest struct {
	ID         DropID
	Sender     chain.Address
	Amount     *big.Int
	ExpiresAt  uint64
	Gatekeeper chain.Address
	PubKeyX    []byte
	PubKeyY    []byte
	GasLimit   uint64
}

// ClaimDropRequest claims a drop for Receiver.
type ClaimDropRequest struct {
	ID                 DropID
	Receiver           chain.Address
	AgentSignature     []byte
	BiometricSignature []byte
	MessageHash        []byte
	GasLimit           uint64
}

// ReclaimDropRequest returns an expired drop to its sender. Caller is the
// authenticated invoker.
type ReclaimDropRequest struct {
	ID       DropID
	Caller   chain.Address
	GasLimit uint64
}

// SettlementResult describes a completed claim or reclaim.
type SettlementResult struct {
	ID        DropID        `json:"id"`
	Recipient chain.Address `json:"recipient"`
	Amount    string        `json:"amount"`
	Path      Path          `json:"path,omitempty"`
	ReceiptID string        `json:"receipt_id"`
	GasUsed   uint64        `json:"gas_used"`
}
