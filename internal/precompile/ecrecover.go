package precompile

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/R3E-Network/droplink/internal/chain"
)

const (
	// EcrecoverGas is the fixed cost of one recovery.
	EcrecoverGas uint64 = 3000

	ecrecoverInputLen = 128
)

// Ecrecover recovers the signer address of a secp256k1 signature.
//
// Input:  digest(32) | zero(31) | v(1) | r(32) | s(32)
// Output: zero(12) | address(20), or empty when the signature does not recover.
type Ecrecover struct{}

// RequiredGas returns EcrecoverGas.
func (Ecrecover) RequiredGas([]byte) uint64 {
	return EcrecoverGas
}

// Run recovers the address. Short input is right-padded with zeros. The
// returned error is always nil; failures yield an empty output.
func (Ecrecover) Run(input []byte) ([]byte, error) {
	in := make([]byte, ecrecoverInputLen)
	copy(in, input)

	for _, b := range in[32:63] {
		if b != 0 {
			return nil, nil
		}
	}
	v := in[63]
	if v != 27 && v != 28 {
		return nil, nil
	}

	// compact form: recovery code (27 + recid, uncompressed) | r | s
	compact := make([]byte, 65)
	compact[0] = v
	copy(compact[1:], in[64:128])

	pub, _, err := ecdsa.RecoverCompact(compact, in[:32])
	if err != nil {
		return nil, nil
	}

	addr := chain.PubkeyToAddress(pub.SerializeUncompressed())
	out := make([]byte, 32)
	copy(out[12:], addr[:])
	return out, nil
}

// EncodeEcrecoverInput packs the 128-byte recovery input. r and s must be 32
// bytes each.
func EncodeEcrecoverInput(digest []byte, v byte, r, s []byte) []byte {
	input := make([]byte, 0, ecrecoverInputLen)
	input = append(input, digest...)
	input = append(input, make([]byte, 31)...)
	input = append(input, v)
	input = append(input, r...)
	input = append(input, s...)
	return input
}
