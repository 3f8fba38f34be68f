package precompile

import (
	"crypto/elliptic"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
)

const (
	// P256VerifyGas is the RIP-7212 cost of one verification.
	P256VerifyGas uint64 = 3450

	wordLen       = 32
	p256InputLen  = 5 * wordLen
	uncompressedP = 0x04
)

// P256Verify verifies a secp256r1 signature.
//
// Input:  hash(32) | r(32) | s(32) | x(32) | y(32)
// Output: 32-byte big-endian 1 when valid, empty otherwise.
type P256Verify struct{}

// RequiredGas returns P256VerifyGas.
func (P256Verify) RequiredGas([]byte) uint64 {
	return P256VerifyGas
}

// Run parses and verifies the signature. The returned error is always nil.
func (P256Verify) Run(input []byte) ([]byte, error) {
	if len(input) != p256InputLen {
		return nil, nil
	}

	point := make([]byte, 1+2*wordLen)
	point[0] = uncompressedP
	copy(point[1:], input[3*wordLen:])

	// rejects points that are not on the curve
	pub, err := keys.NewPublicKeyFromBytes(point, elliptic.P256())
	if err != nil {
		return nil, nil
	}
	if !pub.Verify(input[wordLen:3*wordLen], input[:wordLen]) {
		return nil, nil
	}
	return []byte{wordLen - 1: 1}, nil
}

// EncodeP256Input packs the 160-byte verification input. Every argument must
// be 32 bytes.
func EncodeP256Input(hash, r, s, x, y []byte) []byte {
	input := make([]byte, 0, p256InputLen)
	input = append(input, hash...)
	input = append(input, r...)
	input = append(input, s...)
	input = append(input, x...)
	input = append(input, y...)
	return input
}
