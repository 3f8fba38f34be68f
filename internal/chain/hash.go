package chain

import (
	"golang.org/x/crypto/sha3"
)

// HashLength is the size of a Keccak-256 digest.
const HashLength = 32

// personalSignPrefix is the wallet "personal sign" prefix for a 32-byte payload.
const personalSignPrefix = "\x19Ethereum Signed Message:\n32"

// Keccak256 hashes the concatenation of data with legacy Keccak-256.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, b := range data {
		h.Write(b)
	}
	return h.Sum(nil)
}

// PersonalSignHash wraps a 32-byte hash in the personal-sign envelope and
// hashes it again, matching what wallets produce for signMessage(bytes32).
func PersonalSignHash(hash []byte) []byte {
	return Keccak256([]byte(personalSignPrefix), hash)
}

// PubkeyToAddress derives the account address from a 65-byte uncompressed
// secp256k1 public key (0x04 || X || Y).
func PubkeyToAddress(uncompressed []byte) Address {
	if len(uncompressed) == 65 {
		uncompressed = uncompressed[1:]
	}
	return BytesToAddress(Keccak256(uncompressed)[12:])
}
