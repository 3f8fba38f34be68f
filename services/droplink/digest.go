package droplink

import "github.com/R3E-Network/droplink/internal/chain"

// AgentDigest is the message a gatekeeper signs to release id to receiver:
// keccak256 over the tight 52-byte concatenation, then the personal-sign
// prefixed hash.
func AgentDigest(id DropID, receiver chain.Address) []byte {
	inner := chain.Keccak256(id[:], receiver[:])
	return chain.PersonalSignHash(inner)
}
