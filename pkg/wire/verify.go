package wire

import "crypto/ed25519"

// Verify checks p's signature against its embedded public key using strict
// Ed25519 (RFC 8032) over the preimage derived from the decoded record (see
// Preimage). Any malformed key or signature length is a verification
// failure, not an error — callers only need the boolean.
func Verify(p *Packet) bool {
	if len(p.PublicKey) != ed25519.PublicKeySize {
		return false
	}
	if len(p.Signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(p.PublicKey), p.Preimage(), p.Signature)
}
