package wire

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
)

func TestVerifyRoundTrip(t *testing.T) {
	p, _ := signedPacket(t)
	if !Verify(p) {
		t.Fatalf("expected valid signature to verify")
	}
}

func TestVerifyFlippedBitFails(t *testing.T) {
	p, _ := signedPacket(t)
	p.LatE7++ // mutate a signed field after signing
	if Verify(p) {
		t.Fatalf("expected verification to fail after payload mutation")
	}
}

func TestVerifyMissingKeyOrSignature(t *testing.T) {
	p, _ := signedPacket(t)
	p.PublicKey = nil
	if Verify(p) {
		t.Fatalf("expected verification to fail with missing public key")
	}
	p2, _ := signedPacket(t)
	p2.Signature = nil
	if Verify(p2) {
		t.Fatalf("expected verification to fail with missing signature")
	}
}

func TestVerifyWrongKeyFails(t *testing.T) {
	p, _ := signedPacket(t)
	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	p.PublicKey = otherPub
	if Verify(p) {
		t.Fatalf("expected verification to fail against the wrong key")
	}
}
