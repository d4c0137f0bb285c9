package wire

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
)

func signedPacket(t *testing.T) (*Packet, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	p := &Packet{
		UserID:      42,
		LatE7:       410000000,
		LonE7:       290000000,
		TimestampMS: 1_700_000_000_000,
		PacketID:    []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a},
		PublicKey:   pub,
	}
	p.Signature = ed25519.Sign(priv, p.Preimage())
	return p, priv
}

func TestPacketRoundTrip(t *testing.T) {
	p, _ := signedPacket(t)
	enc := p.Encode()
	dec, err := Decode(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.UserID != p.UserID || dec.LatE7 != p.LatE7 || dec.LonE7 != p.LonE7 {
		t.Fatalf("round trip mismatch: got %+v, want %+v", dec, p)
	}
	if !bytes.Equal(dec.PublicKey, p.PublicKey) || !bytes.Equal(dec.Signature, p.Signature) {
		t.Fatalf("key/signature mismatch after round trip")
	}
	if !Verify(dec) {
		t.Fatalf("decoded packet failed to verify")
	}
}

func TestPacketNegativeLatLon(t *testing.T) {
	p := &Packet{UserID: 1, TimestampMS: 1, LatE7: -410000000, LonE7: -290000000}
	dec, err := Decode(p.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.LatE7 != p.LatE7 || dec.LonE7 != p.LonE7 {
		t.Fatalf("signed zigzag round trip failed: got (%d,%d), want (%d,%d)", dec.LatE7, dec.LonE7, p.LatE7, p.LonE7)
	}
}

func TestDecodeUnknownFieldTolerated(t *testing.T) {
	p := &Packet{UserID: 1, TimestampMS: 1}
	enc := p.Encode()
	enc = appendBytes(enc, 99, []byte("future field"))
	if _, err := Decode(enc); err != nil {
		t.Fatalf("unknown field should be tolerated, got: %v", err)
	}
}

func TestDecodeTagTypeMismatchIsMalformed(t *testing.T) {
	var b []byte
	b = appendTag(b, fieldUserID, wireBytes) // user_id must be fixed64
	b = appendUvarint(b, 3)
	b = append(b, []byte("abc")...)
	if _, err := Decode(b); err == nil {
		t.Fatalf("expected malformed error on wire-type mismatch")
	}
}

func TestDecodeTruncatedIsMalformed(t *testing.T) {
	p := &Packet{UserID: 1, TimestampMS: 1}
	enc := p.Encode()
	if _, err := Decode(enc[:len(enc)-3]); err == nil {
		t.Fatalf("expected malformed error on truncated record")
	}
}

func TestValid(t *testing.T) {
	if err := (&Packet{}).Valid(); err == nil {
		t.Fatalf("zero packet should be invalid")
	}
	if err := (&Packet{UserID: 1}).Valid(); err == nil {
		t.Fatalf("missing timestamp should be invalid")
	}
	if err := (&Packet{UserID: 1, TimestampMS: 1}).Valid(); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}
