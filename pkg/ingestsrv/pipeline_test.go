package ingestsrv

import (
	"crypto/ed25519"
	"crypto/rand"
	"net/netip"
	"testing"

	"github.com/sinyalist/ingestd/pkg/memindex"
	"github.com/sinyalist/ingestd/pkg/wire"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	dedup := memindex.NewDedup()
	keys := memindex.NewKnownKeys(1000)
	cluster := memindex.NewCluster()
	return &Pipeline{
		Metrics:   NewMetrics(dedup, keys, cluster),
		Dedup:     dedup,
		KeyLimit:  memindex.NewRateLimiter(),
		CellLimit: memindex.NewRateLimiter(),
		Cluster:   cluster,
		Keys:      keys,
		PersistCh: make(chan *wire.Packet, 10),
		RelayCh:   make(chan *wire.Packet, 10),
	}
}

func signedPacket(t *testing.T, userID uint64, packetID []byte) []byte {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	p := &wire.Packet{
		UserID:      userID,
		LatE7:       410000000,
		LonE7:       290000000,
		TimestampMS: 1_700_000_000_000,
		PacketID:    packetID,
		PublicKey:   pub,
	}
	p.Signature = ed25519.Sign(priv, p.Preimage())
	return p.Encode()
}

func TestAdmitAcceptsAndDedupes(t *testing.T) {
	p := newTestPipeline(t)
	body := signedPacket(t, 42, []byte{0x01, 0x02})

	ack, err := p.Admit(netip.Addr{}, body, 1_700_000_000_000)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if ack.Status != wire.StatusAccepted {
		t.Fatalf("expected accepted status, got %v", ack.Status)
	}
	if got := p.Metrics.AcceptedOK.Get(); got != 1 {
		t.Fatalf("expected accepted_ok=1, got %d", got)
	}

	ack2, err := p.Admit(netip.Addr{}, body, 1_700_000_000_100)
	if err != nil {
		t.Fatalf("Admit (replay): %v", err)
	}
	if ack2.Status != wire.StatusAlreadyAccepted {
		t.Fatalf("expected already_accepted on replay, got %v", ack2.Status)
	}
	if got := p.Metrics.Deduped.Get(); got != 1 {
		t.Fatalf("expected deduped=1, got %d", got)
	}
	if got := p.Metrics.Ingested.Get(); got != 1 {
		t.Fatalf("expected ingested to stay at 1 after replay, got %d", got)
	}
}

func TestAdmitRejectsOversized(t *testing.T) {
	p := newTestPipeline(t)
	body := make([]byte, wire.MaxPacketSize+1)

	_, err := p.Admit(netip.Addr{}, body, 1_700_000_000_000)
	ae, ok := err.(*admissionError)
	if !ok || ae.check != checkOversized || ae.status != 413 {
		t.Fatalf("expected oversized rejection, got %v", err)
	}
}

func TestAdmitRejectsFlippedSignature(t *testing.T) {
	p := newTestPipeline(t)
	body := signedPacket(t, 42, []byte{0x01})
	body[len(body)-1] ^= 0xff // corrupt a signature byte

	_, err := p.Admit(netip.Addr{}, body, 1_700_000_000_000)
	ae, ok := err.(*admissionError)
	if !ok || ae.check != checkVerifyFail {
		t.Fatalf("expected verify_fail rejection, got %v", err)
	}
}

func TestAdmitRejectsMissingSignature(t *testing.T) {
	p := newTestPipeline(t)
	pkt := &wire.Packet{UserID: 42, TimestampMS: 1}
	body := pkt.Encode()

	_, err := p.Admit(netip.Addr{}, body, 1_700_000_000_000)
	ae, ok := err.(*admissionError)
	if !ok || ae.check != checkSigMissing {
		t.Fatalf("expected sig_missing rejection, got %v", err)
	}
}

func TestAdmitConsensusGatesRelay(t *testing.T) {
	p := newTestPipeline(t)

	mkTrapped := func(userID uint64) []byte {
		pub, priv, _ := ed25519.GenerateKey(rand.Reader)
		pkt := &wire.Packet{
			UserID:      userID,
			LatE7:       410000000,
			LonE7:       290000000,
			TimestampMS: 1_700_000_000_000,
			IsTrapped:   true,
			PublicKey:   pub,
		}
		pkt.Signature = ed25519.Sign(priv, pkt.Preimage())
		return pkt.Encode()
	}

	for i := uint64(1); i <= 2; i++ {
		if _, err := p.Admit(netip.Addr{}, mkTrapped(i), 1_700_000_000_000); err != nil {
			t.Fatalf("Admit packet %d: %v", i, err)
		}
		select {
		case <-p.RelayCh:
			t.Fatalf("expected no relay before consensus at reporter %d", i)
		default:
		}
	}

	if _, err := p.Admit(netip.Addr{}, mkTrapped(3), 1_700_000_000_000); err != nil {
		t.Fatalf("Admit packet 3: %v", err)
	}
	select {
	case <-p.RelayCh:
	default:
		t.Fatalf("expected relay after reaching consensus")
	}
	if got := p.Metrics.AFAD.Get(); got != 1 {
		t.Fatalf("expected afad=1, got %d", got)
	}
}
