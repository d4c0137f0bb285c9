package ingestsrv

import (
	"encoding/binary"
	"net/netip"
	"sync/atomic"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/sinyalist/ingestd/pkg/geoipx"
	"github.com/sinyalist/ingestd/pkg/memindex"
	"github.com/sinyalist/ingestd/pkg/wire"
)

const (
	timestampPastMS   = 300_000
	timestampFutureMS = 60_000
)

// Pipeline implements the ten ordered admission checks of §4.F, wiring the
// packet codec and signature verifier to the shared in-memory indexes and the
// persistence/relay queues.
type Pipeline struct {
	Logger  zerolog.Logger
	Metrics *Metrics

	Dedup     *memindex.Dedup
	KeyLimit  *memindex.RateLimiter
	CellLimit *memindex.RateLimiter
	Cluster   *memindex.Cluster
	Keys      *memindex.KnownKeys
	GeoIP     *geoipx.Checker // nil disables the §4.F expansion cross-check

	PersistCh chan *wire.Packet
	RelayCh   chan *wire.Packet

	closed atomic.Bool
}

// Close marks the persistence queue as closed for new admissions: further
// Admit calls that would reach check 10 fail with 500 instead of sending on
// PersistCh, which is never actually closed (a send on a closed channel
// panics, and workers may still be draining it during shutdown).
func (p *Pipeline) Close() {
	p.closed.Store(true)
}

// Admit runs body (the raw POST /v1/ingest payload) through the admission
// pipeline and returns the Ack to encode on success. On rejection, the
// returned error is always an *admissionError carrying the HTTP status to
// use; the caller writes an empty body in that case. remoteIP is used only
// for the geo/IP cross-check side-effect and may be the zero value.
func (p *Pipeline) Admit(remoteIP netip.Addr, body []byte, now int64) (*wire.Ack, error) {
	// 1: body length
	if len(body) > wire.MaxPacketSize {
		p.Metrics.Oversized.Inc()
		return nil, rejectf(413, checkOversized)
	}

	// 2: codec decode
	pkt, err := wire.Decode(body)
	if err != nil {
		p.Metrics.Malformed.Inc()
		return nil, rejectf(400, checkMalformed)
	}

	// 3: required-field invariants
	if err := pkt.Valid(); err != nil {
		p.Metrics.Malformed.Inc()
		return nil, rejectf(422, checkMalformed)
	}

	// 4: signature/key present
	if len(pkt.PublicKey) == 0 || len(pkt.Signature) == 0 {
		p.Metrics.SigMissing.Inc()
		return nil, rejectf(403, checkSigMissing)
	}

	// 5: signature verifies
	if !wire.Verify(pkt) {
		p.Metrics.VerifyFail.Inc()
		return nil, rejectf(403, checkVerifyFail)
	}

	p.Keys.Observe(pkt.PublicKey)
	p.observeGeoIPMismatch(remoteIP, pkt)

	// 6: timestamp window (created_at_ms == 0 means the check is skipped
	// entirely, per Open Question 2's resolution)
	if pkt.CreatedAtMS > 0 {
		createdAt := int64(pkt.CreatedAtMS)
		if now-createdAt > timestampPastMS || createdAt-now > timestampFutureMS {
			p.Metrics.TimestampRejected.Inc()
			return nil, rejectf(400, checkTimestampRejected)
		}
	}

	// 7: dedup — terminal on a hit, no further effects
	dedupKey := dedupKeyFor(pkt)
	if p.Dedup.SeenOrInsert(dedupKey, now) {
		p.Metrics.Deduped.Inc()
		return &wire.Ack{
			UserID:      pkt.UserID,
			TimestampMS: uint64(now),
			Received:    true,
			Status:      wire.StatusAlreadyAccepted,
		}, nil
	}

	// 8: per-key rate limit
	if !p.KeyLimit.Admit(string(pkt.PublicKey), now, memindex.PerKeyCap) {
		p.Metrics.Spam.Inc()
		return nil, rejectf(429, checkSpam)
	}

	// 9: per-geo-cell rate limit
	cell := memindex.GeoCell(pkt.LatE7, pkt.LonE7)
	if !p.CellLimit.Admit(cellKeyString(cell), now, memindex.PerCellCap) {
		p.Metrics.Spam.Inc()
		return nil, rejectf(429, checkSpam)
	}

	p.Metrics.Ingested.Inc()

	bucket := memindex.TimeBucket(pkt.TimestampMS)
	confidence, unique := p.Cluster.Record(cell, bucket, pkt.PublicKey, now)

	highPriority := pkt.IsTrapped ||
		pkt.MsgType == wire.MsgTypeTrapped || pkt.MsgType == wire.MsgTypeMedical ||
		pkt.AlertLevel >= wire.AlertLevelSevere

	var afad bool
	if unique >= memindex.ConsensusThreshold && highPriority {
		select {
		case p.RelayCh <- pkt:
			p.Metrics.AFAD.Inc()
			afad = true
		default:
			p.Metrics.AFADDropped.Inc()
		}
	} else if unique < memindex.ConsensusThreshold {
		p.Metrics.ConsensusPending.Inc()
	}
	p.Metrics.ObserveGeo(pkt.LatE7, pkt.LonE7, afad)

	// 10: persistence queue accepts
	if p.closed.Load() {
		p.Metrics.QueueFull.Inc()
		return nil, rejectf(500, checkQueueFull)
	}
	select {
	case p.PersistCh <- pkt:
	default:
		p.Metrics.QueueFull.Inc()
		p.Metrics.Backpressure.Inc()
		return nil, rejectf(503, checkBackpressure)
	}

	p.Metrics.AcceptedOK.Inc()
	return &wire.Ack{
		UserID:      pkt.UserID,
		TimestampMS: uint64(now),
		Received:    true,
		Confidence:  float32(confidence),
		IngestID:    xid.New().String(),
		Status:      wire.StatusAccepted,
	}, nil
}

func (p *Pipeline) observeGeoIPMismatch(remoteIP netip.Addr, pkt *wire.Packet) {
	if p.GeoIP == nil || !remoteIP.IsValid() {
		return
	}
	src, asserted, mismatch, ok := p.GeoIP.Check(remoteIP, pkt.LatE7, pkt.LonE7)
	if !ok || !mismatch {
		return
	}
	p.Metrics.GeoIPMismatch.Inc()
	p.Logger.Debug().
		Str("source_region", src).
		Str("asserted_region", asserted).
		Uint64("user_id", pkt.UserID).
		Msg("geo/ip region mismatch")
}

// dedupKeyFor returns packet_id if present, else user_id ‖ timestamp_ms in
// little-endian, per the data model's dedup key definition.
func dedupKeyFor(p *wire.Packet) string {
	if len(p.PacketID) > 0 {
		return string(p.PacketID)
	}
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], p.UserID)
	binary.LittleEndian.PutUint64(b[8:], p.TimestampMS)
	return string(b[:])
}

func cellKeyString(cell uint64) string {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], cell)
	return string(b[:])
}
