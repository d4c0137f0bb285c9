// Package wire implements the length-delimited, tag-typed binary encoding
// used for device packets and server acknowledgements, and the signing
// preimage derived from a decoded packet.
package wire

import (
	"fmt"
)

// MaxPacketSize is the largest encoded packet the ingestion pipeline will
// accept. Enforced by the caller before Decode is even attempted.
const MaxPacketSize = 1024

// MsgType classifies the packet's payload.
type MsgType uint8

const (
	MsgTypeTelemetry MsgType = 0
	MsgTypeTrapped    MsgType = 1
	MsgTypeMedical    MsgType = 2
)

// AlertLevel is the device-asserted severity of the event.
type AlertLevel uint8

const (
	AlertLevelInfo     AlertLevel = 0
	AlertLevelWarning  AlertLevel = 1
	AlertLevelSevere   AlertLevel = 2
	AlertLevelCritical AlertLevel = 3
)

// field numbers, in encode order.
const (
	fieldUserID        = 1
	fieldLatE7         = 2
	fieldLonE7         = 3
	fieldAccuracyCM    = 4
	fieldTimestampMS   = 5
	fieldCreatedAtMS   = 6
	fieldIsTrapped     = 7
	fieldPacketID      = 8
	fieldMsgType       = 9
	fieldAlertLevel    = 10
	fieldPublicKey     = 11
	fieldSignature     = 12
	fieldHeartRateBPM  = 13
	fieldSpO2Pct       = 14
	fieldSeismic       = 15
	fieldDeviceHash    = 16
	fieldOriginMeshID  = 17
)

// Packet is a decoded device telemetry record. Fields not interpreted by the
// ingestion pipeline (biometric, seismic, and mesh-routing fields) are kept
// only so Encode can round-trip them into the signing preimage; admission
// logic never reads them, and the durable log does not record them.
type Packet struct {
	UserID       uint64
	LatE7        int32
	LonE7        int32
	AccuracyCM   uint32
	TimestampMS  uint64
	CreatedAtMS  uint64
	IsTrapped    bool
	PacketID     []byte // 0-16 bytes
	MsgType      MsgType
	AlertLevel   AlertLevel
	PublicKey    []byte // 32 bytes
	Signature    []byte // 64 bytes

	// Informational fields, never interpreted by admission logic.
	HeartRateBPM     uint32
	SpO2Pct          uint32
	SeismicFeatures  []byte
	DeviceHash       uint32
	OriginMeshID     uint32
}

// ErrMalformed wraps any decode failure: unknown truncation, or a tag whose
// wire type doesn't match the field it claims to be.
type ErrMalformed struct {
	Err error
}

func (e *ErrMalformed) Error() string { return "malformed packet: " + e.Err.Error() }
func (e *ErrMalformed) Unwrap() error { return e.Err }

func malformed(format string, a ...any) error {
	return &ErrMalformed{Err: fmt.Errorf(format, a...)}
}

// Decode parses a length-delimited, tag-typed packet record. Unknown fields
// are skipped; a wire-type mismatch on a known field, or a truncated value of
// any kind, is reported as ErrMalformed.
func Decode(b []byte) (*Packet, error) {
	d := decoder{b: b}
	var p Packet
	for !d.done() {
		field, wt, err := d.tag()
		if err != nil {
			return nil, malformed("read tag: %w", err)
		}
		switch field {
		case fieldUserID:
			if wt != wireFixed64 {
				return nil, malformed("field %d: expected fixed64, got wire type %d", field, wt)
			}
			v, err := d.fixed64()
			if err != nil {
				return nil, malformed("field %d: %w", field, err)
			}
			p.UserID = v
		case fieldLatE7:
			if wt != wireVarint {
				return nil, malformed("field %d: expected varint, got wire type %d", field, wt)
			}
			v, err := d.varint()
			if err != nil {
				return nil, malformed("field %d: %w", field, err)
			}
			p.LatE7 = int32(v)
		case fieldLonE7:
			if wt != wireVarint {
				return nil, malformed("field %d: expected varint, got wire type %d", field, wt)
			}
			v, err := d.varint()
			if err != nil {
				return nil, malformed("field %d: %w", field, err)
			}
			p.LonE7 = int32(v)
		case fieldAccuracyCM:
			if wt != wireVarint {
				return nil, malformed("field %d: expected varint, got wire type %d", field, wt)
			}
			v, err := d.uvarint()
			if err != nil {
				return nil, malformed("field %d: %w", field, err)
			}
			p.AccuracyCM = uint32(v)
		case fieldTimestampMS:
			if wt != wireFixed64 {
				return nil, malformed("field %d: expected fixed64, got wire type %d", field, wt)
			}
			v, err := d.fixed64()
			if err != nil {
				return nil, malformed("field %d: %w", field, err)
			}
			p.TimestampMS = v
		case fieldCreatedAtMS:
			if wt != wireFixed64 {
				return nil, malformed("field %d: expected fixed64, got wire type %d", field, wt)
			}
			v, err := d.fixed64()
			if err != nil {
				return nil, malformed("field %d: %w", field, err)
			}
			p.CreatedAtMS = v
		case fieldIsTrapped:
			if wt != wireVarint {
				return nil, malformed("field %d: expected varint, got wire type %d", field, wt)
			}
			v, err := d.uvarint()
			if err != nil {
				return nil, malformed("field %d: %w", field, err)
			}
			p.IsTrapped = v != 0
		case fieldPacketID:
			if wt != wireBytes {
				return nil, malformed("field %d: expected bytes, got wire type %d", field, wt)
			}
			v, err := d.bytes()
			if err != nil {
				return nil, malformed("field %d: %w", field, err)
			}
			if len(v) > 16 {
				return nil, malformed("field %d: packet_id longer than 16 bytes", field)
			}
			p.PacketID = append([]byte(nil), v...)
		case fieldMsgType:
			if wt != wireVarint {
				return nil, malformed("field %d: expected varint, got wire type %d", field, wt)
			}
			v, err := d.uvarint()
			if err != nil {
				return nil, malformed("field %d: %w", field, err)
			}
			p.MsgType = MsgType(v)
		case fieldAlertLevel:
			if wt != wireVarint {
				return nil, malformed("field %d: expected varint, got wire type %d", field, wt)
			}
			v, err := d.uvarint()
			if err != nil {
				return nil, malformed("field %d: %w", field, err)
			}
			p.AlertLevel = AlertLevel(v)
		case fieldPublicKey:
			if wt != wireBytes {
				return nil, malformed("field %d: expected bytes, got wire type %d", field, wt)
			}
			v, err := d.bytes()
			if err != nil {
				return nil, malformed("field %d: %w", field, err)
			}
			p.PublicKey = append([]byte(nil), v...)
		case fieldSignature:
			if wt != wireBytes {
				return nil, malformed("field %d: expected bytes, got wire type %d", field, wt)
			}
			v, err := d.bytes()
			if err != nil {
				return nil, malformed("field %d: %w", field, err)
			}
			p.Signature = append([]byte(nil), v...)
		case fieldHeartRateBPM:
			if wt != wireVarint {
				return nil, malformed("field %d: expected varint, got wire type %d", field, wt)
			}
			v, err := d.uvarint()
			if err != nil {
				return nil, malformed("field %d: %w", field, err)
			}
			p.HeartRateBPM = uint32(v)
		case fieldSpO2Pct:
			if wt != wireVarint {
				return nil, malformed("field %d: expected varint, got wire type %d", field, wt)
			}
			v, err := d.uvarint()
			if err != nil {
				return nil, malformed("field %d: %w", field, err)
			}
			p.SpO2Pct = uint32(v)
		case fieldSeismic:
			if wt != wireBytes {
				return nil, malformed("field %d: expected bytes, got wire type %d", field, wt)
			}
			v, err := d.bytes()
			if err != nil {
				return nil, malformed("field %d: %w", field, err)
			}
			p.SeismicFeatures = append([]byte(nil), v...)
		case fieldDeviceHash:
			if wt != wireFixed32 {
				return nil, malformed("field %d: expected fixed32, got wire type %d", field, wt)
			}
			v, err := d.fixed32()
			if err != nil {
				return nil, malformed("field %d: %w", field, err)
			}
			p.DeviceHash = v
		case fieldOriginMeshID:
			if wt != wireFixed32 {
				return nil, malformed("field %d: expected fixed32, got wire type %d", field, wt)
			}
			v, err := d.fixed32()
			if err != nil {
				return nil, malformed("field %d: %w", field, err)
			}
			p.OriginMeshID = v
		default:
			if err := d.skip(wt); err != nil {
				return nil, malformed("skip unknown field %d: %w", field, err)
			}
		}
	}
	return &p, nil
}

// Encode serialises p deterministically in ascending field-number order.
// Zero-length optional byte fields (PacketID, PublicKey, Signature,
// SeismicFeatures) are omitted entirely.
func (p *Packet) Encode() []byte {
	b := make([]byte, 0, 160+len(p.SeismicFeatures))
	b = appendTag(b, fieldUserID, wireFixed64)
	b = appendFixed64(b, p.UserID)
	b = appendTag(b, fieldLatE7, wireVarint)
	b = appendVarint(b, int64(p.LatE7))
	b = appendTag(b, fieldLonE7, wireVarint)
	b = appendVarint(b, int64(p.LonE7))
	if p.AccuracyCM != 0 {
		b = appendTag(b, fieldAccuracyCM, wireVarint)
		b = appendUvarint(b, uint64(p.AccuracyCM))
	}
	b = appendTag(b, fieldTimestampMS, wireFixed64)
	b = appendFixed64(b, p.TimestampMS)
	if p.CreatedAtMS != 0 {
		b = appendTag(b, fieldCreatedAtMS, wireFixed64)
		b = appendFixed64(b, p.CreatedAtMS)
	}
	if p.IsTrapped {
		b = appendTag(b, fieldIsTrapped, wireVarint)
		b = appendUvarint(b, 1)
	}
	if len(p.PacketID) > 0 {
		b = appendBytes(b, fieldPacketID, p.PacketID)
	}
	if p.MsgType != 0 {
		b = appendTag(b, fieldMsgType, wireVarint)
		b = appendUvarint(b, uint64(p.MsgType))
	}
	if p.AlertLevel != 0 {
		b = appendTag(b, fieldAlertLevel, wireVarint)
		b = appendUvarint(b, uint64(p.AlertLevel))
	}
	if len(p.PublicKey) > 0 {
		b = appendBytes(b, fieldPublicKey, p.PublicKey)
	}
	if len(p.Signature) > 0 {
		b = appendBytes(b, fieldSignature, p.Signature)
	}
	if p.HeartRateBPM != 0 {
		b = appendTag(b, fieldHeartRateBPM, wireVarint)
		b = appendUvarint(b, uint64(p.HeartRateBPM))
	}
	if p.SpO2Pct != 0 {
		b = appendTag(b, fieldSpO2Pct, wireVarint)
		b = appendUvarint(b, uint64(p.SpO2Pct))
	}
	if len(p.SeismicFeatures) > 0 {
		b = appendBytes(b, fieldSeismic, p.SeismicFeatures)
	}
	if p.DeviceHash != 0 {
		b = appendTag(b, fieldDeviceHash, wireFixed32)
		b = appendFixed32(b, p.DeviceHash)
	}
	if p.OriginMeshID != 0 {
		b = appendTag(b, fieldOriginMeshID, wireFixed32)
		b = appendFixed32(b, p.OriginMeshID)
	}
	return b
}

// Preimage returns the signing preimage: p re-encoded with the signature
// field cleared and the public key retained. It is derived from the decoded
// record rather than replayed from the received bytes, so non-canonical
// (but validly tagged) encodings from a future client would fail
// verification even though they decode successfully.
func (p *Packet) Preimage() []byte {
	cleared := *p
	cleared.Signature = nil
	return cleared.Encode()
}

// Valid checks the required-field invariants from the data model: non-zero
// user and timestamp. Key and signature lengths are not checked here; Verify
// rejects wrong lengths.
func (p *Packet) Valid() error {
	if p.UserID == 0 {
		return fmt.Errorf("user_id is zero")
	}
	if p.TimestampMS == 0 {
		return fmt.Errorf("timestamp_ms is zero")
	}
	return nil
}
