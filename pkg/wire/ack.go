package wire

import "math"

// Status is the outcome reported in an Ack.
type Status uint8

const (
	StatusAccepted        Status = 0
	StatusAlreadyAccepted Status = 1
)

func (s Status) String() string {
	if s == StatusAlreadyAccepted {
		return "already_accepted"
	}
	return "accepted"
}

const (
	ackFieldUserID     = 1
	ackFieldTimestampMS = 2
	ackFieldReceived    = 3
	ackFieldRescueETA   = 4
	ackFieldConfidence  = 5
	ackFieldIngestID    = 6
	ackFieldStatus      = 7
)

// Ack is the server's response to an accepted or deduplicated packet.
type Ack struct {
	UserID      uint64
	TimestampMS uint64
	Received    bool
	RescueETA   string // always empty; reserved, see spec Non-goals
	Confidence  float32
	IngestID    string
	Status      Status
}

// Encode serialises the acknowledgement using the same tag-typed scheme as
// Packet.
func (a *Ack) Encode() []byte {
	b := make([]byte, 0, 64+len(a.IngestID))
	b = appendTag(b, ackFieldUserID, wireFixed64)
	b = appendFixed64(b, a.UserID)
	b = appendTag(b, ackFieldTimestampMS, wireFixed64)
	b = appendFixed64(b, a.TimestampMS)
	if a.Received {
		b = appendTag(b, ackFieldReceived, wireVarint)
		b = appendUvarint(b, 1)
	}
	if a.RescueETA != "" {
		b = appendBytes(b, ackFieldRescueETA, []byte(a.RescueETA))
	}
	b = appendTag(b, ackFieldConfidence, wireFixed32)
	b = appendFixed32(b, math.Float32bits(a.Confidence))
	if a.IngestID != "" {
		b = appendBytes(b, ackFieldIngestID, []byte(a.IngestID))
	}
	b = appendTag(b, ackFieldStatus, wireVarint)
	b = appendUvarint(b, uint64(a.Status))
	return b
}

// DecodeAck parses an Ack previously produced by Encode. Provided mainly for
// tests and conformance probes; the ingestion server itself never decodes
// its own acks.
func DecodeAck(b []byte) (*Ack, error) {
	d := decoder{b: b}
	var a Ack
	for !d.done() {
		field, wt, err := d.tag()
		if err != nil {
			return nil, malformed("read ack tag: %w", err)
		}
		switch field {
		case ackFieldUserID:
			v, err := d.fixed64()
			if err != nil {
				return nil, malformed("ack field %d: %w", field, err)
			}
			a.UserID = v
		case ackFieldTimestampMS:
			v, err := d.fixed64()
			if err != nil {
				return nil, malformed("ack field %d: %w", field, err)
			}
			a.TimestampMS = v
		case ackFieldReceived:
			v, err := d.uvarint()
			if err != nil {
				return nil, malformed("ack field %d: %w", field, err)
			}
			a.Received = v != 0
		case ackFieldRescueETA:
			v, err := d.bytes()
			if err != nil {
				return nil, malformed("ack field %d: %w", field, err)
			}
			a.RescueETA = string(v)
		case ackFieldConfidence:
			v, err := d.fixed32()
			if err != nil {
				return nil, malformed("ack field %d: %w", field, err)
			}
			a.Confidence = math.Float32frombits(v)
		case ackFieldIngestID:
			v, err := d.bytes()
			if err != nil {
				return nil, malformed("ack field %d: %w", field, err)
			}
			a.IngestID = string(v)
		case ackFieldStatus:
			v, err := d.uvarint()
			if err != nil {
				return nil, malformed("ack field %d: %w", field, err)
			}
			a.Status = Status(v)
		default:
			if err := d.skip(wt); err != nil {
				return nil, malformed("skip unknown ack field %d: %w", field, err)
			}
		}
	}
	return &a, nil
}
