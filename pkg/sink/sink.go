// Package sink defines the durable persistence interface for accepted
// packets (§4.G) and its two implementations: an ndjson file (file.go) and a
// sqlite3 database (see db/sinkdb).
package sink

import "encoding/hex"

// Record is one persisted packet, per §4.G's field list. hex-encoded byte
// fields match the durable log's documented schema exactly.
type Record struct {
	UserID      uint64 `json:"user_id" db:"user_id"`
	LatE7       int32  `json:"lat_e7" db:"lat_e7"`
	LonE7       int32  `json:"lon_e7" db:"lon_e7"`
	TimestampMS uint64 `json:"timestamp_ms" db:"timestamp_ms"`
	CreatedAtMS uint64 `json:"created_at_ms" db:"created_at_ms"`
	IsTrapped   bool   `json:"is_trapped" db:"is_trapped"`
	MsgType     uint8  `json:"msg_type" db:"msg_type"`
	AlertLevel  uint8  `json:"alert_level" db:"alert_level"`
	PubkeyHex   string `json:"pubkey" db:"pubkey_hex"`
	PacketIDHex string `json:"packet_id" db:"packet_id_hex"`
}

// HexBytes is a convenience for building a Record from raw key/id bytes.
func HexBytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return hex.EncodeToString(b)
}

// Sink is implemented by anything the persistence worker can flush a batch of
// records to. Append must be safe to call from a single goroutine at a time
// (the persistence worker never calls it concurrently with itself), but must
// not corrupt state if the process is killed mid-call.
type Sink interface {
	Append(records []Record) error
	Close() error
}
