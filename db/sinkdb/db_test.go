package sinkdb

import (
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sinyalist/ingestd/pkg/sink"
)

func TestAppendAndMigrate(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "sink.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	cur, required, err := db.Version()
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if cur != required {
		t.Fatalf("expected Open to migrate to the latest version, got %d want %d", cur, required)
	}

	if err := db.Append([]sink.Record{
		{UserID: 42, LatE7: 410000000, LonE7: 290000000, TimestampMS: 1700000000000, PubkeyHex: "ab", PacketIDHex: "0102"},
		{UserID: 43, LatE7: 1, LonE7: 2, TimestampMS: 1700000000001},
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	var count int
	if err := db.x.Get(&count, `SELECT count(*) FROM packets`); err != nil {
		t.Fatalf("count packets: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows, got %d", count)
	}
}

var _ sink.Sink = (*DB)(nil)
