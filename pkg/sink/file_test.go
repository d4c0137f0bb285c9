package sink

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestFileSinkAppend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "packets.ndjson")

	s, err := OpenFile(path, 0)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer s.Close()

	if err := s.Append([]Record{
		{UserID: 42, LatE7: 410000000, LonE7: 290000000, PubkeyHex: "ab"},
		{UserID: 43, LatE7: 1, LonE7: 2},
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open written file: %v", err)
	}
	defer f.Close()

	var lines []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		lines = append(lines, r)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].UserID != 42 || lines[0].PubkeyHex != "ab" {
		t.Fatalf("unexpected first record: %+v", lines[0])
	}
}

func TestFileSinkRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "packets.ndjson")

	s, err := OpenFile(path, 1) // rotate after any write
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer s.Close()

	if err := s.Append([]Record{{UserID: 1}}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat active segment: %v", err)
	}
	if fi.Size() != 0 {
		t.Fatalf("expected rotation to leave a fresh empty segment, got size %d", fi.Size())
	}
}
