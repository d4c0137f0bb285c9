package sink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

// FileSink appends records as one UTF-8 JSON object per line to a flat file,
// creating it if absent (§6's durable log). When the active segment exceeds
// rotateBytes, it is closed, renamed with a timestamp suffix, and
// gzip-compressed in the background while a fresh segment is opened; rotation
// never blocks a flush already in flight because compression happens after
// the lock is released.
type FileSink struct {
	mu          sync.Mutex
	path        string
	rotateBytes int64
	f           *os.File
	size        int64
}

// OpenFile opens (or creates) path for appending.
func OpenFile(path string, rotateBytes int64) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileSink{path: path, rotateBytes: rotateBytes, f: f, size: fi.Size()}, nil
}

// Append writes one JSON line per record, rotating the segment afterward if
// it has grown past the configured threshold.
func (s *FileSink) Append(records []Record) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.f.Write(buf.Bytes())
	s.size += int64(n)
	if err != nil {
		return fmt.Errorf("write segment: %w", err)
	}
	if s.rotateBytes > 0 && s.size >= s.rotateBytes {
		if err := s.rotateLocked(); err != nil {
			return fmt.Errorf("rotate segment: %w", err)
		}
	}
	return nil
}

func (s *FileSink) rotateLocked() error {
	if err := s.f.Close(); err != nil {
		return err
	}

	rotated := fmt.Sprintf("%s.%d", s.path, time.Now().UnixMilli())
	if err := os.Rename(s.path, rotated); err != nil {
		return err
	}
	go compressSegment(rotated)

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	s.f, s.size = f, 0
	return nil
}

// compressSegment gzips name in place and removes the uncompressed copy. Best
// effort: a failure here loses nothing but the disk-space saving, since the
// uncompressed segment is left behind if any step fails.
func compressSegment(name string) {
	in, err := os.Open(name)
	if err != nil {
		return
	}
	defer in.Close()

	out, err := os.Create(name + ".gz")
	if err != nil {
		return
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		return
	}
	if err := gw.Close(); err != nil {
		return
	}
	os.Remove(name)
}

// Close closes the active segment. Pending background compressions are not
// waited on; they operate on already-renamed files, independent of the
// handle being closed here.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

var _ Sink = (*FileSink)(nil)
