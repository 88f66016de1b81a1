package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// NDJSONSink appends one JSON object per line to a file. It is the default
// sink: greppable, tail-able, and trivially durable.
type NDJSONSink struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *bufio.Writer
}

// NewNDJSONSink opens (or creates) the log file for appending.
func NewNDJSONSink(path string) (*NDJSONSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &NDJSONSink{path: path, file: f, w: bufio.NewWriter(f)}, nil
}

// Append writes one record line and flushes it. The bufio layer batches the
// marshal output into a single write syscall per record.
func (s *NDJSONSink) Append(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	return s.w.Flush()
}

// Tail scans the file and returns up to n matching records, newest first.
// Lines that fail to parse are skipped; a partially written trailing line
// must not break monitoring.
func (s *NDJSONSink) Tail(n int, filter func(Record) bool) ([]Record, error) {
	s.mu.Lock()
	s.w.Flush()
	s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var all []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if filter == nil || filter(rec) {
			all = append(all, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(all) > n {
		all = all[len(all)-n:]
	}
	// Newest first.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}

// Close flushes and closes the file.
func (s *NDJSONSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.file.Close()
}
