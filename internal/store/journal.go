// File path: internal/store/journal.go
package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Journal is the append-only JSONL log kept next to the database for crash
// recovery and portability. One line per accepted record.
type Journal struct {
	path string
	mu   sync.Mutex
}

// JournalRecord is one journal line.
type JournalRecord struct {
	Kind       string          `json:"kind"`
	RecordedAt int64           `json:"recorded_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NewJournal opens (creating if needed) a journal at path.
func NewJournal(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return &Journal{path: path}, nil
}

// Append writes one record to the journal.
func (j *Journal) Append(ctx context.Context, kind string, record interface{}) error {
	if j == nil {
		return errors.New("journal not initialised")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode journal payload: %w", err)
	}
	line := JournalRecord{Kind: kind, RecordedAt: time.Now().UTC().UnixMilli(), Payload: payload}
	j.mu.Lock()
	defer j.mu.Unlock()
	file, err := os.OpenFile(j.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	if err := enc.Encode(line); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

// ReadAll replays every journal line through fn in append order.
func (j *Journal) ReadAll(ctx context.Context, fn func(JournalRecord) error) error {
	if j == nil {
		return errors.New("journal not initialised")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	file, err := os.Open(j.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64<<10), 8<<20)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record JournalRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return fmt.Errorf("decode journal line: %w", err)
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan journal: %w", err)
	}
	return nil
}

// Path reports the journal file location.
func (j *Journal) Path() string {
	if j == nil {
		return ""
	}
	return j.path
}
