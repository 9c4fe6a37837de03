package conflict

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// History is the append-only log of resolution attempts, one JSON object
// per line. Records are never rewritten.
type History struct {
	path string
	mu   sync.Mutex
}

// NewHistory creates (or reopens) a history log at path.
func NewHistory(path string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return &History{path: path}, nil
}

// Append writes one resolution record to the log.
func (h *History) Append(res *Resolution) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal resolution: %w", err)
	}

	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open history log: %w", err)
	}
	defer f.Close() //nolint:errcheck // Best-effort close after append

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append resolution: %w", err)
	}
	return nil
}

// Read returns every recorded resolution in append order. A missing log
// reads as empty.
func (h *History) Read() ([]*Resolution, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history log: %w", err)
	}

	var records []*Resolution
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			if i > start {
				var res Resolution
				if err := json.Unmarshal(data[start:i], &res); err != nil {
					return nil, fmt.Errorf("failed to parse history record: %w", err)
				}
				records = append(records, &res)
			}
			start = i + 1
		}
	}
	return records, nil
}
