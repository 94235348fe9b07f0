// Package store provides crash-safe position persistence using JSON files.
//
// Each (strategy, exchange, symbol) position is stored as its own file named
// <strategy-id>.<exchange>.<symbol>.json. Writes use atomic file replacement
// (write to .tmp, then rename) to prevent corruption from partial writes or
// crashes mid-save. A strategy process calls Save after each fill, and
// LoadAll on startup to restore every position it owns by scanning the
// directory for files prefixed with its own strategy id.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/automatedalgo/apex-sub000/internal/apexclock"
)

// Record is the minimal recovery record persisted per instrument: the net
// quantity held at a point in time. Realized/unrealized P&L and the
// buy/sell cost breakdown are not persisted here; they are reconstructed
// from the fill history an audit trail records, keeping this file the small
// thing a strategy needs to not start every restart flat.
type Record struct {
	Exchange   string          `json:"exchange"`
	Symbol     string          `json:"symbol"`
	StrategyID string          `json:"strategyid"`
	Timestamp  apexclock.Time  `json:"ts"`
	Qty        decimal.Decimal `json:"qty"`
}

func (r Record) filename() string {
	return fmt.Sprintf("%s.%s.%s.json", r.StrategyID, r.Exchange, r.Symbol)
}

// Store persists position records to JSON files in a designated directory.
// All operations are mutex-protected to prevent concurrent file corruption.
type Store struct {
	dir string     // directory containing <strategy-id>.<exchange>.<symbol>.json files
	mu  sync.Mutex // serializes all file operations
}

// Open creates a store backed by the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

// Save atomically persists rec. It writes to a .tmp file first, then
// renames over the target so the file is never left in a partial state.
func (s *Store) Save(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal position record: %w", err)
	}

	path := filepath.Join(s.dir, rec.filename())
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write position record: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadAll restores every position record belonging to strategyID by
// scanning the store directory for files with the "<strategy-id>." prefix.
// Returns an empty slice, not an error, if none exist yet.
func (s *Store) LoadAll(strategyID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read store dir: %w", err)
	}

	prefix := strategyID + "."
	var records []Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read position record %s: %w", e.Name(), err)
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal position record %s: %w", e.Name(), err)
		}
		records = append(records, rec)
	}
	return records, nil
}
