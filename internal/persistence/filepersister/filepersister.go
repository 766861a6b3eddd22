// Package filepersister implements persistence.Persister backed by one JSON
// file on disk: the whole table is read, mutated, and rewritten under a
// mutex on every call. Grounded on the teacher's internal/config file-watch
// load/save idiom (internal/config/config.go), generalized from a
// single-struct config file to a keyed table of PersistedQuery entries. The
// read path reuses a pooled buffer (internal/pool.BufferPool) instead of
// letting a plain read allocate fresh on every Save/Load/Remove re-read.
package filepersister

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/peervault-labs/fluquery/internal/persistence"
	"github.com/peervault-labs/fluquery/internal/pool"
	"github.com/peervault-labs/fluquery/internal/querykey"
)

// Persister persists to a single JSON file at Path.
type Persister struct {
	mu   sync.Mutex
	path string
}

// New creates a Persister writing to path. The file is created on first
// Save if it does not already exist.
func New(path string) *Persister {
	return &Persister{path: path}
}

func (p *Persister) readAllLocked() (map[querykey.Hash]persistence.PersistedQuery, error) {
	f, err := os.Open(p.path)
	if os.IsNotExist(err) {
		return map[querykey.Hash]persistence.PersistedQuery{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := int(info.Size())
	if size == 0 {
		return map[querykey.Hash]persistence.PersistedQuery{}, nil
	}

	buf := pool.GetBuffer(size)
	if cap(buf) < size {
		buf = make([]byte, size)
	}
	buf = buf[:size]
	defer pool.PutBuffer(buf)

	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, err
	}

	var table map[querykey.Hash]persistence.PersistedQuery
	if err := json.Unmarshal(buf, &table); err != nil {
		return nil, err
	}
	return table, nil
}

func (p *Persister) writeAllLocked(table map[querykey.Hash]persistence.PersistedQuery) error {
	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p.path, data, 0o644)
}

func (p *Persister) Save(hash querykey.Hash, entry persistence.PersistedQuery) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	table, err := p.readAllLocked()
	if err != nil {
		return err
	}
	table[hash] = entry
	return p.writeAllLocked(table)
}

func (p *Persister) Load(hash querykey.Hash) (persistence.PersistedQuery, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	table, err := p.readAllLocked()
	if err != nil {
		return persistence.PersistedQuery{}, err
	}
	entry, ok := table[hash]
	if !ok {
		return persistence.PersistedQuery{}, persistence.ErrNotFound
	}
	return entry, nil
}

func (p *Persister) Remove(hash querykey.Hash) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	table, err := p.readAllLocked()
	if err != nil {
		return err
	}
	delete(table, hash)
	return p.writeAllLocked(table)
}

func (p *Persister) All() (map[querykey.Hash]persistence.PersistedQuery, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readAllLocked()
}
