package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-records/internal/logging"
	"github.com/celerix-dev/celerix-records/internal/vault"
)

// DataFile is the name of the store's file inside the data directory.
const DataFile = "records.json"

// Persistence handles the disk I/O for the MemStore.
type Persistence struct {
	DataDir string
	mu      sync.Mutex // Protects concurrent writes to the filesystem
	saved   uint64     // version of the last dataset written
	key     []byte     // encrypts the file at rest when set
}

// NewPersistence initializes a persistence handler.
func NewPersistence(dir string) (*Persistence, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Persistence{DataDir: dir}, nil
}

// SetKey enables at-rest encryption with a 32-byte AES key.
func (p *Persistence) SetKey(key []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.key = key
}

// Path returns the location of the data file.
func (p *Persistence) Path() string {
	return filepath.Join(p.DataDir, DataFile)
}

// Save writes ds atomically: a temporary file is written and renamed over
// the data file. A dataset older than the last one written is skipped, so
// out-of-order background saves never roll the file back.
func (p *Persistence) Save(ds *Dataset) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ds.Version != 0 && ds.Version <= p.saved {
		return nil
	}

	filePath := p.Path()
	tempPath := filePath + ".tmp"

	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return err
	}
	if p.key != nil {
		if data, err = vault.Seal(data, p.key); err != nil {
			return fmt.Errorf("encrypt data file: %w", err)
		}
	}
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		return err
	}
	p.saved = ds.Version
	return nil
}

// Load returns the persisted dataset, or nil if nothing has been saved yet.
func (p *Persistence) Load() (*Dataset, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	content, err := os.ReadFile(p.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if p.key != nil {
		if content, err = vault.Open(content, p.key); err != nil {
			return nil, fmt.Errorf("decrypt %s: %w", p.Path(), err)
		}
	}
	ds, err := parseDataset(content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", p.Path(), err)
	}
	p.saved = ds.Version
	logging.Info("loaded data file",
		zap.String("path", p.Path()),
		zap.Int("records", len(ds.Records)),
		zap.Int("batches", len(ds.Batches)))
	return ds, nil
}

// ReadDataset parses a dataset file. It accepts the store's own format and a
// bare JSON array of records, as produced by the export endpoint.
func ReadDataset(path string) (*Dataset, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ds, err := parseDataset(content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return ds, nil
}

func parseDataset(content []byte) (*Dataset, error) {
	var ds Dataset
	if err := json.Unmarshal(content, &ds); err == nil {
		return &ds, nil
	}
	if err := json.Unmarshal(content, &ds.Records); err != nil {
		return nil, err
	}
	return &ds, nil
}
