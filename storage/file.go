package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/eddielth/serial-bridge/logger"
)

// FileStorage appends records as JSON lines, one file per direction per day.
type FileStorage struct {
	basePath string
	mu       sync.Mutex
	log      *logger.Component
}

// NewFileStorage
func NewFileStorage(basePath string) (*FileStorage, error) {
	if basePath == "" {
		basePath = "./data"
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create dir %s failed: %w", basePath, err)
	}

	log := logger.Named("storage")
	log.Info("init file storage: %s", basePath)
	return &FileStorage{
		basePath: basePath,
		log:      log,
	}, nil
}

// PathFor returns the file rec is appended to.
func (fs *FileStorage) PathFor(rec Record) string {
	day := rec.Timestamp.Format("2006-01-02")
	return filepath.Join(fs.basePath, string(rec.Direction), day+".jsonl")
}

// Store appends rec to its day file.
func (fs *FileStorage) Store(rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("serialize record failed: %w", err)
	}
	line = append(line, '\n')

	filename := fs.PathFor(rec)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("create dir %s failed: %w", filepath.Dir(filename), err)
	}

	f, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open file %s failed: %w", filename, err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write file %s failed: %w", filename, err)
	}

	fs.log.Debug("archived %s to %s", rec.ID, filename)
	return nil
}

// Close implement StorageBackend
func (fs *FileStorage) Close() error {
	return nil
}
