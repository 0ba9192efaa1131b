package storage

import (
	"path/filepath"
	"testing"

	"github.com/tjfontaine/reqpipe/internal/core/domain"
	"github.com/tjfontaine/reqpipe/internal/pkg/config"
	"github.com/tjfontaine/reqpipe/internal/storage/memory"
	"github.com/tjfontaine/reqpipe/internal/storage/sqldb"
)

func TestNew(t *testing.T) {
	s, err := New(config.StorageConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("New(memory) error = %v", err)
	}
	if _, ok := s.(*memory.Store); !ok {
		t.Errorf("New(memory) = %T", s)
	}

	path := filepath.Join(t.TempDir(), "logs.db")
	s, err = New(config.StorageConfig{Type: "sqlite", SQLite: config.SQLiteConfig{Path: path}})
	if err != nil {
		t.Fatalf("New(sqlite) error = %v", err)
	}
	if _, ok := s.(*sqldb.Store); !ok {
		t.Errorf("New(sqlite) = %T", s)
	}
	s.Close()

	if s, err := New(config.StorageConfig{Type: "none"}); err != nil || s != nil {
		t.Errorf("New(none) = %v, %v", s, err)
	}
	if _, err := New(config.StorageConfig{Type: "redis"}); !domain.IsInvalidArgument(err) {
		t.Errorf("New(redis) error = %v", err)
	}
}
