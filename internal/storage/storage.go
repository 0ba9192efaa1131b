// Package storage opens the request log store selected by configuration.
package storage

import (
	"fmt"

	"github.com/tjfontaine/reqpipe/internal/core/domain"
	"github.com/tjfontaine/reqpipe/internal/core/ports"
	"github.com/tjfontaine/reqpipe/internal/pkg/config"
	"github.com/tjfontaine/reqpipe/internal/storage/memory"
	"github.com/tjfontaine/reqpipe/internal/storage/sqldb"
)

// RequestLogStore is re-exported for callers that only need the factory.
type RequestLogStore = ports.RequestLogStore

// New opens the store named by cfg.Type. Type "none" returns a nil store.
func New(cfg config.StorageConfig) (RequestLogStore, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.New(0), nil
	case "sqlite":
		store, err := sqldb.NewSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown storage type %q", domain.ErrInvalidArgument, cfg.Type)
	}
}
