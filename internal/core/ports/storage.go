package ports

import (
	"context"

	"github.com/tjfontaine/reqpipe/internal/core/domain"
)

// RequestLogStore persists request summaries written during LogRequest.
// Implementations: SQLite (sqldb), in-memory.
type RequestLogStore interface {
	// SaveRequestLog stores one entry. IDs are unique.
	SaveRequestLog(ctx context.Context, entry *domain.RequestLog) error

	// GetRequestLog retrieves an entry by request ID.
	GetRequestLog(ctx context.Context, id string) (*domain.RequestLog, error)

	// ListRequestLogs returns entries newest first.
	ListRequestLogs(ctx context.Context, opts ListOptions) ([]*domain.RequestLog, error)

	// Close closes the storage connection
	Close() error
}

// ListOptions controls pagination.
type ListOptions struct {
	Limit  int
	Offset int

	// FailedOnly restricts the listing to requests that recorded a failure.
	FailedOnly bool
}
