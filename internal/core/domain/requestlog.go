package domain

import "time"

// RequestLog is the persisted summary of one completed request.
type RequestLog struct {
	ID          string        `json:"id" db:"id"`
	Method      string        `json:"method" db:"method"`
	Path        string        `json:"path" db:"path"`
	Status      int           `json:"status" db:"status"`
	BytesSent   int64         `json:"bytes_sent" db:"bytes_sent"`
	Duration    time.Duration `json:"duration_ns" db:"duration_ns"`
	FailedStage string        `json:"failed_stage,omitempty" db:"failed_stage"`
	Error       string        `json:"error,omitempty" db:"error"`
	Sends       int           `json:"sends" db:"sends"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
}
