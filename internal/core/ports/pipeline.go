// Package ports defines the core interfaces shared by the host, its
// adapters and the built-in modules.
// This file contains the contract between a pipeline stage and an external
// webhook.
package ports

import (
	"context"
	"net/http"
)

// StageAction is the result action from an external stage.
type StageAction string

const (
	// ActionAllow permits the request to continue.
	ActionAllow StageAction = "allow"
	// ActionDeny blocks the request.
	ActionDeny StageAction = "deny"
	// ActionMutate allows with header mutations applied.
	ActionMutate StageAction = "mutate"
)

// RequestView is the part of a request visible to an external stage.
type RequestView struct {
	ID     string      `json:"id"`
	Method string      `json:"method"`
	Path   string      `json:"path"`
	Header http.Header `json:"header,omitempty"`
}

// ResponseView is the buffered response state visible to an external
// stage.
type ResponseView struct {
	Status         int         `json:"status"`
	Header         http.Header `json:"header,omitempty"`
	HeadersWritten bool        `json:"headers_written"`
}

// StageInput is the data sent to an external stage.
type StageInput struct {
	// Stage is the stage name, prefixed with "Post" for the post phase.
	Stage    string        `json:"stage"`
	Request  RequestView   `json:"request"`
	Response *ResponseView `json:"response,omitempty"`
}

// StageOutput is returned from an external stage.
type StageOutput struct {
	// Action indicates what should happen: allow, deny, or mutate.
	Action StageAction `json:"action"`
	// RequestHeaders are set on the request when Action is mutate.
	RequestHeaders map[string]string `json:"request_headers,omitempty"`
	// ResponseHeaders are set on the response when Action is mutate.
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	// Status overrides the response status when denying. Zero means 403.
	Status int `json:"status,omitempty"`
	// DenyReason explains why the request was denied.
	DenyReason string `json:"deny_reason,omitempty"`
}

// StageClient evaluates a stage input remotely.
type StageClient interface {
	Process(ctx context.Context, in *StageInput) (*StageOutput, error)
}
