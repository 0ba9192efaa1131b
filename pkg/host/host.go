// Package host provides the public API for embedding the request pipeline.
// This is the stable API for external consumers.
package host

import (
	"github.com/tjfontaine/reqpipe/internal/core/domain"
	"github.com/tjfontaine/reqpipe/internal/pipeline"
	"github.com/tjfontaine/reqpipe/internal/registry"
	"github.com/tjfontaine/reqpipe/internal/runtime"
)

// Host is the main entry point for running the pipeline.
// See internal/runtime.Host for full documentation.
type Host = runtime.Host

// Option is a functional option for configuring a Host.
type Option = runtime.Option

// Pipeline types needed to write handlers and modules.
type (
	Request        = pipeline.Request
	Response       = pipeline.Response
	Result         = pipeline.Result
	Events         = pipeline.Events
	Module         = pipeline.Module
	Handler        = pipeline.Handler
	HandlerFunc    = pipeline.HandlerFunc
	Stage          = domain.Stage
	StageSet       = domain.StageSet
	ShutdownReason = domain.ShutdownReason
	DeniedError    = domain.DeniedError

	// ModuleDescriptor registers a module type beyond the configured ones.
	ModuleDescriptor = registry.Descriptor[pipeline.Module]
)

// New creates a new Host with the given options.
// Example:
//
//	h, err := host.New(
//	    host.WithFileConfig("config.yaml"),
//	    host.WithHandler(myHandler),
//	)
var New = runtime.New

// NewRequest creates a request for Host.Serve.
var NewRequest = pipeline.NewRequest

// Stages builds a StageSet for Events subscriptions.
var Stages = domain.Stages

// ParseStage resolves a stage by name, ignoring case.
var ParseStage = domain.ParseStage

// Configuration options
var (
	// Config sources
	WithConfig         = runtime.WithConfig
	WithFileConfig     = runtime.WithFileConfig
	WithConfigProvider = runtime.WithConfigProvider

	// Request handling
	WithHandler = runtime.WithHandler
	WithModules = runtime.WithModules

	// Advanced options
	WithLogger          = runtime.WithLogger
	WithClock           = runtime.WithClock
	WithShutdownFunc    = runtime.WithShutdownFunc
	WithRequestLogStore = runtime.WithRequestLogStore
	WithHTTPClient      = runtime.WithHTTPClient
	WithoutServer       = runtime.WithoutServer
	WithMaxFreeApps     = runtime.WithMaxFreeApps
)
