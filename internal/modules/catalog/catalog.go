// Package catalog holds the process-wide table of module types that can be
// named in configuration.
//
// # Adding a New Module
//
// Implement pipeline.Module and expose an explicit registration function
// that calls RegisterFactory. Wire that function from builtin.Register (or
// tests) so registration is explicit instead of relying on init() side
// effects.
//
// Example in a module package:
//
//	func Register() {
//	    if catalog.IsRegistered(ModuleType) {
//	        return
//	    }
//	    catalog.RegisterFactory(catalog.Factory{
//	        Type:        ModuleType,
//	        Description: "Rewrites request paths",
//	        Build:       build,
//	    })
//	}
package catalog

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/tjfontaine/reqpipe/internal/core/ports"
	"github.com/tjfontaine/reqpipe/internal/pipeline"
	"github.com/tjfontaine/reqpipe/internal/pkg/config"
	"github.com/tjfontaine/reqpipe/internal/registry"
)

// Params is what a factory may draw on when building a module.
type Params struct {
	// Config is the module's entry from the modules list.
	Config config.ModuleConfig

	Logger *slog.Logger

	// Store is nil when request log storage is disabled.
	Store ports.RequestLogStore

	// HTTPClient is used for outbound calls. Nil means a default client.
	HTTPClient *http.Client
}

// Factory describes one module type.
type Factory struct {
	// Type is the module type identifier used in configuration
	// (e.g., "accesslog", "webhook")
	Type string

	// Description provides a human-readable description of the module
	Description string

	// Build validates params and returns a constructor. The constructor is
	// called once per application instance.
	Build func(p Params) (func() pipeline.Module, error)
}

// Factory registry: global registration of module factories
var (
	factoryMu   sync.RWMutex
	factoryMap  = make(map[string]Factory)
	factoryList []Factory
)

// RegisterFactory registers a module factory for a specific type.
// Panics if a factory with the same type is already registered.
func RegisterFactory(f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if f.Type == "" {
		panic("module factory type cannot be empty")
	}
	if f.Build == nil {
		panic(fmt.Sprintf("module factory %q must have a Build function", f.Type))
	}

	if _, exists := factoryMap[f.Type]; exists {
		panic(fmt.Sprintf("module factory %q already registered", f.Type))
	}

	factoryMap[f.Type] = f
	factoryList = append(factoryList, f)
}

// GetFactory returns the factory for a module type, if registered.
func GetFactory(moduleType string) (Factory, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	f, ok := factoryMap[moduleType]
	return f, ok
}

// ListFactories returns all registered module factories sorted by type.
func ListFactories() []Factory {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	result := make([]Factory, len(factoryList))
	copy(result, factoryList)
	sort.Slice(result, func(i, j int) bool {
		return result[i].Type < result[j].Type
	})
	return result
}

// ListModuleTypes returns all registered module type names.
func ListModuleTypes() []string {
	factories := ListFactories()
	types := make([]string, len(factories))
	for i, f := range factories {
		types[i] = f.Type
	}
	return types
}

// IsRegistered returns true if a module type is registered.
func IsRegistered(moduleType string) bool {
	_, ok := GetFactory(moduleType)
	return ok
}

// RegisterModules builds every configured module and registers it with reg
// in configuration order.
func RegisterModules(reg *registry.Registry[pipeline.Module], configs []config.ModuleConfig, base Params) ([]registry.Entry[pipeline.Module], error) {
	entries := make([]registry.Entry[pipeline.Module], 0, len(configs))
	for i, mc := range configs {
		f, ok := GetFactory(mc.Type)
		if !ok {
			return nil, fmt.Errorf("modules[%d]: unknown module type: %s (registered types: %v)", i, mc.Type, ListModuleTypes())
		}

		p := base
		p.Config = mc
		newModule, err := f.Build(p)
		if err != nil {
			return nil, fmt.Errorf("modules[%d] %s: %w", i, mc.Type, err)
		}

		entry, err := reg.Register(registry.Descriptor[pipeline.Module]{Type: mc.Type, New: newModule})
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ClearFactories removes all registered factories (for testing only).
func ClearFactories() {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	factoryMap = make(map[string]Factory)
	factoryList = nil
}
