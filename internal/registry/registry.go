// Package registry collects pipeline extensions contributed at startup and
// freezes them into an immutable, ordered list once the first pipeline is
// built.
//
// Extensions are registered through a Descriptor rather than discovered:
//
//	reg := registry.New[pipeline.Module]()
//	entry, err := reg.Register(registry.Descriptor[pipeline.Module]{
//	    Type: "accesslog",
//	    New:  func() pipeline.Module { return accesslog.New(logger) },
//	})
//	entries := reg.FreezeAndGet()
package registry

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tjfontaine/reqpipe/internal/core/domain"
)

// namePrefix marks generated extension names.
const namePrefix = "__DynamicModule_"

// Descriptor describes how to construct one extension.
type Descriptor[T any] struct {
	// Type identifies the extension kind. It need not be unique.
	Type string

	// New builds a fresh extension instance. It is called once per
	// pipeline instance.
	New func() T
}

// Entry is an immutable registration record.
type Entry[T any] struct {
	// Name is unique for the life of the process, even when the same Type
	// is registered more than once.
	Name       string
	Descriptor Descriptor[T]
}

// Type returns the descriptor's type identifier.
func (e Entry[T]) Type() string { return e.Descriptor.Type }

// Registry is append-only until frozen.
type Registry[T any] struct {
	mu      sync.Mutex
	entries []Entry[T]
	frozen  bool
}

// New creates an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{}
}

// Register appends d and returns the entry created for it.
func (r *Registry[T]) Register(d Descriptor[T]) (Entry[T], error) {
	if d.Type == "" {
		return Entry[T]{}, fmt.Errorf("%w: extension type cannot be empty", domain.ErrInvalidArgument)
	}
	if d.New == nil {
		return Entry[T]{}, fmt.Errorf("%w: extension %q has no constructor", domain.ErrInvalidArgument, d.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return Entry[T]{}, fmt.Errorf("register %q: %w", d.Type, domain.ErrRegistryFrozen)
	}

	e := Entry[T]{
		Name:       namePrefix + d.Type + "_" + uuid.NewString(),
		Descriptor: d,
	}
	r.entries = append(r.entries, e)
	return e, nil
}

// FreezeAndGet freezes the registry and returns its entries in
// registration order. Every call returns the same list, which callers must
// not modify.
func (r *Registry[T]) FreezeAndGet() []Entry[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.frozen {
		r.frozen = true
		// Clip so that an append by a caller can never write into our array.
		r.entries = r.entries[:len(r.entries):len(r.entries)]
	}
	return r.entries
}

// Frozen reports whether FreezeAndGet has been called.
func (r *Registry[T]) Frozen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frozen
}

// Len returns the number of registered entries.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
