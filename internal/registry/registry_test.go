package registry

import (
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"pgregory.net/rapid"

	"github.com/tjfontaine/reqpipe/internal/core/domain"
)

type fakeExtension struct{ kind string }

func descriptor(kind string) Descriptor[*fakeExtension] {
	return Descriptor[*fakeExtension]{
		Type: kind,
		New:  func() *fakeExtension { return &fakeExtension{kind: kind} },
	}
}

func TestRegister_RejectsInvalidDescriptors(t *testing.T) {
	r := New[*fakeExtension]()

	if _, err := r.Register(Descriptor[*fakeExtension]{New: descriptor("x").New}); !domain.IsInvalidArgument(err) {
		t.Errorf("empty type error = %v, want invalid argument", err)
	}
	if _, err := r.Register(Descriptor[*fakeExtension]{Type: "x"}); !domain.IsInvalidArgument(err) {
		t.Errorf("nil constructor error = %v, want invalid argument", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegister_AfterFreezeFails(t *testing.T) {
	r := New[*fakeExtension]()
	if _, err := r.Register(descriptor("a")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	r.FreezeAndGet()

	_, err := r.Register(descriptor("b"))
	if !domain.IsInvalidState(err) {
		t.Errorf("Register() after freeze error = %v, want invalid state", err)
	}
	if !r.Frozen() {
		t.Error("Frozen() = false")
	}
}

func TestRegister_DuplicateTypesGetDistinctNames(t *testing.T) {
	r := New[*fakeExtension]()
	first, err := r.Register(descriptor("auth"))
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	second, err := r.Register(descriptor("auth"))
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if first.Name == second.Name {
		t.Fatalf("duplicate name %q", first.Name)
	}
	if !strings.HasPrefix(first.Name, "__DynamicModule_auth_") {
		t.Errorf("Name = %q", first.Name)
	}

	entries := r.FreezeAndGet()
	if len(entries) != 2 || entries[0].Name != first.Name || entries[1].Name != second.Name {
		t.Errorf("frozen list = %+v", entries)
	}
	if entries[0].Type() != "auth" {
		t.Errorf("Type() = %q", entries[0].Type())
	}
}

func TestFreezeAndGet_Idempotent(t *testing.T) {
	r := New[*fakeExtension]()
	r.Register(descriptor("a"))

	a := r.FreezeAndGet()
	b := r.FreezeAndGet()
	if len(a) != 1 || &a[0] != &b[0] {
		t.Error("FreezeAndGet should return the same list every time")
	}

	// Appending to the returned list must not leak into the registry.
	_ = append(a, Entry[*fakeExtension]{Name: "rogue"})
	if got := r.FreezeAndGet(); len(got) != 1 {
		t.Errorf("registry changed after caller append: %d entries", len(got))
	}
}

func TestRegister_Concurrent(t *testing.T) {
	r := New[*fakeExtension]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Register(descriptor("c")); err != nil {
				t.Errorf("Register() error = %v", err)
			}
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, e := range r.FreezeAndGet() {
		if seen[e.Name] {
			t.Errorf("duplicate name %q", e.Name)
		}
		seen[e.Name] = true
	}
	if len(seen) != 50 {
		t.Errorf("got %d entries, want 50", len(seen))
	}
}

func TestRegistry_FrozenOrderMatchesRegistration(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		types := rapid.SliceOf(rapid.SampledFrom([]string{"a", "b", "c", "d"})).Draw(t, "types")
		r := New[*fakeExtension]()

		var names []string
		for _, typ := range types {
			e, err := r.Register(descriptor(typ))
			if err != nil {
				t.Fatalf("Register(%q) error = %v", typ, err)
			}
			names = append(names, e.Name)
		}

		var got, gotTypes []string
		for _, e := range r.FreezeAndGet() {
			got = append(got, e.Name)
			gotTypes = append(gotTypes, e.Type())
		}
		if diff := cmp.Diff(names, got, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("frozen order mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(types, gotTypes, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("frozen types mismatch (-want +got):\n%s", diff)
		}

		if _, err := r.Register(descriptor("late")); !domain.IsInvalidState(err) {
			t.Fatalf("late Register() error = %v", err)
		}
	})
}
