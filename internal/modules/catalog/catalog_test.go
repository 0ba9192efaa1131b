package catalog

import (
	"errors"
	"strings"
	"testing"

	"github.com/tjfontaine/reqpipe/internal/pipeline"
	"github.com/tjfontaine/reqpipe/internal/pkg/config"
	"github.com/tjfontaine/reqpipe/internal/registry"
)

type nopModule struct{}

func (nopModule) Init(*pipeline.Events) error { return nil }
func (nopModule) Dispose()                    {}

func nopFactory(typ string) Factory {
	return Factory{
		Type: typ,
		Build: func(Params) (func() pipeline.Module, error) {
			return func() pipeline.Module { return nopModule{} }, nil
		},
	}
}

func TestRegisterFactory(t *testing.T) {
	ClearFactories()
	t.Cleanup(ClearFactories)

	RegisterFactory(nopFactory("zeta"))
	RegisterFactory(nopFactory("alpha"))

	if !IsRegistered("zeta") {
		t.Error("IsRegistered(zeta) = false")
	}
	if got := ListModuleTypes(); len(got) != 2 || got[0] != "alpha" || got[1] != "zeta" {
		t.Errorf("ListModuleTypes() = %v", got)
	}
}

func TestRegisterFactory_Panics(t *testing.T) {
	ClearFactories()
	t.Cleanup(ClearFactories)

	tests := []struct {
		name string
		f    Factory
	}{
		{"empty type", Factory{Build: nopFactory("x").Build}},
		{"nil build", Factory{Type: "x"}},
		{"duplicate", nopFactory("dup")},
	}
	RegisterFactory(nopFactory("dup"))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("RegisterFactory() did not panic")
				}
			}()
			RegisterFactory(tt.f)
		})
	}
}

func TestRegisterModules(t *testing.T) {
	ClearFactories()
	t.Cleanup(ClearFactories)

	RegisterFactory(nopFactory("a"))
	RegisterFactory(Factory{
		Type: "broken",
		Build: func(Params) (func() pipeline.Module, error) {
			return nil, errors.New("bad config")
		},
	})

	reg := registry.New[pipeline.Module]()
	entries, err := RegisterModules(reg, []config.ModuleConfig{{Type: "a"}, {Type: "a"}}, Params{})
	if err != nil {
		t.Fatalf("RegisterModules() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Name == entries[1].Name {
		t.Errorf("RegisterModules() entries = %+v", entries)
	}
	if reg.Len() != 2 {
		t.Errorf("registry Len() = %d, want 2", reg.Len())
	}

	_, err = RegisterModules(reg, []config.ModuleConfig{{Type: "missing"}}, Params{})
	if err == nil || !strings.Contains(err.Error(), "unknown module type") {
		t.Errorf("RegisterModules(missing) error = %v", err)
	}

	_, err = RegisterModules(reg, []config.ModuleConfig{{Type: "broken"}}, Params{})
	if err == nil || !strings.Contains(err.Error(), "bad config") {
		t.Errorf("RegisterModules(broken) error = %v", err)
	}
}
