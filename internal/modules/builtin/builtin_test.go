package builtin

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tjfontaine/reqpipe/internal/modules/catalog"
)

func TestRegister_Idempotent(t *testing.T) {
	catalog.ClearFactories()
	t.Cleanup(catalog.ClearFactories)

	Register()
	Register()

	want := []string{"accesslog", "apikey", "requestid", "requestlog", "webhook"}
	if diff := cmp.Diff(want, catalog.ListModuleTypes()); diff != "" {
		t.Errorf("ListModuleTypes() mismatch (-want +got):\n%s", diff)
	}
}
