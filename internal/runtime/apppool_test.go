package runtime

import (
	"testing"

	"github.com/tjfontaine/reqpipe/internal/pipeline"
	"github.com/tjfontaine/reqpipe/internal/registry"
	"github.com/tjfontaine/reqpipe/internal/testutil"
)

type countingModule struct {
	disposed *int
}

func (m countingModule) Init(*pipeline.Events) error { return nil }
func (m countingModule) Dispose()                    { *m.disposed++ }

func newCountingPool(t *testing.T, maxFree int) (*AppPool, *int) {
	t.Helper()
	disposed := new(int)
	reg := registry.New[pipeline.Module]()
	if _, err := reg.Register(registry.Descriptor[pipeline.Module]{
		Type: "counting",
		New:  func() pipeline.Module { return countingModule{disposed: disposed} },
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return NewAppPool(reg.FreezeAndGet(), maxFree, testutil.DiscardLogger(),
		pipeline.WithLogger(testutil.DiscardLogger())), disposed
}

func TestAppPool_Reuse(t *testing.T) {
	pool, _ := newCountingPool(t, 4)

	a, err := pool.Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	pool.Put(a)

	b, err := pool.Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if a != b {
		t.Error("Get() after Put() should reuse the free application")
	}
	if pool.Created() != 1 {
		t.Errorf("Created() = %d, want 1", pool.Created())
	}
}

func TestAppPool_PutBeyondMaxDisposes(t *testing.T) {
	pool, disposed := newCountingPool(t, 1)

	a, _ := pool.Get()
	b, _ := pool.Get()
	pool.Put(a)
	pool.Put(b)

	if pool.Free() != 1 {
		t.Errorf("Free() = %d, want 1", pool.Free())
	}
	if *disposed != 1 {
		t.Errorf("disposed = %d, want 1", *disposed)
	}
	if pool.Live() != 1 {
		t.Errorf("Live() = %d, want 1", pool.Live())
	}
}

func TestAppPool_Trim(t *testing.T) {
	pool, disposed := newCountingPool(t, 8)

	apps := make([]*pipeline.Application, 5)
	for i := range apps {
		app, err := pool.Get()
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		apps[i] = app
	}
	for _, app := range apps {
		pool.Put(app)
	}

	if n := pool.Trim(1); n != 4 {
		t.Errorf("Trim(1) = %d, want 4", n)
	}
	if pool.Free() != 1 || *disposed != 4 {
		t.Errorf("after Trim free = %d, disposed = %d", pool.Free(), *disposed)
	}
	if n := pool.Trim(1); n != 0 {
		t.Errorf("second Trim(1) = %d, want 0", n)
	}
}

func TestAppPool_Close(t *testing.T) {
	pool, disposed := newCountingPool(t, 8)

	idle, _ := pool.Get()
	busy, _ := pool.Get()
	pool.Put(idle)

	pool.Close()
	if *disposed != 1 {
		t.Errorf("disposed after Close = %d, want 1", *disposed)
	}

	pool.Put(busy)
	if *disposed != 2 {
		t.Errorf("disposed after Put on closed pool = %d, want 2", *disposed)
	}

	if _, err := pool.Get(); err == nil {
		t.Error("Get() on closed pool should fail")
	}
}
