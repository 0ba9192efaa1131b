package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"pgregory.net/rapid"

	"github.com/tjfontaine/reqpipe/internal/async"
	"github.com/tjfontaine/reqpipe/internal/core/domain"
	"github.com/tjfontaine/reqpipe/internal/registry"
)

type visit struct {
	stage  domain.Stage
	post   bool
	module int
}

func (v visit) rank() int {
	r := v.stage.Index() * 2
	if v.post {
		r++
	}
	return r
}

func TestApplication_OrderingProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var mu sync.Mutex
		var visits []visit

		nModules := rapid.IntRange(1, 5).Draw(t, "modules")
		failAt := rapid.IntRange(-1, domain.StageCount-1).Draw(t, "failAt")
		boom := errors.New("property failure")

		reg := registry.New[Module]()
		for i := 0; i < nModules; i++ {
			mainSet := domain.StageSet(rapid.Uint16Range(0, 1<<domain.StageCount-1).Draw(t, fmt.Sprintf("main%d", i)))
			postSet := domain.StageSet(rapid.Uint16Range(0, 1<<(domain.StageCount-1)-1).Draw(t, fmt.Sprintf("post%d", i)))
			useAsync := rapid.Bool().Draw(t, fmt.Sprintf("async%d", i))

			idx := i
			record := func(req *Request, post bool) error {
				st := req.State()
				mu.Lock()
				visits = append(visits, visit{stage: st.Stage, post: post, module: idx})
				mu.Unlock()
				if idx == 0 && !post && st.Stage.Index() == failAt {
					return boom
				}
				return nil
			}

			m := &funcModule{init: func(ev *Events) error {
				if !mainSet.Empty() {
					if useAsync {
						ev.OnAsync(mainSet, func(ctx context.Context, req *Request) async.Deferred {
							err := record(req, false)
							return async.Go(ctx, func(context.Context) error { return err })
						})
					} else {
						ev.On(mainSet, func(req *Request) error { return record(req, false) })
					}
				}
				if !postSet.Empty() {
					ev.OnPost(postSet, func(req *Request) error { return record(req, true) })
				}
				return nil
			}}
			reg.Register(registry.Descriptor[Module]{Type: "prop", New: func() Module { return m }})
		}

		app, err := NewApplication(reg.FreezeAndGet(), WithLogger(discardLogger()))
		if err != nil {
			t.Fatalf("NewApplication() error = %v", err)
		}
		defer app.Dispose()

		req := NewRequest("GET", "/", nil, nil)
		err = app.ProcessRequest(context.Background(), req)
		if err != nil && err != boom {
			t.Fatalf("ProcessRequest() error = %v", err)
		}

		mu.Lock()
		defer mu.Unlock()
		for i := 1; i < len(visits); i++ {
			prev, cur := visits[i-1], visits[i]
			if cur.rank() < prev.rank() {
				t.Fatalf("visit %d (%s post=%v) ran after %s post=%v", i, cur.stage, cur.post, prev.stage, prev.post)
			}
			if cur.rank() == prev.rank() && cur.module <= prev.module {
				t.Fatalf("module %d ran after module %d in %s", cur.module, prev.module, cur.stage)
			}
		}

		if err == boom {
			failed := req.Result().FailedStage
			for _, v := range visits {
				if failed.Before(v.stage) && !v.stage.IsCleanup() {
					t.Fatalf("%s ran after failure in %s", v.stage, failed)
				}
			}
		}
		if !req.Result().Completed {
			t.Fatal("request did not complete")
		}
	})
}
