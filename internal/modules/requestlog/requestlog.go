// Package requestlog persists a summary of every request to a
// RequestLogStore.
package requestlog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tjfontaine/reqpipe/internal/async"
	"github.com/tjfontaine/reqpipe/internal/core/domain"
	"github.com/tjfontaine/reqpipe/internal/core/ports"
	"github.com/tjfontaine/reqpipe/internal/modules/catalog"
	"github.com/tjfontaine/reqpipe/internal/pipeline"
)

// ModuleType is the configuration name of this module.
const ModuleType = "requestlog"

const startedKey = "requestlog.started"

// Module saves the entry asynchronously during the final SendResponse.
// The pipeline awaits the save before the send step, so response delivery
// waits on the store. The write ignores request cancellation so a client
// disconnect does not drop the entry. A store failure is logged and does
// not fail the request.
type Module struct {
	store  ports.RequestLogStore
	logger *slog.Logger
	now    func() time.Time
}

var _ pipeline.Module = (*Module)(nil)

// New creates a module writing to store.
func New(store ports.RequestLogStore, logger *slog.Logger) *Module {
	if logger == nil {
		logger = slog.Default()
	}
	return &Module{store: store, logger: logger, now: time.Now}
}

func (m *Module) Init(ev *pipeline.Events) error {
	if err := ev.On(domain.Stages(domain.StageBeginRequest), func(req *pipeline.Request) error {
		req.Items[startedKey] = m.now()
		return nil
	}); err != nil {
		return err
	}
	return ev.OnAsync(domain.Stages(domain.StageSendResponse), m.save)
}

func (m *Module) save(ctx context.Context, req *pipeline.Request) async.Deferred {
	if req.IsReEntry() {
		return nil
	}
	entry := m.entry(req)

	return async.Go(context.WithoutCancel(ctx), func(ctx context.Context) error {
		if err := m.store.SaveRequestLog(ctx, entry); err != nil {
			m.logger.Warn("failed to save request log",
				slog.String("request_id", entry.ID),
				slog.String("error", err.Error()))
		}
		return nil
	})
}

func (m *Module) entry(req *pipeline.Request) *domain.RequestLog {
	resp := req.Response()
	st := req.State()
	entry := &domain.RequestLog{
		ID:        req.ID,
		Method:    req.Method,
		Path:      req.Path,
		Status:    resp.Status,
		BytesSent: resp.BytesSent() + int64(resp.Buffered()),
		Sends:     st.Sends,
		CreatedAt: m.now().UTC(),
	}
	if started, ok := req.Items[startedKey].(time.Time); ok {
		entry.Duration = m.now().Sub(started)
	}
	if f := req.Result().Failure(); f != nil {
		entry.FailedStage = f.Stage.String()
		if f.Post {
			entry.FailedStage = "Post" + entry.FailedStage
		}
		entry.Error = f.Err.Error()
	}
	return entry
}

func (m *Module) Dispose() {}

// Register adds the module to the catalog.
func Register() {
	if catalog.IsRegistered(ModuleType) {
		return
	}
	catalog.RegisterFactory(catalog.Factory{
		Type:        ModuleType,
		Description: "Persists request summaries to the configured store",
		Build: func(p catalog.Params) (func() pipeline.Module, error) {
			if p.Store == nil {
				return nil, fmt.Errorf("%w: requestlog needs storage enabled", domain.ErrInvalidArgument)
			}
			return func() pipeline.Module { return New(p.Store, p.Logger) }, nil
		},
	})
}
