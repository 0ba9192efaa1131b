// Package accesslog writes one structured log line per request.
package accesslog

import (
	"log/slog"
	"time"

	"github.com/tjfontaine/reqpipe/internal/core/domain"
	"github.com/tjfontaine/reqpipe/internal/modules/catalog"
	"github.com/tjfontaine/reqpipe/internal/pipeline"
)

// ModuleType is the configuration name of this module.
const ModuleType = "accesslog"

// StartedKey is the Request.Items key holding the BeginRequest time.
const StartedKey = "accesslog.started"

// Module logs on the final SendResponse, after any error response has
// been shaped.
type Module struct {
	logger *slog.Logger
	now    func() time.Time
}

var _ pipeline.Module = (*Module)(nil)

// New creates an access log module writing to logger.
func New(logger *slog.Logger) *Module {
	if logger == nil {
		logger = slog.Default()
	}
	return &Module{logger: logger, now: time.Now}
}

func (m *Module) Init(ev *pipeline.Events) error {
	if err := ev.On(domain.Stages(domain.StageBeginRequest), func(req *pipeline.Request) error {
		req.Items[StartedKey] = m.now()
		return nil
	}); err != nil {
		return err
	}
	return ev.On(domain.Stages(domain.StageSendResponse), m.log)
}

func (m *Module) log(req *pipeline.Request) error {
	if req.IsReEntry() {
		return nil
	}

	resp := req.Response()
	attrs := []slog.Attr{
		slog.String("request_id", req.ID),
		slog.String("method", req.Method),
		slog.String("path", req.Path),
		slog.Int("status", resp.Status),
		slog.Int64("bytes", resp.BytesSent()+int64(resp.Buffered())),
	}
	if started, ok := req.Items[StartedKey].(time.Time); ok {
		attrs = append(attrs, slog.Duration("duration", m.now().Sub(started)))
	}

	level := slog.LevelInfo
	if f := req.Result().Failure(); f != nil {
		level = slog.LevelWarn
		attrs = append(attrs,
			slog.String("failed_stage", stageLabel(f)),
			slog.String("error", f.Err.Error()))
	}

	m.logger.LogAttrs(req.Context(), level, "request completed", attrs...)
	return nil
}

func stageLabel(f *domain.StageFailure) string {
	if f.Post {
		return "Post" + f.Stage.String()
	}
	return f.Stage.String()
}

func (m *Module) Dispose() {}

// Register adds the module to the catalog.
func Register() {
	if catalog.IsRegistered(ModuleType) {
		return
	}
	catalog.RegisterFactory(catalog.Factory{
		Type:        ModuleType,
		Description: "Logs each request through slog",
		Build: func(p catalog.Params) (func() pipeline.Module, error) {
			return func() pipeline.Module { return New(p.Logger) }, nil
		},
	})
}
