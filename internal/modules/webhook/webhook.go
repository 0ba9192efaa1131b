// Package webhook delegates a stage decision to an external HTTP endpoint.
// The endpoint receives a StageInput and answers allow, deny or mutate.
package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/reqpipe/internal/async"
	"github.com/tjfontaine/reqpipe/internal/core/domain"
	"github.com/tjfontaine/reqpipe/internal/core/ports"
	"github.com/tjfontaine/reqpipe/internal/modules/catalog"
	"github.com/tjfontaine/reqpipe/internal/pipeline"
	"github.com/tjfontaine/reqpipe/internal/pkg/config"
	"github.com/tjfontaine/reqpipe/internal/pkg/safehttp"
)

// ModuleType is the configuration name of this module.
const ModuleType = "webhook"

// DefaultTimeout bounds one webhook attempt when none is configured.
const DefaultTimeout = 5 * time.Second

// Module runs a StageClient asynchronously on one stage phase.
type Module struct {
	name   string
	stage  domain.Stage
	post   bool
	client ports.StageClient
	logger *slog.Logger
}

var _ pipeline.Module = (*Module)(nil)

// New creates a module calling client on stage (post phase when post).
func New(name string, stage domain.Stage, post bool, client ports.StageClient, logger *slog.Logger) *Module {
	if logger == nil {
		logger = slog.Default()
	}
	return &Module{name: name, stage: stage, post: post, client: client, logger: logger}
}

func (m *Module) Init(ev *pipeline.Events) error {
	if m.post {
		return ev.OnPostAsync(domain.Stages(m.stage), m.run)
	}
	return ev.OnAsync(domain.Stages(m.stage), m.run)
}

func (m *Module) run(ctx context.Context, req *pipeline.Request) async.Deferred {
	in := m.input(req)
	return async.Go(ctx, func(ctx context.Context) error {
		out, err := m.client.Process(ctx, in)
		if err != nil {
			return err
		}
		return m.apply(req, out)
	})
}

func (m *Module) input(req *pipeline.Request) *ports.StageInput {
	stage := m.stage.String()
	if m.post {
		stage = "Post" + stage
	}
	resp := req.Response()
	return &ports.StageInput{
		Stage: stage,
		Request: ports.RequestView{
			ID:     req.ID,
			Method: req.Method,
			Path:   req.Path,
			Header: req.Header.Clone(),
		},
		Response: &ports.ResponseView{
			Status:         resp.Status,
			Header:         resp.Header.Clone(),
			HeadersWritten: resp.HeadersWritten(),
		},
	}
}

func (m *Module) apply(req *pipeline.Request, out *ports.StageOutput) error {
	switch out.Action {
	case ports.ActionDeny:
		reason := out.DenyReason
		if reason == "" {
			reason = "denied by webhook"
		}
		m.logger.Info("webhook denied request",
			slog.String("webhook", m.name),
			slog.String("request_id", req.ID),
			slog.String("reason", reason))
		return &domain.DeniedError{StageName: m.name, Reason: reason, Status: out.Status}
	case ports.ActionMutate:
		for k, v := range out.RequestHeaders {
			req.Header.Set(k, v)
		}
		if !req.Response().HeadersWritten() {
			for k, v := range out.ResponseHeaders {
				req.Response().Header.Set(k, v)
			}
		}
	}
	return nil
}

func (m *Module) Dispose() {}

// parseStage accepts a stage name, optionally prefixed with "Post".
func parseStage(name string) (domain.Stage, bool, error) {
	post := false
	if len(name) > 4 && strings.EqualFold(name[:4], "post") {
		if s, err := domain.ParseStage(name[4:]); err == nil {
			if !s.HasPostPhase() {
				return 0, false, fmt.Errorf("%w: %s has no post phase", domain.ErrInvalidArgument, s)
			}
			return s, true, nil
		}
	}
	s, err := domain.ParseStage(name)
	return s, post, err
}

// build validates a webhook module configuration.
func build(p catalog.Params) (func() pipeline.Module, error) {
	cfg := p.Config.Webhook
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("%w: webhook requires a url", domain.ErrInvalidArgument)
	}

	stageName := cfg.Stage
	if stageName == "" {
		stageName = domain.StageAuthorizeRequest.String()
	}
	stage, post, err := parseStage(stageName)
	if err != nil {
		return nil, err
	}

	onError := ports.StageAction(strings.ToLower(cfg.OnError))
	switch onError {
	case "", ports.ActionAllow, ports.ActionDeny:
	default:
		return nil, fmt.Errorf("%w: webhook on_error must be allow or deny, got %q", domain.ErrInvalidArgument, cfg.OnError)
	}

	timeout := DefaultTimeout
	if cfg.Timeout != "" {
		if timeout, err = time.ParseDuration(cfg.Timeout); err != nil {
			return nil, fmt.Errorf("%w: webhook timeout: %v", domain.ErrInvalidArgument, err)
		}
	}

	name := cfg.Name
	if name == "" {
		name = ModuleType
	}

	client := NewClient(clientConfig(name, cfg, onError, timeout, p))
	return func() pipeline.Module {
		return New(name, stage, post, client, p.Logger)
	}, nil
}

func clientConfig(name string, cfg *config.WebhookConfig, onError ports.StageAction, timeout time.Duration, p catalog.Params) ClientConfig {
	var hc *http.Client
	if p.HTTPClient != nil {
		c := *p.HTTPClient
		c.Timeout = timeout
		hc = &c
	} else {
		base := http.DefaultTransport
		if cfg.BlockPrivate {
			base = safehttp.NewTransport(timeout)
		}
		hc = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(base),
		}
	}
	return ClientConfig{
		Name:       name,
		URL:        cfg.URL,
		Timeout:    timeout,
		OnError:    onError,
		Retries:    cfg.Retries,
		Headers:    cfg.Headers,
		HTTPClient: hc,
		Logger:     p.Logger,
	}
}

// Register adds the module to the catalog.
func Register() {
	if catalog.IsRegistered(ModuleType) {
		return
	}
	catalog.RegisterFactory(catalog.Factory{
		Type:        ModuleType,
		Description: "Delegates a stage decision to an HTTP endpoint",
		Build:       build,
	})
}
