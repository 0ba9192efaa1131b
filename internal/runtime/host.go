// Package runtime assembles the request pipeline host: configuration,
// buffer pools, the module registry, the application pool, the idle
// supervisor and the HTTP server.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	goruntime "runtime"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/reqpipe/internal/bufpool"
	"github.com/tjfontaine/reqpipe/internal/core/domain"
	"github.com/tjfontaine/reqpipe/internal/core/ports"
	"github.com/tjfontaine/reqpipe/internal/idle"
	"github.com/tjfontaine/reqpipe/internal/metrics"
	"github.com/tjfontaine/reqpipe/internal/modules/builtin"
	"github.com/tjfontaine/reqpipe/internal/modules/catalog"
	"github.com/tjfontaine/reqpipe/internal/pipeline"
	"github.com/tjfontaine/reqpipe/internal/pkg/config"
	"github.com/tjfontaine/reqpipe/internal/registry"
	"github.com/tjfontaine/reqpipe/internal/server"
	"github.com/tjfontaine/reqpipe/internal/storage"
)

// Host owns one pipeline runtime and the resources shared by its
// application instances.
type Host struct {
	cfg            *config.Config
	configProvider ports.ConfigProvider
	logger         *slog.Logger
	clock          clock.Clock
	handler        pipeline.Handler
	extraModules   []registry.Descriptor[pipeline.Module]
	shutdownFn     domain.ShutdownFunc
	httpClient     *http.Client
	noServer       bool
	maxFreeApps    int

	store     ports.RequestLogStore
	ownsStore bool

	buffers    *bufpool.Set
	metrics    *metrics.Metrics
	apps       *AppPool
	supervisor *idle.Supervisor
	server     *server.Server

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu       sync.Mutex
	started  bool
	stopping bool
	reason   domain.ShutdownReason
	inflight sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
	done         chan struct{}
}

// New creates a new Host with the given options.
func New(opts ...Option) (*Host, error) {
	h := &Host{
		logger:      slog.Default(),
		clock:       clock.NewClock(),
		maxFreeApps: DefaultMaxFreeApps,
		reason:      domain.ShutdownNone,
		done:        make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if h.cfg == nil && h.configProvider == nil {
		return nil, fmt.Errorf("%w: config is required (use WithConfig or WithFileConfig)", domain.ErrInvalidArgument)
	}

	return h, nil
}

// Start loads configuration, builds the module registry and begins serving.
// Start returns once the host is ready; serving continues in the
// background until Shutdown.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return fmt.Errorf("%w: host already started", domain.ErrInvalidState)
	}
	h.started = true
	h.mu.Unlock()

	if h.configProvider != nil {
		cfg, err := h.configProvider.Load(ctx)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		h.cfg = cfg
	}

	if err := h.setup(); err != nil {
		h.reason = domain.ShutdownInitializationError
		h.release()
		return err
	}

	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.group = &errgroup.Group{}

	if h.configProvider != nil {
		if err := h.configProvider.Watch(h.ctx, h.applyConfig); err != nil {
			h.logger.Warn("config hot-reload disabled", slog.String("error", err.Error()))
		}
	}

	h.supervisor.Start()

	if h.server != nil {
		if err := h.server.Listen(); err != nil {
			h.supervisor.Stop()
			h.cancel()
			h.cancel = nil
			h.reason = domain.ShutdownInitializationError
			h.release()
			return err
		}
		h.group.Go(func() error {
			if err := h.server.Serve(); err != nil {
				h.logger.Error("server error", slog.String("error", err.Error()))
				return err
			}
			return nil
		})
	}

	h.logger.Info("host started",
		slog.Int("modules", len(h.apps.entries)),
		slog.String("storage", h.cfg.Storage.Type))
	return nil
}

func (h *Host) setup() error {
	cfg := h.cfg

	h.buffers = bufpool.NewSet(bufpool.SetConfig{
		ByteBufferSize: cfg.Buffers.ByteBufferSize,
		CharBufferSize: cfg.Buffers.CharBufferSize,
		IntBufferSize:  cfg.Buffers.IntBufferSize,
		WordBufferSize: cfg.Buffers.WordBufferSize,
		BaseCapacity:   cfg.Buffers.BaseCapacity,
		CPUCount:       goruntime.NumCPU(),
	})
	h.metrics = metrics.New()
	h.metrics.RegisterPools(h.buffers)

	if h.store == nil {
		store, err := storage.New(cfg.Storage)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		h.store = store
		h.ownsStore = store != nil
	}

	builtin.Register()
	reg := registry.New[pipeline.Module]()
	if _, err := catalog.RegisterModules(reg, cfg.Modules, catalog.Params{
		Logger:     h.logger,
		Store:      h.store,
		HTTPClient: h.httpClient,
	}); err != nil {
		return fmt.Errorf("register modules: %w", err)
	}
	for _, d := range h.extraModules {
		if _, err := reg.Register(d); err != nil {
			return fmt.Errorf("register module %s: %w", d.Type, err)
		}
	}
	entries := reg.FreezeAndGet()

	h.apps = NewAppPool(entries, h.maxFreeApps, h.logger,
		pipeline.WithLogger(h.logger),
		pipeline.WithBufferPool(h.buffers.Bytes),
		pipeline.WithObserver(h.metrics),
		pipeline.WithErrorResponder(server.ErrorResponder(h.logger)),
	)

	// Build one application up front so module Init errors fail Start.
	app, err := h.apps.Get()
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	h.apps.Put(app)
	h.metrics.RegisterGauge("apps_free", "Idle application instances.", func() float64 {
		return float64(h.apps.Free())
	})

	timeout, err := cfg.Idle.TimeoutDuration()
	if err != nil {
		return err
	}
	h.supervisor = idle.New(
		idle.WithClock(h.clock),
		idle.WithInterval(cfg.Idle.IntervalDuration()),
		idle.WithIdleTimeout(timeout),
		idle.WithLogger(h.logger),
		idle.WithTrimFunc(h.trim),
		idle.WithShutdownFunc(h.initiateShutdown),
	)
	h.metrics.RegisterIdle(h.supervisor, h.clock.Now)

	if !h.noServer {
		h.server = server.New(server.Options{
			Port:           cfg.Server.Port,
			RequestTimeout: cfg.Server.RequestTimeoutDuration(),
			Logger:         h.logger,
			ServiceName:    cfg.Telemetry.ServiceName,
		})
		h.routes()
	}
	return nil
}

func (h *Host) routes() {
	r := h.server.Router
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if h.ShuttingDown() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	r.Handle("/*", server.PipelineHandler(h.Serve, h.handler))
}

// trim runs at the start of every idle evaluation.
func (h *Host) trim() {
	h.apps.Trim(1)
}

// Serve drives req through a pooled application.
func (h *Host) Serve(ctx context.Context, req *pipeline.Request) (pipeline.Result, error) {
	h.mu.Lock()
	if !h.started || h.stopping || h.apps == nil {
		h.mu.Unlock()
		return pipeline.Result{}, fmt.Errorf("%w: host is not serving", domain.ErrUnavailable)
	}
	h.inflight.Add(1)
	h.mu.Unlock()
	defer h.inflight.Done()

	h.supervisor.RequestStarted()
	defer h.supervisor.RequestFinished()

	app, err := h.apps.Get()
	if err != nil {
		return pipeline.Result{}, err
	}
	defer h.apps.Put(app)

	err = app.ProcessRequest(ctx, req)
	return req.Result(), err
}

// applyConfig reacts to a reloaded configuration. The idle timeout is
// applied in place. A changed module list cannot be applied to a running
// registry, so it initiates shutdown for a supervisor to restart the host.
func (h *Host) applyConfig(cfg *config.Config) {
	timeout, err := cfg.Idle.TimeoutDuration()
	if err != nil {
		h.logger.Error("ignoring reloaded config", slog.String("error", err.Error()))
		return
	}
	h.supervisor.SetIdleTimeout(timeout)
	h.logger.Info("config reloaded", slog.Duration("idle_timeout", timeout))

	h.mu.Lock()
	old := h.cfg
	h.cfg = cfg
	h.mu.Unlock()

	if !cmp.Equal(old.Modules, cfg.Modules) {
		h.initiateShutdown(domain.ShutdownConfigurationChange, "module configuration changed")
	}
}

// initiateShutdown records reason and hands off to the shutdown callback.
// It never blocks the caller.
func (h *Host) initiateShutdown(reason domain.ShutdownReason, msg string) {
	h.mu.Lock()
	if h.reason != domain.ShutdownNone {
		h.mu.Unlock()
		return
	}
	h.reason = reason
	h.mu.Unlock()

	if h.supervisor != nil {
		h.supervisor.MarkShutdown()
	}
	h.logger.Info("shutdown initiated", slog.String("reason", string(reason)), slog.String("message", msg))

	if h.shutdownFn != nil {
		h.shutdownFn(reason, msg)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.ShutdownTimeout())
		defer cancel()
		if err := h.Shutdown(ctx); err != nil {
			h.logger.Error("shutdown failed", slog.String("error", err.Error()))
		}
	}()
}

// Shutdown gracefully stops the host. In-flight requests are given until
// ctx is done to complete. Calling Shutdown more than once is safe.
func (h *Host) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(func() {
		h.shutdownErr = h.shutdown(ctx)
		close(h.done)
	})
	return h.shutdownErr
}

func (h *Host) shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.stopping = true
	if h.reason == domain.ShutdownNone {
		h.reason = domain.ShutdownHostingEnvironment
	}
	started := h.started && h.cancel != nil
	h.mu.Unlock()

	if !started {
		return nil
	}

	h.logger.Info("shutting down host", slog.String("reason", string(h.Reason())))
	h.supervisor.MarkShutdown()
	h.supervisor.Stop()

	var errs []error
	if h.server != nil {
		if err := h.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	drained := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for in-flight requests: %w", ctx.Err()))
	}

	h.cancel()
	if err := h.group.Wait(); err != nil {
		errs = append(errs, err)
	}

	if err := h.release(); err != nil {
		errs = append(errs, err)
	}
	h.logger.Info("host stopped")
	return errors.Join(errs...)
}

// release frees pooled resources. It tolerates a partially built host.
func (h *Host) release() error {
	var errs []error
	if h.apps != nil {
		h.apps.Close()
	}
	if h.buffers != nil {
		h.buffers.Drain()
	}
	if h.store != nil && h.ownsStore {
		if err := h.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	if h.configProvider != nil {
		if err := h.configProvider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close config provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Done is closed once Shutdown has finished.
func (h *Host) Done() <-chan struct{} { return h.done }

// Reason returns why the host is shutting down, or ShutdownNone.
func (h *Host) Reason() domain.ShutdownReason {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reason
}

// ShuttingDown reports whether shutdown has been initiated.
func (h *Host) ShuttingDown() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopping || h.reason != domain.ShutdownNone
}

// Config returns the active configuration.
func (h *Host) Config() *config.Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cfg
}

// Addr returns the HTTP listen address, or nil when the server is disabled.
func (h *Host) Addr() net.Addr {
	if h.server == nil {
		return nil
	}
	return h.server.Addr()
}

// Supervisor returns the idle supervisor. Nil before Start.
func (h *Host) Supervisor() *idle.Supervisor { return h.supervisor }

// Apps returns the application pool. Nil before Start.
func (h *Host) Apps() *AppPool { return h.apps }

// Metrics returns the host's metrics. Nil before Start.
func (h *Host) Metrics() *metrics.Metrics { return h.metrics }

// Store returns the request log store, or nil when storage is disabled.
func (h *Host) Store() ports.RequestLogStore { return h.store }

// ShutdownTimeout returns the configured graceful shutdown budget.
func (h *Host) ShutdownTimeout() time.Duration {
	return h.Config().Server.ShutdownTimeoutDuration()
}
