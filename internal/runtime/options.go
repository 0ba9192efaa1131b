package runtime

import (
	"fmt"
	"log/slog"
	"net/http"

	"code.cloudfoundry.org/clock"

	"github.com/tjfontaine/reqpipe/internal/adapters/config/file"
	"github.com/tjfontaine/reqpipe/internal/core/domain"
	"github.com/tjfontaine/reqpipe/internal/core/ports"
	"github.com/tjfontaine/reqpipe/internal/pipeline"
	"github.com/tjfontaine/reqpipe/internal/pkg/config"
	"github.com/tjfontaine/reqpipe/internal/registry"
)

// Option is a functional option for configuring a Host.
type Option func(*Host) error

// WithConfig uses a fixed configuration.
func WithConfig(cfg *config.Config) Option {
	return func(h *Host) error {
		if cfg == nil {
			return fmt.Errorf("%w: nil config", domain.ErrInvalidArgument)
		}
		h.cfg = cfg
		return nil
	}
}

// WithFileConfig uses file-based configuration with hot-reload.
// The path should point to a config.yaml file that will be watched for changes.
func WithFileConfig(path string) Option {
	return func(h *Host) error {
		provider, err := file.NewProvider(path, h.logger)
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		h.configProvider = provider
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
// For advanced use cases where you need full control over config loading.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(h *Host) error {
		h.configProvider = provider
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) error {
		if logger != nil {
			h.logger = logger
		}
		return nil
	}
}

// WithHandler sets the handler run at the end of ExecuteRequestHandler for
// requests arriving over HTTP.
func WithHandler(handler pipeline.Handler) Option {
	return func(h *Host) error {
		h.handler = handler
		return nil
	}
}

// WithModules registers extra modules after the configured ones.
func WithModules(descriptors ...registry.Descriptor[pipeline.Module]) Option {
	return func(h *Host) error {
		h.extraModules = append(h.extraModules, descriptors...)
		return nil
	}
}

// WithClock sets the time source of the idle supervisor.
func WithClock(c clock.Clock) Option {
	return func(h *Host) error {
		h.clock = c
		return nil
	}
}

// WithShutdownFunc replaces the default reaction to idle timeout and
// configuration changes, which is a graceful Shutdown.
func WithShutdownFunc(fn domain.ShutdownFunc) Option {
	return func(h *Host) error {
		h.shutdownFn = fn
		return nil
	}
}

// WithRequestLogStore sets the request log store instead of opening the
// configured one. The host does not close it.
func WithRequestLogStore(store ports.RequestLogStore) Option {
	return func(h *Host) error {
		h.store = store
		return nil
	}
}

// WithHTTPClient sets the client used by modules for outbound calls.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Host) error {
		h.httpClient = c
		return nil
	}
}

// WithoutServer runs the host without its HTTP listener. Requests are
// driven through Serve.
func WithoutServer() Option {
	return func(h *Host) error {
		h.noServer = true
		return nil
	}
}

// WithMaxFreeApps bounds the number of idle application instances kept
// for reuse.
func WithMaxFreeApps(n int) Option {
	return func(h *Host) error {
		if n < 1 {
			return fmt.Errorf("%w: max free apps must be positive", domain.ErrInvalidArgument)
		}
		h.maxFreeApps = n
		return nil
	}
}
