package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tjfontaine/reqpipe/internal/pipeline"
	"github.com/tjfontaine/reqpipe/internal/pkg/config"
	"github.com/tjfontaine/reqpipe/internal/runtime"
	"github.com/tjfontaine/reqpipe/internal/telemetry"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline host",
		Long: `Serve starts the HTTP server and runs every request through the
configured modules. The configuration file is watched: idle timeout changes
apply immediately, module list changes shut the host down so a process
supervisor can restart it.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := newLogger(cmd)
	slog.SetDefault(logger)

	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shutdownTracer, err := telemetry.InitTracer(cfg.Telemetry, os.Stdout, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	host, err := runtime.New(
		runtime.WithFileConfig(path),
		runtime.WithLogger(logger),
		runtime.WithHandler(echoHandler()),
	)
	if err != nil {
		return fmt.Errorf("create host: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := host.Start(ctx); err != nil {
		return fmt.Errorf("start host: %w", err)
	}
	logger.Info("host ready", slog.String("addr", host.Addr().String()))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping host")
	case <-host.Done():
		logger.Info("host stopped itself", slog.String("reason", string(host.Reason())))
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), host.ShutdownTimeout())
	defer cancel()
	if err := host.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("host shutdown complete")
	return nil
}

// echoHandler answers every request with a JSON description of it.
func echoHandler() pipeline.Handler {
	return pipeline.HandlerFunc(func(req *pipeline.Request) error {
		resp := req.Response()
		resp.Header.Set("Content-Type", "application/json")
		return json.NewEncoder(resp).Encode(map[string]string{
			"request_id": req.ID,
			"method":     req.Method,
			"path":       req.Path,
		})
	})
}
