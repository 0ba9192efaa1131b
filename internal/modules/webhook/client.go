package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tjfontaine/reqpipe/internal/core/ports"
)

// Client calls an external HTTP endpoint to evaluate a stage.
type Client struct {
	name    string
	url     string
	onError ports.StageAction // Action to take on error (allow or deny)
	retries int
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger
}

var _ ports.StageClient = (*Client)(nil)

// ClientConfig configures a webhook client.
type ClientConfig struct {
	Name    string
	URL     string
	Timeout time.Duration
	OnError ports.StageAction // "allow" or "deny" (default: deny)
	Retries int
	Headers map[string]string

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient creates a new webhook client.
func NewClient(cfg ClientConfig) *Client {
	onError := cfg.OnError
	if onError == "" {
		onError = ports.ActionDeny // Default to fail-closed
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		name:    cfg.Name,
		url:     cfg.URL,
		onError: onError,
		retries: cfg.Retries,
		headers: cfg.Headers,
		client:  client,
		logger:  logger,
	}
}

// Process posts in to the endpoint, retrying failed attempts. When every
// attempt fails the onError action decides the outcome.
func (c *Client) Process(ctx context.Context, in *ports.StageInput) (*ports.StageOutput, error) {
	var lastErr error

	attempts := c.retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		output, err := c.doRequest(ctx, in)
		if err == nil {
			return output, nil
		}
		lastErr = err

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			break
		}
	}

	return c.handleError(lastErr)
}

func (c *Client) doRequest(ctx context.Context, in *ports.StageInput) (*ports.StageOutput, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal stage input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var output ports.StageOutput
	if err := json.Unmarshal(respBody, &output); err != nil {
		return nil, fmt.Errorf("unmarshal stage output: %w", err)
	}

	switch output.Action {
	case ports.ActionAllow, ports.ActionDeny, ports.ActionMutate:
	case "":
		output.Action = ports.ActionAllow
	default:
		return nil, fmt.Errorf("invalid action from webhook: %s", output.Action)
	}

	return &output, nil
}

// UnavailableReason is the deny reason used when the policy service fails
// and the webhook is configured to deny on error.
const UnavailableReason = "policy service unavailable"

func (c *Client) handleError(err error) (*ports.StageOutput, error) {
	switch c.onError {
	case ports.ActionAllow:
		c.logger.Warn("webhook failed, allowing request",
			slog.String("webhook", c.name),
			slog.String("error", err.Error()))
		return &ports.StageOutput{Action: ports.ActionAllow}, nil
	case ports.ActionDeny:
		// The reason reaches the client; the cause stays in the log.
		c.logger.Warn("webhook failed, denying request",
			slog.String("webhook", c.name),
			slog.String("error", err.Error()))
		return &ports.StageOutput{
			Action:     ports.ActionDeny,
			DenyReason: UnavailableReason,
		}, nil
	default:
		return nil, fmt.Errorf("webhook %s failed: %w", c.name, err)
	}
}
