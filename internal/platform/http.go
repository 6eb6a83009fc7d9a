package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/kidoz/vmsmoke/internal/config"
	"github.com/kidoz/vmsmoke/internal/result"
)

// maxDiagnosticsBytes caps how much of a boot log is kept in the report.
const maxDiagnosticsBytes = 1 << 20

// HTTP drives a REST control plane:
//
//	POST {base_url}/instances/{id}/restart
//	GET  {base_url}/instances/{id}/diagnostics
type HTTP struct {
	baseURL    string
	token      string
	log        *zap.Logger
	httpClient *http.Client
}

// NewHTTP creates an HTTP backend.
func NewHTTP(cfg config.PlatformConfig, log *zap.Logger) (*HTTP, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("platform kind http requires base_url")
	}
	return &HTTP{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		log:     log,
		httpClient: &http.Client{
			Timeout:   time.Duration(cfg.Timeout) * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// Restart asks the control plane to restart the instance.
func (h *HTTP) Restart(ctx context.Context, instanceID string) error {
	_, err := h.do(ctx, http.MethodPost, "platform restart "+instanceID, instanceID, "restart")
	return err
}

// Fetch returns the instance's boot diagnostics.
func (h *HTTP) Fetch(ctx context.Context, instanceID string) (string, error) {
	return h.do(ctx, http.MethodGet, "platform diagnostics "+instanceID, instanceID, "diagnostics")
}

func (h *HTTP) do(ctx context.Context, method, op, instanceID, action string) (string, error) {
	if err := checkInstance(op, instanceID); err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/instances/%s/%s", h.baseURL, url.PathEscape(instanceID), action)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return "", result.NewFault(result.KindConfiguration, op, fmt.Errorf("failed to create request: %w", err))
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	h.log.Debug("Calling platform API", zap.String("method", method), zap.String("url", endpoint))

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", result.NewFault(result.KindPlatformUnavailable, op, fmt.Errorf("request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiagnosticsBytes))
	if err != nil {
		return "", result.NewFault(result.KindPlatformUnavailable, op, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", result.NewFault(result.KindPlatformUnavailable, op,
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	return string(body), nil
}
