// Package health probes the hosting bot process for liveness.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "wxsentry/pkg/logx"
)

const (
	defaultTimeout = 5 * time.Second
	maxBodyBytes   = 4 << 10
)

// Config for the HTTP liveness probe.
type Config struct {
	// URL of the hosting bot's liveness endpoint.
	URL string
	// Timeout bounds one probe end to end.
	Timeout time.Duration
}

// HTTPChecker probes a liveness endpoint over HTTP. An identity is healthy
// when the endpoint answers 200 with an affirmative body ("ok", "true",
// "running", "1") or an empty one.
//
// Probe failures return (false, err); the caller treats both the same way,
// the error only feeds logs and audit.
type HTTPChecker struct {
	url    string
	client *http.Client
	log    logx.Logger
}

func NewHTTPChecker(cfg Config, log logx.Logger) (*HTTPChecker, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("health: url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTPChecker{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}, nil
}

// CheckHealth implements monitor.HealthChecker. sourceID travels as a
// query parameter so one endpoint can vouch for multiple accounts.
func (h *HTTPChecker) CheckHealth(ctx context.Context, sourceID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return false, fmt.Errorf("health: build request: %w", err)
	}
	if sourceID != "" {
		q := req.URL.Query()
		q.Set("wxid", sourceID)
		req.URL.RawQuery = q.Encode()
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("health: probe %s: %w", h.url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return false, fmt.Errorf("health: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("health: endpoint returned %d", resp.StatusCode)
	}

	if !affirmative(string(body)) {
		h.log.Debug("liveness endpoint answered 200 with negative body",
			logx.String("source", sourceID),
			logx.String("body", truncate(string(body), 120)))
		return false, nil
	}
	return true, nil
}

func affirmative(body string) bool {
	s := strings.ToLower(strings.TrimSpace(body))
	switch s {
	case "", "ok", "true", "running", "1":
		return true
	}
	// Some hosts wrap the flag in JSON; accept any body that mentions an
	// affirmative token.
	return strings.Contains(s, `"running"`) || strings.Contains(s, "true") || strings.Contains(s, "ok")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
