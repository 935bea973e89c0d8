// Package client provides the outbound HTTP client shared by all providers.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stream-proxy-go/internal/config"
	"stream-proxy-go/internal/metrics"
	"stream-proxy-go/internal/model"
)

// ErrBodyTooLarge is returned when an upstream body exceeds the request's MaxBodyBytes.
var ErrBodyTooLarge = errors.New("upstream body too large")

// UpstreamClient sends single-shot GET requests to the upstream providers.
type UpstreamClient struct {
	transport  *http.Transport
	httpClient *http.Client
	// noRedirect bypasses http.Client so a 3xx is returned as-is, even when
	// its Location header does not parse.
	noRedirect http.RoundTripper
	userAgent  string
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling.
// Per-request deadlines come from the caller's context; there is no global
// client timeout. The metrics parameter is optional; pass nil to disable
// upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	traced := otelhttp.NewTransport(transport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "upstream " + r.Method + " " + r.URL.Host
		}),
	)

	return &UpstreamClient{
		transport:  transport,
		httpClient: &http.Client{Transport: traced},
		noRedirect: traced,
		userAgent: cfg.Upstream.UserAgent,
		logger:    logger.With("component", "upstream_client"),
		metrics:   m,
	}
}

// Fetch issues a GET for ur and reads the response body (up to ur.MaxBodyBytes).
// The deadline of ctx bounds the whole exchange, body read included.
func (c *UpstreamClient) Fetch(ctx context.Context, ur *model.UpstreamRequest) (*model.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ur.URL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	if ur.Header != nil {
		req.Header = ur.Header.Clone()
	}
	if req.Header.Get("User-Agent") == "" && c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.logger.Debug("upstream request",
		"provider", ur.Provider,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	start := time.Now()
	var resp *http.Response
	if ur.FollowRedirects {
		resp, err = c.httpClient.Do(req)
	} else {
		resp, err = c.noRedirect.RoundTrip(req)
	}
	if err != nil {
		c.observeFailure(ur.Provider, start, err)
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := readBody(resp.Body, ur.MaxBodyBytes)
	if err != nil {
		c.observeFailure(ur.Provider, start, err)
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(ur.Provider).Observe(time.Since(start).Seconds())
		c.metrics.UpstreamResponses.WithLabelValues(ur.Provider, strconv.Itoa(resp.StatusCode)).Inc()
	}

	out := &model.UpstreamResponse{
		StatusCode:  resp.StatusCode,
		Status:      resp.Status,
		Header:      resp.Header,
		RawLocation: resp.Header.Get("Location"),
		Body:        data,
	}
	if out.RawLocation != "" {
		if loc, err := req.URL.Parse(out.RawLocation); err == nil {
			out.Location = loc
		}
	}
	return out, nil
}

// readBody reads all of r, failing with ErrBodyTooLarge once more than limit
// bytes arrive. A limit of 0 disables the cap.
func readBody(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}
	return data, nil
}

// CloseIdleConnections releases pooled upstream connections.
func (c *UpstreamClient) CloseIdleConnections() {
	c.transport.CloseIdleConnections()
}

func (c *UpstreamClient) observeFailure(provider string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	c.metrics.UpstreamFailures.WithLabelValues(provider, failureReason(err)).Inc()
}

// IsTimeout reports whether err was caused by a deadline or a network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func failureReason(err error) string {
	switch {
	case IsTimeout(err):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrBodyTooLarge):
		return "too_large"
	default:
		return "error"
	}
}
