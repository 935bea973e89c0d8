package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stream-proxy-go/internal/client"
	"stream-proxy-go/internal/config"
	"stream-proxy-go/internal/model"
)

const metadataProvider = "metadata"

// forwardableRequestHeaders are the only request headers forwarded upstream.
var forwardableRequestHeaders = []string{
	"Accept-Language",
}

// MetadataService relays requests to the metadata API with the server-held key.
type MetadataService struct {
	client  *client.UpstreamClient
	baseURL *url.URL
	apiKey  string
	timeout time.Duration
	maxBody int64
	logger  *slog.Logger
}

// NewMetadataService creates a MetadataService. A missing API key is not an
// error here; Relay reports it per request.
func NewMetadataService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*MetadataService, error) {
	u, err := parseBaseURL("metadata", cfg.Metadata.BaseURL)
	if err != nil {
		return nil, err
	}
	return &MetadataService{
		client:  c,
		baseURL: u,
		apiKey:  cfg.Metadata.APIKey,
		timeout: cfg.Metadata.Timeout(),
		maxBody: cfg.Metadata.MaxBodyBytes,
		logger:  logger.With("component", "metadata_service"),
	}, nil
}

// Relay forwards the query to the metadata API resource named by its
// "endpoint" parameter and interprets the response.
//
// Client-supplied apiKey/api_key parameters are dropped and the configured
// key is injected. Every other parameter is forwarded unchanged.
func (s *MetadataService) Relay(ctx context.Context, query url.Values, header http.Header) (model.Result, error) {
	if s.apiKey == "" {
		return nil, &RequestError{
			Kind:    ErrNotConfigured,
			Message: "Metadata API key is not configured on the server.",
		}
	}

	endpoint := strings.TrimSpace(query.Get("endpoint"))
	if endpoint == "" {
		return nil, missingParameter("Metadata API endpoint parameter is required.")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Fetch(ctx, &model.UpstreamRequest{
		Provider:        metadataProvider,
		URL:             s.buildUpstreamURL(endpoint, query),
		Header:          s.filterRequestHeaders(header),
		FollowRedirects: true,
		MaxBodyBytes:    s.maxBody,
	})
	if err != nil {
		s.logger.Error("metadata request failed", "err", SanitizeError(err), "endpoint", endpoint)
		return nil, upstreamFailure(err, failureMessages{
			Timeout:  "Request to metadata API timed out.",
			Failed:   "Failed to fetch data from metadata API via proxy.",
			TooLarge: "Metadata API response is too large.",
		})
	}

	return s.interpret(endpoint, resp)
}

// interpret turns the upstream body into a JSONBody, an ErrorBody or an
// ErrUnexpectedResponse error. The body is inspected as text first so that
// malformed error pages can still be excerpted.
func (s *MetadataService) interpret(endpoint string, resp *model.UpstreamResponse) (model.Result, error) {
	valid := json.Valid(resp.Body)

	if !resp.IsSuccess() {
		if valid {
			return model.JSONBody{StatusCode: resp.StatusCode, Value: resp.Body}, nil
		}
		s.logger.Warn("metadata API error with non-JSON body",
			"status", resp.StatusCode,
			"endpoint", endpoint,
		)
		return model.ErrorBody{
			StatusCode: resp.StatusCode,
			Message:    statusText(resp),
			Details:    excerpt(string(resp.Body)),
		}, nil
	}

	if !valid {
		s.logger.Warn("metadata API returned malformed JSON",
			"status", resp.StatusCode,
			"endpoint", endpoint,
		)
		return nil, &RequestError{
			Kind:    ErrUnexpectedResponse,
			Message: "Metadata API returned a malformed response.",
			Details: excerpt(string(resp.Body)),
		}
	}

	return model.JSONBody{StatusCode: http.StatusOK, Value: resp.Body}, nil
}

// buildUpstreamURL joins the endpoint onto the base URL and rebuilds the
// query without the endpoint and any client-supplied key.
func (s *MetadataService) buildUpstreamURL(endpoint string, query url.Values) string {
	u := *s.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(endpoint, "/")
	u.RawPath = ""

	q := make(url.Values)
	for k, v := range query {
		if k == "endpoint" || isAPIKeyParam(k) {
			continue
		}
		q[k] = v
	}
	q.Set("apiKey", s.apiKey)
	u.RawQuery = q.Encode()

	return u.String()
}

func (s *MetadataService) filterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range forwardableRequestHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	dst.Set("Accept", "application/json")
	return dst
}

func isAPIKeyParam(k string) bool {
	return strings.EqualFold(k, "apiKey") || strings.EqualFold(k, "api_key")
}

func statusText(resp *model.UpstreamResponse) string {
	if t := http.StatusText(resp.StatusCode); t != "" {
		return t
	}
	return resp.Status
}
