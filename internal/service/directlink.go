package service

import (
	"log/slog"
	"net/url"

	"stream-proxy-go/internal/config"
	"stream-proxy-go/internal/model"
)

// DirectLinkService builds redirects to the direct-stream player.
// It never calls the provider; the browser follows the redirect.
type DirectLinkService struct {
	baseURL *url.URL
	logger  *slog.Logger
}

// NewDirectLinkService creates a DirectLinkService.
func NewDirectLinkService(cfg *config.Config, logger *slog.Logger) (*DirectLinkService, error) {
	u, err := parseBaseURL("direct_stream", cfg.DirectStream.BaseURL)
	if err != nil {
		return nil, err
	}
	return &DirectLinkService{
		baseURL: u,
		logger:  logger.With("component", "direct_link_service"),
	}, nil
}

// Resolve returns a Redirect to the direct-stream player for the query.
// Season and episode are sent only when supplied; autoplay is accepted
// but the provider has no parameter for it.
func (s *DirectLinkService) Resolve(query url.Values) (model.Result, error) {
	p, err := parseVideoParams(query, []string{"s", "season"}, []string{"e", "episode"})
	if err != nil {
		return nil, err
	}

	u := *s.baseURL
	q := u.Query()
	q.Set("video_id", p.VideoID)
	if p.TMDB {
		q.Set("tmdb", "1")
	}
	if p.Season != "" {
		q.Set("s", p.Season)
	}
	if p.Episode != "" {
		q.Set("e", p.Episode)
	}
	u.RawQuery = q.Encode()

	s.logger.Debug("direct stream redirect", "video_id", p.VideoID, "tmdb", p.TMDB)

	return model.Redirect{Location: u.String()}, nil
}
