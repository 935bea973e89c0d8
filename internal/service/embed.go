package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"stream-proxy-go/internal/client"
	"stream-proxy-go/internal/config"
	"stream-proxy-go/internal/metrics"
	"stream-proxy-go/internal/model"
)

const embedProvider = "embed"

const unexpectedEmbedMessage = "Failed to retrieve player: Unexpected response from provider."

// EmbedService resolves styled player URLs from the embed provider.
type EmbedService struct {
	client  *client.UpstreamClient
	baseURL *url.URL
	player  config.PlayerConfig
	timeout time.Duration
	maxBody int64
	logger  *slog.Logger
	metrics *metrics.Metrics

	// rewriteWarn samples autoplay rewrite warnings; the metric counts all of them.
	rewriteWarn rate.Sometimes
}

// NewEmbedService creates an EmbedService. The metrics parameter is optional.
func NewEmbedService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*EmbedService, error) {
	u, err := parseBaseURL("embed", cfg.Embed.BaseURL)
	if err != nil {
		return nil, err
	}
	return &EmbedService{
		client:      c,
		baseURL:     u,
		player:      cfg.Embed.Player,
		timeout:     cfg.Embed.Timeout(),
		maxBody:     cfg.Embed.MaxBodyBytes,
		logger:      logger.With("component", "embed_service"),
		metrics:     m,
		rewriteWarn: rate.Sometimes{First: 10, Interval: time.Minute},
	}, nil
}

// Resolve asks the embed provider for a player and returns either a Redirect
// to it or the player page itself.
//
// The provider answers in one of three shapes: a 3xx to the real player, a
// text body that is just the player URL, or the player HTML inline.
func (s *EmbedService) Resolve(ctx context.Context, query url.Values) (model.Result, error) {
	p, err := parseVideoParams(query, []string{"season", "s"}, []string{"episode", "e"})
	if err != nil {
		return nil, err
	}
	// The embed provider only treats tmdb=1 as a TMDB id.
	p.TMDB = query.Get("tmdb") == "1"

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Fetch(ctx, &model.UpstreamRequest{
		Provider:        embedProvider,
		URL:             s.buildUpstreamURL(p),
		FollowRedirects: false,
		MaxBodyBytes:    s.maxBody,
	})
	if err != nil {
		s.logger.Error("embed provider request failed", "err", SanitizeError(err), "video_id", p.VideoID)
		return nil, upstreamFailure(err, failureMessages{
			Timeout:  "Request to player provider timed out.",
			Failed:   "Internal server error while fetching player.",
			TooLarge: unexpectedEmbedMessage,
		})
	}

	result, err := classifyEmbedResponse(resp)
	if err != nil {
		s.logger.Warn("unexpected embed provider response",
			"status", resp.StatusCode,
			"content_type", resp.ContentType(),
			"video_id", p.VideoID,
		)
		return nil, err
	}

	if r, ok := result.(model.Redirect); ok && p.Autoplay {
		r.Location = s.applyAutoplay(r.Location)
		return r, nil
	}
	return result, nil
}

func (s *EmbedService) buildUpstreamURL(p videoParams) string {
	season, episode := p.Season, p.Episode
	if season == "" {
		season = "0"
	}
	if episode == "" {
		episode = "0"
	}
	tmdb := "0"
	if p.TMDB {
		tmdb = "1"
	}

	u := *s.baseURL
	q := u.Query()
	q.Set("video_id", p.VideoID)
	q.Set("tmdb", tmdb)
	q.Set("season", season)
	q.Set("episode", episode)
	q.Set("player_font", s.player.Font)
	q.Set("player_bg_color", s.player.BgColor)
	q.Set("player_font_color", s.player.FontColor)
	q.Set("player_primary_color", s.player.PrimaryColor)
	q.Set("player_secondary_color", s.player.SecondaryColor)
	q.Set("player_loader", strconv.Itoa(s.player.Loader))
	q.Set("preferred_server", strconv.Itoa(s.player.PreferredServer))
	q.Set("player_sources_toggle_type", strconv.Itoa(s.player.SourcesToggleType))
	u.RawQuery = q.Encode()

	return u.String()
}

// applyAutoplay is withAutoplay with failures logged and counted instead of returned.
func (s *EmbedService) applyAutoplay(raw string) string {
	out, err := withAutoplay(raw)
	if err != nil {
		if s.metrics != nil {
			s.metrics.AutoplayRewriteFailures.Inc()
		}
		s.rewriteWarn.Do(func() {
			s.logger.Warn("autoplay rewrite failed; redirecting to original URL", "err", err)
		})
	}
	return out
}

// classifyEmbedResponse maps a raw provider response to a Redirect, an
// HTMLPage or an ErrUnexpectedResponse RequestError.
func classifyEmbedResponse(resp *model.UpstreamResponse) (model.Result, error) {
	if resp.IsRedirect() {
		// An unparseable Location is passed through unchanged.
		switch {
		case resp.Location != nil:
			return model.Redirect{Location: resp.Location.String()}, nil
		case resp.RawLocation != "":
			return model.Redirect{Location: resp.RawLocation}, nil
		}
	}

	contentType := resp.ContentType()
	if resp.IsSuccess() && isTextContent(contentType) {
		// A body that starts with https:// is taken to be a bare player URL.
		// This can misfire on a page that happens to begin with a link.
		body := strings.TrimSpace(string(resp.Body))
		if strings.HasPrefix(strings.ToLower(body), "https://") {
			return model.Redirect{Location: body}, nil
		}
		return model.HTMLPage{Body: resp.Body, ContentType: contentType}, nil
	}

	return nil, &RequestError{
		Kind:    ErrUnexpectedResponse,
		Message: unexpectedEmbedMessage,
		Details: fmt.Sprintf("status %d, content type %q", resp.StatusCode, contentType),
	}
}

func isTextContent(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "text/plain")
}

var errNotAbsolute = errors.New("player URL is not absolute")

// withAutoplay adds autoplay=1 to raw unless it already has an autoplay
// parameter. On failure it returns raw unchanged together with the error.
func withAutoplay(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return raw, fmt.Errorf("parse player URL: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return raw, fmt.Errorf("%w: %q", errNotAbsolute, raw)
	}
	if u.Query().Has("autoplay") {
		return raw, nil
	}
	if u.RawQuery == "" {
		u.RawQuery = "autoplay=1"
	} else {
		u.RawQuery += "&autoplay=1"
	}
	return u.String(), nil
}
