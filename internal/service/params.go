// Package service implements the request translation for each provider:
// query extraction, outbound URL construction and response interpretation.
package service

import (
	"fmt"
	"net/url"
	"strings"
)

// videoParams are the identification parameters shared by the player routes.
type videoParams struct {
	VideoID  string
	TMDB     bool
	Season   string
	Episode  string
	Autoplay bool
}

// parseVideoParams extracts identification parameters from the inbound query.
// seasonKeys and episodeKeys are checked in order; the first non-blank value wins.
func parseVideoParams(q url.Values, seasonKeys, episodeKeys []string) (videoParams, error) {
	p := videoParams{
		VideoID:  strings.TrimSpace(q.Get("video_id")),
		TMDB:     isTruthy(q.Get("tmdb")),
		Season:   firstParam(q, seasonKeys...),
		Episode:  firstParam(q, episodeKeys...),
		Autoplay: q.Get("autoplay") == "1",
	}
	if p.VideoID == "" {
		return p, missingParameter("Missing video_id parameter.")
	}
	return p, nil
}

// firstParam returns the first non-blank value among keys, trimmed.
func firstParam(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

func isTruthy(v string) bool {
	return v == "1" || strings.EqualFold(v, "true")
}

func parseBaseURL(name, raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s base_url: %w", name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s base_url %q is not absolute", name, raw)
	}
	return u, nil
}
