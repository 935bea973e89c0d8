// Package model defines shared types for the proxy.
package model

import (
	"encoding/json"
	"net/http"
	"net/url"
)

// Result is the interpreted outcome of a proxied request. It is one of
// Redirect, HTMLPage, JSONBody or ErrorBody.
type Result interface {
	isResult()
}

// Redirect sends the client to Location with a 302.
type Redirect struct {
	Location string
}

// HTMLPage is a player page served verbatim.
type HTMLPage struct {
	Body        []byte
	ContentType string
}

// JSONBody is a JSON document relayed with StatusCode.
type JSONBody struct {
	StatusCode int
	Value      json.RawMessage
}

// ErrorBody is a normalized error relayed with StatusCode.
type ErrorBody struct {
	StatusCode int
	Message    string
	Details    string
}

func (Redirect) isResult()  {}
func (HTMLPage) isResult()  {}
func (JSONBody) isResult()  {}
func (ErrorBody) isResult() {}

// UpstreamRequest describes a single outbound GET.
type UpstreamRequest struct {
	Provider string
	URL      string
	Header   http.Header
	// FollowRedirects is false when the caller needs to see 3xx responses.
	FollowRedirects bool
	// MaxBodyBytes caps how much of the response body is read; 0 means no cap.
	MaxBodyBytes int64
}

// UpstreamResponse is a fully read upstream response.
type UpstreamResponse struct {
	StatusCode int
	Status     string
	Header     http.Header
	// RawLocation is the Location header as sent.
	RawLocation string
	// Location is RawLocation resolved against the request URL, nil when
	// absent or unparseable.
	Location *url.URL
	Body     []byte
}

// ContentType returns the response Content-Type header.
func (r *UpstreamResponse) ContentType() string {
	return r.Header.Get("Content-Type")
}

// IsSuccess reports whether the status is 2xx.
func (r *UpstreamResponse) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsRedirect reports whether the status is 3xx.
func (r *UpstreamResponse) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400
}
