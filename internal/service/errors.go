package service

import (
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"

	"stream-proxy-go/internal/client"
)

// Error kinds. Handlers map each kind to a status code.
var (
	ErrMissingParameter   = errors.New("missing parameter")
	ErrNotConfigured      = errors.New("server not configured")
	ErrUpstreamTimeout    = errors.New("upstream timed out")
	ErrUnexpectedResponse = errors.New("unexpected upstream response")
	ErrInternal           = errors.New("internal error")
)

// maxDetailsLen bounds upstream excerpts returned to clients.
const maxDetailsLen = 200

// apiKeyPattern matches apiKey query parameter values in URLs embedded in error messages.
var apiKeyPattern = regexp.MustCompile(`(?i)(api_?key=)[^&\s"]+`)

// RequestError is a failed request: Kind selects the status code, Message
// and Details are safe to show to the client.
type RequestError struct {
	Kind    error
	Message string
	Details string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RequestError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func missingParameter(msg string) *RequestError {
	return &RequestError{Kind: ErrMissingParameter, Message: msg}
}

// failureMessages are the client-facing messages for one provider's failures.
type failureMessages struct {
	Timeout  string
	Failed   string
	TooLarge string
}

// upstreamFailure classifies a Fetch error. An oversized body is the
// provider's fault and maps to ErrUnexpectedResponse.
func upstreamFailure(err error, msgs failureMessages) *RequestError {
	switch {
	case client.IsTimeout(err):
		return &RequestError{Kind: ErrUpstreamTimeout, Message: msgs.Timeout, Err: err}
	case errors.Is(err, client.ErrBodyTooLarge):
		return &RequestError{Kind: ErrUnexpectedResponse, Message: msgs.TooLarge, Details: SanitizeError(err), Err: err}
	default:
		return &RequestError{Kind: ErrInternal, Message: msgs.Failed, Details: SanitizeError(err), Err: err}
	}
}

// SanitizeError redacts API keys from error messages that may contain upstream URLs.
func SanitizeError(err error) string {
	return apiKeyPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}

// excerpt truncates s to maxDetailsLen runes.
func excerpt(s string) string {
	if utf8.RuneCountInString(s) <= maxDetailsLen {
		return s
	}
	r := []rune(s)
	return string(r[:maxDetailsLen])
}
