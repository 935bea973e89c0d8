package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	dto "github.com/prometheus/client_model/go"

	"stream-proxy-go/internal/metrics"
	"stream-proxy-go/internal/model"
)

func newTestEmbedService(t *testing.T, upstream *httptest.Server, m *metrics.Metrics) *EmbedService {
	t.Helper()
	cfg := testConfig(upstream.URL + "/")
	svc, err := NewEmbedService(newTestUpstreamClient(cfg, m), cfg, discardLogger(), m)
	if err != nil {
		t.Fatalf("NewEmbedService: %v", err)
	}
	return svc
}

func TestEmbedService_Resolve_OutboundQuery(t *testing.T) {
	var got url.Values
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		http.Redirect(w, r, "https://player.example/x", http.StatusFound)
	}))
	defer upstream.Close()

	svc := newTestEmbedService(t, upstream, nil)
	q := url.Values{"video_id": {"1399"}, "tmdb": {"1"}, "s": {"2"}, "episode": {"5"}, "e": {"9"}}
	if _, err := svc.Resolve(context.Background(), q); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := url.Values{
		"video_id":                   {"1399"},
		"tmdb":                       {"1"},
		"season":                     {"2"},
		"episode":                    {"5"},
		"player_font":                {"Poppins"},
		"player_bg_color":            {"000000"},
		"player_font_color":          {"ffffff"},
		"player_primary_color":       {"34cfeb"},
		"player_secondary_color":     {"6900e0"},
		"player_loader":              {"1"},
		"preferred_server":           {"11"},
		"player_sources_toggle_type": {"2"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("outbound query mismatch (-want +got):\n%s", diff)
	}
}

func TestEmbedService_Resolve_DefaultsSeasonEpisode(t *testing.T) {
	var got url.Values
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		http.Redirect(w, r, "https://player.example/x", http.StatusFound)
	}))
	defer upstream.Close()

	svc := newTestEmbedService(t, upstream, nil)
	if _, err := svc.Resolve(context.Background(), url.Values{"video_id": {"tt0120336"}}); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	for key, want := range map[string]string{"tmdb": "0", "season": "0", "episode": "0"} {
		if got.Get(key) != want {
			t.Errorf("%s = %q, want %q", key, got.Get(key), want)
		}
	}
}

func TestEmbedService_Resolve_Redirect(t *testing.T) {
	tests := []struct {
		name     string
		location string
		autoplay string
		want     string
	}{
		{"no autoplay requested", "https://player.example/x", "", "https://player.example/x"},
		{"autoplay added", "https://player.example/x", "1", "https://player.example/x?autoplay=1"},
		{"autoplay appended to query", "https://player.example/x?id=5", "1", "https://player.example/x?id=5&autoplay=1"},
		{"existing autoplay kept", "https://player.example/x?autoplay=0", "1", "https://player.example/x?autoplay=0"},
		{"autoplay=true is not a request", "https://player.example/x", "true", "https://player.example/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Location", tt.location)
				w.WriteHeader(http.StatusFound)
			}))
			defer upstream.Close()

			svc := newTestEmbedService(t, upstream, nil)
			q := url.Values{"video_id": {"tt1"}}
			if tt.autoplay != "" {
				q.Set("autoplay", tt.autoplay)
			}

			res, err := svc.Resolve(context.Background(), q)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if diff := cmp.Diff(model.Redirect{Location: tt.want}, res); diff != "" {
				t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEmbedService_Resolve_UnparseableLocationPassedThrough(t *testing.T) {
	const location = "https://player.example/%zz"
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Location", location)
		w.WriteHeader(http.StatusFound)
	}))
	defer upstream.Close()

	m := metrics.New()
	svc := newTestEmbedService(t, upstream, m)
	res, err := svc.Resolve(context.Background(), url.Values{"video_id": {"tt1"}, "autoplay": {"1"}})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if diff := cmp.Diff(model.Redirect{Location: location}, res); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
	var pb dto.Metric
	if err := m.AutoplayRewriteFailures.Write(&pb); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := pb.GetCounter().GetValue(); got != 1 {
		t.Errorf("rewrite failures = %v, want 1", got)
	}
}

func TestEmbedService_Resolve_BodyTooLarge(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(strings.Repeat("<p>player</p>", 200)))
	}))
	defer upstream.Close()

	svc := newTestEmbedService(t, upstream, nil)
	svc.maxBody = 1024

	_, err := svc.Resolve(context.Background(), url.Values{"video_id": {"tt1"}})
	if !errors.Is(err, ErrUnexpectedResponse) {
		t.Fatalf("Resolve() error = %v, want ErrUnexpectedResponse", err)
	}
	var re *RequestError
	if !errors.As(err, &re) || re.Message != unexpectedEmbedMessage {
		t.Errorf("error = %v, want message %q", err, unexpectedEmbedMessage)
	}
}

func TestEmbedService_Resolve_TMDBOnlyOne(t *testing.T) {
	tests := []struct {
		tmdb string
		want string
	}{
		{"1", "1"},
		{"true", "0"},
		{"0", "0"},
		{"", "0"},
	}

	for _, tt := range tests {
		t.Run("tmdb="+tt.tmdb, func(t *testing.T) {
			var got string
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.URL.Query().Get("tmdb")
				http.Redirect(w, r, "https://player.example/x", http.StatusFound)
			}))
			defer upstream.Close()

			svc := newTestEmbedService(t, upstream, nil)
			if _, err := svc.Resolve(context.Background(), url.Values{"video_id": {"603"}, "tmdb": {tt.tmdb}}); err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("outbound tmdb = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEmbedService_Resolve_RelativeLocationResolved(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Location", "/player/42")
		w.WriteHeader(http.StatusMovedPermanently)
	}))
	defer upstream.Close()

	svc := newTestEmbedService(t, upstream, nil)
	res, err := svc.Resolve(context.Background(), url.Values{"video_id": {"tt1"}})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := model.Redirect{Location: upstream.URL + "/player/42"}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
}

func TestEmbedService_Resolve_BareURLBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("  https://player.example/bare?v=1\n"))
	}))
	defer upstream.Close()

	svc := newTestEmbedService(t, upstream, nil)
	res, err := svc.Resolve(context.Background(), url.Values{"video_id": {"tt1"}, "autoplay": {"1"}})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := model.Redirect{Location: "https://player.example/bare?v=1&autoplay=1"}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
}

func TestEmbedService_Resolve_InlineHTML(t *testing.T) {
	const page = `<!doctype html><html><body><div id="player">https://cdn.example/v.m3u8</div></body></html>`
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=UTF-8")
		_, _ = w.Write([]byte(page))
	}))
	defer upstream.Close()

	svc := newTestEmbedService(t, upstream, nil)
	res, err := svc.Resolve(context.Background(), url.Values{"video_id": {"tt1"}, "autoplay": {"1"}})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := model.HTMLPage{Body: []byte(page), ContentType: "text/html; charset=UTF-8"}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
}

func TestEmbedService_Resolve_Unexpected(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		location    string
	}{
		{"json body", http.StatusOK, "application/json", ""},
		{"server error html", http.StatusInternalServerError, "text/html", ""},
		{"not found text", http.StatusNotFound, "text/plain", ""},
		{"redirect without location", http.StatusFound, "text/html", ""},
		{"binary", http.StatusOK, "application/octet-stream", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`oops`))
			}))
			defer upstream.Close()

			svc := newTestEmbedService(t, upstream, nil)
			_, err := svc.Resolve(context.Background(), url.Values{"video_id": {"tt1"}})
			if !errors.Is(err, ErrUnexpectedResponse) {
				t.Fatalf("Resolve() error = %v, want ErrUnexpectedResponse", err)
			}
			var re *RequestError
			if errors.As(err, &re) && re.Message != "Failed to retrieve player: Unexpected response from provider." {
				t.Errorf("Message = %q", re.Message)
			}
		})
	}
}

func TestEmbedService_Resolve_Timeout(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	svc := newTestEmbedService(t, upstream, nil)
	svc.timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := svc.Resolve(context.Background(), url.Values{"video_id": {"tt1"}})
	if !errors.Is(err, ErrUpstreamTimeout) {
		t.Fatalf("Resolve() error = %v, want ErrUpstreamTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Resolve() took %v, want bounded by timeout", elapsed)
	}
}

func TestEmbedService_Resolve_ConnectionFailure(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	svc := newTestEmbedService(t, upstream, nil)
	upstream.Close()

	_, err := svc.Resolve(context.Background(), url.Values{"video_id": {"tt1"}})
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("Resolve() error = %v, want ErrInternal", err)
	}
	var re *RequestError
	if errors.As(err, &re) && re.Details == "" {
		t.Error("Details is empty, want the transport error")
	}
}

func TestEmbedService_Resolve_MissingVideoIDNoUpstreamCall(t *testing.T) {
	called := false
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}))
	defer upstream.Close()

	svc := newTestEmbedService(t, upstream, nil)
	_, err := svc.Resolve(context.Background(), url.Values{"video_id": {"  "}})
	if !errors.Is(err, ErrMissingParameter) {
		t.Fatalf("Resolve() error = %v, want ErrMissingParameter", err)
	}
	if called {
		t.Error("upstream was called for an invalid request")
	}
}

func TestEmbedService_ApplyAutoplay_FailureCounted(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	defer upstream.Close()

	m := metrics.New()
	svc := newTestEmbedService(t, upstream, m)

	if got := svc.applyAutoplay("/relative/player"); got != "/relative/player" {
		t.Errorf("applyAutoplay() = %q, want original URL", got)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() == "stream_proxy_autoplay_rewrite_failures_total" {
			if v := f.GetMetric()[0].GetCounter().GetValue(); v != 1 {
				t.Errorf("rewrite failures = %v, want 1", v)
			}
			return
		}
	}
	t.Error("expected stream_proxy_autoplay_rewrite_failures_total")
}

func TestWithAutoplay(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"no query", "https://player.example/x", "https://player.example/x?autoplay=1", false},
		{"existing query", "https://player.example/x?a=1&b=2", "https://player.example/x?a=1&b=2&autoplay=1", false},
		{"already present", "https://player.example/x?autoplay=1", "https://player.example/x?autoplay=1", false},
		{"present with other value", "https://player.example/x?autoplay=0", "https://player.example/x?autoplay=0", false},
		{"fragment kept", "https://player.example/x#t=10", "https://player.example/x?autoplay=1#t=10", false},
		{"relative", "/player/x", "/player/x", true},
		{"garbage", "https://player.example/%zz", "https://player.example/%zz", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := withAutoplay(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("withAutoplay(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("withAutoplay(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestClassifyEmbedResponse(t *testing.T) {
	loc, _ := url.Parse("https://player.example/x")

	tests := []struct {
		name    string
		resp    *model.UpstreamResponse
		want    model.Result
		wantErr error
	}{
		{
			name: "redirect",
			resp: &model.UpstreamResponse{StatusCode: http.StatusFound, Header: http.Header{}, Location: loc},
			want: model.Redirect{Location: "https://player.example/x"},
		},
		{
			name: "unparseable location kept raw",
			resp: &model.UpstreamResponse{StatusCode: http.StatusFound, Header: http.Header{}, RawLocation: "https://player.example/%zz"},
			want: model.Redirect{Location: "https://player.example/%zz"},
		},
		{
			name: "html page",
			resp: &model.UpstreamResponse{
				StatusCode: http.StatusOK,
				Header:     http.Header{"Content-Type": {"text/html"}},
				Body:       []byte("<html>player</html>"),
			},
			want: model.HTMLPage{Body: []byte("<html>player</html>"), ContentType: "text/html"},
		},
		{
			name: "bare url uppercase scheme",
			resp: &model.UpstreamResponse{
				StatusCode: http.StatusOK,
				Header:     http.Header{"Content-Type": {"text/plain"}},
				Body:       []byte("HTTPS://player.example/y"),
			},
			want: model.Redirect{Location: "HTTPS://player.example/y"},
		},
		{
			name: "http body is a page, not a url",
			resp: &model.UpstreamResponse{
				StatusCode: http.StatusOK,
				Header:     http.Header{"Content-Type": {"text/plain"}},
				Body:       []byte("http://player.example/y"),
			},
			want: model.HTMLPage{Body: []byte("http://player.example/y"), ContentType: "text/plain"},
		},
		{
			name: "missing content type",
			resp: &model.UpstreamResponse{
				StatusCode: http.StatusOK,
				Header:     http.Header{},
				Body:       []byte("<html></html>"),
			},
			wantErr: ErrUnexpectedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := classifyEmbedResponse(tt.resp)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("classifyEmbedResponse() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("classifyEmbedResponse() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("classifyEmbedResponse() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
