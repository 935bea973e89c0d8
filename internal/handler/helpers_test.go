package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"stream-proxy-go/internal/client"
	"stream-proxy-go/internal/config"
	"stream-proxy-go/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns a config whose providers all point at baseURL.
func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Upstream:     config.UpstreamConfig{IdleConnections: 10, UserAgent: "test-agent/1.0"},
		DirectStream: config.DirectStreamConfig{BaseURL: "https://multiembed.mov/directstream.php"},
		Embed: config.EmbedConfig{
			BaseURL:        baseURL,
			TimeoutSeconds: 7,
			MaxBodyBytes:   1 << 20,
			Player: config.PlayerConfig{
				Font: "Poppins", BgColor: "000000", FontColor: "ffffff",
				PrimaryColor: "34cfeb", SecondaryColor: "6900e0",
				Loader: 1, PreferredServer: 11, SourcesToggleType: 2,
			},
		},
		Metadata: config.MetadataConfig{
			BaseURL:        baseURL,
			APIKey:         "server-key",
			TimeoutSeconds: 10,
			MaxBodyBytes:   1 << 20,
		},
		Metrics: config.MetricsConfig{Path: "/metrics"},
	}
}

// newTestRoutes builds every handler against cfg.
func newTestRoutes(t *testing.T, cfg *config.Config) Routes {
	t.Helper()
	logger := discardLogger()
	uc := client.NewUpstreamClient(cfg, logger, nil)

	direct, err := service.NewDirectLinkService(cfg, logger)
	if err != nil {
		t.Fatalf("NewDirectLinkService: %v", err)
	}
	embed, err := service.NewEmbedService(uc, cfg, logger, nil)
	if err != nil {
		t.Fatalf("NewEmbedService: %v", err)
	}
	meta, err := service.NewMetadataService(uc, cfg, logger)
	if err != nil {
		t.Fatalf("NewMetadataService: %v", err)
	}

	return Routes{
		DirectLink: NewDirectLinkHandler(direct, logger),
		Embed:      NewEmbedHandler(embed, logger),
		Metadata:   NewMetadataHandler(meta, logger),
		Health:     NewHealthHandler(cfg, "test"),
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal error body %q: %v", rec.Body.String(), err)
	}
	return body
}
