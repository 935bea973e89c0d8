package service

import (
	"io"
	"log/slog"

	"stream-proxy-go/internal/client"
	"stream-proxy-go/internal/config"
	"stream-proxy-go/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns a config whose providers all point at baseURL.
func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Upstream:     config.UpstreamConfig{IdleConnections: 10, UserAgent: "test-agent/1.0"},
		DirectStream: config.DirectStreamConfig{BaseURL: baseURL},
		Embed: config.EmbedConfig{
			BaseURL:        baseURL,
			TimeoutSeconds: 7,
			MaxBodyBytes:   1 << 20,
			Player: config.PlayerConfig{
				Font:              "Poppins",
				BgColor:           "000000",
				FontColor:         "ffffff",
				PrimaryColor:      "34cfeb",
				SecondaryColor:    "6900e0",
				Loader:            1,
				PreferredServer:   11,
				SourcesToggleType: 2,
			},
		},
		Metadata: config.MetadataConfig{
			BaseURL:        baseURL,
			APIKey:         "server-key",
			TimeoutSeconds: 10,
			MaxBodyBytes:   1 << 20,
		},
	}
}

func newTestUpstreamClient(cfg *config.Config, m *metrics.Metrics) *client.UpstreamClient {
	return client.NewUpstreamClient(cfg, discardLogger(), m)
}
