package observability

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const textfileDirPerm = 0o750

// NewPrometheusReader returns a metric reader bridging OTel instruments into
// a fresh Prometheus registry. Each call creates an independent registry so
// repeated runs in one process never collide.
func NewPrometheusReader() (*prometheus.Registry, sdkmetric.Reader, error) {
	registry := prometheus.NewRegistry()

	exporter, err := promexporter.New(
		promexporter.WithRegisterer(registry),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	return registry, exporter, nil
}

// WriteTextfile writes the registry in the Prometheus text format to path,
// the layout node_exporter's textfile collector picks up.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	mkErr := os.MkdirAll(filepath.Dir(path), textfileDirPerm)
	if mkErr != nil {
		return fmt.Errorf("create metrics dir: %w", mkErr)
	}

	err := prometheus.WriteToTextfile(path, g)
	if err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}

	return nil
}
