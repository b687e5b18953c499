package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"
)

func TestConfig_Getters(t *testing.T) {
	t.Parallel()

	empty := &Config{}
	assert.Equal(t, DefaultServiceName, empty.GetServiceName())
	assert.Equal(t, "unknown", empty.GetServiceVersion())
	assert.Equal(t, DefaultEndpoint, empty.GetEndpoint())
	assert.False(t, empty.GetInsecure())

	set := &Config{
		ServiceName:    "bimsync-staging",
		ServiceVersion: "1.2.3",
		Endpoint:       "collector.example.com:4318",
		Insecure:       true,
	}
	assert.Equal(t, "bimsync-staging", set.GetServiceName())
	assert.Equal(t, "1.2.3", set.GetServiceVersion())
	assert.Equal(t, "collector.example.com:4318", set.GetEndpoint())
	assert.True(t, set.GetInsecure())
}

func TestTracingConfig_GetSampling(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		sampling *float64
		expected float64
	}{
		{name: "default when unset", sampling: nil, expected: DefaultSampling},
		{name: "explicit value", sampling: ptr.To(0.5), expected: 0.5},
		{name: "explicit zero is kept", sampling: ptr.To(0.0), expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &TracingConfig{Enabled: true, Sampling: tt.sampling}
			assert.Equal(t, tt.expected, cfg.GetSampling())
		})
	}
}

func TestMetricsConfig_GetInterval(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultMetricsInterval, (&MetricsConfig{}).GetInterval())
	assert.Equal(t, 15*time.Second, (&MetricsConfig{Interval: "15s"}).GetInterval())
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		config *Config
		errMsg string
	}{
		{name: "nil config is valid", config: nil},
		{name: "disabled config is not validated", config: &Config{
			Tracing: &TracingConfig{Enabled: true, Sampling: ptr.To(5.0)},
		}},
		{name: "enabled without signals is valid", config: &Config{Enabled: true}},
		{name: "valid full config", config: &Config{
			Enabled:  true,
			Endpoint: "localhost:4318",
			Insecure: true,
			Tracing:  &TracingConfig{Enabled: true, Sampling: ptr.To(1.0)},
			Metrics:  &MetricsConfig{Enabled: true, Prometheus: true, Interval: "30s"},
		}},
		{name: "disabled tracing is not validated", config: &Config{
			Enabled: true,
			Tracing: &TracingConfig{Enabled: false, Sampling: ptr.To(-1.0)},
		}},
		{name: "sampling above one", config: &Config{
			Enabled: true,
			Tracing: &TracingConfig{Enabled: true, Sampling: ptr.To(1.1)},
		}, errMsg: "tracing: sampling must be between 0.0 and 1.0"},
		{name: "negative sampling", config: &Config{
			Enabled: true,
			Tracing: &TracingConfig{Enabled: true, Sampling: ptr.To(-0.1)},
		}, errMsg: "sampling must be between 0.0 and 1.0"},
		{name: "no metrics export path", config: &Config{
			Enabled: true,
			Metrics: &MetricsConfig{Enabled: true, DisableOTLP: true},
		}, errMsg: "metrics: at least one of OTLP or Prometheus export must be enabled"},
		{name: "bad interval", config: &Config{
			Enabled: true,
			Metrics: &MetricsConfig{Enabled: true, Interval: "often"},
		}, errMsg: `invalid interval "often"`},
		{name: "non-positive interval", config: &Config{
			Enabled: true,
			Metrics: &MetricsConfig{Enabled: true, Interval: "0s"},
		}, errMsg: "interval must be positive"},
		{name: "errors are joined", config: &Config{
			Enabled: true,
			Tracing: &TracingConfig{Enabled: true, Sampling: ptr.To(2.0)},
			Metrics: &MetricsConfig{Enabled: true, Interval: "-1s"},
		}, errMsg: "interval must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.config.Validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
