package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledTelemetryIsInert(t *testing.T) {
	tel, err := New(context.Background(), Config{}, nil)
	require.NoError(t, err)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "disabled needs nothing", cfg: Config{}},
		{name: "enabled defaults are valid", cfg: Config{Enabled: true, Insecure: true}},
		{
			name:    "insecure remote rejected",
			cfg:     Config{Enabled: true, Endpoint: "collector.example.com:4317", Insecure: true},
			wantErr: true,
		},
		{
			name: "secure remote allowed",
			cfg:  Config{Enabled: true, Endpoint: "collector.example.com:4317"},
		},
		{
			name:    "unknown protocol",
			cfg:     Config{Enabled: true, Protocol: "thrift"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.ApplyDefaults()
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, "grpc", cfg.Protocol)
	assert.Equal(t, "retrievald", cfg.ServiceName)
	assert.Equal(t, 15*time.Second, cfg.ExportInterval)
}

func TestIsLocalEndpoint(t *testing.T) {
	assert.True(t, isLocalEndpoint("localhost:4317"))
	assert.True(t, isLocalEndpoint("127.0.0.1:4317"))
	assert.True(t, isLocalEndpoint("[::1]:4317"))
	assert.True(t, isLocalEndpoint("http://localhost:4318"))
	assert.False(t, isLocalEndpoint("collector.example.com:4317"))
	assert.False(t, isLocalEndpoint("10.0.0.5:4317"))
}
