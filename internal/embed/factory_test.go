package embed

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Factory Environment Variable Tests
// ============================================================================

func TestNewEmbedder_OllamaTimeoutEnvVar(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     time.Duration
	}{
		{
			name:     "valid duration seconds",
			envValue: "120s",
			want:     120 * time.Second,
		},
		{
			name:     "valid duration minutes",
			envValue: "5m",
			want:     5 * time.Minute,
		},
		{
			name:     "invalid duration uses default",
			envValue: "invalid",
			want:     DefaultTimeout,
		},
		{
			name:     "empty uses default",
			envValue: "",
			want:     DefaultTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := os.Getenv("BRAINSHAPE_OLLAMA_TIMEOUT")
			defer os.Setenv("BRAINSHAPE_OLLAMA_TIMEOUT", orig)

			if tt.envValue != "" {
				os.Setenv("BRAINSHAPE_OLLAMA_TIMEOUT", tt.envValue)
			} else {
				os.Unsetenv("BRAINSHAPE_OLLAMA_TIMEOUT")
			}

			cfg := DefaultOllamaConfig()
			if timeoutStr := os.Getenv("BRAINSHAPE_OLLAMA_TIMEOUT"); timeoutStr != "" {
				if timeout, err := time.ParseDuration(timeoutStr); err == nil {
					cfg.Timeout = timeout
				}
			}

			assert.Equal(t, tt.want, cfg.Timeout)
		})
	}
}

func TestDefaultTimeout_IsSixtySeconds(t *testing.T) {
	assert.Equal(t, 60*time.Second, DefaultTimeout)
}

func TestNewEmbedder_StaticProvider_DoesNotNeedTimeout(t *testing.T) {
	ctx := context.Background()
	embedder, err := NewEmbedder(ctx, ProviderStatic, "")
	require.NoError(t, err)
	defer embedder.Close()

	assert.Equal(t, "static768", embedder.ModelName())
	assert.True(t, embedder.Available(ctx))
}

// ============================================================================
// Thermal Config Tests
// ============================================================================

func TestSetThermalConfig_AppliesConfigFileSettings(t *testing.T) {
	origConfig := globalThermalConfig
	defer func() { globalThermalConfig = origConfig }()

	cfg := ThermalConfig{
		InterBatchDelay:        500 * time.Millisecond,
		TimeoutProgression:     2.0,
		RetryTimeoutMultiplier: 1.5,
	}

	SetThermalConfig(cfg)

	assert.Equal(t, 500*time.Millisecond, globalThermalConfig.InterBatchDelay)
	assert.Equal(t, 2.0, globalThermalConfig.TimeoutProgression)
	assert.Equal(t, 1.5, globalThermalConfig.RetryTimeoutMultiplier)
}

func TestSetThermalConfig_EnvVarsOverrideConfigFile(t *testing.T) {
	origDelay := os.Getenv("BRAINSHAPE_INTER_BATCH_DELAY")
	origProg := os.Getenv("BRAINSHAPE_TIMEOUT_PROGRESSION")
	origRetry := os.Getenv("BRAINSHAPE_RETRY_TIMEOUT_MULTIPLIER")
	defer func() {
		os.Setenv("BRAINSHAPE_INTER_BATCH_DELAY", origDelay)
		os.Setenv("BRAINSHAPE_TIMEOUT_PROGRESSION", origProg)
		os.Setenv("BRAINSHAPE_RETRY_TIMEOUT_MULTIPLIER", origRetry)
	}()

	origConfig := globalThermalConfig
	defer func() { globalThermalConfig = origConfig }()

	SetThermalConfig(ThermalConfig{
		InterBatchDelay:        200 * time.Millisecond,
		TimeoutProgression:     1.5,
		RetryTimeoutMultiplier: 1.2,
	})

	os.Setenv("BRAINSHAPE_INTER_BATCH_DELAY", "1s")
	os.Setenv("BRAINSHAPE_TIMEOUT_PROGRESSION", "2.5")
	os.Setenv("BRAINSHAPE_RETRY_TIMEOUT_MULTIPLIER", "1.8")

	cfg := DefaultOllamaConfig()

	if globalThermalConfig.InterBatchDelay > 0 {
		cfg.InterBatchDelay = globalThermalConfig.InterBatchDelay
	}
	if globalThermalConfig.TimeoutProgression >= 1.0 {
		cfg.TimeoutProgression = globalThermalConfig.TimeoutProgression
	}
	if globalThermalConfig.RetryTimeoutMultiplier >= 1.0 {
		cfg.RetryTimeoutMultiplier = globalThermalConfig.RetryTimeoutMultiplier
	}

	if delayStr := os.Getenv("BRAINSHAPE_INTER_BATCH_DELAY"); delayStr != "" {
		if delay, err := time.ParseDuration(delayStr); err == nil {
			cfg.InterBatchDelay = delay
		}
	}
	if progStr := os.Getenv("BRAINSHAPE_TIMEOUT_PROGRESSION"); progStr != "" {
		if prog, err := parseFloat64(progStr); err == nil {
			cfg.TimeoutProgression = prog
		}
	}
	if retryStr := os.Getenv("BRAINSHAPE_RETRY_TIMEOUT_MULTIPLIER"); retryStr != "" {
		if mult, err := parseFloat64(retryStr); err == nil {
			cfg.RetryTimeoutMultiplier = mult
		}
	}

	assert.Equal(t, 1*time.Second, cfg.InterBatchDelay, "env var should override config file")
	assert.Equal(t, 2.5, cfg.TimeoutProgression, "env var should override config file")
	assert.Equal(t, 1.8, cfg.RetryTimeoutMultiplier, "env var should override config file")
}

func TestDefaultTimeouts_IncreasedForThermalThrottling(t *testing.T) {
	assert.Equal(t, 120*time.Second, DefaultWarmTimeout)
	assert.Equal(t, 180*time.Second, DefaultColdTimeout)
}

// ============================================================================
// Explicit Embedder Selection Tests (No Silent Fallback)
// ============================================================================

func TestNewEmbedder_ExplicitOllama_OllamaUnavailable_ReturnsError(t *testing.T) {
	origEmbedder := os.Getenv("BRAINSHAPE_EMBEDDER")
	origHost := os.Getenv("BRAINSHAPE_OLLAMA_HOST")
	defer func() {
		os.Setenv("BRAINSHAPE_EMBEDDER", origEmbedder)
		os.Setenv("BRAINSHAPE_OLLAMA_HOST", origHost)
	}()

	os.Setenv("BRAINSHAPE_EMBEDDER", "ollama")
	os.Setenv("BRAINSHAPE_OLLAMA_HOST", "http://localhost:59999")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	embedder, err := NewEmbedder(ctx, ProviderOllama, "")

	require.Error(t, err, "explicit embedder should error when unavailable, not fallback")
	assert.Nil(t, embedder)
	assert.Contains(t, err.Error(), "ollama unavailable")
}

func TestNewEmbedder_AutoDetect_OllamaFails_ReturnsError(t *testing.T) {
	origEmbedder := os.Getenv("BRAINSHAPE_EMBEDDER")
	origHost := os.Getenv("BRAINSHAPE_OLLAMA_HOST")
	defer func() {
		os.Setenv("BRAINSHAPE_EMBEDDER", origEmbedder)
		os.Setenv("BRAINSHAPE_OLLAMA_HOST", origHost)
	}()

	os.Unsetenv("BRAINSHAPE_EMBEDDER")
	os.Setenv("BRAINSHAPE_OLLAMA_HOST", "http://localhost:59999")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	embedder, err := NewEmbedder(ctx, ProviderOllama, "")

	require.Error(t, err, "auto-detect should error when embedder unavailable")
	assert.Nil(t, embedder)
	assert.Contains(t, err.Error(), "ollama unavailable")
	assert.Contains(t, err.Error(), "ollama serve")
}

func TestNewEmbedder_ExplicitStatic_AlwaysSucceeds(t *testing.T) {
	origEmbedder := os.Getenv("BRAINSHAPE_EMBEDDER")
	defer os.Setenv("BRAINSHAPE_EMBEDDER", origEmbedder)

	os.Setenv("BRAINSHAPE_EMBEDDER", "static")

	ctx := context.Background()

	embedder, err := NewEmbedder(ctx, ProviderOllama, "")

	require.NoError(t, err)
	require.NotNil(t, embedder)
	defer func() { _ = embedder.Close() }()
	assert.Equal(t, "static768", embedder.ModelName())
}

func TestParseProvider(t *testing.T) {
	assert.Equal(t, ProviderStatic, ParseProvider("static"))
	assert.Equal(t, ProviderOllama, ParseProvider("ollama"))
	assert.Equal(t, ProviderOllama, ParseProvider("unknown"))
	assert.Equal(t, ProviderOllama, ParseProvider(""))
}

func TestIsValidProvider(t *testing.T) {
	assert.True(t, IsValidProvider("ollama"))
	assert.True(t, IsValidProvider("static"))
	assert.False(t, IsValidProvider("mlx"))
	assert.False(t, IsValidProvider("bogus"))
}
