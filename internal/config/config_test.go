package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 1<<20, cfg.Limits.MaxBufferSize)
	assert.Equal(t, 100, cfg.Limits.MaxSubscribers)
	assert.False(t, cfg.Process.LazyStart)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_SUBSCRIBERS", "5")
	t.Setenv("LAZY_START", "true")
	t.Setenv("RESTART_BACKOFF_BASE", "250")

	cfg := LoadConfig()
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Limits.MaxSubscribers)
	assert.True(t, cfg.Process.LazyStart)
	assert.Equal(t, 250*time.Millisecond, cfg.Process.RestartBackoffBase)
}

func TestLoadConfigIgnoresUnparsableValues(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	cfg := LoadConfig()
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestResolveInputsPrefersInputPrefix(t *testing.T) {
	env := map[string]string{
		"INPUT_API_KEY": "from-input-prefix",
		"API_KEY":       "from-bare-name",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	resolved, err := ResolveInputs([]string{"--key=${input:API_KEY}"}, lookup)
	require.NoError(t, err)
	assert.Equal(t, []string{"--key=from-input-prefix"}, resolved)
}

func TestResolveInputsFallsBackToBareName(t *testing.T) {
	env := map[string]string{"API_KEY": "from-bare-name"}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	resolved, err := ResolveInputs([]string{"${input:API_KEY}"}, lookup)
	require.NoError(t, err)
	assert.Equal(t, []string{"from-bare-name"}, resolved)
}

func TestResolveInputsFallsBackToDeclaredDefault(t *testing.T) {
	lookup := func(string) (string, bool) { return "", false }

	resolved, err := ResolveInputs([]string{"${input:REGION:us-east-1}"}, lookup)
	require.NoError(t, err)
	assert.Equal(t, []string{"us-east-1"}, resolved)
}

func TestResolveInputsFailsWhenUnresolvable(t *testing.T) {
	lookup := func(string) (string, bool) { return "", false }

	_, err := ResolveInputs([]string{"${input:MISSING}"}, lookup)
	require.Error(t, err)
}

func TestResolveInputsMultipleTokensInOneArg(t *testing.T) {
	env := map[string]string{"HOST": "example.com", "PORT": "443"}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	resolved, err := ResolveInputs([]string{"${input:HOST}:${input:PORT}"}, lookup)
	require.NoError(t, err)
	assert.Equal(t, []string{"example.com:443"}, resolved)
}
