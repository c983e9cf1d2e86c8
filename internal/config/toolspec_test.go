package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadToolSpecResolvesInputs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tool.yaml")
	err := os.WriteFile(path, []byte("command: echo-server\nargs:\n  - \"--token=${input:TOKEN}\"\n"), 0o644)
	require.NoError(t, err)

	env := map[string]string{"INPUT_TOKEN": "secret"}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	spec, err := LoadToolSpec(path, lookup)
	require.NoError(t, err)
	assert.Equal(t, "echo-server", spec.Command)
	assert.Equal(t, []string{"--token=secret"}, spec.Args)
}

func TestLoadToolSpecFailsOnMissingCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tool.yaml")
	require.NoError(t, os.WriteFile(path, []byte("args: []\n"), 0o644))

	_, err := LoadToolSpec(path, EnvLookup())
	require.Error(t, err)
}

func TestLoadToolSpecFailsOnUnresolvedInput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tool.yaml")
	require.NoError(t, os.WriteFile(path, []byte("command: foo\nargs: [\"${input:NOPE}\"]\n"), 0o644))

	_, err := LoadToolSpec(path, func(string) (string, bool) { return "", false })
	require.Error(t, err)
}
