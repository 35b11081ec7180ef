package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9020, cfg.Port)
	assert.Equal(t, 20*time.Second, cfg.AwaitTimeout)
	assert.NotEmpty(t, cfg.Agent.Label)
	assert.NotEmpty(t, cfg.Agent.WalletKey)
}

func TestLoadOverlaysFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backchannel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"port: 8030\nawaitTimeout: 5s\nagent:\n  label: under-test\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8030, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.AwaitTimeout)
	assert.Equal(t, "under-test", cfg.Agent.Label)
	// Fields absent from the file keep their defaults.
	assert.Equal(t, 9021, cfg.Agent.InboundPort)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadMalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [not an int"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}
