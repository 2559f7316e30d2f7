package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nenrikson/spvnode/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "node.conf")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, "testnet-seed.bitcoin.jonasschnelli.ch\n18333\n1700000000\n")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "testnet-seed.bitcoin.jonasschnelli.ch", cfg.Seed)
	require.Equal(t, uint16(18333), cfg.Port)
	require.Equal(t, uint32(1700000000), cfg.StartTimestamp)
}

func TestLoadDefaultsPortOnBadLine(t *testing.T) {
	path := writeConfig(t, "seed.example.com\nnot-a-port\n0\n")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, uint16(config.DefaultPort), cfg.Port)
}

func TestLoadMissingSeed(t *testing.T) {
	path := writeConfig(t, "\n18333\n0\n")
	_, err := config.Load(path)
	require.Error(t, err, "expected error for missing seed hostname")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.conf"))
	require.Error(t, err, "expected error for missing file")
}
