package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regbus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend: mcp2221
address: 0x5c
frequency: 400000
standard_core: true
mcp2221:
  index: 1
`), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendMCP2221, cfg.Backend)
	assert.Equal(t, uint8(0x5C), cfg.Address)
	assert.Equal(t, uint32(400_000), cfg.Frequency)
	assert.True(t, cfg.StandardCore)
	assert.Equal(t, 1, cfg.MCP2221.Index)
	// untouched keys keep their defaults
	assert.Equal(t, 50, cfg.MCP2221.ResponseWaitMs)
	assert.Equal(t, -1, cfg.Gobot.Bus)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"backend":   "backend: spi\n",
		"address":   "address: 0x80\n",
		"frequency": "frequency: 0\n",
		"syntax":    "backend: [\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "regbus.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
