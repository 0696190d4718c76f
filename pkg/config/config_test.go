package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 46139, cfg.Listener.BasePort)
	assert.Equal(t, "127.0.0.1", cfg.Listener.Host)
	assert.Equal(t, "process", cfg.Discovery.Mode)
	assert.Equal(t, 4, cfg.Discovery.PortMultiplier)
	assert.Equal(t, time.Second, cfg.Timeouts.Liveness)
	assert.Equal(t, 9*time.Second, cfg.Timeouts.Call)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.RaceYield)
	assert.Equal(t, 10*time.Second, cfg.Quiesce.GracePeriod)
	assert.Empty(t, cfg.Gateway.Addr)
}

func TestConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listener:
  base_port: 50000
discovery:
  mode: registry
timeouts:
  race_yield: 3s
`), 0644))
	t.Setenv("SOLO_TIMEOUTS_CALL", "2s")
	t.Setenv("SOLO_GATEWAY_ADDR", "127.0.0.1:9100")

	v := viper.New()
	require.NoError(t, Init(v, path))

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 50000, cfg.Listener.BasePort)
	assert.Equal(t, "registry", cfg.Discovery.Mode)
	assert.Equal(t, 3*time.Second, cfg.Timeouts.RaceYield)
	assert.Equal(t, 2*time.Second, cfg.Timeouts.Call)
	assert.Equal(t, "127.0.0.1:9100", cfg.Gateway.Addr)

	nc := cfg.NodeConfig(nil)
	assert.Equal(t, 50000, nc.Listener.BasePort)
	assert.Equal(t, 2*time.Second, nc.Dialer.CallTimeout)
	assert.Equal(t, 3*time.Second, nc.Resolver.RaceYieldAfter)
}

func TestMissingExplicitConfigFails(t *testing.T) {
	v := viper.New()
	assert.Error(t, Init(v, filepath.Join(t.TempDir(), "nope.yaml")))
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Discovery.Mode = "multicast"
	cfg.Timeouts.Call = 0
	cfg.Log.Level = "loud"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discovery.mode")
	assert.Contains(t, err.Error(), "timeouts.call")
	assert.Contains(t, err.Error(), "log.level")
}
