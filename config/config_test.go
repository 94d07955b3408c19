package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultAppliesSpecDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "0.0.0.0", cfg.Network.Host)
	assert.Equal(t, 1*time.Second, cfg.Gossip.Interval)
	assert.Equal(t, 2, cfg.Gossip.IndirectPingCount)
	assert.Equal(t, 3, cfg.DHT.ReplicationFactor)
	assert.Equal(t, 2, cfg.DHT.WriteQuorum)
	assert.Equal(t, 1, cfg.DHT.ReadQuorum)
	assert.Equal(t, 150, cfg.DHT.VirtualNodes)
	assert.Equal(t, 20, cfg.Client.MaxConnectionsPerPeer)
	assert.Equal(t, 120*time.Second, cfg.Client.PairRequestTimeout)
	assert.Equal(t, 64*1024, cfg.Client.MaxFrameBytes)
	assert.Equal(t, 5*time.Minute, cfg.Cleanup.Interval)
	assert.Equal(t, 48*time.Hour, cfg.Cleanup.DailyPointTTL)
	assert.Equal(t, 3*time.Hour, cfg.Cleanup.HourlyTokenTTL)
	assert.NoError(t, Validate(cfg))
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Network.Port = 9100
	cfg.Network.Region = "us-east"

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, SaveToFile(cfg, path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, loaded.Network.Port)
	assert.Equal(t, "us-east", loaded.Network.Region)
}

func TestSaveAndLoadJSONRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Network.Port = 9200

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, SaveToFile(cfg, path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9200, loaded.Network.Port)
}

func TestValidateRejectsQuorumBiggerThanReplication(t *testing.T) {
	cfg := Default()
	cfg.DHT.WriteQuorum = 5
	cfg.DHT.ReplicationFactor = 3

	err := Validate(cfg)
	require.Error(t, err)
}

func TestValidateRejectsUnknownStorageType(t *testing.T) {
	cfg := Default()
	cfg.Storage.Type = "redis"

	err := Validate(cfg)
	require.Error(t, err)
}

func TestLoadFallsBackToDefaultsWhenNoFileExists(t *testing.T) {
	cfg, err := Load(LoaderOptions{ConfigDir: filepath.Join(t.TempDir(), "nope")})
	require.NoError(t, err)
	assert.Equal(t, 8765, cfg.Network.Port)
}
