// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Package config holds the server's configuration schema: network,
// identity, bootstrap, gossip, DHT, storage, client and cleanup
// settings, loaded from a YAML/JSON file with environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for a vps-signal server.
type Config struct {
	Environment string          `yaml:"environment" json:"environment"`
	Network     NetworkConfig   `yaml:"network" json:"network"`
	Identity    IdentityConfig  `yaml:"identity" json:"identity"`
	Bootstrap   BootstrapConfig `yaml:"bootstrap" json:"bootstrap"`
	Gossip      GossipConfig    `yaml:"gossip" json:"gossip"`
	Transport   TransportConfig `yaml:"transport" json:"transport"`
	DHT         DHTConfig       `yaml:"dht" json:"dht"`
	Storage     StorageConfig   `yaml:"storage" json:"storage"`
	Client      ClientConfig    `yaml:"client" json:"client"`
	Cleanup     CleanupConfig   `yaml:"cleanup" json:"cleanup"`
	Logging     LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics     MetricsConfig   `yaml:"metrics" json:"metrics"`
	Health      HealthConfig    `yaml:"health" json:"health"`
}

// NetworkConfig controls where the server listens and how it advertises itself.
type NetworkConfig struct {
	Host           string `yaml:"host" json:"host"`
	Port           int    `yaml:"port" json:"port"`
	PublicEndpoint string `yaml:"public_endpoint" json:"public_endpoint"`
	Region         string `yaml:"region" json:"region"`
}

// IdentityConfig controls where the server's Ed25519 keypair lives.
type IdentityConfig struct {
	KeyPath           string `yaml:"key_path" json:"key_path"`
	EphemeralIDPrefix string `yaml:"ephemeral_id_prefix" json:"ephemeral_id_prefix"`
}

// BootstrapConfig controls registration against the directory service.
type BootstrapConfig struct {
	ServerURL         string        `yaml:"server_url" json:"server_url"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	RetryInterval     time.Duration `yaml:"retry_interval" json:"retry_interval"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"` // 0 = infinite
	RequestTimeout    time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// GossipConfig controls the SWIM-variant failure detector.
type GossipConfig struct {
	Interval              time.Duration `yaml:"interval" json:"interval"`
	ProbeTimeout          time.Duration `yaml:"probe_timeout" json:"probe_timeout"`
	SuspicionTimeout      time.Duration `yaml:"suspicion_timeout" json:"suspicion_timeout"`
	FailureTimeout        time.Duration `yaml:"failure_timeout" json:"failure_timeout"`
	IndirectPingCount     int           `yaml:"indirect_ping_count" json:"indirect_ping_count"`
	StateExchangeInterval time.Duration `yaml:"state_exchange_interval" json:"state_exchange_interval"`
	GCHorizon             time.Duration `yaml:"gc_horizon" json:"gc_horizon"`
}

// TransportConfig controls the signed server-to-server WebSocket link.
type TransportConfig struct {
	HandshakeTimeout      time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`
	PingInterval          time.Duration `yaml:"ping_interval" json:"ping_interval"`
	PongTimeout           time.Duration `yaml:"pong_timeout" json:"pong_timeout"`
	ReconnectBaseInterval time.Duration `yaml:"reconnect_base_interval" json:"reconnect_base_interval"`
	ReconnectMaxInterval  time.Duration `yaml:"reconnect_max_interval" json:"reconnect_max_interval"`
	RPCTimeout            time.Duration `yaml:"rpc_timeout" json:"rpc_timeout"`
}

// DHTConfig controls the consistent hash ring and replication behavior.
type DHTConfig struct {
	ReplicationFactor int `yaml:"replication_factor" json:"replication_factor"`
	WriteQuorum       int `yaml:"write_quorum" json:"write_quorum"`
	ReadQuorum        int `yaml:"read_quorum" json:"read_quorum"`
	VirtualNodes      int `yaml:"virtual_nodes" json:"virtual_nodes"`
}

// StorageConfig selects and configures the durable Store backend.
type StorageConfig struct {
	Type string `yaml:"type" json:"type"` // "memory" or "postgres"
	Path string `yaml:"path" json:"path"` // postgres DSN, or on-disk path for embedded backends
}

// ClientConfig controls the client-facing WebSocket endpoint.
type ClientConfig struct {
	MaxConnectionsPerPeer       int           `yaml:"max_connections_per_peer" json:"max_connections_per_peer"`
	HeartbeatInterval           time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	HeartbeatTimeout            time.Duration `yaml:"heartbeat_timeout" json:"heartbeat_timeout"`
	PairRequestTimeout          time.Duration `yaml:"pair_request_timeout" json:"pair_request_timeout"`
	PairRequestWarningTime      time.Duration `yaml:"pair_request_warning_time" json:"pair_request_warning_time"`
	MaxPendingRequestsPerTarget int           `yaml:"max_pending_requests_per_target" json:"max_pending_requests_per_target"`
	MaxFrameBytes               int           `yaml:"max_frame_bytes" json:"max_frame_bytes"`
	RateLimitPerMinute          int           `yaml:"rate_limit_per_minute" json:"rate_limit_per_minute"`
}

// CleanupConfig controls the Supervisor's periodic expiry sweeps.
type CleanupConfig struct {
	Interval        time.Duration `yaml:"interval" json:"interval"`
	DailyPointTTL   time.Duration `yaml:"daily_point_ttl" json:"daily_point_ttl"`
	HourlyTokenTTL  time.Duration `yaml:"hourly_token_ttl" json:"hourly_token_ttl"`
}

// LoggingConfig controls internal/logger output.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig controls the Prometheus /metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig controls the /health endpoint.
type HealthConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Path    string        `yaml:"path" json:"path"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// LoadFromFile loads configuration from a YAML (or JSON) file and applies defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	ApplyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

// SaveToFile saves configuration to a file, choosing format by extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Default returns a Config populated entirely with defaults (spec §6.5).
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// setDefaults fills in every option named in spec §6.5 that was left unset.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Network.Host == "" {
		cfg.Network.Host = "0.0.0.0"
	}
	if cfg.Network.Port == 0 {
		cfg.Network.Port = 8765
	}

	if cfg.Identity.KeyPath == "" {
		cfg.Identity.KeyPath = ".vps-signal/identity.json"
	}
	if cfg.Identity.EphemeralIDPrefix == "" {
		cfg.Identity.EphemeralIDPrefix = "eph"
	}

	if cfg.Bootstrap.HeartbeatInterval == 0 {
		cfg.Bootstrap.HeartbeatInterval = 60 * time.Second
	}
	if cfg.Bootstrap.RetryInterval == 0 {
		cfg.Bootstrap.RetryInterval = 2 * time.Second
	}
	if cfg.Bootstrap.RequestTimeout == 0 {
		cfg.Bootstrap.RequestTimeout = 10 * time.Second
	}

	if cfg.Gossip.Interval == 0 {
		cfg.Gossip.Interval = 1 * time.Second
	}
	if cfg.Gossip.ProbeTimeout == 0 {
		cfg.Gossip.ProbeTimeout = 1500 * time.Millisecond
	}
	if cfg.Gossip.SuspicionTimeout == 0 {
		cfg.Gossip.SuspicionTimeout = 5 * time.Second
	}
	if cfg.Gossip.FailureTimeout == 0 {
		cfg.Gossip.FailureTimeout = 10 * time.Second
	}
	if cfg.Gossip.IndirectPingCount == 0 {
		cfg.Gossip.IndirectPingCount = 2
	}
	if cfg.Gossip.StateExchangeInterval == 0 {
		cfg.Gossip.StateExchangeInterval = 10 * time.Second
	}
	if cfg.Gossip.GCHorizon == 0 {
		cfg.Gossip.GCHorizon = 24 * time.Hour
	}

	if cfg.Transport.HandshakeTimeout == 0 {
		cfg.Transport.HandshakeTimeout = 8 * time.Second
	}
	if cfg.Transport.PingInterval == 0 {
		cfg.Transport.PingInterval = 30 * time.Second
	}
	if cfg.Transport.PongTimeout == 0 {
		cfg.Transport.PongTimeout = 60 * time.Second
	}
	if cfg.Transport.ReconnectBaseInterval == 0 {
		cfg.Transport.ReconnectBaseInterval = 1 * time.Second
	}
	if cfg.Transport.ReconnectMaxInterval == 0 {
		cfg.Transport.ReconnectMaxInterval = 30 * time.Second
	}
	if cfg.Transport.RPCTimeout == 0 {
		cfg.Transport.RPCTimeout = 5 * time.Second
	}

	if cfg.DHT.ReplicationFactor == 0 {
		cfg.DHT.ReplicationFactor = 3
	}
	if cfg.DHT.WriteQuorum == 0 {
		cfg.DHT.WriteQuorum = 2
	}
	if cfg.DHT.ReadQuorum == 0 {
		cfg.DHT.ReadQuorum = 1
	}
	if cfg.DHT.VirtualNodes == 0 {
		cfg.DHT.VirtualNodes = 150
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "memory"
	}

	if cfg.Client.MaxConnectionsPerPeer == 0 {
		cfg.Client.MaxConnectionsPerPeer = 20
	}
	if cfg.Client.HeartbeatInterval == 0 {
		cfg.Client.HeartbeatInterval = 30 * time.Second
	}
	if cfg.Client.HeartbeatTimeout == 0 {
		cfg.Client.HeartbeatTimeout = 60 * time.Second
	}
	if cfg.Client.PairRequestTimeout == 0 {
		cfg.Client.PairRequestTimeout = 120 * time.Second
	}
	if cfg.Client.PairRequestWarningTime == 0 {
		cfg.Client.PairRequestWarningTime = 30 * time.Second
	}
	if cfg.Client.MaxPendingRequestsPerTarget == 0 {
		cfg.Client.MaxPendingRequestsPerTarget = 10
	}
	if cfg.Client.MaxFrameBytes == 0 {
		cfg.Client.MaxFrameBytes = 64 * 1024
	}
	if cfg.Client.RateLimitPerMinute == 0 {
		cfg.Client.RateLimitPerMinute = 100
	}

	if cfg.Cleanup.Interval == 0 {
		cfg.Cleanup.Interval = 5 * time.Minute
	}
	if cfg.Cleanup.DailyPointTTL == 0 {
		cfg.Cleanup.DailyPointTTL = 48 * time.Hour
	}
	if cfg.Cleanup.HourlyTokenTTL == 0 {
		cfg.Cleanup.HourlyTokenTTL = 3 * time.Hour
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Health.Path == "" {
		cfg.Health.Path = "/health"
	}
	if cfg.Health.Timeout == 0 {
		cfg.Health.Timeout = 5 * time.Second
	}
}

// Validate checks invariants that setDefaults cannot repair on its own.
func Validate(cfg *Config) error {
	if cfg.DHT.WriteQuorum > cfg.DHT.ReplicationFactor {
		return fmt.Errorf("dht.write_quorum (%d) cannot exceed dht.replication_factor (%d)", cfg.DHT.WriteQuorum, cfg.DHT.ReplicationFactor)
	}
	if cfg.DHT.ReadQuorum > cfg.DHT.ReplicationFactor {
		return fmt.Errorf("dht.read_quorum (%d) cannot exceed dht.replication_factor (%d)", cfg.DHT.ReadQuorum, cfg.DHT.ReplicationFactor)
	}
	if cfg.Storage.Type != "memory" && cfg.Storage.Type != "postgres" {
		return fmt.Errorf("storage.type must be \"memory\" or \"postgres\", got %q", cfg.Storage.Type)
	}
	return nil
}
