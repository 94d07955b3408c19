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


package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// envVarPattern matches ${VAR} or ${VAR:default}
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// SubstituteEnvVars replaces ${VAR} or ${VAR:default} with environment variable values
func SubstituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		// Extract variable name and default value
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		// Get environment variable
		value := os.Getenv(varName)
		if value == "" {
			return defaultValue
		}
		return value
	})
}

// SubstituteEnvVarsInConfig recursively substitutes ${VAR} references in
// every string field of cfg that is meant to carry secrets or deployment-
// specific values (endpoints, DSNs, regions).
func SubstituteEnvVarsInConfig(cfg *Config) {
	if cfg == nil {
		return
	}

	cfg.Network.Host = SubstituteEnvVars(cfg.Network.Host)
	cfg.Network.PublicEndpoint = SubstituteEnvVars(cfg.Network.PublicEndpoint)
	cfg.Network.Region = SubstituteEnvVars(cfg.Network.Region)

	cfg.Identity.KeyPath = SubstituteEnvVars(cfg.Identity.KeyPath)

	cfg.Bootstrap.ServerURL = SubstituteEnvVars(cfg.Bootstrap.ServerURL)

	cfg.Storage.Type = SubstituteEnvVars(cfg.Storage.Type)
	cfg.Storage.Path = SubstituteEnvVars(cfg.Storage.Path)

	cfg.Logging.Level = SubstituteEnvVars(cfg.Logging.Level)
	cfg.Logging.Format = SubstituteEnvVars(cfg.Logging.Format)
	cfg.Logging.Output = SubstituteEnvVars(cfg.Logging.Output)

	cfg.Metrics.Path = SubstituteEnvVars(cfg.Metrics.Path)
	cfg.Health.Path = SubstituteEnvVars(cfg.Health.Path)
}

// GetEnvironment returns the current environment from VPS_SIGNAL_ENV (falling
// back to the legacy ENVIRONMENT variable), defaulting to "development".
func GetEnvironment() string {
	env := os.Getenv("VPS_SIGNAL_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}

// IsProduction returns true if running in the production environment.
func IsProduction() bool {
	return GetEnvironment() == "production"
}

// IsDevelopment returns true if running in the development or local environment.
func IsDevelopment() bool {
	env := GetEnvironment()
	return env == "development" || env == "local"
}

// ApplyEnvOverrides overlays VPS_SIGNAL_<SECTION>_<FIELD>-style environment
// overrides onto cfg, then substitutes any ${VAR} references left in string
// fields. Only non-empty/non-zero environment values take effect; unset
// fields are left for setDefaults.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VPS_SIGNAL_NETWORK_HOST"); v != "" {
		cfg.Network.Host = v
	}
	if v, ok := intEnv("VPS_SIGNAL_NETWORK_PORT"); ok {
		cfg.Network.Port = v
	}
	if v := os.Getenv("VPS_SIGNAL_NETWORK_PUBLIC_ENDPOINT"); v != "" {
		cfg.Network.PublicEndpoint = v
	}
	if v := os.Getenv("VPS_SIGNAL_NETWORK_REGION"); v != "" {
		cfg.Network.Region = v
	}
	if v := os.Getenv("VPS_SIGNAL_IDENTITY_KEY_PATH"); v != "" {
		cfg.Identity.KeyPath = v
	}
	if v := os.Getenv("VPS_SIGNAL_BOOTSTRAP_SERVER_URL"); v != "" {
		cfg.Bootstrap.ServerURL = v
	}
	if v, ok := durationEnv("VPS_SIGNAL_BOOTSTRAP_HEARTBEAT_INTERVAL"); ok {
		cfg.Bootstrap.HeartbeatInterval = v
	}
	if v := os.Getenv("VPS_SIGNAL_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("VPS_SIGNAL_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("VPS_SIGNAL_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	SubstituteEnvVarsInConfig(cfg)
}

func intEnv(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func durationEnv(name string) (time.Duration, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
