package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubstituteEnvVarsUsesDefaultWhenUnset(t *testing.T) {
	t.Setenv("VPS_SIGNAL_TEST_UNSET_VAR", "")
	got := SubstituteEnvVars("postgres://${VPS_SIGNAL_TEST_UNSET_VAR:localhost}/db")
	assert.Equal(t, "postgres://localhost/db", got)
}

func TestSubstituteEnvVarsUsesEnvValue(t *testing.T) {
	t.Setenv("VPS_SIGNAL_TEST_VAR", "db.internal")
	got := SubstituteEnvVars("postgres://${VPS_SIGNAL_TEST_VAR:localhost}/db")
	assert.Equal(t, "postgres://db.internal/db", got)
}

func TestApplyEnvOverridesNetworkPort(t *testing.T) {
	t.Setenv("VPS_SIGNAL_NETWORK_PORT", "9999")
	cfg := Default()
	ApplyEnvOverrides(cfg)
	assert.Equal(t, 9999, cfg.Network.Port)
}

func TestGetEnvironmentDefaultsToDevelopment(t *testing.T) {
	t.Setenv("VPS_SIGNAL_ENV", "")
	t.Setenv("ENVIRONMENT", "")
	assert.Equal(t, "development", GetEnvironment())
}
