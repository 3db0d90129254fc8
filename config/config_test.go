package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "browserfleet", cfg.Application)
	require.Equal(t, 2, cfg.Pool.Min)
	require.Equal(t, "playwright", cfg.Pool.Driver)
	require.NotEmpty(t, cfg.Logger.HostName)
}

func TestValidateRejectsBadPoolBounds(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Pool.Max = 1
	cfg.Pool.Min = 5
	err = cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsUnknownProxyStrategy(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Proxy.Strategy = "sticky-random-ish"
	require.Error(t, cfg.Validate())
}

func TestValidateRequiresMongoURIWhenBackendIsMongo(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Registry.Backend = "mongo"
	cfg.Registry.MongoURI = ""
	require.Error(t, cfg.Validate())
}
