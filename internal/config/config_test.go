package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, ":60000", cfg.ListenAddr())
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad role", func(c *Config) { c.Role = "host" }, "Role"},
		{"port zero", func(c *Config) { c.Port = 0 }, "Port"},
		{"port too large", func(c *Config) { c.Port = 70000 }, "Port"},
		{"client without host", func(c *Config) { c.Role = RoleClient; c.Host = "" }, "Host"},
		{"bad ws listen", func(c *Config) { c.WSListen = "nope" }, "WSListen"},
		{"bad ws url", func(c *Config) { c.WSURL = "::" }, "WSURL"},
		{"client ok", func(c *Config) { c.Role = RoleClient; c.Host = "localhost" }, ""},
		{"server ws ok", func(c *Config) { c.WSListen = "127.0.0.1:8080" }, ""},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}
