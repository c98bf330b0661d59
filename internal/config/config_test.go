package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-ksef/pkg/message"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ksef.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileWithExpansion(t *testing.T) {
	t.Setenv("TEST_P12_PASSWORD", "s3cret")
	path := writeConfig(t, `
environment: demo
context:
  type: Nip
  value: "5265877635"
signing:
  mode: pkcs12
  signingTimeOffset: 5m
  pkcs12:
    file: /etc/ksef/seal.p12
    password: ${TEST_P12_PASSWORD}
session:
  pollAttempts: 12
  terminalCodes: [200, 440]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.Environment)
	assert.Equal(t, "5265877635", cfg.Context.Value)
	assert.Equal(t, "s3cret", cfg.Signing.PKCS12.Password)
	assert.Equal(t, 5*time.Minute, cfg.Signing.SigningTimeOffset)
	assert.Equal(t, 12, cfg.Session.PollAttempts)
	assert.Equal(t, []int{200, 440}, cfg.Session.TerminalCodes)
	require.NoError(t, cfg.Signing.Validate())

	// defaults
	assert.Equal(t, 1200*time.Millisecond, cfg.Auth.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Auth.MaxWait)
	assert.Equal(t, "none", cfg.Storage.Type)
	assert.Equal(t, "certificateSubject", cfg.SubjectIdentifierType)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("KSEF_ENVIRONMENT", "production")
	t.Setenv("KSEF_NIP", "5265877635")
	t.Setenv("KSEF_CERT_FILE", "/tmp/seal.crt")
	t.Setenv("KSEF_KEY_FILE", "/tmp/seal.key")
	t.Setenv("KSEF_TIMEOUT", "45s")
	t.Setenv("KSEF_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, "environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "Nip", cfg.Context.Type)
	assert.Equal(t, "5265877635", cfg.Context.Value)
	assert.Equal(t, 45*time.Second, cfg.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.NoError(t, cfg.Signing.Validate())
}

func TestLoad_WithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, "127.0.0.1:8089", cfg.MockServer.Addr)

	// no credential configured
	var ve *message.ValidationError
	assert.True(t, errors.As(cfg.Signing.Validate(), &ve))
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "environment: [broken"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"environment", func(c *Config) { c.Environment = "staging" }, "environment"},
		{"subject", func(c *Config) { c.SubjectIdentifierType = "token" }, "subjectIdentifierType"},
		{"signing mode", func(c *Config) { c.Signing.Mode = "prf" }, "signing.mode"},
		{"storage type", func(c *Config) { c.Storage.Type = "redis" }, "storage.type"},
		{"mongo uri", func(c *Config) { c.Storage.Type = "mongodb" }, "storage.mongodb.uri"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"terminal code", func(c *Config) { c.Session.TerminalCodes = []int{42} }, "session.terminalCodes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			var ve *message.ValidationError
			require.True(t, errors.As(cfg.Validate(), &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestSigningConfig_Validate(t *testing.T) {
	assert.Error(t, (&SigningConfig{Mode: "pkcs12"}).Validate())
	assert.Error(t, (&SigningConfig{Mode: "pkcs11"}).Validate())
	assert.NoError(t, (&SigningConfig{Mode: "pkcs11", PKCS11: PKCS11Config{ModulePath: "/usr/lib/softhsm/libsofthsm2.so"}}).Validate())
}
