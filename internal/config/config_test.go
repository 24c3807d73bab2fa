package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocdoni/gofirma/qessign/internal/signerr"
)

const sampleConfig = `
log:
  level: debug
provider:
  client_id: my-client
  client_secret: from-file
  credential_id: OnDemand-Qualified4.1-EU
  conformance_level: B-LTA
  endpoints:
    par_method: GET
  additional_claims:
    login_hint: "+41790000000"
identity:
  type: pem
  cert_file: /etc/qessign/client.crt
  key_file: /etc/qessign/client.key
http:
  timeout: 15s
server:
  public_url: https://sign.example.org
  document: /srv/report.pdf
session:
  backend: bolt
  bolt_path: /var/lib/qessign/sessions.db
  ttl: 5m
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "qessign.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "my-client", cfg.Provider.ClientID)
	assert.Equal(t, "B-LTA", cfg.Provider.ConformanceLevel)
	assert.Equal(t, "P", cfg.Provider.SignatureFormat)
	assert.Equal(t, "GET", cfg.Provider.Endpoints.PARMethod)
	assert.Equal(t, "https://ais.swisscom.com", cfg.Provider.Endpoints.SignURL, "unset endpoints keep their defaults")
	assert.Equal(t, "+41790000000", cfg.Provider.AdditionalClaims["login_hint"])
	assert.Equal(t, 15*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Session.TTL)
	assert.Equal(t, "https://sign.example.org/sign/callback", cfg.CallbackURL())
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"QESSIGN_CLIENT_ID":      "env-client",
		"QESSIGN_CLIENT_SECRET":  "env-secret",
		"QESSIGN_CLIENT_CERT":    "/run/secrets/crt",
		"QESSIGN_CLIENT_KEY":     "/run/secrets/key",
		"QESSIGN_HTTP_TIMEOUT":   "5s",
		"QESSIGN_REDIS_DB":       "3",
		"QESSIGN_SESSION_SECRET": "s3cret",
	}
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "env-client", cfg.Provider.ClientID)
	assert.Equal(t, "env-secret", cfg.Provider.ClientSecret)
	assert.Equal(t, "/run/secrets/crt", cfg.Identity.CertFile)
	assert.Equal(t, 5*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 3, cfg.Session.RedisDB)
	assert.Equal(t, "s3cret", cfg.Session.Secret)
	require.NoError(t, cfg.Validate())
}

func validConfig() *Config {
	cfg := Default()
	cfg.Provider.ClientID = "c"
	cfg.Provider.ClientSecret = "s"
	cfg.Identity.CertFile = "crt"
	cfg.Identity.KeyFile = "key"
	return cfg
}

func TestValidate(t *testing.T) {
	cases := []struct {
		setting string
		mutate  func(*Config)
	}{
		{"provider.client_id", func(c *Config) { c.Provider.ClientID = "" }},
		{"provider.client_secret", func(c *Config) { c.Provider.ClientSecret = " " }},
		{"provider.conformance_level", func(c *Config) { c.Provider.ConformanceLevel = "AdES-X" }},
		{"provider.signature_format", func(c *Config) { c.Provider.SignatureFormat = "Z" }},
		{"digest_algorithm", func(c *Config) { c.Provider.DigestAlgorithm = "md5" }},
		{"identity.key_file", func(c *Config) { c.Identity.KeyFile = "" }},
		{"identity.pkcs12_file", func(c *Config) { c.Identity.Type = IdentityPKCS12 }},
		{"identity.pkcs11.lib_path", func(c *Config) { c.Identity.Type = IdentityPKCS11 }},
		{"identity.fingerprint", func(c *Config) { c.Identity.Type = IdentityOS }},
		{"identity.type", func(c *Config) { c.Identity.Type = "smartcard" }},
		{"server.public_url", func(c *Config) { c.Server.PublicURL = "/relative" }},
		{"session.bolt_path", func(c *Config) { c.Session.Backend = SessionBolt }},
		{"session.redis_addr", func(c *Config) { c.Session.Backend = SessionRedis }},
		{"session.backend", func(c *Config) { c.Session.Backend = "etcd" }},
		{"session.ttl", func(c *Config) { c.Session.TTL = 0 }},
	}
	require.NoError(t, validConfig().Validate())
	for _, tc := range cases {
		t.Run(tc.setting, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			var ce *signerr.ConfigurationError
			require.True(t, errors.As(cfg.Validate(), &ce))
			assert.Equal(t, tc.setting, ce.Setting)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "provider: [unclosed"))
	assert.Error(t, err)
}
