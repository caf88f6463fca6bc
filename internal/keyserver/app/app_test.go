package app

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/exposurekeys/keyserver/internal/keyserver/config"
	"github.com/exposurekeys/keyserver/internal/keyserver/signing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKeys(t *testing.T, dir string) (exportKey, tokenKey string) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	privPEM, err := signing.EncodePrivateKey(priv)
	require.NoError(t, err)
	exportKey = filepath.Join(dir, "export.pem")
	require.NoError(t, os.WriteFile(exportKey, privPEM, 0o600))

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	tokenKey = filepath.Join(dir, "jwt.pub")
	require.NoError(t, os.WriteFile(tokenKey, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))
	return exportKey, tokenKey
}

func testConfig(t *testing.T, gateways string) *config.ConfigParam {
	t.Helper()
	dir := t.TempDir()
	exportKey, tokenKey := writeKeys(t, dir)
	content := fmt.Sprintf(`
format_version = "0.1.0"
origin = "ch"

[storage]
backend = "memory"

[export]
signing_key_file = %q
key_id = "228"

[auth]
jwt_public_key_file = %q
%s`, exportKey, tokenKey, gateways)
	cfg, err := config.Parse([]byte(content), ".toml")
	require.NoError(t, err)
	return cfg
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, `
[[gateways]]
id = "efgs"
base_url = "https://efgs.example.org"
api_key = "secret"
download = true
`)
	a, err := New(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 2, a.Scheduler.Entries())

	srv := httptest.NewServer(a.Server.Router)
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewWithoutGateways(t *testing.T) {
	a, err := New(context.Background(), testConfig(t, ""))
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, 1, a.Scheduler.Entries())
}

func TestNewMissingSigningKey(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Export.SigningKeyFile = filepath.Join(t.TempDir(), "missing.pem")
	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "loading export signing key")
}

func TestGateways(t *testing.T) {
	cfg := testConfig(t, `
[[gateways]]
id = "efgs"
base_url = "https://efgs.example.org"
api_key = "secret"
download = true

[[gateways]]
id = "nl"
base_url = "https://nl.example.org"
api_key = "secret"
upload = false
`)
	all, err := Gateways(cfg)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.False(t, uploads(all))

	one, err := Gateways(cfg, "nl")
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "nl", one[0].ID)

	_, err = Gateways(cfg, "fr")
	assert.Error(t, err)
}
