package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecore/internal/crypto"
)

func TestRemoteCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "k" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/trading/close-all", r.URL.Path)
		_, _ = w.Write([]byte(`{"closed":2}`))
	}))
	defer srv.Close()

	body, err := remoteCall(context.Background(), http.MethodPost, srv.URL+"/", "/api/trading/close-all", "k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"closed":2}`, string(body))

	_, err = remoteCall(context.Background(), http.MethodPost, srv.URL, "/api/trading/close-all", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestSealSecretCmd(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "secret.txt")
	require.NoError(t, os.WriteFile(in, []byte("  s3cret-value\n"), 0o600))

	f, err := os.Open(in)
	require.NoError(t, err)
	defer f.Close()
	orig := os.Stdin
	os.Stdin = f
	t.Cleanup(func() { os.Stdin = orig })

	out := filepath.Join(dir, "sealed.json")
	require.NoError(t, sealSecretCmd([]string{"-out", out, "-password", "pw"}))

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	blob, err := os.ReadFile(out)
	require.NoError(t, err)
	secret, err := crypto.Open(blob, "pw")
	require.NoError(t, err)
	assert.Equal(t, "s3cret-value", secret)
}

func TestSealSecretCmdNeedsPassword(t *testing.T) {
	t.Setenv("TRADECORE_BROKER_SECRET_PASSWORD", "")
	err := sealSecretCmd([]string{"-out", filepath.Join(t.TempDir(), "x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password")
}
