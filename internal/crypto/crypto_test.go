package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	blob, err := seal("s3cr3t-api-key", "hunter2", 1000)
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "s3cr3t")

	got, err := Open(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t-api-key", got)

	_, err = Open(blob, "wrong")
	assert.ErrorContains(t, err, "decryption failed")

	_, err = Open([]byte(`{"version":9}`), "hunter2")
	assert.ErrorContains(t, err, "unsupported")

	_, err = seal("", "pw", 1000)
	assert.Error(t, err)
	_, err = seal("x", "", 1000)
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	blob, err := seal("from-file", "pw", 1000)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	tests := []struct {
		name    string
		src     SecretSource
		want    string
		wantErr bool
	}{
		{"raw wins", SecretSource{Raw: " inline ", SealedPath: path, Password: "pw"}, "inline", false},
		{"sealed file", SecretSource{SealedPath: path, Password: "pw"}, "from-file", false},
		{"nothing configured", SecretSource{}, "", false},
		{"missing file", SecretSource{SealedPath: path + ".nope", Password: "pw"}, "", true},
		{"bad password", SecretSource{SealedPath: path, Password: "nope"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Load(tt.src)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequestSigner(t *testing.T) {
	s := NewRequestSigner("key-1234", "secret")
	h := s.HeadersAt("POST", "/v1/orders", []byte(`{"qty":1}`), 1700000000)

	assert.Equal(t, "key-1234", h[HeaderAPIKey])
	assert.Equal(t, "1700000000", h[HeaderTimestamp])
	assert.Equal(t, Sign([]byte("secret"), `1700000000POST/v1/orders{"qty":1}`), h[HeaderSignature])
	assert.True(t, s.Verify("POST", "/v1/orders", []byte(`{"qty":1}`), "1700000000", h[HeaderSignature]))
	assert.False(t, s.Verify("POST", "/v1/orders", []byte(`{"qty":2}`), "1700000000", h[HeaderSignature]))

	assert.Equal(t, "RequestSigner{key=key-****, secret=secr****}", s.String())
}
