package crypto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptSecret(t *testing.T) {
	blob, err := EncryptSecret("api-secret-value", "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "api-secret-value")

	got, err := DecryptSecret(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "api-secret-value", got)

	_, err = DecryptSecret(blob, "wrong")
	assert.ErrorIs(t, err, ErrWrongPassword)
}

func TestDecryptSecretFileParameters(t *testing.T) {
	blob, err := EncryptSecret("v", "pw")
	require.NoError(t, err)
	var f secretFile
	require.NoError(t, json.Unmarshal(blob, &f))
	assert.Equal(t, kdfName, f.KDF)
	assert.Equal(t, defaultIterations, f.Iterations)

	// Files written without kdf fields fall back to the defaults.
	legacy := f
	legacy.KDF, legacy.Iterations = "", 0
	raw, err := json.Marshal(legacy)
	require.NoError(t, err)
	got, err := DecryptSecret(raw, "pw")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	weak := f
	weak.Iterations = 1000
	raw, err = json.Marshal(weak)
	require.NoError(t, err)
	_, err = DecryptSecret(raw, "pw")
	assert.ErrorContains(t, err, "below minimum")

	other := f
	other.KDF = "scrypt"
	raw, err = json.Marshal(other)
	require.NoError(t, err)
	_, err = DecryptSecret(raw, "pw")
	assert.ErrorContains(t, err, "unsupported kdf")
}

func TestEncryptSecretRejectsEmptyInput(t *testing.T) {
	_, err := EncryptSecret("x", "")
	assert.Error(t, err)
	_, err = EncryptSecret("", "pw")
	assert.Error(t, err)
}

func TestLoadSecret(t *testing.T) {
	got, err := LoadSecret(SecretConfig{RawSecret: " raw "})
	require.NoError(t, err)
	assert.Equal(t, "raw", got)

	got, err = LoadSecret(SecretConfig{})
	require.NoError(t, err)
	assert.Empty(t, got)

	blob, err := EncryptSecret("from-file", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadSecret(SecretConfig{EncryptedPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)

	_, err = LoadSecret(SecretConfig{EncryptedPath: filepath.Join(t.TempDir(), "missing.json"), Password: "pw"})
	assert.Error(t, err)
}

func TestWriteSecretFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, WriteSecretFile(path, "s3cr3t", "pw"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := LoadSecret(SecretConfig{EncryptedPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", got)
}
