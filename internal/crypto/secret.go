// Package crypto signs exchange requests and protects the exchange API
// secret at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// defaultIterations is the OWASP minimum for PBKDF2-HMAC-SHA256.
	defaultIterations = 480_000
	// minIterations rejects files tampered down to a trivial work factor.
	minIterations = 100_000
	saltLen       = 16
	aesKeyLen     = 32
	fileVersion   = 1
	kdfName       = "pbkdf2-sha256"
)

// ErrWrongPassword is returned when the encrypted secret does not open.
var ErrWrongPassword = errors.New("crypto: wrong password or corrupted secret file")

// secretFile is the on-disk format written by EncryptSecret. Byte fields
// are standard base64. Version 1 files written before KDF and Iterations
// existed decode with the defaults.
type secretFile struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf,omitempty"`
	Iterations int    `json:"iterations,omitempty"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// SecretConfig carries the information LoadSecret needs to resolve the
// exchange API secret.
type SecretConfig struct {
	// RawSecret is used as-is when non-empty.
	RawSecret string

	// EncryptedPath is the path to a JSON file produced by EncryptSecret.
	EncryptedPath string

	// Password decrypts the file at EncryptedPath.
	Password string
}

// EncryptSecret seals secret under a key derived from password
// (PBKDF2-HMAC-SHA256, AES-256-GCM) and returns the indented JSON file body.
func EncryptSecret(secret, password string) ([]byte, error) {
	if password == "" || secret == "" {
		return nil, errors.New("crypto: secret and password must not be empty")
	}

	salt, err := randomBytes(saltLen)
	if err != nil {
		return nil, err
	}
	aead, err := newAEAD(password, salt, defaultIterations)
	if err != nil {
		return nil, err
	}
	nonce, err := randomBytes(aead.NonceSize())
	if err != nil {
		return nil, err
	}

	enc := base64.StdEncoding
	return json.MarshalIndent(secretFile{
		Version:    fileVersion,
		KDF:        kdfName,
		Iterations: defaultIterations,
		Salt:       enc.EncodeToString(salt),
		Nonce:      enc.EncodeToString(nonce),
		Ciphertext: enc.EncodeToString(aead.Seal(nil, nonce, []byte(secret), nil)),
	}, "", "  ")
}

// DecryptSecret opens a file body produced by EncryptSecret.
func DecryptSecret(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var f secretFile
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("crypto: parse secret file: %w", err)
	}
	if f.Version != fileVersion {
		return "", fmt.Errorf("crypto: unsupported secret file version %d", f.Version)
	}
	if f.KDF != "" && f.KDF != kdfName {
		return "", fmt.Errorf("crypto: unsupported kdf %q", f.KDF)
	}
	iterations := f.Iterations
	if iterations == 0 {
		iterations = defaultIterations
	}
	if iterations < minIterations {
		return "", fmt.Errorf("crypto: kdf iterations %d below minimum %d", iterations, minIterations)
	}

	var salt, nonce, sealed []byte
	for _, field := range []struct {
		name string
		in   string
		out  *[]byte
	}{
		{"salt", f.Salt, &salt},
		{"nonce", f.Nonce, &nonce},
		{"ciphertext", f.Ciphertext, &sealed},
	} {
		b, err := base64.StdEncoding.DecodeString(field.in)
		if err != nil {
			return "", fmt.Errorf("crypto: decode %s: %w", field.name, err)
		}
		*field.out = b
	}

	aead, err := newAEAD(password, salt, iterations)
	if err != nil {
		return "", err
	}
	if len(nonce) != aead.NonceSize() {
		return "", fmt.Errorf("crypto: nonce length %d, want %d", len(nonce), aead.NonceSize())
	}
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrWrongPassword
	}
	return string(plain), nil
}

// LoadSecret resolves the API secret: the raw value wins, then the
// encrypted file. An empty config yields an empty secret, which leaves the
// executor unable to connect.
func LoadSecret(cfg SecretConfig) (string, error) {
	if cfg.RawSecret != "" {
		return strings.TrimSpace(cfg.RawSecret), nil
	}
	if cfg.EncryptedPath == "" {
		return "", nil
	}
	data, err := os.ReadFile(cfg.EncryptedPath)
	if err != nil {
		return "", fmt.Errorf("crypto: read secret file: %w", err)
	}
	return DecryptSecret(data, cfg.Password)
}

// WriteSecretFile encrypts secret and writes it to path readable by the
// owner only.
func WriteSecretFile(path, secret, password string) error {
	data, err := EncryptSecret(secret, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("crypto: write secret file: %w", err)
	}
	return nil
}

func newAEAD(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return aead, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("crypto: random: %w", err)
	}
	return b, nil
}
