// Package security encrypts broker access tokens at rest. Tokens grant
// full trading access, so they never touch the database in plaintext.
package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Hex-encoded 32 byte key.
	TokenKey string `envconfig:"TOKEN_ENCRYPTION_KEY" required:"true"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// TokenCipher seals and opens broker tokens with an AEAD. Ciphertexts carry
// their nonce as a prefix.
type TokenCipher struct {
	key []byte
}

// NewTokenCipher builds a cipher from a hex-encoded 256 bit key.
func NewTokenCipher(hexKey string) (*TokenCipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode token key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("token key must be %d bytes, got %d",
			chacha20poly1305.KeySize, len(key))
	}
	return &TokenCipher{key: key}, nil
}

// Seal encrypts a token for storage.
func (c *TokenCipher) Seal(token string) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return aead.Seal(nonce, nonce, []byte(token), nil), nil
}

// Open decrypts a stored token.
func (c *TokenCipher) Open(sealed []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}

	if len(sealed) < aead.NonceSize() {
		return "", errors.New("sealed token too short")
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]

	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("open token: %w", err)
	}

	return string(plain), nil
}
