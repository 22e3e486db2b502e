// Package crypto encrypts configuration secrets and stored state with AES-GCM.
//
// Keys are derived from a passphrase with PBKDF2. Secret values in
// configuration carry the "enc:" prefix so plain and encrypted values can be
// mixed in one file.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	iterations = 100000
	keySize    = 32 // AES-256

	// SecretPrefix marks an encrypted configuration value
	SecretPrefix = "enc:"
)

var (
	// ErrNoKey is returned when an encrypted value is found but no passphrase was configured
	ErrNoKey = errors.New("encrypted value found but no secret key configured")

	// ErrDecrypt is returned when ciphertext cannot be opened with the configured key
	ErrDecrypt = errors.New("decrypting value: wrong key or corrupted data")
)

// Encryptor handles encryption and decryption of sensitive data
type Encryptor struct {
	key []byte
}

// NewEncryptor creates a new encryptor with the given passphrase.
// It returns nil for an empty passphrase; a nil Encryptor passes data through.
func NewEncryptor(passphrase string) *Encryptor {
	if passphrase == "" {
		return nil
	}

	// The salt is derived from the passphrase so that any process holding the
	// same passphrase derives the same key without shared state.
	salt := sha256.Sum256([]byte(passphrase + "events-monitor-salt"))

	key := pbkdf2.Key([]byte(passphrase), salt[:saltSize], iterations, keySize, sha256.New)

	return &Encryptor{key: key}
}

func (e *Encryptor) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt encrypts plaintext using AES-GCM and returns base64 ciphertext
func (e *Encryptor) Encrypt(plaintext []byte) (string, error) {
	if e == nil || e.key == nil {
		return string(plaintext), nil
	}

	gcm, err := e.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt opens base64 ciphertext produced by Encrypt
func (e *Encryptor) Decrypt(ciphertext string) ([]byte, error) {
	if e == nil || e.key == nil {
		return []byte(ciphertext), nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}

	gcm, err := e.gcm()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}

	nonce, cipherData := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, cipherData, nil)
	if err != nil {
		return nil, ErrDecrypt
	}

	return plaintext, nil
}

// IsSecret reports whether value carries the encrypted secret prefix
func IsSecret(value string) bool {
	return strings.HasPrefix(value, SecretPrefix)
}

// EncryptSecret returns the prefixed configuration form of plaintext
func (e *Encryptor) EncryptSecret(plaintext string) (string, error) {
	if e == nil {
		return "", ErrNoKey
	}
	ciphertext, err := e.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return SecretPrefix + ciphertext, nil
}

// DecryptSecret resolves a configuration value. Values without the prefix
// are returned unchanged.
func (e *Encryptor) DecryptSecret(value string) (string, error) {
	if !IsSecret(value) {
		return value, nil
	}
	if e == nil {
		return "", ErrNoKey
	}
	plaintext, err := e.Decrypt(strings.TrimPrefix(value, SecretPrefix))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
