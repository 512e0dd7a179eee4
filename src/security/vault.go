package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keySize = 32

var (
	// ErrCorruptCredential is returned when a ciphertext was tampered with, truncated or
	// encrypted under another key.
	ErrCorruptCredential = errors.New("corrupt credential")

	ErrEmptySecret = errors.New("credentials secret is empty")
)

// Vault encrypts broker credentials with AES-256-GCM. The key is derived once from the
// configured secret; every encryption uses a fresh random nonce prepended to the output.
type Vault struct {
	aead cipher.AEAD
}

// NewVault derives the AES key from secret and salt with HKDF-SHA256.
func NewVault(secret, salt []byte) (*Vault, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte("broker-credential")), key); err != nil {
		return nil, fmt.Errorf("derive vault key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// NewVaultFromConfig builds a Vault from CREDENTIALS_SECRET / CREDENTIALS_SALT.
func NewVaultFromConfig() (*Vault, error) {
	config := GetConfig()
	return NewVault([]byte(config.CredentialsSecret), []byte(config.CredentialsSalt))
}

// Encrypt returns nonce || ciphertext || tag.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize(), v.aead.NonceSize()+len(plaintext)+v.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt. Any authentication failure yields ErrCorruptCredential.
func (v *Vault) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := v.aead.NonceSize()
	if len(ciphertext) < nonceSize+v.aead.Overhead() {
		return nil, ErrCorruptCredential
	}

	plaintext, err := v.aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
	if err != nil {
		return nil, ErrCorruptCredential
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// EncryptString encrypts s and encodes the result as standard base64, the
// format stored in BrokerAccount.EncryptedCredential.
func (v *Vault) EncryptString(s string) (string, error) {
	sealed, err := v.Encrypt([]byte(s))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString decodes and decrypts a value produced by EncryptString.
func (v *Vault) DecryptString(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrCorruptCredential
	}
	plaintext, err := v.Decrypt(sealed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
