package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"cardvault/internal/errors"
)

const (
	// MinKeyLen is the minimum master key length accepted by NewCodec.
	MinKeyLen = 32

	maskPrefix = "**** **** **** "
	hkdfSalt   = "cardvault/card-fields/v1"
)

// Codec encrypts and decrypts sensitive card fields (PAN, CVV, PIN).
//
// Two subkeys are derived from the master key with HKDF-SHA256: one for
// AES-256-GCM and one for the HMAC fingerprint that backs the unique PAN
// index. Ciphertexts carry a random nonce, so equal plaintexts encrypt to
// different values.
type Codec struct {
	aead   cipher.AEAD
	macKey []byte
	rand   io.Reader
}

// NewCodec builds a Codec from master key material.
func NewCodec(masterKey []byte) (*Codec, error) {
	if len(masterKey) < MinKeyLen {
		return nil, fmt.Errorf("%w: master key must be at least %d bytes, got %d", errors.ErrCrypto, MinKeyLen, len(masterKey))
	}

	encKey, err := deriveKey(masterKey, "aes-256-gcm")
	if err != nil {
		return nil, err
	}
	macKey, err := deriveKey(masterKey, "hmac-sha256-fingerprint")
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("%w: create cipher: %v", errors.ErrCrypto, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: create gcm: %v", errors.ErrCrypto, err)
	}

	return &Codec{aead: aead, macKey: macKey, rand: rand.Reader}, nil
}

func deriveKey(master []byte, info string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, []byte(hkdfSalt), []byte(info)), key); err != nil {
		return nil, fmt.Errorf("%w: derive %s key: %v", errors.ErrCrypto, info, err)
	}
	return key, nil
}

// Encrypt returns base64(nonce || ciphertext) for plaintext.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	if c == nil || c.aead == nil {
		return "", fmt.Errorf("%w: codec is not configured", errors.ErrCrypto)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("%w: generate nonce: %v", errors.ErrCrypto, err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Malformed or tampered input yields ErrCrypto.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	if c == nil || c.aead == nil {
		return "", fmt.Errorf("%w: codec is not configured", errors.ErrCrypto)
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decode ciphertext: %v", errors.ErrCrypto, err)
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize+c.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", errors.ErrCrypto)
	}

	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: open ciphertext: %v", errors.ErrCrypto, err)
	}
	return string(plaintext), nil
}

// Fingerprint returns a deterministic keyed digest of pan for uniqueness lookups.
func (c *Codec) Fingerprint(pan string) string {
	h := hmac.New(sha256.New, c.macKey)
	h.Write([]byte(pan))
	return hex.EncodeToString(h.Sum(nil))
}

// Mask renders a card number for display, keeping only the last 4 digits.
// Masking an already masked value returns it unchanged.
func Mask(pan string) string {
	if strings.HasPrefix(pan, "****") {
		return pan
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, pan)

	if len(digits) < 4 {
		return maskPrefix + "****"
	}
	return maskPrefix + digits[len(digits)-4:]
}
