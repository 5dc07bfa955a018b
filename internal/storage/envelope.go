package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Envelope layout: magic(8) + salt(16) + nonce(12) + sealed payload.
// The key is derived from the store password with PBKDF2-SHA256.
const (
	envelopeMagic = "GCM3NCR0"
	saltLen       = 16
	nonceLen      = 12
	pbkdf2Iters   = 100000
	keyLen        = 32
)

func isEnvelope(data []byte) bool {
	return len(data) >= len(envelopeMagic) && bytes.Equal(data[:len(envelopeMagic)], []byte(envelopeMagic))
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iters, keyLen, sha256.New)
}

func encryptGCM(plaintext []byte, password string) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(envelopeMagic)+saltLen+nonceLen+len(plaintext)+gcm.Overhead())
	out = append(out, envelopeMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

func decryptGCM(data []byte, password string) ([]byte, error) {
	header := len(envelopeMagic) + saltLen + nonceLen
	if len(data) < header+16 {
		return nil, fmt.Errorf("envelope too short: %d bytes", len(data))
	}
	if !isEnvelope(data) {
		return nil, fmt.Errorf("missing envelope magic")
	}

	salt := data[len(envelopeMagic) : len(envelopeMagic)+saltLen]
	nonce := data[len(envelopeMagic)+saltLen : header]
	sealed := data[header:]

	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("gcm open: %w", err)
	}
	return plaintext, nil
}
