package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize  = 16
	nonceSize = 12
)

func deriveKey(secret, salt []byte) []byte {
	return pbkdf2.Key(secret, salt, 4096, 32, sha256.New)
}

func newGCM(secret, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(secret, salt))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// seal encrypts data as salt || nonce || ciphertext.
func seal(data, secret []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	gcm, err := newGCM(secret, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	out := append(salt, nonce...)
	return gcm.Seal(out, nonce, data, nil), nil
}

func open(data, secret []byte) ([]byte, error) {
	if len(data) < saltSize+nonceSize {
		return nil, errors.New("sealed record too short")
	}
	salt, nonce, ciphertext := data[:saltSize], data[saltSize:saltSize+nonceSize], data[saltSize+nonceSize:]
	gcm, err := newGCM(secret, salt)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}
