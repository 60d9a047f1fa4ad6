package credentials

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	saltSize  = 16
	nonceSize = 24
	keySize   = 32

	// scrypt parameters, interactive-login strength
	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

// Cipher seals and opens credential payloads using a key derived from a
// master passphrase. Each sealed payload carries its own salt and nonce,
// so the same passphrase never reuses a keystream.
type Cipher struct {
	passphrase []byte
}

// NewCipher creates a Cipher from the master passphrase.
func NewCipher(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("master passphrase is required")
	}
	return &Cipher{passphrase: []byte(passphrase)}, nil
}

func (c *Cipher) deriveKey(salt []byte) (*[keySize]byte, error) {
	raw, err := scrypt.Key(c.passphrase, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	var key [keySize]byte
	copy(key[:], raw)
	return &key, nil
}

// Seal encrypts plaintext. Output layout: salt || nonce || box.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	key, err := c.deriveKey(salt)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, saltSize+nonceSize+len(plaintext)+secretbox.Overhead)
	out = append(out, salt...)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, plaintext, &nonce, key)
	return out, nil
}

// Open decrypts a payload produced by Seal.
func (c *Cipher) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < saltSize+nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("ciphertext too short")
	}

	salt := ciphertext[:saltSize]
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[saltSize:saltSize+nonceSize])
	box := ciphertext[saltSize+nonceSize:]

	key, err := c.deriveKey(salt)
	if err != nil {
		return nil, err
	}

	plaintext, ok := secretbox.Open(nil, box, &nonce, key)
	if !ok {
		return nil, fmt.Errorf("failed to open credential payload: authentication failed")
	}
	return plaintext, nil
}
