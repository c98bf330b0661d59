package security

import (
	"bytes"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

// SessionKey is the symmetric key material of one online session
type SessionKey struct {
	Key [32]byte
	IV  [16]byte
}

// Zero overwrites the key material.
func (k *SessionKey) Zero() {
	clear(k.Key[:])
	clear(k.IV[:])
}

// IsZero reports whether the key material has been wiped
func (k *SessionKey) IsZero() bool {
	var zk [32]byte
	var ziv [16]byte
	return k.Key == zk && k.IV == ziv
}

// Cipher is the crypto capability used by the session manager
type Cipher interface {
	// NewSessionKey generates a fresh random key and IV.
	NewSessionKey() (*SessionKey, error)
	// WrapKey encrypts the session key for the authority's public key.
	WrapKey(pub crypto.PublicKey, key *SessionKey) ([]byte, error)
	// Encrypt encrypts plaintext with the session key.
	Encrypt(key *SessionKey, plaintext []byte) ([]byte, error)
}

// DefaultCipher implements Cipher with AES-256-CBC/PKCS#7 and RSA-OAEP-SHA256
type DefaultCipher struct {
	// Rand overrides crypto/rand.Reader.
	Rand io.Reader
}

func (c DefaultCipher) random() io.Reader {
	if c.Rand != nil {
		return c.Rand
	}
	return rand.Reader
}

func (c DefaultCipher) NewSessionKey() (*SessionKey, error) {
	key := &SessionKey{}
	if _, err := io.ReadFull(c.random(), key.Key[:]); err != nil {
		return nil, fmt.Errorf("failed to generate AES key: %w", err)
	}
	if _, err := io.ReadFull(c.random(), key.IV[:]); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}
	return key, nil
}

func (c DefaultCipher) WrapKey(pub crypto.PublicKey, key *SessionKey) ([]byte, error) {
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: key wrapping needs RSA, got %T", ErrUnsupportedKey, pub)
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), c.random(), rsaPub, key.Key[:], nil)
	if err != nil {
		return nil, fmt.Errorf("RSA-OAEP encryption failed: %w", err)
	}
	return wrapped, nil
}

func (c DefaultCipher) Encrypt(key *SessionKey, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key.Key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, key.IV[:]).CryptBlocks(out, padded)
	return out, nil
}

// UnwrapKey reverses WrapKey with the authority's private key.
func UnwrapKey(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	key, err := rsa.DecryptOAEP(sha256.New(), nil, priv, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("RSA-OAEP decryption failed: %w", err)
	}
	return key, nil
}

// Decrypt reverses DefaultCipher.Encrypt.
func Decrypt(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	if len(iv) != aes.BlockSize || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrInvalidPadding
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out, aes.BlockSize)
}

// Digest is the base64 SHA-256 hash and byte length of a payload
type Digest struct {
	Hash string
	Size int64
}

// DigestOf hashes data exactly as transmitted.
func DigestOf(data []byte) Digest {
	sum := sha256.Sum256(data)
	return Digest{Hash: base64.StdEncoding.EncodeToString(sum[:]), Size: int64(len(data))}
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrInvalidPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-n], nil
}
