// Package crypto provides the AES-256-GCM primitive used to seal storage
// locations and backend credentials, plus the serialized blob format they
// are persisted in.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// Algorithm is the tag written in front of every serialized blob.
	Algorithm = "AES-256-GCM"

	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

var (
	ErrInvalidKey     = errors.New("crypto: key must be 32 bytes")
	ErrMalformedBlob  = errors.New("crypto: malformed encrypted blob")
	ErrAuthentication = errors.New("crypto: message authentication failed")
)

// Blob is one sealed message. The key used to seal it is never part of the blob.
type Blob struct {
	Algorithm  string
	IV         []byte
	Ciphertext []byte // includes the GCM tag
}

// String renders the blob as algorithm:base64(iv):base64(ciphertext).
func (b *Blob) String() string {
	return b.Algorithm + ":" +
		base64.StdEncoding.EncodeToString(b.IV) + ":" +
		base64.StdEncoding.EncodeToString(b.Ciphertext)
}

// ParseBlob reverses Blob.String. Anything else is ErrMalformedBlob.
func ParseBlob(s string) (*Blob, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] == "" {
		return nil, ErrMalformedBlob
	}
	if parts[0] != Algorithm {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrMalformedBlob, parts[0])
	}
	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(iv) != NonceSize {
		return nil, fmt.Errorf("%w: bad iv", ErrMalformedBlob)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil || len(ct) < TagSize {
		return nil, fmt.Errorf("%w: bad ciphertext", ErrMalformedBlob)
	}
	return &Blob{Algorithm: parts[0], IV: iv, Ciphertext: ct}, nil
}

// GenerateKey returns a fresh random 256-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext under key with a random IV.
func Encrypt(plaintext, key []byte) (*Blob, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("crypto: generate iv: %w", err)
	}
	return &Blob{
		Algorithm:  Algorithm,
		IV:         iv,
		Ciphertext: gcm.Seal(nil, iv, plaintext, nil),
	}, nil
}

// Decrypt opens blob with key and fails closed on any tag mismatch.
func Decrypt(blob *Blob, key []byte) ([]byte, error) {
	if blob == nil || blob.Algorithm != Algorithm || len(blob.IV) != NonceSize {
		return nil, ErrMalformedBlob
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, blob.IV, blob.Ciphertext, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// EncryptString seals s and returns the serialized blob.
func EncryptString(s string, key []byte) (string, error) {
	blob, err := Encrypt([]byte(s), key)
	if err != nil {
		return "", err
	}
	return blob.String(), nil
}

// DecryptString parses and opens a serialized blob.
func DecryptString(s string, key []byte) (string, error) {
	blob, err := ParseBlob(s)
	if err != nil {
		return "", err
	}
	plaintext, err := Decrypt(blob, key)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	return cipher.NewGCMWithNonceSize(block, NonceSize)
}
