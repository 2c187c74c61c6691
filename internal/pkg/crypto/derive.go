package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Purpose labels used when deriving keys from the master secret.
const (
	PurposeCredentials = "storage-gateway/credentials"
	PurposeKeyWrapping = "storage-gateway/key-wrapping"
)

// DeriveKey expands secret into a 256-bit key bound to purpose.
func DeriveKey(secret []byte, purpose string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("crypto: empty master secret")
	}
	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, secret, nil, []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("crypto: derive %s: %w", purpose, err)
	}
	return key, nil
}
