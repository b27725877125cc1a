package fieldguard

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"vida-gateway/pkg/domain"
	dErrors "vida-gateway/pkg/domain-errors"
)

// keyContextPrefix is the HKDF info prefix; the field name completes it, so
// every protected field gets an independent key from the one master secret.
const keyContextPrefix = "vida-field:"

// Keyring holds one AEAD per protected field, derived eagerly at startup so a
// bad master key fails construction rather than the first request.
type Keyring struct {
	aeads map[string]cipher.AEAD
}

// NewKeyring derives per-field AES-256-GCM ciphers from the master key.
func NewKeyring(masterKey []byte) (*Keyring, error) {
	if len(masterKey) < 16 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "master key must be at least 16 bytes")
	}

	aeads := make(map[string]cipher.AEAD, len(domain.ProtectedFields))
	for _, field := range domain.ProtectedFields {
		key, err := deriveKey(masterKey, []byte(keyContextPrefix+field.Name), 32)
		if err != nil {
			return nil, dErrors.Wrapf(err, dErrors.CodeInternal, "derive key for %s", field.Name)
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, dErrors.Wrapf(err, dErrors.CodeInternal, "cipher for %s", field.Name)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, dErrors.Wrapf(err, dErrors.CodeInternal, "gcm for %s", field.Name)
		}
		aeads[field.Name] = aead
	}
	return &Keyring{aeads: aeads}, nil
}

// aead returns the cipher for a protected field name.
func (k *Keyring) aead(field string) (cipher.AEAD, bool) {
	a, ok := k.aeads[field]
	return a, ok
}

func deriveKey(secret, info []byte, keyLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, nil, info)
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
