package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/raisekit/opscore/pkg/errors"
)

// DeriveKey turns an operator passphrase into a 32-byte AES key.
func DeriveKey(passphrase string) []byte {
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:]
}

// encrypt seals data with AES-256-GCM. The random nonce is prepended to the
// ciphertext so decryption needs only the key.
func encrypt(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to initialize cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to initialize GCM")
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to generate nonce")
	}
	return gcm.Seal(nonce, nonce, data, nil), nil
}

// decrypt opens an AES-256-GCM payload produced by encrypt. Tampered or
// truncated payloads fail authentication.
func decrypt(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to initialize cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to initialize GCM")
	}

	if len(data) < gcm.NonceSize() {
		return nil, errors.New(errors.KindValidation, "encrypted payload too short")
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "backup decryption failed")
	}
	return plaintext, nil
}
