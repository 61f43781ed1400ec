package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// AESKeySize is the key size for AES-256.
	AESKeySize = 32
	// IVSize is the GCM recommended nonce size.
	IVSize = 12
	// TagSize is the GCM authentication tag size.
	TagSize = 16
)

// DeriveMessageKey derives a per-message AES-256 key from the MLS epoch
// secret, keyed by the application message counter within that epoch.
// Counters must never repeat within an epoch; the caller (internal/mls)
// owns incrementing them.
//
// key = HKDF-SHA-256(secret=epochSecret, salt=counter_be64, info="mlsclient-message-key"||epoch_be64)
func DeriveMessageKey(epochSecret []byte, counter uint64, epoch int) []byte {
	salt := make([]byte, 8)
	binary.BigEndian.PutUint64(salt, counter)

	const label = "mlsclient-message-key"
	info := make([]byte, len(label)+8)
	copy(info, label)
	binary.BigEndian.PutUint64(info[len(label):], uint64(epoch))

	return deriveKey(epochSecret, salt, info)
}

// DeriveEpochSecret derives the next epoch secret from the current one,
// advancing the MLS key schedule by one step.
//
// secret' = HKDF-SHA-256(secret=epochSecret, salt=epoch_be64, info="mlsclient-epoch-advance")
func DeriveEpochSecret(epochSecret []byte, epoch int) []byte {
	salt := make([]byte, 8)
	binary.BigEndian.PutUint64(salt, uint64(epoch))
	return deriveKey(epochSecret, salt, []byte("mlsclient-epoch-advance"))
}

// DeriveExportedSecret derives an application-level secret from an epoch
// secret under a caller-chosen label, the MLS exporter-interface analog.
func DeriveExportedSecret(epochSecret []byte, label string, epoch int) []byte {
	info := make([]byte, len(label)+8)
	copy(info, label)
	binary.BigEndian.PutUint64(info[len(label):], uint64(epoch))
	return deriveKey(epochSecret, nil, info)
}

func deriveKey(secret, salt, info []byte) []byte {
	hkdfReader := hkdf.New(sha256.New, secret, salt, info)
	key := make([]byte, AESKeySize)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		panic(fmt.Sprintf("hkdf: %v", err))
	}
	return key
}

// AESGCMEncrypt encrypts plaintext with AES-256-GCM using a random nonce.
// Returns (nonce, ciphertext||tag).
func AESGCMEncrypt(key, plaintext []byte) (nonce, ct []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("aes: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("gcm: %w", err)
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("random nonce: %w", err)
	}
	ct = gcm.Seal(nil, nonce, plaintext, nil)
	return nonce, ct, nil
}

// AESGCMDecrypt decrypts ciphertext with AES-256-GCM.
// The ciphertext must include the 16-byte authentication tag appended
// by AESGCMEncrypt.
func AESGCMDecrypt(key, nonce, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < TagSize {
		return nil, fmt.Errorf("ciphertext too short (missing GCM tag)")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("gcm decrypt: %w", err)
	}
	return plaintext, nil
}

// AESGCMEncryptAAD is AESGCMEncrypt with additional authenticated data bound
// into the GCM tag without being encrypted itself, for MLS application
// messages that must commit to the group_id.
func AESGCMEncryptAAD(key, plaintext, aad []byte) (nonce, ct []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("aes: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("gcm: %w", err)
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("random nonce: %w", err)
	}
	ct = gcm.Seal(nil, nonce, plaintext, aad)
	return nonce, ct, nil
}

// AESGCMDecryptAAD is AESGCMDecrypt with additional authenticated data; aad
// must match the value passed to AESGCMEncryptAAD or decryption fails.
func AESGCMDecryptAAD(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(ciphertext) < TagSize {
		return nil, fmt.Errorf("ciphertext too short (missing GCM tag)")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("gcm decrypt: %w", err)
	}
	return plaintext, nil
}
