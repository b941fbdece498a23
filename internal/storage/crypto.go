package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"
)

// Encryption formats, identified by an 8 byte magic header.
const (
	FormatGCM       = "GCM3NCR0"
	FormatLegacyCBC = "3NCR0PTD"
	FormatPlain     = "plain"
)

const (
	saltLen   = 16
	nonceLen  = 12
	tagLen    = 16
	kdfRounds = 100000
	keyLen    = 32
	magicLen  = 8
)

// ErrNoPassword is returned when encrypted data is read without a password.
var ErrNoPassword = errors.New("encrypted object requires a password")

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, kdfRounds, keyLen, sha256.New)
}

// Encrypt seals data as magic(8) + salt(16) + nonce(12) + ciphertext + tag(16).
func Encrypt(data []byte, password string) ([]byte, error) {
	salt := make([]byte, saltLen)
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	gcm, err := newGCM(deriveKey(password, salt))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, magicLen+saltLen+nonceLen+len(data)+tagLen)
	out = append(out, FormatGCM...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, data, nil), nil
}

// Decrypt detects the format by its magic header. Data without a known header
// is returned unchanged as FormatPlain.
func Decrypt(data []byte, password string) ([]byte, string, error) {
	if len(data) < magicLen {
		return data, FormatPlain, nil
	}
	switch string(data[:magicLen]) {
	case FormatGCM:
		if password == "" {
			return nil, FormatGCM, ErrNoPassword
		}
		out, err := decryptGCM(data, password)
		return out, FormatGCM, err
	case FormatLegacyCBC:
		if password == "" {
			return nil, FormatLegacyCBC, ErrNoPassword
		}
		out, err := decryptLegacyCBC(data, password)
		return out, FormatLegacyCBC, err
	}
	return data, FormatPlain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func decryptGCM(data []byte, password string) ([]byte, error) {
	if len(data) < magicLen+saltLen+nonceLen+tagLen {
		return nil, fmt.Errorf("GCM data too short: %d bytes", len(data))
	}
	salt := data[magicLen : magicLen+saltLen]
	nonce := data[magicLen+saltLen : magicLen+saltLen+nonceLen]
	gcm, err := newGCM(deriveKey(password, salt))
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, data[magicLen+saltLen+nonceLen:], nil)
	if err != nil {
		return nil, fmt.Errorf("GCM decryption failed: %w", err)
	}
	return plaintext, nil
}

// decryptLegacyCBC reads magic(8) + sha256(32) + length(8) + salt(16) + iv(16) + ciphertext.
func decryptLegacyCBC(data []byte, password string) ([]byte, error) {
	if len(data) < magicLen+32+8+saltLen+aes.BlockSize {
		return nil, fmt.Errorf("legacy CBC data too short: %d bytes", len(data))
	}
	storedHash := data[8:40]
	length := binary.BigEndian.Uint64(data[40:48])
	encrypted := data[48:]
	if uint64(len(encrypted)) != length {
		return nil, fmt.Errorf("length mismatch: expected %d, got %d", length, len(encrypted))
	}
	sum := sha256.Sum256(encrypted)
	if !bytes.Equal(storedHash, sum[:]) {
		return nil, fmt.Errorf("hash verification failed - data corrupted")
	}

	salt, iv, ciphertext := encrypted[:saltLen], encrypted[saltLen:saltLen+aes.BlockSize], encrypted[saltLen+aes.BlockSize:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext is not a multiple of block size")
	}
	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := removePKCS7Padding(plaintext)
	if err != nil {
		log.Warn().Err(err).Msg("PKCS7 unpadding failed, using raw data")
		return plaintext, nil
	}
	return unpadded, nil
}

func removePKCS7Padding(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty data")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding length: %d", n)
	}
	for i := len(data) - n; i < len(data); i++ {
		if data[i] != byte(n) {
			return nil, fmt.Errorf("invalid padding at position %d", i)
		}
	}
	return data[:len(data)-n], nil
}
