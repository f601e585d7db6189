package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// SaltLen is the length of the random salt stored next to sealed data.
	SaltLen = 16
	keyLen  = 32

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
)

// ErrSealedTooShort indicates a sealed value shorter than its nonce.
var ErrSealedTooShort = errors.New("sealed value too short")

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// Sealer encrypts records at rest with XChaCha20-Poly1305.
// Every record gets its own HKDF subkey with the record key as info and AAD.
type Sealer struct {
	master []byte
}

// NewSealer derives the master key from passphrase and salt using Argon2id.
func NewSealer(passphrase string, salt []byte) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}
	if len(salt) < SaltLen {
		return nil, errors.New("salt too short")
	}
	return &Sealer{master: argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keyLen)}, nil
}

func (s *Sealer) subkey(recordKey []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, s.master, nil, recordKey)
	key := make([]byte, keyLen)
	_, err := r.Read(key)
	return key, err
}

// Seal encrypts plaintext bound to recordKey. Output is nonce||ciphertext.
func (s *Sealer) Seal(recordKey, plaintext []byte) ([]byte, error) {
	key, err := s.subkey(recordKey)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce, err := RandBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, recordKey), nil
}

// Open decrypts a value produced by Seal for the same recordKey.
func (s *Sealer) Open(recordKey, sealed []byte) ([]byte, error) {
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, ErrSealedTooShort
	}
	key, err := s.subkey(recordKey)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := sealed[:chacha20poly1305.NonceSizeX]
	return aead.Open(nil, nonce, sealed[chacha20poly1305.NonceSizeX:], recordKey)
}
