package crypt

import (
	"crypto/rand"
	"encoding/base64"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const saltLen = 16

// ErrDecrypt is the single failure returned by Decrypt. Wrong passphrase,
// truncated buffer and garbage input are indistinguishable on purpose.
var ErrDecrypt = errors.New("decryption failed")

// Cipher encrypts paste bodies under a user passphrase: argon2id derives the
// key, XChaCha20-Poly1305 seals the body. The ciphertext string embeds salt
// and nonce, so the passphrase alone inverts it.
type Cipher struct {
	iterations  uint32
	memory      uint32
	parallelism uint8
	keyLength   uint32
}

func NewCipher(time, memory uint32, parallelism uint8, keyLen uint32) (*Cipher, error) {
	if time == 0 || time > 100 {
		return nil, errors.New("iterations must be between 1 and 100")
	}
	if memory < 8*1024 || memory > 2*1024*1024 {
		return nil, errors.New("memory must be between 8192 and 2097152 KiB")
	}
	if parallelism == 0 || parallelism > 128 {
		return nil, errors.New("parallelism must be between 1 and 128")
	}
	if keyLen != chacha20poly1305.KeySize {
		return nil, errors.New("key length must be 32 bytes")
	}
	return &Cipher{
		iterations:  time,
		memory:      memory,
		parallelism: parallelism,
		keyLength:   keyLen,
	}, nil
}

// Encrypt seals plaintext under passphrase. Layout of the encoded buffer:
// salt(16) || nonce(24) || aead ciphertext, base64 raw-url encoded.
func (c *Cipher) Encrypt(plaintext, passphrase string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.Wrap(err, "generate salt")
	}
	key := c.deriveKey(passphrase, salt)
	defer wipe(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", errors.Wrap(err, "init aead")
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "generate nonce")
	}
	buf := make([]byte, 0, saltLen+len(nonce)+len(plaintext)+aead.Overhead())
	buf = append(buf, salt...)
	buf = append(buf, nonce...)
	buf = aead.Seal(buf, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Decrypt inverts Encrypt. Every failure path returns ErrDecrypt.
func (c *Cipher) Decrypt(ciphertext, passphrase string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecrypt
	}
	if len(raw) < saltLen+chacha20poly1305.NonceSizeX {
		return "", ErrDecrypt
	}
	salt := raw[:saltLen]
	nonce := raw[saltLen : saltLen+chacha20poly1305.NonceSizeX]
	sealed := raw[saltLen+chacha20poly1305.NonceSizeX:]
	key := c.deriveKey(passphrase, salt)
	defer wipe(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", ErrDecrypt
	}
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}

func (c *Cipher) deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, c.iterations, c.memory, c.parallelism, c.keyLength)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
