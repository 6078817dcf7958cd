package keyfs

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// KeyProvider derives the key for a path. Implementations must be
// deterministic for a given path so that a key can be re-derived out of
// band (for example by the set-key command) and match the one in use.
type KeyProvider interface {
	KeyFor(path string) ([]byte, error)
}

// HashFunc represents hash function types for PBKDF2
type HashFunc uint8

const (
	// SHA256 hash function
	SHA256 HashFunc = iota
	// SHA512 hash function
	SHA512
)

// PBKDF2Params contains parameters for PBKDF2 key derivation
type PBKDF2Params struct {
	Iterations int      // Number of iterations (minimum 100,000 recommended)
	HashFunc   HashFunc // Hash function to use
}

// Argon2idParams contains parameters for Argon2id key derivation
type Argon2idParams struct {
	Memory      uint32 // Memory in KiB (e.g., 64*1024 for 64MB)
	Iterations  uint32 // Number of iterations (time parameter)
	Parallelism uint8  // Degree of parallelism
}

// DefaultSaltSize is the size of salts produced by GenerateSalt.
const DefaultSaltSize = 32

// GenerateSalt returns size random bytes.
func GenerateSalt(size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultSaltSize
	}
	salt := make([]byte, size)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// PassphraseKeyProvider derives per-path keys from a passphrase. The salt
// fed to the KDF is the provider salt followed by the path, so every path
// gets an independent key.
type PassphraseKeyProvider struct {
	passphrase   []byte
	salt         []byte
	useArgon2id  bool
	pbkdf2Params PBKDF2Params
	argon2Params Argon2idParams
}

// NewPassphraseKeyProvider creates a passphrase provider using Argon2id (recommended)
func NewPassphraseKeyProvider(passphrase, salt []byte, params Argon2idParams) *PassphraseKeyProvider {
	if params.Memory == 0 {
		params.Memory = 64 * 1024 // 64 MB
	}
	if params.Iterations == 0 {
		params.Iterations = 3
	}
	if params.Parallelism == 0 {
		params.Parallelism = 4
	}

	return &PassphraseKeyProvider{
		passphrase:   passphrase,
		salt:         salt,
		useArgon2id:  true,
		argon2Params: params,
	}
}

// NewPassphraseKeyProviderPBKDF2 creates a passphrase provider using PBKDF2
func NewPassphraseKeyProviderPBKDF2(passphrase, salt []byte, params PBKDF2Params) *PassphraseKeyProvider {
	if params.Iterations == 0 {
		params.Iterations = 100000
	}

	return &PassphraseKeyProvider{
		passphrase:   passphrase,
		salt:         salt,
		useArgon2id:  false,
		pbkdf2Params: params,
	}
}

// KeyFor derives the key for path.
func (p *PassphraseKeyProvider) KeyFor(path string) ([]byte, error) {
	if len(p.passphrase) == 0 {
		return nil, errors.New("passphrase cannot be empty")
	}
	salt := make([]byte, 0, len(p.salt)+len(path))
	salt = append(salt, p.salt...)
	salt = append(salt, path...)

	if p.useArgon2id {
		return argon2.IDKey(
			p.passphrase,
			salt,
			p.argon2Params.Iterations,
			p.argon2Params.Memory,
			p.argon2Params.Parallelism,
			KeySize,
		), nil
	}

	var hashFunc func() hash.Hash
	switch p.pbkdf2Params.HashFunc {
	case SHA256:
		hashFunc = sha256.New
	case SHA512:
		hashFunc = sha512.New
	default:
		return nil, fmt.Errorf("unsupported hash function: %v", p.pbkdf2Params.HashFunc)
	}

	return pbkdf2.Key(p.passphrase, salt, p.pbkdf2Params.Iterations, KeySize, hashFunc), nil
}

// MasterKeyProvider expands a single 32-byte master key into per-path keys
// with HKDF-SHA256, using the path as the info string.
type MasterKeyProvider struct {
	master []byte
	salt   []byte
}

// NewMasterKeyProvider creates an HKDF provider. salt may be nil.
func NewMasterKeyProvider(master, salt []byte) (*MasterKeyProvider, error) {
	if err := ValidateKey(master); err != nil {
		return nil, err
	}
	owned := make([]byte, KeySize)
	copy(owned, master)
	return &MasterKeyProvider{master: owned, salt: salt}, nil
}

// KeyFor derives the key for path.
func (m *MasterKeyProvider) KeyFor(path string) ([]byte, error) {
	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, m.master, m.salt, []byte("keyfs:"+path))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to expand master key: %w", err)
	}
	return key, nil
}
