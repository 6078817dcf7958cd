package keyfs

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// Codec encrypts and decrypts whole-file content with AES-256 in CFB mode.
// It is stateless: the key is supplied on every call and a fresh IV is
// drawn for every encryption. CFB provides confidentiality only; decrypting
// with the wrong key silently yields garbage of the same length.
type Codec struct {
	rand io.Reader
}

// NewCodec returns a Codec drawing IVs from crypto/rand.
func NewCodec() *Codec {
	return &Codec{rand: rand.Reader}
}

// Encrypt returns IV || ciphertext. Empty plaintext yields the empty blob
// so that an empty file never carries an IV.
func (c *Codec) Encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, newEncryptionError("encrypt", err)
	}
	if len(plaintext) == 0 {
		return []byte{}, nil
	}

	blob := make([]byte, IVSize+len(plaintext))
	iv := blob[:IVSize]
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return nil, newEncryptionError("encrypt", fmt.Errorf("failed to generate IV: %w", err))
	}

	cipher.NewCFBEncrypter(block, iv).XORKeyStream(blob[IVSize:], plaintext)
	return blob, nil
}

// Decrypt reverses Encrypt. The empty blob decrypts to empty plaintext
// without touching the cipher. A non-empty blob shorter than IVSize
// cannot carry an IV and fails with ErrInvalidCiphertext.
func (c *Codec) Decrypt(key, blob []byte) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, newEncryptionError("decrypt", err)
	}
	if len(blob) == 0 {
		return []byte{}, nil
	}
	iv, body, err := splitBlob(blob)
	if err != nil {
		return nil, newEncryptionError("decrypt", err)
	}

	plaintext := make([]byte, len(body))
	cipher.NewCFBDecrypter(block, iv).XORKeyStream(plaintext, body)
	return plaintext, nil
}

func newBlock(key []byte) (cipher.Block, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	return block, nil
}

// splitBlob separates the IV from the cipher output.
func splitBlob(blob []byte) (iv, body []byte, err error) {
	if len(blob) < IVSize {
		return nil, nil, fmt.Errorf("%w: blob is %d bytes, shorter than the %d-byte IV",
			ErrInvalidCiphertext, len(blob), IVSize)
	}
	return blob[:IVSize], blob[IVSize:], nil
}
