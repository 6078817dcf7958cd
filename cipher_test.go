package keyfs

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func testKey(t testing.TB) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

func TestCodec_RoundTrip(t *testing.T) {
	codec := NewCodec()
	key := testKey(t)

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"one byte", []byte{0x42}},
		{"short", []byte("Hello, world!")},
		{"exactly one block", bytes.Repeat([]byte{0xAA}, 16)},
		{"unaligned", bytes.Repeat([]byte("xyz"), 1001)},
		{"100KB", bytes.Repeat([]byte("A"), 100*1024)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob, err := codec.Encrypt(key, tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}

			got, err := codec.Decrypt(key, blob)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if !bytes.Equal(got, tt.plaintext) {
				t.Errorf("round trip mismatch: got %d bytes, want %d bytes", len(got), len(tt.plaintext))
			}
		})
	}
}

func TestCodec_BlobLayout(t *testing.T) {
	codec := NewCodec()
	key := testKey(t)
	plaintext := []byte("Hello, world!")

	blob, err := codec.Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if len(blob) != IVSize+len(plaintext) {
		t.Fatalf("blob length = %d, want %d", len(blob), IVSize+len(plaintext))
	}
	if bytes.Contains(blob, plaintext) {
		t.Error("blob contains the plaintext")
	}
}

func TestCodec_FreshIVPerCall(t *testing.T) {
	codec := NewCodec()
	key := testKey(t)
	plaintext := []byte("same plaintext, same key")

	first, err := codec.Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	second, err := codec.Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if bytes.Equal(first, second) {
		t.Error("two encryptions of the same plaintext produced identical blobs")
	}
	if bytes.Equal(first[:IVSize], second[:IVSize]) {
		t.Error("IV was reused")
	}
}

func TestCodec_EmptyPlaintextIsEmptyBlob(t *testing.T) {
	codec := NewCodec()
	key := testKey(t)

	for i := 0; i < 2; i++ {
		blob, err := codec.Encrypt(key, nil)
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		if len(blob) != 0 {
			t.Fatalf("empty plaintext produced a %d-byte blob", len(blob))
		}
	}

	got, err := codec.Decrypt(key, []byte{})
	if err != nil {
		t.Fatalf("Decrypt of empty blob failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("empty blob decrypted to %d bytes", len(got))
	}
}

func TestCodec_WrongKeyYieldsGarbage(t *testing.T) {
	codec := NewCodec()
	plaintext := []byte("Data for file1")

	blob, err := codec.Encrypt(testKey(t), plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	got, err := codec.Decrypt(testKey(t), blob)
	if err != nil {
		t.Fatalf("Decrypt with wrong key should not fail, got: %v", err)
	}
	if len(got) != len(plaintext) {
		t.Errorf("wrong-key plaintext length = %d, want %d", len(got), len(plaintext))
	}
	if bytes.Equal(got, plaintext) {
		t.Error("wrong key recovered the plaintext")
	}
}

func TestCodec_ShortBlob(t *testing.T) {
	codec := NewCodec()
	key := testKey(t)

	for _, n := range []int{1, 8, IVSize - 1} {
		_, err := codec.Decrypt(key, make([]byte, n))
		if !errors.Is(err, ErrInvalidCiphertext) {
			t.Errorf("Decrypt(%d-byte blob) error = %v, want ErrInvalidCiphertext", n, err)
		}
		if !IsEncryptionError(err) {
			t.Errorf("Decrypt(%d-byte blob) error is not an EncryptionError", n)
		}
	}

	// An IV with no cipher output is a valid encoding of empty plaintext.
	got, err := codec.Decrypt(key, make([]byte, IVSize))
	if err != nil {
		t.Fatalf("Decrypt(IV-only blob) failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("IV-only blob decrypted to %d bytes", len(got))
	}
}

func TestCodec_InvalidKeyLength(t *testing.T) {
	codec := NewCodec()

	for _, size := range []int{0, 16, 24, 31, 33} {
		key := make([]byte, size)
		if _, err := codec.Encrypt(key, []byte("x")); !errors.Is(err, ErrInvalidKeyLength) {
			t.Errorf("Encrypt with %d-byte key: error = %v, want ErrInvalidKeyLength", size, err)
		}
		if _, err := codec.Decrypt(key, make([]byte, 20)); !errors.Is(err, ErrInvalidKeyLength) {
			t.Errorf("Decrypt with %d-byte key: error = %v, want ErrInvalidKeyLength", size, err)
		}
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy exhausted")
}

func TestCodec_IVGenerationFailure(t *testing.T) {
	codec := &Codec{rand: failingReader{}}

	_, err := codec.Encrypt(testKey(t), []byte("data"))
	if err == nil {
		t.Fatal("expected error when IV generation fails")
	}
	if !IsEncryptionError(err) {
		t.Errorf("error = %v, want EncryptionError", err)
	}
}
