package keyfs

import (
	"fmt"
	"testing"
)

func BenchmarkEncrypt(b *testing.B) {
	sizes := []int{1024, 64 * 1024, 1024 * 1024}
	codec := NewCodec()
	key := testKey(b)

	for _, size := range sizes {
		b.Run(fmt.Sprintf("%dKB", size/1024), func(b *testing.B) {
			data := make([]byte, size)
			b.SetBytes(int64(size))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := codec.Encrypt(key, data); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkWrite(b *testing.B) {
	sizes := []int{1024, 64 * 1024}

	for _, size := range sizes {
		b.Run(fmt.Sprintf("%dKB", size/1024), func(b *testing.B) {
			fs := newTestFS(b)
			newKeyedFile(b, fs, "/bench")
			data := make([]byte, size)

			b.SetBytes(int64(size))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := fs.Write("/bench", data, 0); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkRead(b *testing.B) {
	fs := newTestFS(b)
	newKeyedFile(b, fs, "/bench")
	if _, err := fs.Write("/bench", make([]byte, 64*1024), 0); err != nil {
		b.Fatal(err)
	}

	b.SetBytes(4096)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := fs.Read("/bench", 4096, 8192); err != nil {
			b.Fatal(err)
		}
	}
}
