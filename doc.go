// Package keyfs implements an in-memory filesystem whose file contents are
// encrypted at rest, each path under its own independently assigned
// 256-bit key.
//
// # Overview
//
// FS owns three tables:
//
//   - the path table, recording mode, link count and plaintext size for
//     every path, ordered so directory listings are range scans;
//   - the content store, holding one ciphertext blob per path inside an
//     absfs.FileSystem (an in-memory memfs by default);
//   - the key registry, mapping paths to keys.
//
// A path can be created without a key, but its content cannot be read,
// written or truncated until a key has been registered with SetKey. Keys
// may be registered before the path exists, and are dropped when the path
// is removed.
//
// # Basic Usage
//
//	fs, err := keyfs.New(nil)
//	if err != nil {
//	    panic(err)
//	}
//	defer fs.Close()
//
//	key := make([]byte, keyfs.KeySize)
//	rand.Read(key)
//
//	fs.SetKey("/secret.txt", key)
//	fs.Create("/secret.txt", 0o644)
//	fs.Write("/secret.txt", []byte("Hello, world!"), 0)
//	data, _ := fs.Read("/secret.txt", 13, 0)
//
// The fusefs package mounts an FS through FUSE and the control package
// serves SetKey and RotateKey over a Unix socket, so keys never travel
// through file content.
//
// # Blob Format
//
// Every non-empty file is stored as
//   - IV (16 bytes): fresh random value for every encryption
//   - Ciphertext (variable): AES-256-CFB of the whole plaintext
//
// An empty file is stored as the empty blob, with no IV. Every Write and
// Truncate decrypts the whole file, applies the change and re-encrypts it
// under a new IV.
//
// # Security Considerations
//
// CFB mode provides confidentiality only. Corrupted ciphertext, or
// decryption under the wrong key, is not detected and yields garbage of
// the expected length. Plaintext exists in memory only for the duration of
// a single operation; keys live in memory until their path is removed or
// the filesystem is closed.
package keyfs
