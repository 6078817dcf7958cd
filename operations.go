package keyfs

// Operations is the fixed operation set a mount layer drives. Every method
// takes an absolute, cleaned path and re-resolves it; there is no per-open
// state. Failures are *PathError values wrapping one of the package
// sentinels, which the mount layer maps to OS status codes.
type Operations interface {
	Getattr(path string) (Attr, error)
	Readdir(path string) ([]string, error)
	Mkdir(path string, mode uint32) error
	Rmdir(path string) error
	Create(path string, mode uint32) (Handle, error)
	Open(path string, flags int) (Handle, error)
	Read(path string, size int, offset int64) ([]byte, error)
	Write(path string, data []byte, offset int64) (int, error)
	Truncate(path string, length int64) error
	Unlink(path string) error
	SetKey(path string, key []byte) error
}

var _ Operations = (*FS)(nil)
