package keyfs

import (
	"errors"
	"time"

	"github.com/absfs/absfs"
	"github.com/rs/zerolog"
)

const (
	// KeySize is the size of a per-path key in bytes (AES-256).
	KeySize = 32

	// IVSize is the size of the initialization vector prefixed to every
	// non-empty blob.
	IVSize = 16
)

// File type and permission bits carried in Attr.Mode. The values match the
// POSIX st_mode encoding so the mount layer can pass them through unchanged.
const (
	ModeType    uint32 = 0o170000
	ModeDir     uint32 = 0o040000
	ModeRegular uint32 = 0o100000
	ModePerm    uint32 = 0o7777

	// DefaultRootMode is the permission set of "/" when Config.RootMode is zero.
	DefaultRootMode uint32 = 0o755
)

// DefaultMaxFileSize is the largest plaintext a file may grow to when
// Config.MaxFileSize is zero. Every write holds the whole file in memory
// at least twice.
const DefaultMaxFileSize int64 = 1 << 30

// Attr is the metadata recorded for every path.
type Attr struct {
	Mode  uint32    // permission bits | ModeDir or ModeRegular
	Nlink uint32    // link count; directories start at 2
	Size  uint64    // plaintext length, never the ciphertext length
	Mtime time.Time // last content modification
	Ctime time.Time // last metadata change
}

// IsDir reports whether the entry is a directory.
func (a Attr) IsDir() bool {
	return a.Mode&ModeType == ModeDir
}

// IsRegular reports whether the entry is a regular file.
func (a Attr) IsRegular() bool {
	return a.Mode&ModeType == ModeRegular
}

// Handle is the value returned by Create and Open. No per-open state is
// tracked, so it is always zero; every operation re-resolves its path.
type Handle uint64

// Config contains configuration for the filesystem engine
type Config struct {
	// Logger receives debug logs for every operation. Nil disables logging.
	Logger *zerolog.Logger

	// Metrics, when non-nil, records operation counts and byte totals.
	Metrics *Metrics

	// Store backs the content store. Only ciphertext is ever written to it.
	// Nil selects a fresh in-memory memfs.
	Store absfs.FileSystem

	// KeyProvider, when set, derives and registers a key for every path
	// created without one.
	KeyProvider KeyProvider

	// RootMode holds the permission bits of "/". Zero means DefaultRootMode.
	RootMode uint32

	// Now returns the current time. Nil means time.Now.
	Now func() time.Time

	// Parallel tunes key derivation during RotateAll.
	Parallel ParallelConfig

	// MaxFileSize bounds the plaintext size a Write may produce. Zero
	// means DefaultMaxFileSize.
	MaxFileSize int64
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.RootMode&^ModePerm != 0 {
		return &ValidationError{
			Field:   "root_mode",
			Value:   c.RootMode,
			Message: "root mode may only carry permission bits",
			Err:     errors.New("invalid root mode"),
		}
	}
	if c.MaxFileSize < 0 {
		return &ValidationError{
			Field:   "max_file_size",
			Value:   c.MaxFileSize,
			Message: "max file size cannot be negative",
			Err:     errors.New("invalid max file size"),
		}
	}
	if err := c.Parallel.Validate(); err != nil {
		return &ValidationError{
			Field:   "parallel",
			Value:   c.Parallel,
			Message: err.Error(),
			Err:     err,
		}
	}
	return nil
}
