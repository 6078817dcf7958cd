package keyfs

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// FS is an in-memory filesystem whose file contents are encrypted at rest,
// each path under its own key. It owns the path table, the content store
// and the key registry; one mutex serializes every operation so that the
// decrypt-modify-encrypt cycle of Write and Truncate is atomic.
type FS struct {
	mu       sync.Mutex
	paths    *PathTable
	content  *ContentStore
	keys     *KeyRegistry
	codec    *Codec
	provider KeyProvider
	parallel ParallelConfig
	maxSize  int64
	logger   zerolog.Logger
	metrics  *Metrics
	closed   bool
}

// New creates a filesystem holding only the root directory.
func New(config *Config) (*FS, error) {
	if config == nil {
		config = &Config{}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = config.Logger.With().Str("component", "keyfs").Logger()
	}
	maxSize := config.MaxFileSize
	if maxSize == 0 {
		maxSize = DefaultMaxFileSize
	}

	content, err := NewContentStore(config.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create content store: %w", err)
	}
	if err := content.Init("/"); err != nil {
		return nil, fmt.Errorf("failed to initialize root content: %w", err)
	}

	f := &FS{
		paths:    NewPathTable(config.RootMode, config.Now),
		content:  content,
		keys:     NewKeyRegistry(),
		codec:    NewCodec(),
		provider: config.KeyProvider,
		parallel: config.Parallel,
		maxSize:  maxSize,
		logger:   logger,
		metrics:  config.Metrics,
	}
	f.metrics.setCounts(f.paths.Len(), f.keys.Len())
	return f, nil
}

// Getattr returns the metadata of path.
func (f *FS) Getattr(path string) (attr Attr, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer func() { err = f.end("getattr", path, err) }()

	if err = f.begin(path); err != nil {
		return Attr{}, err
	}
	return f.paths.Getattr(path)
}

// Readdir lists ".", ".." and the names of the immediate children of path.
func (f *FS) Readdir(path string) (names []string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer func() { err = f.end("readdir", path, err) }()

	if err = f.begin(path); err != nil {
		return nil, err
	}
	return f.paths.Readdir(path), nil
}

// Mkdir creates a directory. The parent must exist. As with Create, a
// configured KeyProvider keys the new directory.
func (f *FS) Mkdir(path string, mode uint32) (err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer func() { err = f.end("mkdir", path, err) }()

	if err = f.begin(path); err != nil {
		return err
	}
	derived, err := f.deriveKey(path)
	if err != nil {
		return err
	}
	defer zero(derived)

	if err = f.paths.Mkdir(path, mode); err != nil {
		return err
	}
	if err = f.content.Init(path); err != nil {
		f.paths.Rmdir(path)
		return err
	}
	if derived != nil {
		f.keys.Set(path, derived)
	}

	f.logger.Debug().Str("path", path).Uint32("mode", mode).Bool("derived_key", derived != nil).Msg("mkdir")
	return nil
}

// Rmdir removes an empty directory along with its blob and key.
func (f *FS) Rmdir(path string) (err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer func() { err = f.end("rmdir", path, err) }()

	if err = f.begin(path); err != nil {
		return err
	}
	if err = f.paths.Rmdir(path); err != nil {
		return err
	}
	f.dropContent(path)

	f.logger.Debug().Str("path", path).Msg("rmdir")
	return nil
}

// Create creates or resets a regular file. Creating a path never requires
// a key; when a KeyProvider is configured and the path has no key yet, a
// derived key is registered.
func (f *FS) Create(path string, mode uint32) (h Handle, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer func() { err = f.end("create", path, err) }()

	if err = f.begin(path); err != nil {
		return 0, err
	}

	derived, err := f.deriveKey(path)
	if err != nil {
		return 0, err
	}
	defer zero(derived)

	previous, prevErr := f.paths.Getattr(path)
	if err = f.paths.Create(path, mode); err != nil {
		return 0, err
	}
	if err = f.content.Init(path); err != nil {
		if prevErr == nil {
			f.paths.restore(path, previous)
		} else {
			f.paths.forget(path)
		}
		return 0, err
	}
	if derived != nil {
		// Cannot fail: the length was validated above.
		f.keys.Set(path, derived)
	}

	f.logger.Debug().Str("path", path).Uint32("mode", mode).Bool("derived_key", derived != nil).Msg("create")
	return 0, nil
}

// Open checks that path exists and has a key. The returned handle carries
// no state.
func (f *FS) Open(path string, flags int) (h Handle, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer func() { err = f.end("open", path, err) }()

	if err = f.begin(path); err != nil {
		return 0, err
	}
	if !f.paths.Exists(path) {
		return 0, ErrNotFound
	}
	if !f.keys.Has(path) {
		return 0, ErrAccessDenied
	}

	f.logger.Debug().Str("path", path).Int("flags", flags).Msg("open")
	return 0, nil
}

// Read decrypts the content of path and returns at most size bytes starting
// at offset. Reads past the end return fewer bytes, or none; they are never
// padded.
func (f *FS) Read(path string, size int, offset int64) (data []byte, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer func() { err = f.end("read", path, err) }()

	if err = f.begin(path); err != nil {
		return nil, err
	}
	if err = ValidateOffset(offset, "offset"); err != nil {
		return nil, err
	}
	if err = ValidateOffset(int64(size), "size"); err != nil {
		return nil, err
	}

	key, err := f.contentKey(path)
	if err != nil {
		return nil, err
	}
	plaintext, err := f.decrypt(path, key)
	if err != nil {
		return nil, err
	}
	defer zero(plaintext)

	start := clip(offset, len(plaintext))
	end := start + clip(int64(size), len(plaintext)-start)
	data = make([]byte, end-start)
	copy(data, plaintext[start:end])

	f.metrics.recordRead(len(data))
	f.logger.Debug().Str("path", path).Int64("offset", offset).Int("size", size).Int("returned", len(data)).Msg("read")
	return data, nil
}

// Write splices data into the content of path at offset and re-encrypts the
// whole result under a fresh IV. Bytes past the end of data are preserved;
// a gap between the old end of file and offset is zero-filled. A write that
// would end past Config.MaxFileSize fails with ErrFileTooLarge.
func (f *FS) Write(path string, data []byte, offset int64) (n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer func() { err = f.end("write", path, err) }()

	if err = f.begin(path); err != nil {
		return 0, err
	}
	if err = ValidateOffset(offset, "offset"); err != nil {
		return 0, err
	}

	key, err := f.contentKey(path)
	if err != nil {
		return 0, err
	}
	// Both operands are non-negative, so the subtraction cannot overflow.
	if offset > f.maxSize-int64(len(data)) {
		return 0, ErrFileTooLarge
	}
	plaintext, err := f.decrypt(path, key)
	if err != nil {
		return 0, err
	}

	updated := splice(plaintext, data, int(offset))
	defer zero(updated)
	if err = f.store(path, key, updated); err != nil {
		return 0, err
	}

	f.metrics.recordWrite(len(data))
	f.logger.Debug().Str("path", path).Int64("offset", offset).Int("len", len(data)).Int("size", len(updated)).Msg("write")
	return len(data), nil
}

// Truncate shrinks the content of path to length bytes. A length beyond the
// current size leaves the content as it is; it is never zero-extended.
func (f *FS) Truncate(path string, length int64) (err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer func() { err = f.end("truncate", path, err) }()

	if err = f.begin(path); err != nil {
		return err
	}
	if err = ValidateOffset(length, "length"); err != nil {
		return err
	}

	key, err := f.contentKey(path)
	if err != nil {
		return err
	}
	plaintext, err := f.decrypt(path, key)
	if err != nil {
		return err
	}
	defer zero(plaintext)

	cut := clip(length, len(plaintext))
	if err = f.store(path, key, plaintext[:cut]); err != nil {
		return err
	}

	f.logger.Debug().Str("path", path).Int64("length", length).Int("size", cut).Msg("truncate")
	return nil
}

// Unlink removes a file together with its blob and key.
func (f *FS) Unlink(path string) (err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer func() { err = f.end("unlink", path, err) }()

	if err = f.begin(path); err != nil {
		return err
	}
	if err = f.paths.Unlink(path); err != nil {
		return err
	}
	f.dropContent(path)

	f.logger.Debug().Str("path", path).Msg("unlink")
	return nil
}

// SetKey registers the key for path, replacing any previous one. The path
// does not need to exist yet. Existing content is not re-encrypted; use
// RotateKey for that.
func (f *FS) SetKey(path string, key []byte) (err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer func() { err = f.end("set_key", path, err) }()

	if err = f.begin(path); err != nil {
		return err
	}
	if err = f.keys.Set(path, key); err != nil {
		return err
	}

	f.logger.Debug().Str("path", path).Msg("set key")
	return nil
}

// HasKey reports whether a key is registered for path.
func (f *FS) HasKey(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keys.Has(path)
}

// Len returns the number of paths, root included.
func (f *FS) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paths.Len()
}

// Close wipes every key and drops every blob. Operations on a closed FS
// fail with ErrClosed.
func (f *FS) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	f.keys.Wipe()
	if err := f.content.Clear(); err != nil {
		return fmt.Errorf("failed to clear content store: %w", err)
	}
	f.metrics.setCounts(0, 0)
	f.logger.Debug().Msg("closed")
	return nil
}

func (f *FS) begin(path string) error {
	if f.closed {
		return ErrClosed
	}
	return ValidatePath(path)
}

// end wraps a failure in a *PathError and records the outcome. It runs with
// the lock held.
func (f *FS) end(op, path string, err error) error {
	f.metrics.recordOp(op, err)
	if err != nil {
		f.logger.Debug().Str("op", op).Str("path", path).Err(err).Msg("operation failed")
		return newPathError(op, path, err)
	}
	f.metrics.setCounts(f.paths.Len(), f.keys.Len())
	return nil
}

// deriveKey returns a provider key for a path that has none yet, or nil
// when no provider is configured or a key is already registered.
func (f *FS) deriveKey(path string) ([]byte, error) {
	if f.provider == nil || f.keys.Has(path) {
		return nil, nil
	}
	key, err := f.provider.KeyFor(path)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// contentKey resolves the key for a content operation on path.
func (f *FS) contentKey(path string) ([]byte, error) {
	attr, err := f.paths.Getattr(path)
	if err != nil {
		return nil, err
	}
	if attr.IsDir() {
		return nil, ErrIsDirectory
	}
	key, ok := f.keys.Get(path)
	if !ok {
		return nil, ErrAccessDenied
	}
	return key, nil
}

func (f *FS) decrypt(path string, key []byte) ([]byte, error) {
	blob, err := f.content.Get(path)
	if err != nil {
		return nil, err
	}
	return f.codec.Decrypt(key, blob)
}

// store encrypts plaintext under key, replaces the blob of path and records
// the new size. The path table is only touched once the blob is in place.
func (f *FS) store(path string, key, plaintext []byte) error {
	blob, err := f.codec.Encrypt(key, plaintext)
	if err != nil {
		return err
	}
	if err := f.content.Put(path, blob); err != nil {
		return err
	}
	return f.paths.SetSize(path, uint64(len(plaintext)))
}

// dropContent removes the blob and key of a path already removed from the
// path table.
func (f *FS) dropContent(path string) {
	if err := f.content.Delete(path); err != nil {
		f.logger.Warn().Str("path", path).Err(err).Msg("failed to remove blob")
	}
	f.keys.Remove(path)
}

// splice returns old with data written at offset. The result is a new
// buffer of length max(len(old), offset+len(data)); any gap is zero.
func splice(old, data []byte, offset int) []byte {
	size := len(old)
	if end := offset + len(data); end > size {
		size = end
	}
	updated := make([]byte, size)
	copy(updated, old)
	zero(old)
	copy(updated[offset:], data)
	return updated
}

func clip(n int64, limit int) int {
	if n > int64(limit) {
		return limit
	}
	return int(n)
}
