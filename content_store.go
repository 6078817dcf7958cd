package keyfs

import (
	"fmt"
	"io"
	"os"
	"path"

	"github.com/absfs/absfs"
	"github.com/absfs/memfs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// blobDir is the directory inside the backing filesystem holding all blobs.
const blobDir = "/blobs"

// ContentStore maps paths to ciphertext blobs. Each blob is a file in the
// backing absfs.FileSystem named by a random UUID, so neither plaintext nor
// the plaintext path ever reaches the backing store.
type ContentStore struct {
	fs     absfs.FileSystem
	ids    map[string]uuid.UUID
	logger zerolog.Logger
}

// NewContentStore creates a content store on top of fs. A nil fs selects a
// fresh in-memory memfs.
func NewContentStore(fs absfs.FileSystem, logger zerolog.Logger) (*ContentStore, error) {
	if fs == nil {
		mfs, err := memfs.NewFS()
		if err != nil {
			return nil, fmt.Errorf("failed to create memfs: %w", err)
		}
		fs = mfs
	}
	if err := fs.MkdirAll(blobDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &ContentStore{
		fs:     fs,
		ids:    make(map[string]uuid.UUID),
		logger: logger,
	}, nil
}

// Init stores the empty blob for p, replacing any blob it already has.
func (s *ContentStore) Init(p string) error {
	return s.put(p, []byte{})
}

// Put replaces the blob of an existing path. The new blob is written to a
// fresh file before the old one is dropped, so a failed write leaves the
// previous content intact. Once the new blob is in place Put succeeds; an
// old blob that cannot be removed is only logged.
func (s *ContentStore) Put(p string, blob []byte) error {
	if _, ok := s.ids[p]; !ok {
		return ErrNotFound
	}
	return s.put(p, blob)
}

func (s *ContentStore) put(p string, blob []byte) error {
	id := uuid.New()
	if err := s.writeBlob(id, blob); err != nil {
		return err
	}
	old, existed := s.ids[p]
	s.ids[p] = id
	if existed {
		if err := s.fs.Remove(blobName(old)); err != nil {
			s.logger.Warn().Str("blob", old.String()).Err(err).Msg("failed to remove replaced blob")
		}
	}
	return nil
}

// Get returns the blob stored for p.
func (s *ContentStore) Get(p string) ([]byte, error) {
	id, ok := s.ids[p]
	if !ok {
		return nil, ErrNotFound
	}
	f, err := s.fs.Open(blobName(id))
	if err != nil {
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	defer f.Close()

	blob, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return blob, nil
}

// Has reports whether p has a blob.
func (s *ContentStore) Has(p string) bool {
	_, ok := s.ids[p]
	return ok
}

// Delete drops the blob of p.
func (s *ContentStore) Delete(p string) error {
	id, ok := s.ids[p]
	if !ok {
		return ErrNotFound
	}
	delete(s.ids, p)
	if err := s.fs.Remove(blobName(id)); err != nil {
		return fmt.Errorf("failed to remove blob: %w", err)
	}
	return nil
}

// Len returns the number of stored blobs.
func (s *ContentStore) Len() int {
	return len(s.ids)
}

// Clear drops every blob.
func (s *ContentStore) Clear() error {
	for p, id := range s.ids {
		delete(s.ids, p)
		if err := s.fs.Remove(blobName(id)); err != nil {
			return fmt.Errorf("failed to remove blob: %w", err)
		}
	}
	return nil
}

func (s *ContentStore) writeBlob(id uuid.UUID, blob []byte) error {
	f, err := s.fs.OpenFile(blobName(id), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create blob: %w", err)
	}
	if _, err := f.Write(blob); err != nil {
		f.Close()
		s.fs.Remove(blobName(id))
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := f.Close(); err != nil {
		s.fs.Remove(blobName(id))
		return fmt.Errorf("failed to close blob: %w", err)
	}
	return nil
}

func blobName(id uuid.UUID) string {
	return path.Join(blobDir, id.String())
}
