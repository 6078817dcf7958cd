package keyfs

import "sort"

// RotateKey re-encrypts the content of path under newKey and registers
// newKey in place of the old one. The path must exist and already be keyed.
// On failure the old key and content stay in place.
func (f *FS) RotateKey(path string, newKey []byte) (err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer func() { err = f.end("rotate_key", path, err) }()

	if err = f.begin(path); err != nil {
		return err
	}
	if err = ValidateKey(newKey); err != nil {
		return err
	}

	attr, err := f.paths.Getattr(path)
	if err != nil {
		return err
	}
	oldKey, ok := f.keys.Get(path)
	if !ok {
		return ErrAccessDenied
	}

	if !attr.IsDir() {
		plaintext, err := f.decrypt(path, oldKey)
		if err != nil {
			return err
		}
		defer zero(plaintext)

		if err := f.store(path, newKey, plaintext); err != nil {
			return err
		}
	}
	if err = f.keys.Set(path, newKey); err != nil {
		return err
	}

	f.logger.Debug().Str("path", path).Msg("rotate key")
	return nil
}

// RotateAll re-keys every existing keyed path with a key from provider, in
// path order. Keys are derived up front, in parallel per Config.Parallel.
// Paths removed while the rotation runs are skipped. It stops at the first
// other failure and returns the paths rotated so far.
func (f *FS) RotateAll(provider KeyProvider) ([]string, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, &PathError{Op: "rotate_all", Path: "/", Err: ErrClosed}
	}
	var keyed []string
	for p := range f.keys.keys {
		if f.paths.Exists(p) {
			keyed = append(keyed, p)
		}
	}
	f.mu.Unlock()
	sort.Strings(keyed)

	jobs := deriveKeys(provider, keyed, f.parallel)
	defer func() {
		for i := range jobs {
			zero(jobs[i].key)
		}
	}()

	rotated := make([]string, 0, len(jobs))
	for _, job := range jobs {
		if job.err != nil {
			return rotated, &PathError{Op: "rotate_key", Path: job.path, Err: job.err}
		}
		err := f.RotateKey(job.path, job.key)
		if IsNotFound(err) {
			continue
		}
		if err != nil {
			return rotated, err
		}
		rotated = append(rotated, job.path)
	}
	return rotated, nil
}
