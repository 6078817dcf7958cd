package keyfs

// KeyRegistry maps paths to their 32-byte keys. A path without a key may
// exist, but its content cannot be read, written or truncated.
//
// Keys may be registered before the path they name exists. The registry
// owns copies of the keys it holds and zeroes them when they are dropped.
type KeyRegistry struct {
	keys map[string][]byte
}

// NewKeyRegistry returns an empty registry.
func NewKeyRegistry() *KeyRegistry {
	return &KeyRegistry{keys: make(map[string][]byte)}
}

// Set registers key for path, replacing any existing key.
func (r *KeyRegistry) Set(path string, key []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	owned := make([]byte, KeySize)
	copy(owned, key)
	if old, ok := r.keys[path]; ok {
		zero(old)
	}
	r.keys[path] = owned
	return nil
}

// Get returns the key registered for path. The slice is owned by the
// registry and must not be retained or modified.
func (r *KeyRegistry) Get(path string) ([]byte, bool) {
	key, ok := r.keys[path]
	return key, ok
}

// Has reports whether path has a key.
func (r *KeyRegistry) Has(path string) bool {
	_, ok := r.keys[path]
	return ok
}

// Remove drops the key for path, if any.
func (r *KeyRegistry) Remove(path string) {
	if key, ok := r.keys[path]; ok {
		zero(key)
		delete(r.keys, path)
	}
}

// Len returns the number of registered keys.
func (r *KeyRegistry) Len() int {
	return len(r.keys)
}

// Wipe zeroes and drops every key.
func (r *KeyRegistry) Wipe() {
	for path, key := range r.keys {
		zero(key)
		delete(r.keys, path)
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
