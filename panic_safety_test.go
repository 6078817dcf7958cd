package keyfs

import (
	"bytes"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
)

// mockPanicProvider is a KeyProvider that panics or fails for chosen paths
type mockPanicProvider struct {
	panicOn string
	failOn  string
	calls   atomic.Int32
}

func (m *mockPanicProvider) KeyFor(path string) ([]byte, error) {
	m.calls.Add(1)
	if path == m.panicOn {
		panic("test panic in key derivation")
	}
	if path == m.failOn {
		return nil, errors.New("provider unavailable")
	}
	key := bytes.Repeat([]byte{byte(len(path))}, KeySize)
	return key, nil
}

func TestDeriveKeysPanicRecovery(t *testing.T) {
	paths := []string{"/a", "/b", "/c", "/d", "/e"}
	for _, cfg := range []ParallelConfig{
		{MaxWorkers: 4},
		{MinPathsForParallel: 100},
	} {
		provider := &mockPanicProvider{panicOn: "/c"}
		jobs := deriveKeys(provider, paths, cfg)

		if len(jobs) != len(paths) {
			t.Fatalf("got %d jobs, want %d", len(jobs), len(paths))
		}
		if got := provider.calls.Load(); got != int32(len(paths)) {
			t.Errorf("provider called %d times, want %d", got, len(paths))
		}
		for i, job := range jobs {
			if job.path != paths[i] {
				t.Errorf("job %d path = %q, want %q", i, job.path, paths[i])
			}
			if job.path == "/c" {
				if job.err == nil || !strings.HasPrefix(job.err.Error(), "panic in key derivation") {
					t.Errorf("expected recovered panic for /c, got %v", job.err)
				}
				if job.key != nil {
					t.Error("panicking job kept a key")
				}
				continue
			}
			if job.err != nil || len(job.key) != KeySize {
				t.Errorf("job %s: key len %d, err %v", job.path, len(job.key), job.err)
			}
		}
	}
}

func TestDeriveKeysNoPanic(t *testing.T) {
	provider, err := NewMasterKeyProvider(bytes.Repeat([]byte{9}, KeySize), nil)
	if err != nil {
		t.Fatal(err)
	}
	paths := []string{"/1", "/2", "/3", "/4", "/5", "/6", "/7", "/8"}
	jobs := deriveKeys(provider, paths, ParallelConfig{MaxWorkers: 3})

	for _, job := range jobs {
		if job.err != nil {
			t.Fatalf("%s: %v", job.path, job.err)
		}
		want, _ := provider.KeyFor(job.path)
		if !bytes.Equal(job.key, want) {
			t.Errorf("%s: parallel key differs from sequential derivation", job.path)
		}
	}
}

func TestDeriveKeysEmpty(t *testing.T) {
	if jobs := deriveKeys(&mockPanicProvider{}, nil, ParallelConfig{}); len(jobs) != 0 {
		t.Errorf("got %d jobs for no paths", len(jobs))
	}
}

func TestParallelConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ParallelConfig
		wantErr bool
	}{
		{"zero value", ParallelConfig{}, false},
		{"explicit", ParallelConfig{MaxWorkers: 8, MinPathsForParallel: 2}, false},
		{"negative workers", ParallelConfig{MaxWorkers: -1}, true},
		{"too many workers", ParallelConfig{MaxWorkers: 2048}, true},
		{"negative threshold", ParallelConfig{MinPathsForParallel: -1}, true},
		{"threshold too high", ParallelConfig{MinPathsForParallel: 5000}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if _, err := New(&Config{Parallel: ParallelConfig{MaxWorkers: -1}}); !IsValidationError(err) {
		t.Errorf("New with bad parallel config = %v, want ValidationError", err)
	}
}

func TestRotateAllProviderFailure(t *testing.T) {
	tests := []struct {
		name     string
		provider *mockPanicProvider
	}{
		{"error", &mockPanicProvider{failOn: "/b"}},
		{"panic", &mockPanicProvider{panicOn: "/b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newTestFS(t)
			oldKeys := map[string][]byte{}
			for _, p := range []string{"/a", "/b", "/c"} {
				oldKeys[p] = newKeyedFile(t, fs, p)
				if _, err := fs.Write(p, []byte("data "+p), 0); err != nil {
					t.Fatal(err)
				}
			}

			rotated, err := fs.RotateAll(tt.provider)
			var pe *PathError
			if !errors.As(err, &pe) || pe.Path != "/b" {
				t.Fatalf("RotateAll error = %v, want PathError for /b", err)
			}
			if len(rotated) != 1 || rotated[0] != "/a" {
				t.Errorf("rotated = %v, want [/a]", rotated)
			}

			for _, p := range []string{"/b", "/c"} {
				got, _ := fs.keys.Get(p)
				if !bytes.Equal(got, oldKeys[p]) {
					t.Errorf("%s: key changed after the failure", p)
				}
			}
			for p := range oldKeys {
				data, err := fs.Read(p, 100, 0)
				if err != nil || string(data) != "data "+p {
					t.Errorf("Read(%s) = %q, %v", p, data, err)
				}
			}
		})
	}
}
