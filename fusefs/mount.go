package fusefs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/rs/zerolog"

	"github.com/absfs/keyfs"
)

// Options controls how the filesystem is mounted.
type Options struct {
	// SingleThreaded dispatches one kernel request at a time.
	SingleThreaded bool
	AllowOther     bool
	// Debug turns on go-fuse wire tracing.
	Debug  bool
	FsName string
	Logger *zerolog.Logger
}

// Mount mounts ops at mountpoint and starts serving. The returned server
// is already running; call Unmount or Serve to stop it.
func Mount(mountpoint string, ops keyfs.Operations, opts Options) (*fuse.Server, error) {
	if mountpoint == "" {
		return nil, errors.New("mountpoint is required")
	}
	info, err := os.Stat(mountpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to stat mountpoint: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("mountpoint %s is not a directory", mountpoint)
	}

	fsName := opts.FsName
	if fsName == "" {
		fsName = "keyfs"
	}

	// Attributes change underneath the kernel on every write, so nothing is
	// cached.
	timeout := time.Duration(0)
	server, err := fs.Mount(mountpoint, NewRoot(ops, opts.Logger), &fs.Options{
		MountOptions: fuse.MountOptions{
			AllowOther:     opts.AllowOther,
			FsName:         fsName,
			Name:           "keyfs",
			Debug:          opts.Debug,
			SingleThreaded: opts.SingleThreaded,
		},
		EntryTimeout:    &timeout,
		AttrTimeout:     &timeout,
		NegativeTimeout: &timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mount %s: %w", mountpoint, err)
	}

	if opts.Logger != nil {
		opts.Logger.Info().Str("mountpoint", mountpoint).Bool("single_threaded", opts.SingleThreaded).Msg("mounted")
	}
	return server, nil
}

// Serve blocks until the filesystem is unmounted externally or ctx is
// cancelled, in which case it unmounts.
func Serve(ctx context.Context, server *fuse.Server) error {
	done := make(chan struct{})
	go func() {
		server.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if err := server.Unmount(); err != nil {
			return fmt.Errorf("failed to unmount: %w", err)
		}
		<-done
		return nil
	}
}
