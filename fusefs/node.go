// Package fusefs exposes a keyfs.Operations implementation through FUSE
// using go-fuse's node API. Nodes carry only their path; every call is
// forwarded to the engine, which re-resolves the path and holds no per-open
// state.
package fusefs

import (
	"context"
	"hash/fnv"
	"path"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/rs/zerolog"

	"github.com/absfs/keyfs"
)

// Node is one path in the mounted tree.
type Node struct {
	fs.Inode

	path   string
	ops    keyfs.Operations
	logger zerolog.Logger
}

var (
	_ fs.NodeLookuper  = (*Node)(nil)
	_ fs.NodeGetattrer = (*Node)(nil)
	_ fs.NodeSetattrer = (*Node)(nil)
	_ fs.NodeReaddirer = (*Node)(nil)
	_ fs.NodeOpener    = (*Node)(nil)
	_ fs.NodeReader    = (*Node)(nil)
	_ fs.NodeWriter    = (*Node)(nil)
	_ fs.NodeCreater   = (*Node)(nil)
	_ fs.NodeMkdirer   = (*Node)(nil)
	_ fs.NodeUnlinker  = (*Node)(nil)
	_ fs.NodeRmdirer   = (*Node)(nil)
)

// NewRoot returns the node for "/". A nil logger disables adapter logging.
func NewRoot(ops keyfs.Operations, logger *zerolog.Logger) *Node {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "fuse").Logger()
	}
	return &Node{path: "/", ops: ops, logger: l}
}

func (n *Node) child(name string) string {
	return path.Join(n.path, name)
}

func (n *Node) newChild(ctx context.Context, p string, attr keyfs.Attr) *fs.Inode {
	node := &Node{path: p, ops: n.ops, logger: n.logger}
	return n.NewInode(ctx, node, fs.StableAttr{
		Mode: attr.Mode & keyfs.ModeType,
		Ino:  inodeNumber(p),
	})
}

// fail logs err and converts it for the kernel.
func (n *Node) fail(op, p string, err error) syscall.Errno {
	errno := ToErrno(err)
	n.logger.Debug().Str("op", op).Str("path", p).Err(err).Int("errno", int(errno)).Msg("operation failed")
	return errno
}

// Lookup resolves name in this directory.
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.child(name)
	attr, err := n.ops.Getattr(p)
	if err != nil {
		// Missing names are routine; keep them out of the log.
		return nil, ToErrno(err)
	}
	fillAttr(&out.Attr, p, attr)
	return n.newChild(ctx, p, attr), 0
}

// Getattr reports the metadata recorded for this path.
func (n *Node) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, err := n.ops.Getattr(n.path)
	if err != nil {
		return n.fail("getattr", n.path, err)
	}
	fillAttr(&out.Attr, n.path, attr)
	return 0
}

// Setattr supports size changes only, which map to Truncate. Other
// attribute changes are accepted and ignored.
func (n *Node) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		if err := n.ops.Truncate(n.path, int64(size)); err != nil {
			return n.fail("truncate", n.path, err)
		}
	}
	return n.Getattr(ctx, fh, out)
}

// Readdir lists the children of this directory. go-fuse supplies "." and
// ".." itself.
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	names, err := n.ops.Readdir(n.path)
	if err != nil {
		return nil, n.fail("readdir", n.path, err)
	}

	entries := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		p := n.child(name)
		attr, err := n.ops.Getattr(p)
		if err != nil {
			continue
		}
		entries = append(entries, fuse.DirEntry{
			Name: name,
			Mode: attr.Mode & keyfs.ModeType,
			Ino:  inodeNumber(p),
		})
	}
	return fs.NewListDirStream(entries), 0
}

// Open checks that the file exists and is keyed. Page caching is disabled
// so that every read and write reaches the engine.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if _, err := n.ops.Open(n.path, int(flags)); err != nil {
		return nil, 0, n.fail("open", n.path, err)
	}
	return nil, fuse.FOPEN_DIRECT_IO, 0
}

func (n *Node) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := n.ops.Read(n.path, len(dest), off)
	if err != nil {
		return nil, n.fail("read", n.path, err)
	}
	return fuse.ReadResultData(data), 0
}

func (n *Node) Write(ctx context.Context, fh fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	written, err := n.ops.Write(n.path, data, off)
	if err != nil {
		return 0, n.fail("write", n.path, err)
	}
	return uint32(written), 0
}

// Create makes a new file. The kernel follows up with its own open checks,
// so a file created without a key is visible but unreadable.
func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	p := n.child(name)
	if _, err := n.ops.Create(p, mode); err != nil {
		return nil, nil, 0, n.fail("create", p, err)
	}
	attr, err := n.ops.Getattr(p)
	if err != nil {
		return nil, nil, 0, n.fail("create", p, err)
	}
	fillAttr(&out.Attr, p, attr)
	return n.newChild(ctx, p, attr), nil, fuse.FOPEN_DIRECT_IO, 0
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.child(name)
	if err := n.ops.Mkdir(p, mode); err != nil {
		return nil, n.fail("mkdir", p, err)
	}
	attr, err := n.ops.Getattr(p)
	if err != nil {
		return nil, n.fail("mkdir", p, err)
	}
	fillAttr(&out.Attr, p, attr)
	return n.newChild(ctx, p, attr), 0
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	p := n.child(name)
	if err := n.ops.Unlink(p); err != nil {
		return n.fail("unlink", p, err)
	}
	return 0
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	p := n.child(name)
	if err := n.ops.Rmdir(p); err != nil {
		return n.fail("rmdir", p, err)
	}
	return 0
}

func fillAttr(out *fuse.Attr, p string, attr keyfs.Attr) {
	out.Ino = inodeNumber(p)
	out.Mode = attr.Mode
	out.Nlink = attr.Nlink
	out.Size = attr.Size
	out.Blocks = (attr.Size + 511) / 512
	out.SetTimes(&attr.Mtime, &attr.Mtime, &attr.Ctime)
}

// inodeNumber derives a stable inode number from a path. The root is 1, as
// the kernel expects.
func inodeNumber(p string) uint64 {
	if p == "/" {
		return 1
	}
	h := fnv.New64a()
	h.Write([]byte(p))
	ino := h.Sum64()
	if ino <= 1 {
		ino += 2
	}
	return ino
}
