package keyfs

import (
	"path"
	"strings"
	"time"

	"github.com/tidwall/btree"
)

// PathTable is the authoritative record of which paths exist and what they
// are. Entries are kept ordered by path so that the children of a directory
// form one contiguous range starting at "dir/".
type PathTable struct {
	entries *btree.Map[string, Attr]
	now     func() time.Time
}

// NewPathTable returns a table holding only the root directory.
func NewPathTable(rootMode uint32, now func() time.Time) *PathTable {
	if now == nil {
		now = time.Now
	}
	if rootMode == 0 {
		rootMode = DefaultRootMode
	}
	t := &PathTable{
		entries: btree.NewMap[string, Attr](0),
		now:     now,
	}
	ts := now()
	t.entries.Set("/", Attr{
		Mode:  rootMode&ModePerm | ModeDir,
		Nlink: 2,
		Mtime: ts,
		Ctime: ts,
	})
	return t
}

// Create records a regular file at p. An existing regular file is replaced
// with a fresh, empty entry.
func (t *PathTable) Create(p string, mode uint32) error {
	if old, ok := t.entries.Get(p); ok && old.IsDir() {
		return ErrIsDirectory
	}
	if err := t.checkParent(p); err != nil {
		return err
	}
	ts := t.now()
	t.entries.Set(p, Attr{
		Mode:  mode&ModePerm | ModeRegular,
		Nlink: 1,
		Mtime: ts,
		Ctime: ts,
	})
	return nil
}

// Mkdir records a directory at p and bumps the parent's link count.
func (t *PathTable) Mkdir(p string, mode uint32) error {
	if _, ok := t.entries.Get(p); ok {
		return ErrExist
	}
	if err := t.checkParent(p); err != nil {
		return err
	}
	ts := t.now()
	t.entries.Set(p, Attr{
		Mode:  mode&ModePerm | ModeDir,
		Nlink: 2,
		Mtime: ts,
		Ctime: ts,
	})
	t.adjustParent(p, 1, ts)
	return nil
}

// Rmdir removes the empty directory p and drops the parent's link count.
func (t *PathTable) Rmdir(p string) error {
	if p == "/" {
		return ErrRootBusy
	}
	attr, ok := t.entries.Get(p)
	if !ok {
		return ErrNotFound
	}
	if !attr.IsDir() {
		return ErrNotDirectory
	}
	if t.hasChildren(p) {
		return ErrNotEmpty
	}
	t.entries.Delete(p)
	t.adjustParent(p, -1, t.now())
	return nil
}

// Unlink removes the non-directory entry p.
func (t *PathTable) Unlink(p string) error {
	attr, ok := t.entries.Get(p)
	if !ok {
		return ErrNotFound
	}
	if attr.IsDir() {
		return ErrIsDirectory
	}
	t.entries.Delete(p)
	return nil
}

// Getattr returns a copy of the entry for p.
func (t *PathTable) Getattr(p string) (Attr, error) {
	attr, ok := t.entries.Get(p)
	if !ok {
		return Attr{}, ErrNotFound
	}
	return attr, nil
}

// Exists reports whether p has an entry.
func (t *PathTable) Exists(p string) bool {
	_, ok := t.entries.Get(p)
	return ok
}

// SetSize records a new plaintext size for p after a content change.
func (t *PathTable) SetSize(p string, size uint64) error {
	attr, ok := t.entries.Get(p)
	if !ok {
		return ErrNotFound
	}
	ts := t.now()
	attr.Size = size
	attr.Mtime = ts
	attr.Ctime = ts
	t.entries.Set(p, attr)
	return nil
}

// Readdir lists "." and ".." followed by the names of the immediate
// children of dir in path order. dir itself is not required to exist.
func (t *PathTable) Readdir(dir string) []string {
	names := []string{".", ".."}
	prefix := childPrefix(dir)
	t.entries.Ascend(prefix, func(p string, _ Attr) bool {
		if !strings.HasPrefix(p, prefix) {
			return false
		}
		if p != dir && path.Dir(p) == dir {
			names = append(names, path.Base(p))
		}
		return true
	})
	return names
}

// restore puts back an entry captured by Getattr, undoing a Create that
// could not be completed.
func (t *PathTable) restore(p string, attr Attr) {
	t.entries.Set(p, attr)
}

// forget drops p without any parent bookkeeping.
func (t *PathTable) forget(p string) {
	t.entries.Delete(p)
}

// Len returns the number of entries, root included.
func (t *PathTable) Len() int {
	return t.entries.Len()
}

func (t *PathTable) checkParent(p string) error {
	if p == "/" {
		return ErrExist
	}
	parent, ok := t.entries.Get(path.Dir(p))
	if !ok {
		return ErrNotFound
	}
	if !parent.IsDir() {
		return ErrNotDirectory
	}
	return nil
}

func (t *PathTable) adjustParent(p string, delta int, ts time.Time) {
	parentPath := path.Dir(p)
	parent, ok := t.entries.Get(parentPath)
	if !ok {
		return
	}
	parent.Nlink = uint32(int(parent.Nlink) + delta)
	parent.Mtime = ts
	parent.Ctime = ts
	t.entries.Set(parentPath, parent)
}

func (t *PathTable) hasChildren(dir string) bool {
	found := false
	prefix := childPrefix(dir)
	t.entries.Ascend(prefix, func(p string, _ Attr) bool {
		if p == dir {
			return true
		}
		found = strings.HasPrefix(p, prefix)
		return false
	})
	return found
}

func childPrefix(dir string) string {
	if dir == "/" {
		return "/"
	}
	return dir + "/"
}
