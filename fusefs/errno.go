package fusefs

import (
	"errors"
	"syscall"

	"github.com/absfs/keyfs"
)

var errnoTable = []struct {
	err   error
	errno syscall.Errno
}{
	{keyfs.ErrNotFound, syscall.ENOENT},
	{keyfs.ErrAccessDenied, syscall.EACCES},
	{keyfs.ErrInvalidKeyLength, syscall.EINVAL},
	{keyfs.ErrInvalidPath, syscall.EINVAL},
	{keyfs.ErrNegativeOffset, syscall.EINVAL},
	{keyfs.ErrExist, syscall.EEXIST},
	{keyfs.ErrNotDirectory, syscall.ENOTDIR},
	{keyfs.ErrIsDirectory, syscall.EISDIR},
	{keyfs.ErrNotEmpty, syscall.ENOTEMPTY},
	{keyfs.ErrRootBusy, syscall.EBUSY},
	{keyfs.ErrFileTooLarge, syscall.EFBIG},
}

// ToErrno maps an engine error to the status code reported to the kernel.
// Anything not recognised, including ErrClosed and codec failures, is EIO.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	for _, e := range errnoTable {
		if errors.Is(err, e.err) {
			return e.errno
		}
	}
	return syscall.EIO
}
