package fatfs

import (
	"io/fs"
	"syscall"

	"github.com/aligator/fatfs/blockcache"
)

// kindError is a class of failure. Errors returned by this package are
// checkpoints wrapping one of the kinds below, so errors.Is works against the
// kind, against the matching io/fs error and against the matching errno.
type kindError struct {
	msg    string
	target []error
}

func (k *kindError) Error() string {
	return k.msg
}

func (k *kindError) Is(target error) bool {
	for _, t := range k.target {
		if t == target {
			return true
		}
	}
	return false
}

func kind(msg string, target ...error) error {
	return &kindError{msg: msg, target: target}
}

// These errors may occur while working with a volume.
var (
	ErrNotFound         = kind("no such file or directory", fs.ErrNotExist, syscall.ENOENT)
	ErrNotADirectory    = kind("not a directory", syscall.ENOTDIR)
	ErrIsADirectory     = kind("is a directory", syscall.EISDIR)
	ErrAlreadyExists    = kind("file already exists", fs.ErrExist, syscall.EEXIST)
	ErrDirectoryFull    = kind("directory is full", syscall.ENOSPC)
	ErrNoSpace          = kind("no space left on volume", syscall.ENOSPC)
	ErrTooManyOpenFiles = kind("too many open files", syscall.EMFILE)
	ErrInvalidHandle    = kind("invalid handle", fs.ErrClosed, syscall.EBADF)
	ErrInvalidPath      = kind("invalid path", fs.ErrInvalid)
	ErrGeometry         = kind("invalid FAT geometry")
	ErrInconsistent     = kind("filesystem is inconsistent", syscall.EIO)
	ErrNotEmpty         = kind("directory not empty", syscall.ENOTEMPTY)
	ErrBusy             = kind("file is busy", syscall.EBUSY)
	ErrReadOnly         = kind("volume is read-only", fs.ErrPermission, syscall.EROFS)
	ErrInvalidArgument  = kind("invalid argument", fs.ErrInvalid, syscall.EINVAL)

	// ErrIoFault is returned when the device failed.
	ErrIoFault = blockcache.ErrIO
)
