package fatfs

import (
	"io"
	"os"
	"syscall"

	"github.com/aligator/fatfs/checkpoint"
)

// fatFileFs provides all methods needed from a volume for File.
// It mainly exists to be able to mock the Volume in tests.
// Generated mock using mockgen:
//  mockgen -source=file.go -destination=file_mock.go -package fatfs
type fatFileFs interface {
	ReadAt(h Handle, p []byte, off int64) (int, error)
	WriteAt(h Handle, p []byte, off int64) (int, error)
	Truncate(h Handle, size int64) error
	StatHandle(h Handle) (DirEntry, error)
	Close(h Handle) error
	ListDirectory(path string, cursor uint32, limit int) ([]DirEntry, uint32, bool, error)
	Sync() error
}

// File is an open file or directory of a volume. It implements afero.File.
// The cursor lives in File, so two Files of the same entry read
// independently.
type File struct {
	fs     fatFileFs
	handle Handle
	path   string
	mode   Mode

	isDirectory bool
	offset      int64

	dirCursor uint32
	dirDone   bool
	closed    bool
}

func (f *File) pathError(op string, err error) error {
	if err == nil || err == io.EOF {
		return err
	}
	return &os.PathError{Op: op, Path: f.path, Err: err}
}

func (f *File) check(op string) error {
	if f.closed {
		return f.pathError(op, os.ErrClosed)
	}
	return nil
}

func (f *File) Close() error {
	if err := f.check("close"); err != nil {
		return err
	}
	f.closed = true
	return f.pathError("close", f.fs.Close(f.handle))
}

func (f *File) Read(p []byte) (n int, err error) {
	if err := f.check("read"); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, err = f.fs.ReadAt(f.handle, p, f.offset)
	f.offset += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, f.pathError("read", err)
}

func (f *File) ReadAt(p []byte, off int64) (n int, err error) {
	if err := f.check("read"); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, err = f.fs.ReadAt(f.handle, p, off)
	return n, f.pathError("read", err)
}

// Seek jumps to a specific offset in the file. This affects all Read and
// Write operations except ReadAt and WriteAt. Seeking behind the end is
// allowed.
// May return a syscall.EINVAL error if the whence value or the resulting
// offset is invalid.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if err := f.check("seek"); err != nil {
		return 0, err
	}

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset = f.offset + offset
	case io.SeekEnd:
		e, err := f.fs.StatHandle(f.handle)
		if err != nil {
			return 0, f.pathError("seek", err)
		}
		offset = int64(e.Size) + offset
	default:
		return 0, f.pathError("seek", checkpoint.With(syscall.EINVAL, "whence %v", whence))
	}

	if offset < 0 {
		return 0, f.pathError("seek", checkpoint.With(syscall.EINVAL, "offset %v", offset))
	}

	f.offset = offset
	return offset, nil
}

func (f *File) Write(p []byte) (n int, err error) {
	if err := f.check("write"); err != nil {
		return 0, err
	}

	n, err = f.fs.WriteAt(f.handle, p, f.offset)
	if f.mode&ModeAppend != 0 {
		// The volume wrote at the end, move behind what was written.
		if e, statErr := f.fs.StatHandle(f.handle); statErr == nil {
			f.offset = int64(e.Size)
		}
	} else {
		f.offset += int64(n)
	}
	return n, f.pathError("write", err)
}

func (f *File) WriteAt(p []byte, off int64) (n int, err error) {
	if err := f.check("write"); err != nil {
		return 0, err
	}
	if f.mode&ModeAppend != 0 {
		return 0, f.pathError("writeat", checkpoint.With(syscall.EINVAL, "file is opened in append mode"))
	}

	n, err = f.fs.WriteAt(f.handle, p, off)
	return n, f.pathError("write", err)
}

// Name returns the name as passed to Open.
func (f *File) Name() string {
	return f.path
}

// Readdir reads the contents of a directory.
// If count > 0 at most count entries are returned and io.EOF once the
// directory is exhausted. Otherwise all remaining entries are returned.
// May return syscall.ENOTDIR if the current File is no directory.
func (f *File) Readdir(count int) ([]os.FileInfo, error) {
	entries, err := f.readDir(count)
	infos := make([]os.FileInfo, len(entries))
	for i := range entries {
		infos[i] = entries[i].FileInfo()
	}
	return infos, err
}

func (f *File) readDir(count int) ([]DirEntry, error) {
	if err := f.check("readdir"); err != nil {
		return nil, err
	}
	if !f.isDirectory {
		return nil, f.pathError("readdir", syscall.ENOTDIR)
	}

	if f.dirDone {
		if count > 0 {
			return nil, io.EOF
		}
		return nil, nil
	}

	limit := count
	if limit < 0 {
		limit = 0
	}
	entries, next, done, err := f.fs.ListDirectory(f.path, f.dirCursor, limit)
	if err != nil {
		return nil, f.pathError("readdir", err)
	}
	f.dirCursor = next
	f.dirDone = done

	if count > 0 && len(entries) == 0 {
		return nil, io.EOF
	}
	return entries, nil
}

func (f *File) Readdirnames(count int) ([]string, error) {
	entries, err := f.readDir(count)
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Name
	}
	return names, err
}

func (f *File) Stat() (os.FileInfo, error) {
	if err := f.check("stat"); err != nil {
		return nil, err
	}
	e, err := f.fs.StatHandle(f.handle)
	if err != nil {
		return nil, f.pathError("stat", err)
	}
	return e.FileInfo(), nil
}

func (f *File) Sync() error {
	if err := f.check("sync"); err != nil {
		return err
	}
	return f.pathError("sync", f.fs.Sync())
}

func (f *File) Truncate(size int64) error {
	if err := f.check("truncate"); err != nil {
		return err
	}
	return f.pathError("truncate", f.fs.Truncate(f.handle, size))
}

func (f *File) WriteString(s string) (ret int, err error) {
	return f.Write([]byte(s))
}
