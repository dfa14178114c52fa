package fatfs

import (
	"os"
	"path"
	"strings"
	"time"

	"github.com/aligator/fatfs/blockcache"
	"github.com/aligator/fatfs/checkpoint"
	"github.com/spf13/afero"
)

// Fs exposes a mounted volume as afero.Fs. Relative names are resolved
// against the root directory.
type Fs struct {
	vol *Volume
}

var _ afero.Fs = (*Fs)(nil)

// New wraps an already mounted volume.
func New(vol *Volume) *Fs {
	return &Fs{vol: vol}
}

// NewFromDevice mounts dev and wraps the volume.
func NewFromDevice(dev blockcache.Device, opts Options) (*Fs, error) {
	vol, err := Mount(dev, opts)
	if err != nil {
		return nil, err
	}
	return New(vol), nil
}

// Volume returns the wrapped volume.
func (fs *Fs) Volume() *Volume {
	return fs.vol
}

// Label returns the volume label.
func (fs *Fs) Label() string {
	return fs.vol.Label()
}

// FSType returns the FAT variant of the volume.
func (fs *Fs) FSType() FATType {
	return fs.vol.Geometry().Type
}

func normalize(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if name == "" || name == "." {
		return "/"
	}
	return path.Clean("/" + name)
}

func pathError(op, name string, err error) error {
	if err == nil {
		return nil
	}
	return &os.PathError{Op: op, Path: name, Err: err}
}

func (fs *Fs) Create(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (fs *Fs) Mkdir(name string, perm os.FileMode) error {
	_, err := fs.vol.Create(normalize(name), KindDirectory)
	return pathError("mkdir", name, err)
}

// MkdirAll creates name and all missing parents.
func (fs *Fs) MkdirAll(name string, perm os.FileMode) error {
	p := normalize(name)
	if p == "/" {
		return nil
	}

	cur := ""
	for _, seg := range strings.Split(p[1:], "/") {
		cur += "/" + seg
		e, err := fs.vol.Stat(cur)
		switch {
		case err == nil && e.IsDir():
			continue
		case err == nil:
			return pathError("mkdir", cur, checkpoint.With(ErrNotADirectory, "%q", cur))
		case !isKind(err, ErrNotFound):
			return pathError("mkdir", cur, err)
		}

		if _, err := fs.vol.Create(cur, KindDirectory); err != nil && !isKind(err, ErrAlreadyExists) {
			return pathError("mkdir", cur, err)
		}
	}
	return nil
}

func (fs *Fs) Open(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDONLY, 0)
}

// OpenFile opens name with the os.O_* flags. perm is ignored, FAT knows
// no permissions besides the read-only attribute.
func (fs *Fs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	var mode Mode
	switch flag & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR) {
	case os.O_RDONLY:
		mode = ModeRead
	case os.O_WRONLY:
		mode = ModeWrite
	default:
		mode = ModeReadWrite
	}
	if flag&os.O_CREATE != 0 {
		mode |= ModeCreate
	}
	if flag&os.O_EXCL != 0 {
		mode |= ModeExclusive
	}
	if flag&os.O_TRUNC != 0 {
		mode |= ModeTruncate
	}
	if flag&os.O_APPEND != 0 {
		mode |= ModeAppend
	}

	p := normalize(name)
	h, err := fs.vol.Open(p, mode)
	if err != nil {
		return nil, pathError("open", name, err)
	}

	e, err := fs.vol.StatHandle(h)
	if err != nil {
		_ = fs.vol.Close(h)
		return nil, pathError("open", name, err)
	}

	return &File{
		fs:          fs.vol,
		handle:      h,
		path:        name,
		mode:        mode,
		isDirectory: e.IsDir(),
	}, nil
}

func (fs *Fs) Remove(name string) error {
	return pathError("remove", name, fs.vol.Remove(normalize(name)))
}

// RemoveAll removes name and everything it contains. A missing name is no
// error.
func (fs *Fs) RemoveAll(name string) error {
	p := normalize(name)
	e, err := fs.vol.Stat(p)
	if isKind(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return pathError("removeall", name, err)
	}

	if e.IsDir() {
		entries, _, _, err := fs.vol.ListDirectory(p, 0, 0)
		if err != nil {
			return pathError("removeall", name, err)
		}
		for _, child := range entries {
			if err := fs.RemoveAll(path.Join(p, child.Name)); err != nil {
				return err
			}
		}
		if e.IsRoot() {
			return nil
		}
	}
	return pathError("removeall", name, fs.vol.Remove(p))
}

func (fs *Fs) Rename(oldname, newname string) error {
	err := fs.vol.Rename(normalize(oldname), normalize(newname))
	if err != nil {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: err}
	}
	return nil
}

func (fs *Fs) Stat(name string) (os.FileInfo, error) {
	e, err := fs.vol.Stat(normalize(name))
	if err != nil {
		return nil, pathError("stat", name, err)
	}
	return e.FileInfo(), nil
}

func (fs *Fs) Name() string {
	return "fatfs"
}

// Chmod sets the read-only attribute if mode has no write bit for the
// owner and clears it otherwise. All other bits are ignored.
func (fs *Fs) Chmod(name string, mode os.FileMode) error {
	err := fs.vol.SetReadOnly(normalize(name), mode&0200 == 0)
	return pathError("chmod", name, err)
}

// Chown is not supported by FAT and does nothing.
func (fs *Fs) Chown(name string, uid, gid int) error {
	if _, err := fs.vol.Stat(normalize(name)); err != nil {
		return pathError("chown", name, err)
	}
	return nil
}

func (fs *Fs) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return pathError("chtimes", name, fs.vol.Chtimes(normalize(name), atime, mtime))
}

// LstatIfPossible implements afero.Lstater. FAT has no links.
func (fs *Fs) LstatIfPossible(name string) (os.FileInfo, bool, error) {
	info, err := fs.Stat(name)
	return info, false, err
}
