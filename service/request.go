package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aligator/fatfs"
	"github.com/aligator/fatfs/checkpoint"
)

// Op names a request.
type Op string

const (
	OpOpen     Op = "open"
	OpRead     Op = "read"
	OpWrite    Op = "write"
	OpClose    Op = "close"
	OpStat     Op = "stat"
	OpList     Op = "list"
	OpCreate   Op = "create"
	OpRemove   Op = "remove"
	OpRename   Op = "rename"
	OpSync     Op = "sync"
	OpTruncate Op = "truncate"
	OpStatFS   Op = "statfs"
)

// Request is one client request. Which fields are used depends on Op.
type Request struct {
	// ID is echoed in the response. A missing ID is generated.
	ID string `json:"id,omitempty"`
	Op Op     `json:"op"`

	Path    string `json:"path,omitempty"`
	NewPath string `json:"new_path,omitempty"`
	// Mode of OpOpen: "r", "w" or "rw" followed by any of the flags
	// c (create), x (exclusive), t (truncate) and a (append).
	Mode string `json:"mode,omitempty"`
	// Kind of OpCreate: "file" or "directory".
	Kind string `json:"kind,omitempty"`

	Handle uint32 `json:"handle,omitempty"`
	Offset int64  `json:"offset,omitempty"`
	Length int    `json:"length,omitempty"`
	Data   []byte `json:"data,omitempty"`
	Size   int64  `json:"size,omitempty"`

	Cursor uint32 `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// Response answers the Request with the same ID.
type Response struct {
	ID    string `json:"id"`
	Error *Error `json:"error,omitempty"`

	Handle  uint32  `json:"handle,omitempty"`
	Data    []byte  `json:"data,omitempty"`
	N       int     `json:"n,omitempty"`
	EOF     bool    `json:"eof,omitempty"`
	Entry   *Entry  `json:"entry,omitempty"`
	Entries []Entry `json:"entries,omitempty"`
	Next    uint32  `json:"next,omitempty"`
	Done    bool    `json:"done,omitempty"`
	FS      *FSStat `json:"fs,omitempty"`
}

// Error is the failure of a request.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Entry is a directory entry as seen by clients.
type Entry struct {
	Name      string    `json:"name"`
	ShortName string    `json:"short_name,omitempty"`
	Kind      string    `json:"kind"`
	Size      uint32    `json:"size"`
	ReadOnly  bool      `json:"read_only,omitempty"`
	Hidden    bool      `json:"hidden,omitempty"`
	Created   time.Time `json:"created"`
	Modified  time.Time `json:"modified"`
	Accessed  time.Time `json:"accessed"`
}

func entryOf(e fatfs.DirEntry) Entry {
	kind := fatfs.KindFile
	if e.IsDir() {
		kind = fatfs.KindDirectory
	}
	return Entry{
		Name:      e.Name,
		ShortName: e.ShortName,
		Kind:      kind.String(),
		Size:      e.Size,
		ReadOnly:  e.Attr&fatfs.AttrReadOnly != 0,
		Hidden:    e.Attr&fatfs.AttrHidden != 0,
		Created:   e.Created,
		Modified:  e.Modified,
		Accessed:  e.Accessed,
	}
}

// FSStat describes the volume.
type FSStat struct {
	Type         string `json:"type"`
	Label        string `json:"label,omitempty"`
	ClusterSize  uint32 `json:"cluster_size"`
	Clusters     uint32 `json:"clusters"`
	Free         uint32 `json:"free"`
	ReadOnly     bool   `json:"read_only,omitempty"`
	Inconsistent bool   `json:"inconsistent,omitempty"`
	OpenHandles  int    `json:"open_handles"`
}

// ErrorKind classifies an Error for clients.
type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"
	KindNotADirectory    ErrorKind = "not_a_directory"
	KindIsADirectory     ErrorKind = "is_a_directory"
	KindAlreadyExists    ErrorKind = "already_exists"
	KindDirectoryFull    ErrorKind = "directory_full"
	KindNoSpace          ErrorKind = "no_space"
	KindTooManyOpenFiles ErrorKind = "too_many_open_files"
	KindInvalidHandle    ErrorKind = "invalid_handle"
	KindInvalidPath      ErrorKind = "invalid_path"
	KindGeometry         ErrorKind = "geometry"
	KindIoFault          ErrorKind = "io_fault"
	KindInconsistent     ErrorKind = "inconsistent"
	KindNotEmpty         ErrorKind = "not_empty"
	KindBusy             ErrorKind = "busy"
	KindReadOnly         ErrorKind = "read_only"
	KindInvalidArgument  ErrorKind = "invalid_argument"
	KindCanceled         ErrorKind = "canceled"
	KindInternal         ErrorKind = "internal"
)

// kinds is checked in order, the more specific kinds come first.
var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{fatfs.ErrInconsistent, KindInconsistent},
	{fatfs.ErrIoFault, KindIoFault},
	{fatfs.ErrNotFound, KindNotFound},
	{fatfs.ErrNotADirectory, KindNotADirectory},
	{fatfs.ErrIsADirectory, KindIsADirectory},
	{fatfs.ErrAlreadyExists, KindAlreadyExists},
	{fatfs.ErrDirectoryFull, KindDirectoryFull},
	{fatfs.ErrNoSpace, KindNoSpace},
	{fatfs.ErrTooManyOpenFiles, KindTooManyOpenFiles},
	{fatfs.ErrInvalidHandle, KindInvalidHandle},
	{fatfs.ErrInvalidPath, KindInvalidPath},
	{fatfs.ErrGeometry, KindGeometry},
	{fatfs.ErrNotEmpty, KindNotEmpty},
	{fatfs.ErrBusy, KindBusy},
	{fatfs.ErrReadOnly, KindReadOnly},
	{fatfs.ErrInvalidArgument, KindInvalidArgument},
	{context.Canceled, KindCanceled},
	{context.DeadlineExceeded, KindCanceled},
}

// KindOf returns the ErrorKind of err.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

func errorOf(err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindOf(err), Message: err.Error()}
}

func invalid(format string, args ...interface{}) error {
	return checkpoint.With(fatfs.ErrInvalidArgument, format, args...)
}

// ParseMode parses the mode of an open request.
func ParseMode(s string) (fatfs.Mode, error) {
	var mode fatfs.Mode
	rest := s
	switch {
	case strings.HasPrefix(rest, "rw"):
		mode, rest = fatfs.ModeReadWrite, rest[2:]
	case strings.HasPrefix(rest, "r"):
		mode, rest = fatfs.ModeRead, rest[1:]
	case strings.HasPrefix(rest, "w"):
		mode, rest = fatfs.ModeWrite, rest[1:]
	default:
		return 0, invalid("mode %q has no access", s)
	}

	for _, c := range rest {
		switch c {
		case 'c':
			mode |= fatfs.ModeCreate
		case 'x':
			mode |= fatfs.ModeExclusive
		case 't':
			mode |= fatfs.ModeTruncate
		case 'a':
			mode |= fatfs.ModeAppend
		default:
			return 0, invalid("mode %q has the unknown flag %q", s, c)
		}
	}
	return mode, nil
}

// ParseKind parses the kind of a create request. An empty kind is a file.
func ParseKind(s string) (fatfs.Kind, error) {
	switch s {
	case "", "file":
		return fatfs.KindFile, nil
	case "directory", "dir":
		return fatfs.KindDirectory, nil
	}
	return 0, invalid("unknown kind %q", s)
}
