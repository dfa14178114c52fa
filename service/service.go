// Package service answers filesystem requests against a mounted volume. It
// is the boundary a message transport talks to: every request is a plain
// record and every failure an ErrorKind.
package service

import (
	"context"
	"io"
	"time"

	"github.com/aligator/fatfs"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Volume is the part of fatfs.Volume the service uses.
type Volume interface {
	Open(path string, mode fatfs.Mode) (fatfs.Handle, error)
	ReadAt(h fatfs.Handle, p []byte, off int64) (int, error)
	WriteAt(h fatfs.Handle, p []byte, off int64) (int, error)
	Close(h fatfs.Handle) error
	Truncate(h fatfs.Handle, size int64) error
	Stat(path string) (fatfs.DirEntry, error)
	ListDirectory(path string, cursor uint32, limit int) ([]fatfs.DirEntry, uint32, bool, error)
	Create(path string, kind fatfs.Kind) (fatfs.DirEntry, error)
	Remove(path string) error
	Rename(oldPath, newPath string) error
	Sync() error
	StatFS() (fatfs.FSStat, error)
}

var _ Volume = (*fatfs.Volume)(nil)

const (
	DefaultMaxInFlight = 16
	DefaultListLimit   = 128
	DefaultMaxRead     = 1 << 20
)

// Config of a Service. Zero values select the defaults.
type Config struct {
	// MaxInFlight bounds the requests Serve handles at the same time.
	MaxInFlight int64
	// ListLimit is used for list requests without a limit and caps larger ones.
	ListLimit int
	// MaxRead caps the length of a read request.
	MaxRead int
	Logger  logrus.FieldLogger
}

// Service dispatches requests to a volume.
type Service struct {
	vol Volume
	cfg Config
	sem *semaphore.Weighted
	log logrus.FieldLogger
}

func New(vol Volume, cfg Config) *Service {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = DefaultListLimit
	}
	if cfg.MaxRead <= 0 {
		cfg.MaxRead = DefaultMaxRead
	}
	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	return &Service{
		vol: vol,
		cfg: cfg,
		sem: semaphore.NewWeighted(cfg.MaxInFlight),
		log: log,
	}
}

// Call is a request together with the channel its response is sent to.
// Reply must be able to take the response without a receiver waiting, or be
// read until Serve returns.
type Call struct {
	Request Request
	Reply   chan<- Response
}

// Serve handles calls until calls is closed or ctx is done. Every call runs
// in its own goroutine, at most MaxInFlight at the same time. Serve waits
// for the running calls before it returns.
func (s *Service) Serve(ctx context.Context, calls <-chan Call) error {
	defer func() {
		// Wait until everything in flight has finished.
		_ = s.sem.Acquire(context.Background(), s.cfg.MaxInFlight)
		s.sem.Release(s.cfg.MaxInFlight)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case call, ok := <-calls:
			if !ok {
				return nil
			}
			if err := s.sem.Acquire(ctx, 1); err != nil {
				call.Reply <- s.reject(call.Request, err)
				return err
			}
			go func() {
				defer s.sem.Release(1)
				call.Reply <- s.Handle(ctx, call.Request)
			}()
		}
	}
}

func (s *Service) reject(req Request, err error) Response {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	return Response{ID: req.ID, Error: errorOf(err)}
}

// Handle answers a single request. A request that reached the volume runs
// to completion even if ctx is canceled meanwhile.
func (s *Service) Handle(ctx context.Context, req Request) Response {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	start := time.Now()

	var resp Response
	var err error
	if err = ctx.Err(); err == nil {
		resp, err = s.dispatch(req)
	}
	resp.ID = req.ID
	resp.Error = errorOf(err)

	fields := logrus.Fields{
		"request_id": req.ID,
		"op":         req.Op,
		"duration":   time.Since(start),
	}
	if req.Path != "" {
		fields["path"] = req.Path
	}
	log := s.log.WithFields(fields)
	switch {
	case err == nil:
		log.Debug("request handled")
	case resp.Error.Kind == KindInternal || resp.Error.Kind == KindIoFault || resp.Error.Kind == KindInconsistent:
		log.WithError(err).Error("request failed")
	default:
		log.WithError(err).WithField("kind", resp.Error.Kind).Info("request failed")
	}
	return resp
}

func (s *Service) dispatch(req Request) (Response, error) {
	var resp Response
	switch req.Op {
	case OpOpen:
		mode, err := ParseMode(req.Mode)
		if err != nil {
			return resp, err
		}
		h, err := s.vol.Open(req.Path, mode)
		resp.Handle = uint32(h)
		return resp, err

	case OpRead:
		if req.Length < 0 || req.Length > s.cfg.MaxRead {
			return resp, invalid("read length %d is not within 0 and %d", req.Length, s.cfg.MaxRead)
		}
		buf := make([]byte, req.Length)
		n, err := s.vol.ReadAt(fatfs.Handle(req.Handle), buf, req.Offset)
		resp.Data, resp.N = buf[:n], n
		if err == io.EOF {
			resp.EOF, err = true, nil
		}
		return resp, err

	case OpWrite:
		n, err := s.vol.WriteAt(fatfs.Handle(req.Handle), req.Data, req.Offset)
		resp.N = n
		return resp, err

	case OpClose:
		return resp, s.vol.Close(fatfs.Handle(req.Handle))

	case OpTruncate:
		return resp, s.vol.Truncate(fatfs.Handle(req.Handle), req.Size)

	case OpStat:
		e, err := s.vol.Stat(req.Path)
		if err != nil {
			return resp, err
		}
		entry := entryOf(e)
		resp.Entry = &entry
		return resp, nil

	case OpList:
		limit := req.Limit
		if limit <= 0 || limit > s.cfg.ListLimit {
			limit = s.cfg.ListLimit
		}
		entries, next, done, err := s.vol.ListDirectory(req.Path, req.Cursor, limit)
		if err != nil {
			return resp, err
		}
		resp.Entries = make([]Entry, len(entries))
		for i, e := range entries {
			resp.Entries[i] = entryOf(e)
		}
		resp.Next, resp.Done = next, done
		return resp, nil

	case OpCreate:
		kind, err := ParseKind(req.Kind)
		if err != nil {
			return resp, err
		}
		e, err := s.vol.Create(req.Path, kind)
		if err != nil {
			return resp, err
		}
		entry := entryOf(e)
		resp.Entry = &entry
		return resp, nil

	case OpRemove:
		return resp, s.vol.Remove(req.Path)

	case OpRename:
		return resp, s.vol.Rename(req.Path, req.NewPath)

	case OpSync:
		return resp, s.vol.Sync()

	case OpStatFS:
		st, err := s.vol.StatFS()
		if err != nil {
			return resp, err
		}
		resp.FS = &FSStat{
			Type:         st.Type.String(),
			Label:        st.Label,
			ClusterSize:  st.ClusterSize,
			Clusters:     st.Clusters,
			Free:         st.Free,
			ReadOnly:     st.ReadOnly,
			Inconsistent: st.Inconsistent,
			OpenHandles:  st.OpenHandles,
		}
		return resp, nil
	}
	return resp, invalid("unknown operation %q", req.Op)
}
