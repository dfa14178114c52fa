package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/aligator/fatfs"
	"github.com/aligator/fatfs/service"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// maxLine bounds a single request line. Write requests carry their data
// base64 encoded.
const maxLine = 4 << 20

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Answer JSON requests, one per line, from stdin on stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVolume(false, func(vol *fatfs.Volume) error {
				svc := service.New(vol, service.Config{
					MaxInFlight: int64(a.cfg.MaxInFlight),
					ListLimit:   a.cfg.ListBatch,
					Logger:      a.log.WithField("component", "service"),
				})
				a.log.WithField("image", a.cfg.Image).Info("serving")
				return serveLines(cmd.Context(), svc, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
}

// serveLines feeds the requests read from r to svc and writes every
// response as one line to w, in the order they complete.
func serveLines(ctx context.Context, svc *service.Service, r io.Reader, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var mu sync.Mutex
	enc := json.NewEncoder(w)
	write := func(resp service.Response) {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(resp)
	}

	calls := make(chan service.Call)
	replies := make(chan service.Response, 64)

	written := make(chan struct{})
	go func() {
		defer close(written)
		for resp := range replies {
			write(resp)
		}
	}()

	readErr := make(chan error, 1)
	go func() {
		defer close(calls)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxLine)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var req service.Request
			if err := json.Unmarshal(line, &req); err != nil {
				write(service.Response{
					ID:    uuid.NewString(),
					Error: &service.Error{Kind: service.KindInvalidArgument, Message: err.Error()},
				})
				continue
			}

			select {
			case calls <- service.Call{Request: req, Reply: replies}:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	err := svc.Serve(ctx, calls)
	close(replies)
	<-written
	if err != nil {
		return err
	}
	return <-readErr
}
