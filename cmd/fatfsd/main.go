// fatfsd works with FAT12, FAT16 and FAT32 images. Besides one-shot
// commands it can serve filesystem requests as JSON lines over stdin and
// stdout.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aligator/fatfs"
	"github.com/aligator/fatfs/blockcache"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

type app struct {
	cfg Config
	// fs holds the images and the files copied onto them.
	fs  afero.Fs
	log *logrus.Logger
}

func newCmd(fs afero.Fs) *cobra.Command {
	a := &app{
		cfg: defaultConfig(),
		fs:  fs,
		log: logrus.New(),
	}
	var configPath string

	cmd := &cobra.Command{
		Use:           "fatfsd",
		Short:         "Work with FAT images",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				file := defaultConfig()
				if err := loadConfig(a.fs, configPath, &file); err != nil {
					return err
				}
				a.cfg.merge(cmd.Flags(), file)
			}
			if err := a.cfg.validate(); err != nil {
				return err
			}

			level, _ := logrus.ParseLevel(a.cfg.LogLevel)
			a.log.SetLevel(level)
			a.log.SetOutput(cmd.ErrOrStderr())
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	a.cfg.addFlags(cmd.PersistentFlags())

	cmd.AddCommand(a.formatCmd())
	cmd.AddCommand(a.lsCmd())
	cmd.AddCommand(a.statCmd())
	cmd.AddCommand(a.catCmd())
	cmd.AddCommand(a.putCmd())
	cmd.AddCommand(a.mkdirCmd())
	cmd.AddCommand(a.rmCmd())
	cmd.AddCommand(a.mvCmd())
	cmd.AddCommand(a.dfCmd())
	cmd.AddCommand(a.serveCmd())
	return cmd
}

// mount opens the configured image. The returned function unmounts the
// volume and closes the image.
func (a *app) mount(readOnly bool) (*fatfs.Volume, func() error, error) {
	readOnly = readOnly || a.cfg.ReadOnly
	file, err := blockcache.OpenImage(a.fs, a.cfg.Image, a.cfg.SectorSize, readOnly)
	if err != nil {
		return nil, nil, err
	}

	var dev blockcache.Device = file
	if a.cfg.OpsPerSecond > 0 {
		dev = blockcache.NewThrottledDevice(file, a.cfg.OpsPerSecond, a.cfg.Burst)
	}

	vol, err := fatfs.Mount(dev, fatfs.Options{
		CacheBlocks:  a.cfg.CacheBlocks,
		MaxOpenFiles: a.cfg.MaxOpenFiles,
		ReadOnly:     readOnly,
		Logger:       a.log.WithField("image", a.cfg.Image),
	})
	if err != nil {
		file.Close()
		return nil, nil, err
	}

	return vol, func() error {
		err := vol.Unmount()
		if !readOnly && err == nil {
			err = file.Sync()
		}
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
		return err
	}, nil
}

// withVolume runs fn on the mounted image and unmounts it afterwards.
func (a *app) withVolume(readOnly bool, fn func(vol *fatfs.Volume) error) (err error) {
	vol, unmount, err := a.mount(readOnly)
	if err != nil {
		return err
	}
	defer func() {
		if unmountErr := unmount(); err == nil {
			err = unmountErr
		}
	}()
	return fn(vol)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newCmd(afero.NewOsFs())
	if err := cmd.ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Error("fatfsd failed")
		os.Exit(1)
	}
}
