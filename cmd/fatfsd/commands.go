package main

import (
	"fmt"
	"io"
	"path"
	"strings"
	"text/tabwriter"

	"github.com/aligator/fatfs"
	"github.com/aligator/fatfs/blockcache"
	units "github.com/docker/go-units"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

const timeLayout = "2006-01-02 15:04:05"

func parseType(s string) (fatfs.FATType, error) {
	switch strings.ToUpper(s) {
	case "":
		return 0, nil
	case "FAT12", "12":
		return fatfs.FAT12, nil
	case "FAT16", "16":
		return fatfs.FAT16, nil
	case "FAT32", "32":
		return fatfs.FAT32, nil
	}
	return 0, fmt.Errorf("unknown FAT type %q", s)
}

func (a *app) formatCmd() *cobra.Command {
	var (
		size        string
		typ         string
		label       string
		clusterSize string
		volumeID    uint32
	)
	cmd := &cobra.Command{
		Use:   "format",
		Short: "Create an empty FAT image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bytes, err := units.RAMInBytes(size)
			if err != nil {
				return err
			}
			sectors := bytes / int64(a.cfg.SectorSize)
			t, err := parseType(typ)
			if err != nil {
				return err
			}
			cfg := fatfs.FormatConfig{Type: t, Label: label, VolumeID: volumeID}
			if clusterSize != "" {
				cs, err := units.RAMInBytes(clusterSize)
				if err != nil {
					return err
				}
				if cs < int64(a.cfg.SectorSize) || cs/int64(a.cfg.SectorSize) > 128 {
					return fmt.Errorf("invalid cluster size %s", clusterSize)
				}
				cfg.SectorsPerCluster = uint8(cs / int64(a.cfg.SectorSize))
			}

			dev, err := blockcache.CreateImage(a.fs, a.cfg.Image, a.cfg.SectorSize, sectors)
			if err != nil {
				return err
			}
			if err := fatfs.Format(dev, cfg); err != nil {
				dev.Close()
				return err
			}
			if err := dev.Sync(); err != nil {
				dev.Close()
				return err
			}
			if err := dev.Close(); err != nil {
				return err
			}

			return a.withVolume(true, func(vol *fatfs.Volume) error {
				geo := vol.Geometry()
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %v, %d clusters of %s, %s\n",
					a.cfg.Image, geo.Type, geo.ClusterCount, units.BytesSize(float64(geo.ClusterSize())),
					units.BytesSize(float64(bytes)))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&size, "size", "s", "1440KiB", "Size of the image, e.g. 1440KiB, 64MiB or 1GiB")
	cmd.Flags().StringVarP(&typ, "type", "t", "", "FAT12, FAT16 or FAT32, chosen by size if empty")
	cmd.Flags().StringVarP(&label, "label", "l", "", "Volume label")
	cmd.Flags().StringVar(&clusterSize, "cluster-size", "", "Cluster size, chosen by size if empty")
	cmd.Flags().Uint32Var(&volumeID, "volume-id", 0, "Volume serial number, random if 0")
	return cmd
}

func kindLetter(e fatfs.DirEntry) string {
	if e.IsDir() {
		return "d"
	}
	return "-"
}

func attrString(e fatfs.DirEntry) string {
	flags := []struct {
		attr   byte
		letter byte
	}{
		{fatfs.AttrReadOnly, 'r'},
		{fatfs.AttrHidden, 'h'},
		{fatfs.AttrSystem, 's'},
		{fatfs.AttrArchive, 'a'},
	}
	out := make([]byte, len(flags))
	for i, f := range flags {
		out[i] = '-'
		if e.Attr&f.attr != 0 {
			out[i] = f.letter
		}
	}
	return string(out)
}

func (a *app) lsCmd() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := "/"
			if len(args) == 1 {
				p = args[0]
			}
			return a.withVolume(true, func(vol *fatfs.Volume) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				var cursor uint32
				for {
					entries, next, done, err := vol.ListDirectory(p, cursor, a.cfg.ListBatch)
					if err != nil {
						return err
					}
					for _, e := range entries {
						name := e.Name
						if short {
							name = e.ShortName
						}
						fmt.Fprintf(w, "%s%s\t%d\t%s\t%s\n", kindLetter(e), attrString(e), e.Size, e.Modified.Format(timeLayout), name)
					}
					if done {
						break
					}
					cursor = next
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "Show the 8.3 names")
	return cmd
}

func (a *app) statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat path",
		Short: "Show an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVolume(true, func(vol *fatfs.Volume) error {
				e, err := vol.Stat(args[0])
				if err != nil {
					return err
				}
				kind := fatfs.KindFile
				if e.IsDir() {
					kind = fatfs.KindDirectory
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 1, ' ', 0)
				fmt.Fprintf(w, "Name:\t%s\n", e.Name)
				if !e.IsRoot() {
					fmt.Fprintf(w, "Short name:\t%s\n", e.ShortName)
				}
				fmt.Fprintf(w, "Kind:\t%s\n", kind)
				fmt.Fprintf(w, "Size:\t%d\n", e.Size)
				fmt.Fprintf(w, "Attributes:\t%s\n", attrString(e))
				fmt.Fprintf(w, "Cluster:\t%d\n", e.Cluster)
				if !e.IsRoot() {
					fmt.Fprintf(w, "Created:\t%s\n", e.Created.Format(timeLayout))
					fmt.Fprintf(w, "Modified:\t%s\n", e.Modified.Format(timeLayout))
					fmt.Fprintf(w, "Accessed:\t%s\n", e.Accessed.Format("2006-01-02"))
				}
				return w.Flush()
			})
		},
	}
}

func (a *app) catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat path...",
		Short: "Print files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVolume(true, func(vol *fatfs.Volume) error {
				fsys := fatfs.New(vol)
				for _, p := range args {
					f, err := fsys.Open(p)
					if err != nil {
						return err
					}
					_, err = io.Copy(cmd.OutOrStdout(), f)
					f.Close()
					if err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func (a *app) putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put source target",
		Short: "Copy a local file onto the image, - reads stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var src io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := a.fs.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				src = f
			}

			return a.withVolume(false, func(vol *fatfs.Volume) error {
				fsys := fatfs.New(vol)
				target := args[1]
				if info, err := fsys.Stat(target); err == nil && info.IsDir() {
					target = path.Join(target, path.Base(args[0]))
				}
				dst, err := fsys.Create(target)
				if err != nil {
					return err
				}
				n, err := io.Copy(dst, src)
				if closeErr := dst.Close(); err == nil {
					err = closeErr
				}
				if err != nil {
					return err
				}
				a.log.WithField("path", target).WithField("bytes", n).Info("copied")
				return nil
			})
		},
	}
}

func (a *app) mkdirCmd() *cobra.Command {
	var parents bool
	cmd := &cobra.Command{
		Use:   "mkdir path...",
		Short: "Create directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVolume(false, func(vol *fatfs.Volume) error {
				fsys := fatfs.New(vol)
				for _, p := range args {
					var err error
					if parents {
						err = fsys.MkdirAll(p, 0777)
					} else {
						err = fsys.Mkdir(p, 0777)
					}
					if err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&parents, "parents", "p", false, "Create missing parents, no error if the directory exists")
	return cmd
}

func (a *app) rmCmd() *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "rm path...",
		Short: "Remove files and empty directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVolume(false, func(vol *fatfs.Volume) error {
				var fsys afero.Fs = fatfs.New(vol)
				for _, p := range args {
					var err error
					if recursive {
						err = fsys.RemoveAll(p)
					} else {
						err = fsys.Remove(p)
					}
					if err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Remove directories and their contents")
	return cmd
}

func (a *app) mvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv source target",
		Short: "Move or rename an entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVolume(false, func(vol *fatfs.Volume) error {
				return vol.Rename(args[0], args[1])
			})
		},
	}
}

func (a *app) dfCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "df",
		Short: "Show the space of the volume",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVolume(true, func(vol *fatfs.Volume) error {
				st, err := vol.StatFS()
				if err != nil {
					return err
				}
				cs := float64(st.ClusterSize)
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "Type\tLabel\tCluster\tSize\tUsed\tFree")
				fmt.Fprintf(w, "%v\t%s\t%s\t%s\t%s\t%s\n",
					st.Type, st.Label,
					units.BytesSize(cs),
					units.BytesSize(cs*float64(st.Clusters)),
					units.BytesSize(cs*float64(st.Clusters-st.Free)),
					units.BytesSize(cs*float64(st.Free)))
				return w.Flush()
			})
		},
	}
}
