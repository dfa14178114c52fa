package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aligator/fatfs"
	"github.com/aligator/fatfs/blockcache"
	"github.com/spf13/afero"
)

type image struct {
	name    string
	typ     fatfs.FATType
	sectors int64
	label   string
}

var images = []image{
	{"fat12.img", fatfs.FAT12, 2880, "FLOPPY"},
	{"fat16.img", fatfs.FAT16, 32768, "FAT16"},
	{"fat32.img", fatfs.FAT32, 80000, "FAT32"},
}

const readme = "Images generated by cmd/generate. Do not edit.\n"

// main for generating sample images with some content. Writes to the directory
// given as argument, testdata by default.
func main() {
	dest := "testdata"
	if len(os.Args) > 1 {
		dest = os.Args[1]
	}

	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(dest, 0755); err != nil {
		panic(err)
	}

	for _, img := range images {
		if err := generate(osFs, filepath.Join(dest, img.name), img); err != nil {
			panic(fmt.Errorf("%s: %w", img.name, err))
		}
		fmt.Println("generated", img.name)
	}
}

func generate(osFs afero.Fs, path string, img image) error {
	dev, err := blockcache.CreateImage(osFs, path, 512, img.sectors)
	if err != nil {
		return err
	}
	defer dev.Close()

	if err := fatfs.Format(dev, fatfs.FormatConfig{Type: img.typ, Label: img.label}); err != nil {
		return err
	}

	fat, err := fatfs.NewFromDevice(dev, fatfs.Options{})
	if err != nil {
		return err
	}
	if err := fat.MkdirAll("DoNotEdit_tests/sub dir", 0777); err != nil {
		return err
	}
	if err := afero.WriteFile(fat, "DoNotEdit_tests/README.md", []byte(readme), 0666); err != nil {
		return err
	}
	if err := afero.WriteFile(fat, "DoNotEdit_tests/HelloWorldThisIsALoongFileName.txt", []byte("Hello World\n"), 0666); err != nil {
		return err
	}
	if err := fat.Volume().Unmount(); err != nil {
		return err
	}
	return dev.Sync()
}
