package main

import (
	"fmt"
	"io"
	"os"

	"github.com/aligator/fatfs"
	"github.com/aligator/fatfs/blockcache"
	"github.com/spf13/afero"
)

// main is just a example main to play with fatfs.
func main() {
	argsWithoutProg := os.Args[1:]
	if len(argsWithoutProg) <= 0 {
		fmt.Println("Please provide a filename.")
		os.Exit(1)
	}

	dev, err := blockcache.OpenImage(afero.NewOsFs(), argsWithoutProg[0], 512, true)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer dev.Close()

	fat, err := fatfs.NewFromDevice(dev, fatfs.Options{ReadOnly: true})
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer fat.Volume().Unmount()

	fmt.Printf("Opened volume '%v' with type %v\n\n", fat.Label(), fat.FSType())

	afero.Walk(fat, "", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			fmt.Println(err)
			return err
		}
		fmt.Println(path, info.IsDir(), info.Size(), info.ModTime())
		return nil
	})

	if len(argsWithoutProg) < 2 {
		return
	}

	file, err := fat.Open(argsWithoutProg[1])
	if err != nil {
		fmt.Println("could not open the file", err)
		os.Exit(1)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		fmt.Println("could not stat the file", err)
		os.Exit(1)
	}
	fmt.Println("\n\nContent of " + stat.Name() + ":")
	if _, err := io.Copy(os.Stdout, file); err != nil {
		fmt.Println("could not read the file", err)
		os.Exit(1)
	}
}
