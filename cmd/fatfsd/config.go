package main

import (
	"fmt"

	"github.com/aligator/fatfs"
	"github.com/aligator/fatfs/blockcache"
	"github.com/aligator/fatfs/service"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"
)

// Config is the configuration of fatfsd. It is read from the YAML file
// given by --config, every flag set on the command line overrides it.
type Config struct {
	Image        string `yaml:"image"`
	SectorSize   int    `yaml:"sector-size"`
	CacheBlocks  int    `yaml:"cache-blocks"`
	MaxOpenFiles int    `yaml:"max-open-files"`
	ReadOnly     bool   `yaml:"read-only"`
	LogLevel     string `yaml:"log-level"`
	// OpsPerSecond throttles the sector operations on the image, 0 disables it.
	OpsPerSecond float64 `yaml:"ops-per-second"`
	Burst        int     `yaml:"burst"`
	MaxInFlight  int64   `yaml:"max-in-flight"`
	ListBatch    int     `yaml:"list-batch"`
}

func defaultConfig() Config {
	return Config{
		Image:        "fat.img",
		SectorSize:   512,
		CacheBlocks:  blockcache.DefaultCapacity,
		MaxOpenFiles: fatfs.DefaultMaxOpenFiles,
		LogLevel:     "info",
		Burst:        32,
		MaxInFlight:  service.DefaultMaxInFlight,
		ListBatch:    service.DefaultListLimit,
	}
}

// loadConfig reads the YAML file at path into cfg. Keys missing in the file
// keep their value.
func loadConfig(fs afero.Fs, path string, cfg *Config) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return fmt.Errorf("failed to read the config %q: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return fmt.Errorf("failed to parse the config %q: %w", path, err)
	}
	return nil
}

func (c *Config) addFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&c.Image, "image", "i", c.Image, "Path of the FAT image")
	flags.IntVar(&c.SectorSize, "sector-size", c.SectorSize, "Sector size of the image in bytes")
	flags.IntVar(&c.CacheBlocks, "cache-blocks", c.CacheBlocks, "Number of sectors kept in the block cache")
	flags.IntVar(&c.MaxOpenFiles, "max-open-files", c.MaxOpenFiles, "Number of handles that may be open at the same time")
	flags.BoolVar(&c.ReadOnly, "read-only", c.ReadOnly, "Refuse every change of the image")
	flags.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: panic, fatal, error, warn, info, debug or trace")
	flags.Float64Var(&c.OpsPerSecond, "ops-per-second", c.OpsPerSecond, "Limit the sector operations per second, 0 is unlimited")
	flags.IntVar(&c.Burst, "burst", c.Burst, "Burst of sector operations allowed by --ops-per-second")
	flags.Int64Var(&c.MaxInFlight, "max-in-flight", c.MaxInFlight, "Requests served at the same time")
	flags.IntVar(&c.ListBatch, "list-batch", c.ListBatch, "Entries fetched per directory listing request")
}

// merge takes every value of file whose flag was not set explicitly.
func (c *Config) merge(flags *pflag.FlagSet, file Config) {
	if !flags.Changed("image") {
		c.Image = file.Image
	}
	if !flags.Changed("sector-size") {
		c.SectorSize = file.SectorSize
	}
	if !flags.Changed("cache-blocks") {
		c.CacheBlocks = file.CacheBlocks
	}
	if !flags.Changed("max-open-files") {
		c.MaxOpenFiles = file.MaxOpenFiles
	}
	if !flags.Changed("read-only") {
		c.ReadOnly = file.ReadOnly
	}
	if !flags.Changed("log-level") {
		c.LogLevel = file.LogLevel
	}
	if !flags.Changed("ops-per-second") {
		c.OpsPerSecond = file.OpsPerSecond
	}
	if !flags.Changed("burst") {
		c.Burst = file.Burst
	}
	if !flags.Changed("max-in-flight") {
		c.MaxInFlight = file.MaxInFlight
	}
	if !flags.Changed("list-batch") {
		c.ListBatch = file.ListBatch
	}
}

func (c *Config) validate() error {
	switch c.SectorSize {
	case 512, 1024, 2048, 4096:
	default:
		return fmt.Errorf("invalid sector size %d", c.SectorSize)
	}
	if c.Image == "" {
		return fmt.Errorf("no image given")
	}
	if c.OpsPerSecond < 0 {
		return fmt.Errorf("ops-per-second must not be negative")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}
