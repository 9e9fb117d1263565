// Package config loads the tree's configuration table from a YAML
// file, environment variables, and command-line flags, using
// github.com/spf13/viper with github.com/spf13/pflag supplying the
// flag set.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/embbtree/embbtree/btreeerr"
	embbtree "github.com/embbtree/embbtree"
)

// Config is the on-disk/flag/env representation of a tree's fixed
// geometry plus the backing store it should run against.
type Config struct {
	PageSize          uint32 `mapstructure:"page_size"`
	NumPages          uint32 `mapstructure:"num_pages"`
	RecordSize        uint32 `mapstructure:"record_size"`
	KeySize           uint32 `mapstructure:"key_size"`
	DataSize          uint32 `mapstructure:"data_size"`
	Parameters        uint32 `mapstructure:"parameters"`
	MappingBufferSize uint32 `mapstructure:"mapping_buffer_size"`

	BackingPath string `mapstructure:"backing_path"`
	DirectIO    bool   `mapstructure:"direct_io"`
}

// defaults mirror a small-device-sized tree: 512-byte pages, a dozen
// frames, 16-byte records split 8/8 between key and data.
var defaults = Config{
	PageSize:          512,
	NumPages:          12,
	RecordSize:        16,
	KeySize:           8,
	DataSize:          8,
	Parameters:        0,
	MappingBufferSize: 64,
	BackingPath:       "embbtree.db",
	DirectIO:          false,
}

// BindFlags registers the config fields on fs so cmd/embbtreectl can
// override any of them from the command line; call Load after
// fs.Parse.
func BindFlags(fs *pflag.FlagSet) {
	fs.Uint32("page-size", defaults.PageSize, "page size in bytes")
	fs.Uint32("num-pages", defaults.NumPages, "buffer pool frame count")
	fs.Uint32("record-size", defaults.RecordSize, "fixed record size in bytes")
	fs.Uint32("key-size", defaults.KeySize, "fixed key width in bytes")
	fs.Uint32("data-size", defaults.DataSize, "fixed data width in bytes")
	fs.Uint32("parameters", defaults.Parameters, "opaque tree-wide parameter word")
	fs.Uint32("mapping-buffer-size", defaults.MappingBufferSize, "split scratch buffer size in bytes")
	fs.String("backing-path", defaults.BackingPath, "path to the backing store file")
	fs.Bool("direct-io", defaults.DirectIO, "open the backing store with O_DIRECT")
}

// Load builds a Config from (in ascending priority) built-in defaults,
// an optional YAML file at path, EMBBTREE_-prefixed environment
// variables, and fs (already parsed), then validates it.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("embbtree")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("page_size", defaults.PageSize)
	v.SetDefault("num_pages", defaults.NumPages)
	v.SetDefault("record_size", defaults.RecordSize)
	v.SetDefault("key_size", defaults.KeySize)
	v.SetDefault("data_size", defaults.DataSize)
	v.SetDefault("parameters", defaults.Parameters)
	v.SetDefault("mapping_buffer_size", defaults.MappingBufferSize)
	v.SetDefault("backing_path", defaults.BackingPath)
	v.SetDefault("direct_io", defaults.DirectIO)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, btreeerr.ErrInvalidConfig)
		}
	}

	if fs != nil {
		// Flags are named with dashes; bind each under its underscore
		// config key so it overrides the same field the file and env set.
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return Config{}, fmt.Errorf("config: bind flags: %w", btreeerr.ErrInvalidConfig)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", btreeerr.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the same invariants embbtree.Config.Validate does,
// plus the fields specific to loading a backing store.
func (c Config) Validate() error {
	if c.BackingPath == "" {
		return fmt.Errorf("config: backing_path must not be empty: %w", btreeerr.ErrInvalidConfig)
	}
	return c.ToTreeConfig().Validate()
}

// ToTreeConfig projects the loaded config onto the core library's
// storage-agnostic Config, the shape btree.Open expects.
func (c Config) ToTreeConfig() embbtree.Config {
	return embbtree.Config{
		PageSize:          c.PageSize,
		NumPages:          c.NumPages,
		RecordSize:        c.RecordSize,
		KeySize:           c.KeySize,
		DataSize:          c.DataSize,
		Parameters:        c.Parameters,
		MappingBufferSize: c.MappingBufferSize,
	}
}
