package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/embbtree/embbtree/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	require.Equal(t, uint32(512), cfg.PageSize)
	require.Equal(t, uint32(12), cfg.NumPages)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embbtree.yaml")
	require.NoError(t, os.WriteFile(path, []byte("page_size: 1024\nnum_pages: 20\n"), 0o644))

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)
	require.Equal(t, uint32(1024), cfg.PageSize)
	require.Equal(t, uint32(20), cfg.NumPages)
}

func TestLoadFromFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--page-size=2048"}))

	cfg, err := config.Load("", fs)
	require.NoError(t, err)
	require.Equal(t, uint32(2048), cfg.PageSize)
}

func TestValidateRejectsEmptyBackingPath(t *testing.T) {
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	cfg.BackingPath = ""
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsOversizedRecord(t *testing.T) {
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	cfg.KeySize = 400
	cfg.DataSize = 400
	require.Error(t, cfg.Validate())
}
