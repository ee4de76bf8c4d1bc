package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 50, cfg.ListLimit)
	assert.Equal(t, "$", cfg.OperatorSeparator)
	assert.Equal(t, "tenant", cfg.TenantEntity)
	assert.True(t, cfg.AutoMigrate)
	assert.False(t, cfg.Multitenant)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strata.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"9000\"\nlist_limit: 20\nmultitenant: true\nlog_level: debug\n"), 0o644))

	t.Setenv("STRATA_LIST_LIMIT", "30")
	t.Setenv("STRATA_DB_URL", "postgres://env")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--db-url=postgres://flag"}))

	cfg, err := Load(path, fs)
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port, "file overrides default")
	assert.Equal(t, 30, cfg.ListLimit, "env overrides file")
	assert.Equal(t, "postgres://flag", cfg.DBURL, "changed flag overrides env")
	assert.True(t, cfg.Multitenant)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}
