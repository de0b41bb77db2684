package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(viper.New(), nil)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, DefaultDSN(), cfg.Database.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	file := "database:\n  driver: gorm-sqlite\n  dsn: file.db\nlog:\n  level: debug\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "labeltree.yaml"), []byte(file), 0o644))

	t.Setenv("LABELTREE_DATABASE_DSN", "env.db")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "info", "")
	flags.String("addr", ":8080", "")
	require.NoError(t, flags.Parse([]string{"--log-level=warn"}))

	cfg, err := Load(viper.New(), flags)
	require.NoError(t, err)
	assert.Equal(t, "gorm-sqlite", cfg.Database.Driver, "file")
	assert.Equal(t, "env.db", cfg.Database.DSN, "env beats file")
	assert.Equal(t, "warn", cfg.Log.Level, "flag beats file")
	assert.Equal(t, ":8080", cfg.Server.Addr, "unset flag keeps default")
}

func TestLoad_BadFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "labeltree.yaml"), []byte("database: [oops"), 0o644))

	_, err := Load(viper.New(), nil)
	require.Error(t, err)
}
