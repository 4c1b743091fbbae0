package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jameshyojaelee/omnispatial/errors"
	"github.com/jameshyojaelee/omnispatial/zarr"
)

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, "ngff", cfg.Writer.Format)
	assert.Equal(t, "zstd", cfg.Writer.Compressor)
	assert.Equal(t, 5, cfg.Writer.CompressionLevel)
	assert.Equal(t, 8<<20, cfg.Writer.TargetChunkBytes)
	assert.Equal(t, int64(512<<20), cfg.Writer.MaxChunkBytes)
	assert.Empty(t, cfg.Writer.ImageChunks)
	assert.True(t, cfg.Catalog.Enabled)
	assert.Equal(t, DefaultCatalogPath, cfg.Catalog.Path)
	assert.Equal(t, 0, cfg.Batch.Workers)
	assert.NoError(t, cfg.Validate())
}

const projectTOML = `
[writer]
compressor = "lz4"
compression_level = 3
image_chunks = [1, 256, 256]
label_chunks = [512, 512]
pyramid_levels = 2

[store.s3]
endpoint = "http://localhost:9000"
path_style = true
requests_per_second = 20.0

[batch]
workers = 4

[adapters]
enabled = ["manifest"]
`

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "omnispatial.toml", projectTOML)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, zarr.CompressorLZ4, cfg.Writer.Compressor)
	assert.Equal(t, []int{1, 256, 256}, cfg.Writer.ImageChunks)
	assert.Equal(t, []int{512, 512}, cfg.Writer.LabelChunks)
	assert.Equal(t, "ngff", cfg.Writer.Format, "unset keys keep defaults")
	assert.True(t, cfg.Store.S3.PathStyle)
	assert.Equal(t, 4, cfg.Batch.Workers)
	assert.Equal(t, []string{"manifest"}, cfg.Adapters.Enabled)

	opts := cfg.WriterOptions()
	assert.Equal(t, 2, opts.PyramidLevels)
	assert.Equal(t, "http://localhost:9000", opts.Store.S3.Endpoint)
	assert.Equal(t, 20.0, opts.Store.S3.RequestsPerSecond)
	require.NoError(t, opts.Validate())

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestMergePrecedence(t *testing.T) {
	dir := t.TempDir()
	system := writeConfig(t, dir, "system.toml", "[writer]\ncompressor = \"gzip\"\ncompression_level = 9\n")
	project := writeConfig(t, dir, "project.toml", "[writer]\ncompressor = \"zlib\"\n")

	t.Setenv("OMNISPATIAL_BATCH_WORKERS", "6")
	v := viper.New()
	v.SetEnvPrefix("OMNISPATIAL")
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()
	SetDefaults(v)
	mergeConfigFiles(v, []string{system, filepath.Join(dir, "absent.toml"), project})

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	assert.Equal(t, "zlib", cfg.Writer.Compressor, "later files win")
	assert.Equal(t, 9, cfg.Writer.CompressionLevel, "earlier files still contribute")
	assert.Equal(t, 6, cfg.Batch.Workers, "environment overrides files")
}

func TestAWSCredentialFallback(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIA-test")
	v := viper.New()
	BindSensitiveEnvVars(v)
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	assert.Equal(t, "AKIA-test", cfg.Store.S3.AccessKeyID)
}

func TestFindProjectConfig(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	want := writeConfig(t, root, ProjectFile, projectTOML)

	t.Chdir(nested)
	got := findProjectConfig()
	gotInfo, err := os.Stat(got)
	require.NoError(t, err)
	wantInfo, err := os.Stat(want)
	require.NoError(t, err)
	assert.True(t, os.SameFile(gotInfo, wantInfo))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero workers is automatic", func(c *Config) { c.Batch.Workers = 0 }, false},
		{"negative workers", func(c *Config) { c.Batch.Workers = -1 }, true},
		{"unknown compressor", func(c *Config) { c.Writer.Compressor = "brotli" }, true},
		{"unknown format", func(c *Config) { c.Writer.Format = "zarr3" }, true},
		{"image chunk rank", func(c *Config) { c.Writer.ImageChunks = []int{256, 256} }, true},
		{"label chunk rank", func(c *Config) { c.Writer.LabelChunks = []int{1, 256, 256} }, true},
		{"negative target", func(c *Config) { c.Writer.TargetChunkBytes = -1 }, true},
		{"negative pacing", func(c *Config) { c.Store.S3.RequestsPerSecond = -1 }, true},
		{"catalog without path", func(c *Config) { c.Catalog.Path = "" }, true},
		{"disabled catalog without path", func(c *Config) { c.Catalog.Enabled = false; c.Catalog.Path = "" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsInvalidRequestError(err), "got %v", err)
		})
	}
}

func TestSaveRotatesBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.toml")
	cfg := Default()

	for level := 1; level <= 5; level++ {
		cfg.Writer.CompressionLevel = level
		require.NoError(t, Save(path, cfg))
	}

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5, loaded.Writer.CompressionLevel)

	for i, want := range []int{4, 3, 2} {
		backup, err := LoadFromFile(fmt.Sprintf("%s.back%d", path, i+1))
		require.NoError(t, err)
		assert.Equal(t, want, backup.Writer.CompressionLevel)
	}
	_, err = os.Stat(path + ".back4")
	assert.True(t, os.IsNotExist(err))
}

func TestSaveRejectsInvalidAndRedacts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := Default()
	cfg.Writer.Compressor = "brotli"
	assert.Error(t, Save(path, cfg))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	cfg = Default()
	cfg.Store.S3.SecretAccessKey = "hunter2"
	data, err := Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")
	assert.Equal(t, "hunter2", cfg.Store.S3.SecretAccessKey, "Marshal leaves the input untouched")
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".omnispatial", "catalog.db"), ExpandHome(DefaultCatalogPath))
	assert.Equal(t, "/tmp/x.db", ExpandHome("/tmp/x.db"))

	cfg := Default()
	assert.Equal(t, ExpandHome(DefaultCatalogPath), cfg.CatalogPath())
}

func TestLoadCaches(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	t.Setenv("OMNISPATIAL_WRITER_COMPRESSOR", "gzip")
	Reset()
	t.Cleanup(Reset)

	first, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "gzip", first.Writer.Compressor)

	second, err := Load()
	require.NoError(t, err)
	assert.Same(t, first, second)
}
