// Package config loads omnispatial settings from TOML files and
// OMNISPATIAL_* environment variables with viper.
package config

// Config is the complete omnispatial configuration.
type Config struct {
	Writer   WriterConfig   `mapstructure:"writer" toml:"writer" yaml:"writer"`
	Store    StoreConfig    `mapstructure:"store" toml:"store" yaml:"store"`
	Catalog  CatalogConfig  `mapstructure:"catalog" toml:"catalog" yaml:"catalog"`
	Batch    BatchConfig    `mapstructure:"batch" toml:"batch" yaml:"batch"`
	Adapters AdaptersConfig `mapstructure:"adapters" toml:"adapters" yaml:"adapters"`
	Log      LogConfig      `mapstructure:"log" toml:"log" yaml:"log"`
}

// WriterConfig holds bundle write defaults. Empty chunk shapes select
// automatic chunking.
type WriterConfig struct {
	Format           string `mapstructure:"format" toml:"format" yaml:"format"`
	Compressor       string `mapstructure:"compressor" toml:"compressor" yaml:"compressor"`
	CompressionLevel int    `mapstructure:"compression_level" toml:"compression_level" yaml:"compression_level"`
	ImageChunks      []int  `mapstructure:"image_chunks" toml:"image_chunks" yaml:"image_chunks"` // (c, y, x)
	LabelChunks      []int  `mapstructure:"label_chunks" toml:"label_chunks" yaml:"label_chunks"` // (y, x)
	TargetChunkBytes int    `mapstructure:"target_chunk_bytes" toml:"target_chunk_bytes" yaml:"target_chunk_bytes"`
	MaxChunkBytes    int64  `mapstructure:"max_chunk_bytes" toml:"max_chunk_bytes" yaml:"max_chunk_bytes"` // store-side limit per chunk
	PyramidLevels    int    `mapstructure:"pyramid_levels" toml:"pyramid_levels" yaml:"pyramid_levels"`
}

// StoreConfig configures remote bundle stores.
type StoreConfig struct {
	S3 S3Config `mapstructure:"s3" toml:"s3" yaml:"s3"`
}

// S3Config configures s3:// destinations. Empty credentials fall back to
// the AWS default chain.
type S3Config struct {
	Region            string  `mapstructure:"region" toml:"region" yaml:"region"`
	Endpoint          string  `mapstructure:"endpoint" toml:"endpoint" yaml:"endpoint"` // MinIO and other compatible services
	AccessKeyID       string  `mapstructure:"access_key_id" toml:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey   string  `mapstructure:"secret_access_key" toml:"secret_access_key" yaml:"secret_access_key"`
	SessionToken      string  `mapstructure:"session_token" toml:"session_token" yaml:"session_token"`
	PathStyle         bool    `mapstructure:"path_style" toml:"path_style" yaml:"path_style"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" toml:"requests_per_second" yaml:"requests_per_second"` // 0 = unpaced
}

// CatalogConfig configures the conversion history database.
type CatalogConfig struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" toml:"path" yaml:"path"` // "~/" expands to the home directory
}

// BatchConfig configures parallel conversion.
type BatchConfig struct {
	Workers int `mapstructure:"workers" toml:"workers" yaml:"workers"` // 0 = sized from available memory
}

// AdaptersConfig restricts the registered adapters. Empty enables all
// built-ins.
type AdaptersConfig struct {
	Enabled []string `mapstructure:"enabled" toml:"enabled" yaml:"enabled"`
}

// LogConfig sets logging defaults; command-line flags take precedence.
type LogConfig struct {
	JSON      bool `mapstructure:"json" toml:"json" yaml:"json"`
	Verbosity int  `mapstructure:"verbosity" toml:"verbosity" yaml:"verbosity"`
}
