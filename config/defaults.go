package config

import (
	"github.com/spf13/viper"

	"github.com/jameshyojaelee/omnispatial/ngff"
	"github.com/jameshyojaelee/omnispatial/zarr"
)

// DefaultDirPermissions is used for ~/.omnispatial.
const DefaultDirPermissions = 0o750

// DefaultCatalogPath is the catalog location before home expansion.
const DefaultCatalogPath = "~/.omnispatial/catalog.db"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("writer.format", ngff.FormatNGFF)
	v.SetDefault("writer.compressor", zarr.CompressorZstd)
	v.SetDefault("writer.compression_level", zarr.DefaultLevel)
	v.SetDefault("writer.image_chunks", []int{})
	v.SetDefault("writer.label_chunks", []int{})
	v.SetDefault("writer.target_chunk_bytes", ngff.DefaultTargetChunkBytes) // 8 MiB
	v.SetDefault("writer.max_chunk_bytes", zarr.DefaultMaxChunkBytes)       // 512 MiB
	v.SetDefault("writer.pyramid_levels", 0)

	v.SetDefault("store.s3.region", "")
	v.SetDefault("store.s3.endpoint", "")
	v.SetDefault("store.s3.access_key_id", "")
	v.SetDefault("store.s3.secret_access_key", "")
	v.SetDefault("store.s3.session_token", "")
	v.SetDefault("store.s3.path_style", false)
	v.SetDefault("store.s3.requests_per_second", 0.0)

	v.SetDefault("catalog.enabled", true)
	v.SetDefault("catalog.path", DefaultCatalogPath)

	v.SetDefault("batch.workers", 0)

	v.SetDefault("adapters.enabled", []string{})

	v.SetDefault("log.json", false)
	v.SetDefault("log.verbosity", 0)
}

// BindSensitiveEnvVars lets the standard AWS variables supply S3
// credentials when the OMNISPATIAL_ ones are unset.
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("store.s3.access_key_id", "OMNISPATIAL_STORE_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID")
	_ = v.BindEnv("store.s3.secret_access_key", "OMNISPATIAL_STORE_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY")
	_ = v.BindEnv("store.s3.session_token", "OMNISPATIAL_STORE_S3_SESSION_TOKEN", "AWS_SESSION_TOKEN")
	_ = v.BindEnv("store.s3.region", "OMNISPATIAL_STORE_S3_REGION", "AWS_REGION")
}
