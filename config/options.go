package config

import (
	"slices"

	"github.com/jameshyojaelee/omnispatial/ngff"
	"github.com/jameshyojaelee/omnispatial/store"
	"github.com/jameshyojaelee/omnispatial/store/s3"
)

// WriterOptions converts the writer section to bundle writer options.
func (c *Config) WriterOptions() ngff.Options {
	return ngff.Options{
		Format:           c.Writer.Format,
		ImageChunkShape:  slices.Clone(c.Writer.ImageChunks),
		LabelChunkShape:  slices.Clone(c.Writer.LabelChunks),
		Compressor:       c.Writer.Compressor,
		CompressionLevel: c.Writer.CompressionLevel,
		TargetChunkBytes: c.Writer.TargetChunkBytes,
		MaxChunkBytes:    c.Writer.MaxChunkBytes,
		PyramidLevels:    c.Writer.PyramidLevels,
		Store:            c.StoreOptions(),
	}
}

// StoreOptions converts the store section. Bucket and prefix come from
// each location.
func (c *Config) StoreOptions() store.Options {
	s := c.Store.S3
	return store.Options{
		S3: s3.Config{
			Region:            s.Region,
			Endpoint:          s.Endpoint,
			AccessKeyID:       s.AccessKeyID,
			SecretAccessKey:   s.SecretAccessKey,
			SessionToken:      s.SessionToken,
			PathStyle:         s.PathStyle,
			RequestsPerSecond: s.RequestsPerSecond,
		},
	}
}

// CatalogPath returns the catalog location with "~/" expanded.
func (c *Config) CatalogPath() string {
	return ExpandHome(c.Catalog.Path)
}
