package config

import (
	"github.com/jameshyojaelee/omnispatial/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if err := c.WriterOptions().Validate(); err != nil {
		return errors.Wrap(err, "writer")
	}

	// Batch workers: 0 = automatic, negative = invalid
	if c.Batch.Workers < 0 {
		return errors.NewInvalidRequestError("batch.workers must be >= 0, got %d", c.Batch.Workers)
	}

	if c.Store.S3.RequestsPerSecond < 0 {
		return errors.NewInvalidRequestError("store.s3.requests_per_second must be >= 0, got %f", c.Store.S3.RequestsPerSecond)
	}

	if c.Catalog.Enabled && c.Catalog.Path == "" {
		return errors.NewInvalidRequestError("catalog.path cannot be empty when the catalog is enabled")
	}

	if c.Log.Verbosity < 0 {
		return errors.NewInvalidRequestError("log.verbosity must be >= 0, got %d", c.Log.Verbosity)
	}

	return nil
}
