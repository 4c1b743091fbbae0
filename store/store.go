// Package store opens bundle stores from location strings.
//
//	/data/out/sample.zarr          local directory
//	file:///data/out/sample.zarr   local directory
//	s3://bucket/prefix/sample.zarr S3-compatible bucket and key prefix
//	mem://sample                   process-local in-memory store
package store

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jameshyojaelee/omnispatial/errors"
	"github.com/jameshyojaelee/omnispatial/store/core"
	"github.com/jameshyojaelee/omnispatial/store/fs"
	"github.com/jameshyojaelee/omnispatial/store/memory"
	"github.com/jameshyojaelee/omnispatial/store/s3"
)

var (
	memMu     sync.Mutex
	memStores = map[string]*memory.Store{}
)

// Options controls how a location is opened.
type Options struct {
	// Create makes a missing local directory instead of failing.
	Create bool
	// S3 supplies region, endpoint, credentials and pacing for s3://
	// locations. Bucket and Prefix are taken from the location.
	S3 s3.Config
}

// IsRemote reports whether location addresses an object store.
func IsRemote(location string) bool {
	return strings.HasPrefix(location, "s3://")
}

// Open returns the store addressed by location.
func Open(ctx context.Context, location string, opts Options) (core.Store, error) {
	if location == "" {
		return nil, errors.NewInvalidRequestError("empty store location")
	}
	if IsRemote(location) {
		u, err := url.Parse(location)
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", location)
		}
		if u.Host == "" {
			return nil, errors.NewInvalidRequestError("s3 location %q has no bucket", location)
		}
		cfg := opts.S3
		cfg.Bucket = u.Host
		cfg.Prefix = strings.Trim(u.Path, "/")
		return s3.New(ctx, cfg)
	}

	if name, ok := strings.CutPrefix(location, "mem://"); ok {
		memMu.Lock()
		defer memMu.Unlock()
		st, found := memStores[name]
		if !found {
			if !opts.Create {
				return nil, errors.Wrapf(core.ErrNotFound, "memory store %q", name)
			}
			st = memory.New()
			memStores[name] = st
		}
		return st, nil
	}

	path := location
	if strings.HasPrefix(location, "file://") {
		u, err := url.Parse(location)
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", location)
		}
		path = u.Path
	} else if strings.Contains(location, "://") {
		return nil, errors.NewInvalidRequestError("unsupported store scheme in %q", location)
	}
	path = filepath.Clean(path)
	if opts.Create {
		return fs.New(path)
	}
	return fs.OpenExisting(path)
}
