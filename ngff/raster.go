package ngff

import (
	"context"
	"os"
	"strings"

	"github.com/jameshyojaelee/omnispatial/array"
	"github.com/jameshyojaelee/omnispatial/array/npy"
	"github.com/jameshyojaelee/omnispatial/array/tiff"
	"github.com/jameshyojaelee/omnispatial/errors"
	"github.com/jameshyojaelee/omnispatial/spatial"
	"github.com/jameshyojaelee/omnispatial/store"
	"github.com/jameshyojaelee/omnispatial/store/core"
	"github.com/jameshyojaelee/omnispatial/store/fs"
	"github.com/jameshyojaelee/omnispatial/zarr"
)

// ErrUnsupportedRaster is returned when a raster path is not a .npy file, a
// readable TIFF, or a zarr array or group.
var ErrUnsupportedRaster = errors.New("unsupported raster source")

// borrowed wraps a caller-owned source so closing it is a no-op.
type borrowed struct{ array.Source }

func (borrowed) Close() error { return nil }

// OpenRaster returns a windowed reader for the layer's raster. In-memory
// handles pass through; paths are sniffed as .npy files, TIFF files, zarr
// arrays, or zarr groups. A group is read at level "0" when it has one,
// otherwise at its first child array in name order. Remote locations
// (s3://, mem://) must hold zarr data.
func OpenRaster(ctx context.Context, layer spatial.ImageLayer) (array.Source, error) {
	if layer.Array != nil {
		return borrowed{layer.Array}, nil
	}
	if layer.Path == "" {
		return nil, errors.Wrapf(ErrMissingSourcePath, "image layer %q", layer.Name)
	}
	if store.IsRemote(layer.Path) || strings.HasPrefix(layer.Path, "mem://") {
		st, err := store.Open(ctx, layer.Path, store.Options{})
		if err != nil {
			return nil, err
		}
		return openZarrRaster(ctx, st, layer.Path)
	}

	info, err := os.Stat(layer.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrMissingSourcePath, "image layer %q: %s does not exist", layer.Name, layer.Path)
		}
		return nil, errors.Wrapf(err, "stat %s", layer.Path)
	}
	if info.IsDir() {
		st, err := fs.OpenExisting(layer.Path)
		if err != nil {
			return nil, err
		}
		return openZarrRaster(ctx, st, layer.Path)
	}
	ok, err := npy.Sniff(layer.Path)
	if err != nil {
		return nil, err
	}
	if ok {
		src, err := npy.Open(layer.Path)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	if ok, err = tiff.Sniff(layer.Path); err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedRaster, "%s", layer.Path)
	}
	src, err := tiff.Open(layer.Path)
	if err != nil {
		if errors.Is(err, tiff.ErrUnsupportedImage) {
			return nil, errors.Mark(err, ErrUnsupportedRaster)
		}
		return nil, err
	}
	return src, nil
}

func openZarrRaster(ctx context.Context, st core.Store, location string) (array.Source, error) {
	isArray, err := zarr.IsArray(ctx, st, "")
	if err != nil {
		return nil, err
	}
	path := ""
	if !isArray {
		path = levelPath(0)
		isLevel, err := zarr.IsArray(ctx, st, path)
		if err != nil {
			return nil, err
		}
		if !isLevel {
			// any other group: the first child array by name
			names, err := zarr.ChildArrays(ctx, st, "")
			if err != nil {
				return nil, err
			}
			if len(names) == 0 {
				return nil, errors.Wrapf(ErrUnsupportedRaster, "%s holds neither a zarr array nor a group of arrays", location)
			}
			path = names[0]
		}
	}
	a, err := zarr.OpenArray(ctx, st, path)
	if err != nil {
		return nil, err
	}
	return a, nil
}
