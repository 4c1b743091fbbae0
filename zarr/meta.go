// Package zarr reads and writes zarr v2 hierarchies on a core.Store.
//
// Groups are marked by a .zgroup document and carry free-form .zattrs.
// Arrays are described by .zarray and stored as one object per chunk,
// keyed by the chunk index joined with the dimension separator
// ("images/dapi/0/0.1.2").
package zarr

import (
	"context"
	"encoding/json"

	"github.com/jameshyojaelee/omnispatial/errors"
	"github.com/jameshyojaelee/omnispatial/store/core"
)

// Metadata document names.
const (
	GroupKey = ".zgroup"
	AttrsKey = ".zattrs"
	ArrayKey = ".zarray"
)

// Format is the zarr storage specification version written by this package.
const Format = 2

// GroupMetadata is the content of .zgroup.
type GroupMetadata struct {
	ZarrFormat int `json:"zarr_format"`
}

// ArrayMetadata is the content of .zarray.
type ArrayMetadata struct {
	ZarrFormat         int               `json:"zarr_format"`
	Shape              []int             `json:"shape"`
	Chunks             []int             `json:"chunks"`
	DType              string            `json:"dtype"`
	Compressor         *CompressorConfig `json:"compressor"`
	FillValue          any               `json:"fill_value"`
	Order              string            `json:"order"`
	Filters            []json.RawMessage `json:"filters"`
	DimensionSeparator string            `json:"dimension_separator,omitempty"`
}

func readJSON(ctx context.Context, st core.Store, key string, v any) error {
	data, err := core.ReadAll(ctx, st, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "decode %s", key)
	}
	return nil
}

func writeJSON(ctx context.Context, st core.Store, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	return errors.Wrapf(core.PutBytes(ctx, st, key, append(data, '\n')), "write %s", key)
}
