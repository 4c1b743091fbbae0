package table

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"strings"

	"github.com/jameshyojaelee/omnispatial/array"
	"github.com/jameshyojaelee/omnispatial/errors"
	"github.com/jameshyojaelee/omnispatial/store/core"
	"github.com/jameshyojaelee/omnispatial/zarr"
)

var nanValue = math.NaN()

// DefaultTargetChunkBytes bounds the uncompressed size of one row chunk.
const DefaultTargetChunkBytes = 8 << 20

// Layout assigns matrix columns to observation metadata and features.
// The first column is always the observation index.
type Layout struct {
	ObsColumns        []string
	VarColumns        []string
	CoordinateColumns [2]string
}

// Options tunes how a table is written.
type Options struct {
	Codec            zarr.Codec
	TargetChunkBytes int
	MaxChunkBytes    int64
	// Attrs are merged into the table group attributes.
	Attrs map[string]any
}

// Summary describes a table stored in a bundle.
type Summary struct {
	NObs       int      `json:"n_obs"`
	NVars      int      `json:"n_vars"`
	VarNames   []string `json:"var_names"`
	ObsColumns []string `json:"obs_columns"`
	// Index is the observation index; only Read fills it.
	Index []string `json:"-"`
	// Bytes counts encoded chunk bytes written; zero for Read.
	Bytes int64 `json:"-"`
}

type column struct {
	name    string
	pos     int
	numeric bool
	width   int
}

type plan struct {
	index column
	obs   []column
	vars  []column
}

func resolveLayout(scan Scan, layout Layout) (plan, error) {
	pos := make(map[string]int, len(scan.Header))
	for i, h := range scan.Header {
		if _, dup := pos[h]; dup {
			return plan{}, errors.Wrapf(ErrInvalidTable, "duplicate column %q", h)
		}
		pos[h] = i
	}
	p := plan{index: column{name: scan.Header[0], width: scan.Widths[0]}}
	used := map[string]bool{p.index.name: true}
	lookup := func(name string) (column, error) {
		i, ok := pos[name]
		if !ok {
			return column{}, errors.Wrapf(ErrMissingColumn, "%q", name)
		}
		return column{name: name, pos: i, numeric: scan.Numeric[i], width: scan.Widths[i]}, nil
	}

	for _, name := range layout.ObsColumns {
		if used[name] {
			continue
		}
		c, err := lookup(name)
		if err != nil {
			return plan{}, err
		}
		p.obs = append(p.obs, c)
		used[name] = true
	}
	for _, name := range layout.CoordinateColumns {
		if name == "" {
			continue
		}
		c, err := lookup(name)
		if err != nil {
			return plan{}, errors.Wrap(err, "coordinate column")
		}
		if !c.numeric {
			return plan{}, errors.Wrapf(ErrInvalidTable, "coordinate column %q must be numeric", name)
		}
		if !used[name] {
			p.obs = append(p.obs, c)
			used[name] = true
		}
	}

	if err := checkObsNames(p.obs); err != nil {
		return plan{}, err
	}
	if len(layout.VarColumns) > 0 {
		for _, name := range layout.VarColumns {
			c, err := lookup(name)
			if err != nil {
				return plan{}, err
			}
			if !c.numeric {
				return plan{}, errors.Wrapf(ErrInvalidTable, "feature column %q must be numeric", name)
			}
			if used[name] {
				return plan{}, errors.Wrapf(ErrInvalidTable, "column %q is both metadata and feature", name)
			}
			p.vars = append(p.vars, c)
			used[name] = true
		}
		return p, nil
	}
	for i, h := range scan.Header {
		if used[h] {
			continue
		}
		c := column{name: h, pos: i, numeric: scan.Numeric[i], width: scan.Widths[i]}
		if c.numeric {
			p.vars = append(p.vars, c)
		} else {
			p.obs = append(p.obs, c)
		}
	}
	return p, checkObsNames(p.obs)
}

// checkObsNames rejects names that would collide with the dataframe layout.
func checkObsNames(cols []column) error {
	for _, c := range cols {
		if c.name == "" || c.name == "_index" || strings.Contains(c.name, "/") || strings.HasPrefix(c.name, ".") {
			return errors.Wrapf(ErrInvalidTable, "obs column name %q is not allowed", c.name)
		}
	}
	return nil
}

func attrsFor(kind string) map[string]any {
	version := "0.2.0"
	if kind == "anndata" {
		version = "0.1.0"
	}
	return map[string]any{"encoding-type": kind, "encoding-version": version}
}

// Write reads the matrix at source twice, once to size it and once to
// stream rows, and stores it under path.
func Write(ctx context.Context, st core.Store, path, source string, layout Layout, opts Options) (Summary, error) {
	scan, err := ScanFile(source)
	if err != nil {
		return Summary{}, err
	}
	p, err := resolveLayout(scan, layout)
	if err != nil {
		return Summary{}, errors.Wrapf(err, "%s", source)
	}
	target := opts.TargetChunkBytes
	if target <= 0 {
		target = DefaultTargetChunkBytes
	}
	nobs, nvars := scan.Rows, len(p.vars)
	rowChunk := min(max(target/(8*max(nvars, 1)), 1), nobs)
	create := zarr.CreateOptions{MaxChunkBytes: opts.MaxChunkBytes}

	groupAttrs := attrsFor("anndata")
	for k, v := range opts.Attrs {
		groupAttrs[k] = v
	}
	if err := zarr.CreateGroup(ctx, st, path, groupAttrs); err != nil {
		return Summary{}, err
	}

	x, err := zarr.CreateArray(ctx, st, core.Join(path, "X"), zarr.Meta{
		Shape: []int{nobs, nvars}, Chunks: []int{rowChunk, max(nvars, 1)}, DType: array.Float64, Codec: opts.Codec,
	}, create)
	if err != nil {
		return Summary{}, errors.Wrap(err, "create X")
	}
	if err := zarr.WriteAttrs(ctx, st, x.Path(), attrsFor("array")); err != nil {
		return Summary{}, err
	}

	obsOrder := make([]string, len(p.obs))
	for i, c := range p.obs {
		obsOrder[i] = c.name
	}
	obsAttrs := attrsFor("dataframe")
	obsAttrs["_index"] = "_index"
	obsAttrs["column-order"] = obsOrder
	if err := zarr.CreateGroup(ctx, st, core.Join(path, "obs"), obsAttrs); err != nil {
		return Summary{}, err
	}
	obsNumeric := map[string]*zarr.Array{}
	for _, c := range p.obs {
		if !c.numeric {
			continue
		}
		a, err := zarr.CreateArray(ctx, st, core.Join(path, "obs", c.name), zarr.Meta{
			Shape: []int{nobs}, Chunks: []int{rowChunk}, DType: array.Float64, Codec: opts.Codec,
		}, create)
		if err != nil {
			return Summary{}, errors.Wrapf(err, "create obs column %q", c.name)
		}
		if err := zarr.WriteAttrs(ctx, st, a.Path(), attrsFor("array")); err != nil {
			return Summary{}, err
		}
		obsNumeric[c.name] = a
	}

	varNames := make([]string, nvars)
	for i, c := range p.vars {
		varNames[i] = c.name
	}
	varAttrs := attrsFor("dataframe")
	varAttrs["_index"] = "_index"
	varAttrs["column-order"] = []string{}
	if err := zarr.CreateGroup(ctx, st, core.Join(path, "var"), varAttrs); err != nil {
		return Summary{}, err
	}
	if err := zarr.WriteStrings(ctx, st, core.Join(path, "var", "_index"), varNames, opts.Codec); err != nil {
		return Summary{}, err
	}

	sum := Summary{NObs: nobs, NVars: nvars, VarNames: varNames, ObsColumns: obsOrder}
	// the index is stored as text even when every id parses as a number
	strCols := []column{{name: "_index", width: p.index.width}}
	for _, c := range p.obs {
		if !c.numeric {
			strCols = append(strCols, c)
		}
	}
	obsStrings := map[string]*zarr.StringArray{}
	for _, c := range strCols {
		a, err := zarr.CreateStrings(ctx, st, core.Join(path, "obs", c.name), nobs, c.width, rowChunk, opts.Codec)
		if err != nil {
			return Summary{}, errors.Wrapf(err, "create obs column %q", c.name)
		}
		obsStrings[c.name] = a
	}

	if err := streamRows(ctx, source, p, x, obsNumeric, obsStrings, rowChunk, &sum); err != nil {
		return Summary{}, err
	}
	return sum, nil
}

// streamRows fills X and the obs columns one row chunk at a time.
func streamRows(ctx context.Context, source string, p plan, x *zarr.Array,
	obsNumeric map[string]*zarr.Array, obsStrings map[string]*zarr.StringArray, rowChunk int, sum *Summary) error {
	m, err := openMatrix(source)
	if err != nil {
		return err
	}
	defer m.Close()
	if _, err := m.header(); err != nil {
		return err
	}

	nvars := len(p.vars)
	xBuf := array.NewBlock(array.Float64, []int{rowChunk, nvars})
	numBufs := make(map[string]*array.Block, len(obsNumeric))
	for name := range obsNumeric {
		numBufs[name] = array.NewBlock(array.Float64, []int{rowChunk})
	}
	strBufs := make(map[string][]string, len(obsStrings))
	for name := range obsStrings {
		strBufs[name] = make([]string, 0, rowChunk)
	}

	total, rows, chunk := 0, 0, 0
	flush := func() error {
		if rows == 0 {
			return nil
		}
		if nvars > 0 {
			view := &array.Block{Shape: []int{rows, nvars}, DType: array.Float64, Data: xBuf.Data[:rows*nvars*8]}
			n, err := x.WriteChunk(ctx, []int{chunk, 0}, view)
			if err != nil {
				return err
			}
			sum.Bytes += int64(n)
		}
		for name, a := range obsNumeric {
			buf := numBufs[name]
			view := &array.Block{Shape: []int{rows}, DType: array.Float64, Data: buf.Data[:rows*8]}
			n, err := a.WriteChunk(ctx, []int{chunk}, view)
			if err != nil {
				return err
			}
			sum.Bytes += int64(n)
		}
		for name, a := range obsStrings {
			n, err := a.WriteChunk(ctx, chunk, strBufs[name])
			if err != nil {
				return errors.Wrapf(errors.Mark(err, ErrInvalidTable), "%s changed while reading", source)
			}
			sum.Bytes += int64(n)
			strBufs[name] = strBufs[name][:0]
		}
		rows = 0
		chunk++
		return nil
	}

	for {
		rec, err := m.csv.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrapf(errors.Mark(err, ErrInvalidTable), "%s", source)
		}
		if total == sum.NObs {
			return errors.Wrapf(ErrInvalidTable, "%s changed while reading", source)
		}
		strBufs["_index"] = append(strBufs["_index"], rec[0])
		for j, c := range p.vars {
			v, _ := parseFloat(rec[c.pos])
			binary.LittleEndian.PutUint64(xBuf.Data[(rows*nvars+j)*8:], math.Float64bits(v))
		}
		for _, c := range p.obs {
			if buf, ok := numBufs[c.name]; ok {
				v, _ := parseFloat(rec[c.pos])
				binary.LittleEndian.PutUint64(buf.Data[rows*8:], math.Float64bits(v))
			} else {
				strBufs[c.name] = append(strBufs[c.name], rec[c.pos])
			}
		}
		rows++
		total++
		if rows == rowChunk {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	if total != sum.NObs {
		return errors.Wrapf(ErrInvalidTable, "%s changed while reading", source)
	}
	return nil
}

// Read returns the summary of the table stored at path.
func Read(ctx context.Context, st core.Store, path string) (Summary, error) {
	ok, err := zarr.IsGroup(ctx, st, path)
	if err != nil {
		return Summary{}, err
	}
	if !ok {
		return Summary{}, errors.Wrapf(ErrInvalidTable, "%s is not a group", path)
	}
	x, err := zarr.OpenArray(ctx, st, core.Join(path, "X"))
	if err != nil {
		return Summary{}, errors.Wrap(err, "open X")
	}
	shape := x.Shape()
	if len(shape) != 2 {
		return Summary{}, errors.Wrapf(ErrInvalidTable, "X has rank %d", len(shape))
	}
	index, err := zarr.ReadStrings(ctx, st, core.Join(path, "obs", "_index"))
	if err != nil {
		return Summary{}, errors.Wrap(err, "read obs index")
	}
	if len(index) != shape[0] {
		return Summary{}, errors.Wrapf(ErrInvalidTable, "obs index has %d entries, X has %d rows", len(index), shape[0])
	}
	vars, err := zarr.ReadStrings(ctx, st, core.Join(path, "var", "_index"))
	if err != nil {
		return Summary{}, errors.Wrap(err, "read var index")
	}
	if len(vars) != shape[1] {
		return Summary{}, errors.Wrapf(ErrInvalidTable, "var index has %d entries, X has %d columns", len(vars), shape[1])
	}
	var order []string
	if _, err := zarr.DecodeAttr(ctx, st, core.Join(path, "obs"), "column-order", &order); err != nil {
		return Summary{}, errors.Wrap(err, "read obs attributes")
	}
	return Summary{NObs: shape[0], NVars: shape[1], VarNames: vars, ObsColumns: order, Index: index}, nil
}
