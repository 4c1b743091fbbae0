package validate

import (
	"context"
	"encoding/binary"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/jameshyojaelee/omnispatial/array"
	"github.com/jameshyojaelee/omnispatial/errors"
	"github.com/jameshyojaelee/omnispatial/logger"
	"github.com/jameshyojaelee/omnispatial/metrics"
	"github.com/jameshyojaelee/omnispatial/ngff"
	"github.com/jameshyojaelee/omnispatial/store"
	"github.com/jameshyojaelee/omnispatial/store/core"
	"github.com/jameshyojaelee/omnispatial/table"
	"github.com/jameshyojaelee/omnispatial/zarr"
)

// Validator runs bundle checks. The zero value is not usable; see New.
type Validator struct {
	log     *zap.SugaredLogger
	metrics *metrics.Recorder
	store   store.Options
}

// New returns a validator. log and rec may be nil.
func New(log *zap.SugaredLogger, rec *metrics.Recorder, storeOpts store.Options) *Validator {
	return &Validator{
		log:     logger.OrNop(log).With(logger.FieldComponent, "validate"),
		metrics: rec,
		store:   storeOpts,
	}
}

// Bundle validates the bundle at location with a default validator.
func Bundle(ctx context.Context, location, format string) (Report, error) {
	return New(logger.Logger, nil, store.Options{}).Bundle(ctx, location, format)
}

// Bundle opens location and validates it as format. Both format tags run
// the same structural checks.
func (v *Validator) Bundle(ctx context.Context, location, format string) (Report, error) {
	format = strings.ToLower(format)
	if !slices.Contains(ngff.Formats(), format) {
		return Report{}, errors.WithHintf(
			errors.MarkInvalidRequest(errors.Wrapf(ErrUnsupportedFormat, "%q", format)),
			"supported formats: %s", strings.Join(ngff.Formats(), ", "))
	}
	st, err := store.Open(ctx, location, v.store)
	if err != nil {
		return Report{}, unreadable(location, err)
	}
	return v.NGFF(ctx, st, location, format)
}

// NGFF validates the bundle held by st. target is only used in the
// summary. An error is returned only when the root group is unreadable or
// the store fails mid-pass.
func (v *Validator) NGFF(ctx context.Context, st core.Store, target, format string) (Report, error) {
	ok, err := zarr.IsGroup(ctx, st, "")
	if err != nil {
		return Report{}, unreadable(target, err)
	}
	if !ok {
		return Report{}, unreadable(target, errors.New("no root group"))
	}

	c := &checker{ctx: ctx, st: st}
	summary := map[string]any{SummaryTarget: target, SummaryFormat: format}

	images, err := c.groups(ngff.ImagesGroup)
	if err != nil {
		return Report{}, unreadable(target, err)
	}
	if images == nil {
		c.add(CodeImagesMissing, SeverityError, "/images", "images group not found")
	}
	summary[SummaryImages] = len(images)

	var ref [2]int
	haveRef := false
	for _, name := range images {
		key := core.Join(ngff.ImagesGroup, name)
		p := "/" + key
		meta, found, err := c.levelMeta(key)
		switch {
		case err != nil:
			c.add(CodeImageReadError, SeverityError, p, "level \"0\" unreadable: %v", err)
		case !found:
			c.add(CodeDatasetMissing, SeverityError, p, "level \"0\" not found for image")
		default:
			if shape := meta.Shape; len(shape) >= 2 && !haveRef {
				ref = [2]int{shape[len(shape)-2], shape[len(shape)-1]}
				haveRef = true
			}
			if _, err := zarr.CodecFromConfig(meta.Compressor); err != nil {
				c.add(CodeImageReadError, SeverityError, p, "level \"0\" chunks cannot be decoded: %v", err)
			}
		}
		scale := c.multiscales(key, p, true)
		if slices.ContainsFunc(scale, nonPositive) {
			c.add(CodeTransformNonInvertible, SeverityError, p, "image scale %v has non-positive entries, transform is not invertible", scale)
		}
	}

	labels, err := c.groups(ngff.LabelsGroup)
	if err != nil {
		return Report{}, unreadable(target, err)
	}
	summary[SummaryLabels] = len(labels)
	var labelCounts []int
	for _, name := range labels {
		key := core.Join(ngff.LabelsGroup, name)
		p := "/" + key
		if !c.hasAttr(key, ngff.ImageLabelAttr) {
			c.add(CodeLabelMetadataMissing, SeverityError, p, "label group has no %s metadata", ngff.ImageLabelAttr)
		}
		arr, err := c.level(key)
		if err != nil {
			c.add(CodeLabelReadError, SeverityError, p, "level \"0\" unreadable: %v", err)
			continue
		}
		if arr == nil {
			c.add(CodeDatasetMissing, SeverityError, p, "level \"0\" not found for label")
			continue
		}
		stats, err := scanMask(ctx, arr)
		if err != nil {
			c.add(CodeLabelReadError, SeverityError, p, "read mask: %v", err)
			continue
		}
		labelCounts = append(labelCounts, stats.distinct)
		if haveRef {
			shape := arr.Shape()
			got := [2]int{shape[len(shape)-2], shape[len(shape)-1]}
			if got != ref {
				c.add(CodeLabelShapeMismatch, SeverityError, p, "mask shape %v does not match image shape %v", got[:], ref[:])
			}
			if stats.distinct > 0 && (stats.maxY >= ref[0] || stats.maxX >= ref[1]) {
				c.add(CodeLabelBoundary, SeverityError, p, "labelled pixel (%d, %d) lies outside image shape %v", stats.maxY, stats.maxX, ref[:])
			}
		}
		c.multiscales(key, p, false)
	}

	tables, err := c.groups(ngff.TablesGroup)
	if err != nil {
		return Report{}, unreadable(target, err)
	}
	summary[SummaryTables] = len(tables)
	var tableCounts []int
	for _, name := range tables {
		key := core.Join(ngff.TablesGroup, name)
		p := "/" + key
		sum, err := table.Read(ctx, st, key)
		if err != nil {
			c.add(CodeTableReadError, SeverityError, p, "read table: %v", err)
			continue
		}
		tableCounts = append(tableCounts, sum.NObs)
		if dup, ok := firstDuplicate(sum.Index); ok {
			c.add(CodeTableDuplicateIndex, SeverityError, p, "observation index repeats %q", dup)
		}
	}

	if len(labelCounts) > 0 && len(tableCounts) > 0 {
		nLabels, nObs := total(labelCounts), total(tableCounts)
		if nLabels != nObs {
			c.add(CodeTableLabelMismatch, SeverityError, "/tables",
				"%d distinct label ids across label layers but %d observations across tables", nLabels, nObs)
		}
	}

	report := Report{OK: true, Issues: c.issues, Summary: summary}
	if report.Issues == nil {
		report.Issues = []Issue{}
	}
	for _, is := range report.Issues {
		if is.Severity == SeverityError {
			report.OK = false
		}
		v.metrics.ValidationIssue(is.Code, string(is.Severity))
		v.log.Debugw("validation issue",
			logger.FieldCode, is.Code,
			logger.FieldSeverity, string(is.Severity),
			logger.FieldPath, is.Path,
			"message", is.Message)
	}
	v.log.Infow("bundle validated",
		logger.FieldPath, target,
		logger.FieldFormat, format,
		"ok", report.OK,
		logger.FieldCount, len(report.Issues))
	return report, nil
}

type checker struct {
	ctx    context.Context
	st     core.Store
	issues []Issue
}

func (c *checker) add(code string, sev Severity, path, format string, args ...any) {
	c.issues = append(c.issues, Issue{Code: code, Message: fmt.Sprintf(format, args...), Path: path, Severity: sev})
}

// groups lists the child groups of path, or nil when path is not a group.
func (c *checker) groups(path string) ([]string, error) {
	ok, err := zarr.IsGroup(c.ctx, c.st, path)
	if err != nil || !ok {
		return nil, err
	}
	names, err := zarr.ChildGroups(c.ctx, c.st, path)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// levelMeta reads the .zarray of level "0" below key without building its
// codec. found is false when the level does not exist.
func (c *checker) levelMeta(key string) (meta zarr.ArrayMetadata, found bool, err error) {
	path := core.Join(key, "0")
	if found, err = zarr.IsArray(c.ctx, c.st, path); err != nil || !found {
		return meta, found, err
	}
	meta, err = zarr.ReadArrayMetadata(c.ctx, c.st, path)
	return meta, true, err
}

// level opens array "0" below key. A nil array with a nil error means the
// level does not exist.
func (c *checker) level(key string) (*zarr.Array, error) {
	path := core.Join(key, "0")
	ok, err := zarr.IsArray(c.ctx, c.st, path)
	if err != nil || !ok {
		return nil, err
	}
	return zarr.OpenArray(c.ctx, c.st, path)
}

func (c *checker) exists(key string) bool {
	if ok, err := zarr.IsArray(c.ctx, c.st, key); err == nil && ok {
		return true
	}
	ok, err := zarr.IsGroup(c.ctx, c.st, key)
	return err == nil && ok
}

func (c *checker) hasAttr(key, name string) bool {
	var raw any
	ok, err := zarr.DecodeAttr(c.ctx, c.st, key, name, &raw)
	return err == nil && ok
}

// multiscales checks the first multiscales entry of key and returns the
// scale vector of its last valid level.
func (c *checker) multiscales(key, p string, expectChannel bool) []float64 {
	var ms []ngff.Multiscale
	ok, err := zarr.DecodeAttr(c.ctx, c.st, key, ngff.MultiscalesAttr, &ms)
	if err != nil && !errors.IsNotFoundError(err) {
		c.add(CodeMetadataMissing, SeverityError, p, "malformed multiscales metadata: %v", err)
		return nil
	}
	if !ok || len(ms) == 0 {
		c.add(CodeMetadataMissing, SeverityError, p, "missing multiscales metadata")
		return nil
	}
	entry := ms[0]
	for i, axis := range entry.Axes {
		if axis.Type == "space" && axis.Unit == "" {
			name := axis.Name
			if name == "" {
				name = fmt.Sprint(i)
			}
			c.add(CodeAxisUnitMissing, SeverityError, p, "axis %q is missing a unit", name)
		}
	}

	var prev, reported []float64
	for _, ds := range entry.Datasets {
		dp := p + "/" + ds.Path
		if ds.Path == "" || !c.exists(core.Join(key, ds.Path)) {
			c.add(CodeDatasetMissing, SeverityError, dp, "dataset %q listed in multiscales does not exist", ds.Path)
			continue
		}
		sc, ok := ds.ScaleTransform()
		if !ok {
			c.add(CodeScaleMissing, SeverityError, dp, "scale transform missing")
			continue
		}
		scale := sc.Scale
		if expectChannel && len(scale) < 3 {
			c.add(CodeScaleDimensionMismatch, SeverityError, dp, "scale %v has no channel entry", scale)
		}
		if slices.ContainsFunc(scale, nonPositive) {
			c.add(CodeScaleNonPositive, SeverityError, dp, "scale %v has non-positive entries", scale)
		}
		spatialScale := scale
		if expectChannel && len(scale) > 1 {
			spatialScale = scale[1:]
		}
		if prev != nil {
			for i := 0; i < min(len(prev), len(spatialScale)); i++ {
				if spatialScale[i] < prev[i] {
					c.add(CodeScaleNonMonotonic, SeverityError, dp, "scale %v decreases from the previous level %v", spatialScale, prev)
					break
				}
			}
		}
		prev = spatialScale
		reported = scale
		if tr, ok := ds.TranslationTransform(); ok && len(tr.Translation) != len(scale) {
			c.add(CodeTranslationDimensionMismatch, SeverityError, dp,
				"translation has %d entries, scale has %d", len(tr.Translation), len(scale))
		}
	}
	return reported
}

func nonPositive(v float64) bool { return v <= 0 }

type maskStats struct {
	distinct   int
	maxY, maxX int
}

// scanMask streams the mask window by window, counting distinct non-zero
// ids and the largest labelled coordinate on the two trailing axes.
func scanMask(ctx context.Context, a *zarr.Array) (maskStats, error) {
	shape := a.Shape()
	if len(shape) < 2 {
		return maskStats{}, errors.Newf("mask has rank %d", len(shape))
	}
	dtype := a.DType()
	if _, ok := integerAt(array.NewBlock(dtype, []int{1}), 0); !ok {
		return maskStats{}, errors.Newf("mask dtype %s is not an integer type", dtype)
	}
	n := len(shape)
	ids := map[uint64]struct{}{}
	stats := maskStats{maxY: -1, maxX: -1}
	err := a.Grid().Each(func(_ []int, window []array.Range) error {
		blk, err := a.ReadWindow(ctx, window)
		if err != nil {
			return err
		}
		h, w := blk.Shape[n-2], blk.Shape[n-1]
		for i := 0; i < blk.Len(); i++ {
			id, _ := integerAt(blk, i)
			if id == 0 {
				continue
			}
			ids[id] = struct{}{}
			stats.maxY = max(stats.maxY, window[n-2].Start+(i/w)%h)
			stats.maxX = max(stats.maxX, window[n-1].Start+i%w)
		}
		return nil
	})
	if err != nil {
		return maskStats{}, err
	}
	stats.distinct = len(ids)
	return stats, nil
}

// integerAt returns element i of an integer or bool block.
func integerAt(b *array.Block, i int) (uint64, bool) {
	switch b.DType {
	case array.Bool, array.Uint8:
		return uint64(b.Data[i]), true
	case array.Int8:
		return uint64(int8(b.Data[i])), true
	case array.Uint16:
		return uint64(binary.LittleEndian.Uint16(b.Data[i*2:])), true
	case array.Int16:
		return uint64(int16(binary.LittleEndian.Uint16(b.Data[i*2:]))), true
	case array.Uint32:
		return uint64(binary.LittleEndian.Uint32(b.Data[i*4:])), true
	case array.Int32:
		return uint64(int32(binary.LittleEndian.Uint32(b.Data[i*4:]))), true
	case array.Uint64, array.Int64:
		return binary.LittleEndian.Uint64(b.Data[i*8:]), true
	}
	return 0, false
}

func firstDuplicate(index []string) (string, bool) {
	seen := make(map[string]struct{}, len(index))
	for _, v := range index {
		if _, ok := seen[v]; ok {
			return v, true
		}
		seen[v] = struct{}{}
	}
	return "", false
}

func total(xs []int) int {
	n := 0
	for _, x := range xs {
		n += x
	}
	return n
}
