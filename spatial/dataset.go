package spatial

import (
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/paulmach/orb/encoding/wkt"

	"github.com/jameshyojaelee/omnispatial/errors"
)

var (
	// ErrReferentialIntegrity is matched by *ReferentialIntegrityError.
	ErrReferentialIntegrity = errors.New("referential integrity")

	ErrMissingProvenance = errors.New("dataset provenance must be provided")
	ErrInvalidLayer      = errors.New("invalid layer")
)

// ReferentialIntegrityError lists every frame name referenced by the
// dataset but absent from its frame registry.
type ReferentialIntegrityError struct {
	Missing []string
}

func (e *ReferentialIntegrityError) Error() string {
	return "referenced frames missing from registry: " + strings.Join(e.Missing, ", ")
}

func (e *ReferentialIntegrityError) Unwrap() error { return ErrReferentialIntegrity }

// Spec is the input to New.
type Spec struct {
	Images      []ImageLayer
	Labels      []LabelLayer
	Tables      []TableLayer
	Frames      []CoordinateFrame
	GlobalFrame string
	Provenance  *Provenance
}

// Dataset is the validated, read-only aggregate of layers and frames.
type Dataset struct {
	images      []ImageLayer
	labels      []LabelLayer
	tables      []TableLayer
	frames      []CoordinateFrame
	frameIndex  map[string]int
	globalFrame string
	provenance  Provenance
}

// New validates spec and returns the dataset. No dataset is returned when
// any invariant fails.
func New(spec Spec) (*Dataset, error) {
	if spec.GlobalFrame == "" {
		spec.GlobalFrame = DefaultGlobalFrame
	}
	frameIndex := make(map[string]int, len(spec.Frames))
	for i, f := range spec.Frames {
		if f.Name == "" {
			return nil, errors.Wrapf(ErrInvalidLayer, "frame %d has no name", i+1)
		}
		if _, dup := frameIndex[f.Name]; dup {
			return nil, errors.Wrapf(ErrInvalidLayer, "frame %q defined twice", f.Name)
		}
		frameIndex[f.Name] = i
	}
	if err := checkLayers(spec); err != nil {
		return nil, err
	}

	missing := map[string]struct{}{}
	ref := func(name string) {
		if _, ok := frameIndex[name]; !ok {
			missing[name] = struct{}{}
		}
	}
	ref(spec.GlobalFrame)
	for _, l := range spec.Images {
		ref(l.Frame)
		ref(l.Transform.Source)
		ref(l.Transform.Target)
	}
	for _, l := range spec.Labels {
		ref(l.Frame)
		ref(l.Transform.Source)
		ref(l.Transform.Target)
	}
	for _, l := range spec.Tables {
		ref(l.Frame)
		ref(l.Transform.Source)
		ref(l.Transform.Target)
	}
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, &ReferentialIntegrityError{Missing: names}
	}
	if spec.Provenance == nil {
		return nil, ErrMissingProvenance
	}

	prov := *spec.Provenance
	files, err := NormalizeSourceFiles(prov.SourceFiles)
	if err != nil {
		return nil, err
	}
	prov.SourceFiles = files
	prov.Extra = maps.Clone(prov.Extra)
	return &Dataset{
		images:      cloneAll(spec.Images, cloneImage),
		labels:      cloneAll(spec.Labels, cloneLabel),
		tables:      cloneAll(spec.Tables, cloneTable),
		frames:      append([]CoordinateFrame(nil), spec.Frames...),
		frameIndex:  frameIndex,
		globalFrame: spec.GlobalFrame,
		provenance:  prov,
	}, nil
}

func cloneImage(l ImageLayer) ImageLayer {
	l.ChannelNames = slices.Clone(l.ChannelNames)
	l.Multiscale = slices.Clone(l.Multiscale)
	return l
}

func cloneLabel(l LabelLayer) LabelLayer {
	l.Geometries = slices.Clone(l.Geometries)
	l.Properties = maps.Clone(l.Properties)
	return l
}

func cloneTable(l TableLayer) TableLayer {
	l.ObsColumns = slices.Clone(l.ObsColumns)
	l.VarColumns = slices.Clone(l.VarColumns)
	l.Summary = maps.Clone(l.Summary)
	return l
}

// cloneAll copies in so that no slice or map is shared with the caller.
func cloneAll[L any](in []L, clone func(L) L) []L {
	if in == nil {
		return nil
	}
	out := make([]L, len(in))
	for i, l := range in {
		out[i] = clone(l)
	}
	return out
}

func checkLayers(spec Spec) error {
	names := map[string]struct{}{}
	unique := func(kind, name string) error {
		if name == "" {
			return errors.Wrapf(ErrInvalidLayer, "%s layer has no name", kind)
		}
		key := kind + "/" + name
		if _, dup := names[key]; dup {
			return errors.Wrapf(ErrInvalidLayer, "%s layer %q defined twice", kind, name)
		}
		names[key] = struct{}{}
		return nil
	}

	for _, l := range spec.Images {
		if err := unique("image", l.Name); err != nil {
			return err
		}
		if (l.Path == "") == (l.Array == nil) {
			return errors.Wrapf(ErrInvalidLayer, "image layer %q: exactly one of path or array must be set", l.Name)
		}
		if err := l.Transform.Validate(); err != nil {
			return errors.Wrapf(err, "image layer %q", l.Name)
		}
	}
	for _, l := range spec.Labels {
		if err := unique("label", l.Name); err != nil {
			return err
		}
		for i, g := range l.Geometries {
			if strings.HasSuffix(strings.ToUpper(strings.TrimSpace(g)), "EMPTY") {
				continue
			}
			if _, err := wkt.Unmarshal(g); err != nil {
				return errors.Wrapf(ErrInvalidLayer, "label layer %q: geometry %d is not valid WKT: %v", l.Name, i+1, err)
			}
		}
		if err := l.Transform.Validate(); err != nil {
			return errors.Wrapf(err, "label layer %q", l.Name)
		}
	}
	for _, l := range spec.Tables {
		if err := unique("table", l.Name); err != nil {
			return err
		}
		if err := l.Transform.Validate(); err != nil {
			return errors.Wrapf(err, "table layer %q", l.Name)
		}
	}
	return nil
}

// FrameNames returns frame names in registration order.
func (d *Dataset) FrameNames() []string {
	names := make([]string, len(d.frames))
	for i, f := range d.frames {
		names[i] = f.Name
	}
	return names
}

func (d *Dataset) Frame(name string) (CoordinateFrame, bool) {
	i, ok := d.frameIndex[name]
	if !ok {
		return CoordinateFrame{}, false
	}
	return d.frames[i], true
}

func (d *Dataset) GlobalFrame() string       { return d.globalFrame }
func (d *Dataset) Images() []ImageLayer      { return cloneAll(d.images, cloneImage) }
func (d *Dataset) Labels() []LabelLayer      { return cloneAll(d.labels, cloneLabel) }
func (d *Dataset) Tables() []TableLayer      { return cloneAll(d.tables, cloneTable) }
func (d *Dataset) Frames() []CoordinateFrame { return append([]CoordinateFrame(nil), d.frames...) }

func (d *Dataset) Provenance() Provenance {
	p := d.provenance
	p.SourceFiles = slices.Clone(p.SourceFiles)
	p.Extra = maps.Clone(p.Extra)
	return p
}

func (d *Dataset) Image(name string) (ImageLayer, bool) {
	for _, l := range d.images {
		if l.Name == name {
			return cloneImage(l), true
		}
	}
	return ImageLayer{}, false
}

func (d *Dataset) Label(name string) (LabelLayer, bool) {
	for _, l := range d.labels {
		if l.Name == name {
			return cloneLabel(l), true
		}
	}
	return LabelLayer{}, false
}

func (d *Dataset) Table(name string) (TableLayer, bool) {
	for _, l := range d.tables {
		if l.Name == name {
			return cloneTable(l), true
		}
	}
	return TableLayer{}, false
}
