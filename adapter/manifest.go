package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/jameshyojaelee/omnispatial/affine"
	"github.com/jameshyojaelee/omnispatial/errors"
	"github.com/jameshyojaelee/omnispatial/spatial"
	"github.com/jameshyojaelee/omnispatial/table"
	"github.com/jameshyojaelee/omnispatial/version"
)

// ManifestName is the registry name of the manifest adapter.
const ManifestName = "manifest"

// ManifestFiles are the recognized manifest file names, in lookup order.
var ManifestFiles = []string{
	"spatial-manifest.toml",
	"spatial-manifest.yaml",
	"spatial-manifest.yml",
	"spatial-manifest.json",
	"spatial-manifest.jsonc",
}

// ErrInvalidManifest is returned for manifests that cannot be decoded or
// describe an inconsistent dataset.
var ErrInvalidManifest = errors.New("invalid manifest")

const defaultUnits = "pixel"

type manifestDoc struct {
	Name        string         `toml:"name" yaml:"name" json:"name"`
	GlobalFrame string         `toml:"global_frame" yaml:"global_frame" json:"global_frame"`
	Frames      []frameDoc     `toml:"frames" yaml:"frames" json:"frames"`
	Images      []imageDoc     `toml:"images" yaml:"images" json:"images"`
	Labels      []labelDoc     `toml:"labels" yaml:"labels" json:"labels"`
	Tables      []tableDoc     `toml:"tables" yaml:"tables" json:"tables"`
	Extra       map[string]any `toml:"extra" yaml:"extra" json:"extra"`
}

type frameDoc struct {
	Name        string   `toml:"name" yaml:"name" json:"name"`
	Axes        []string `toml:"axes" yaml:"axes" json:"axes"`
	Units       []string `toml:"units" yaml:"units" json:"units"`
	Description string   `toml:"description" yaml:"description" json:"description"`
}

type transformDoc struct {
	Matrix [][]float64 `toml:"matrix" yaml:"matrix" json:"matrix"`
	Units  string      `toml:"units" yaml:"units" json:"units"`
	Target string      `toml:"target" yaml:"target" json:"target"`
}

type levelDoc struct {
	Path       string `toml:"path" yaml:"path" json:"path"`
	Downsample int    `toml:"downsample" yaml:"downsample" json:"downsample"`
}

type imageDoc struct {
	Name      string        `toml:"name" yaml:"name" json:"name"`
	Frame     string        `toml:"frame" yaml:"frame" json:"frame"`
	Path      string        `toml:"path" yaml:"path" json:"path"`
	PixelSize []float64     `toml:"pixel_size" yaml:"pixel_size" json:"pixel_size"`
	Units     string        `toml:"units" yaml:"units" json:"units"`
	Channels  []string      `toml:"channels" yaml:"channels" json:"channels"`
	Levels    []levelDoc    `toml:"levels" yaml:"levels" json:"levels"`
	Transform *transformDoc `toml:"transform" yaml:"transform" json:"transform"`
}

type labelDoc struct {
	Name           string         `toml:"name" yaml:"name" json:"name"`
	Frame          string         `toml:"frame" yaml:"frame" json:"frame"`
	CRS            string         `toml:"crs" yaml:"crs" json:"crs"`
	Geometries     []string       `toml:"geometries" yaml:"geometries" json:"geometries"`
	GeometriesFile string         `toml:"geometries_file" yaml:"geometries_file" json:"geometries_file"`
	Properties     map[string]any `toml:"properties" yaml:"properties" json:"properties"`
	Transform      *transformDoc  `toml:"transform" yaml:"transform" json:"transform"`
}

type tableDoc struct {
	Name              string        `toml:"name" yaml:"name" json:"name"`
	Frame             string        `toml:"frame" yaml:"frame" json:"frame"`
	Path              string        `toml:"path" yaml:"path" json:"path"`
	ObsColumns        []string      `toml:"obs_columns" yaml:"obs_columns" json:"obs_columns"`
	VarColumns        []string      `toml:"var_columns" yaml:"var_columns" json:"var_columns"`
	CoordinateColumns []string      `toml:"coordinate_columns" yaml:"coordinate_columns" json:"coordinate_columns"`
	Transform         *transformDoc `toml:"transform" yaml:"transform" json:"transform"`
}

// Manifest reads a directory described by a spatial-manifest file: frames,
// image rasters (.npy or TIFF files, or zarr arrays), label geometries as
// WKT, and feature matrices as CSV/TSV. Relative paths are resolved against the
// manifest's directory.
type Manifest struct {
	engineVersion string
}

var _ Adapter = (*Manifest)(nil)

func NewManifest() *Manifest {
	return &Manifest{engineVersion: version.Version}
}

func (m *Manifest) Metadata() Metadata {
	return Metadata{
		Name:          ManifestName,
		Version:       "1.0.0",
		EngineVersion: ">= 0.4.0",
		Vendor:        "generic",
		Modalities:    []string{"image", "labels", "table"},
		Description:   "Datasets described by a spatial-manifest.{toml,yaml,json,jsonc} file",
	}
}

func (m *Manifest) Detect(path string) bool {
	_, err := FindManifest(path)
	return err == nil
}

// FindManifest returns the manifest file for path, which may be the
// manifest itself or a directory containing one.
func FindManifest(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrapf(err, "stat %s", path)
	}
	if !info.IsDir() {
		for _, name := range ManifestFiles {
			if filepath.Base(path) == name {
				return path, nil
			}
		}
		return "", errors.Wrapf(ErrAdapterNotFound, "%s is not a manifest file", path)
	}
	for _, name := range ManifestFiles {
		candidate := filepath.Join(path, name)
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
			return candidate, nil
		}
	}
	return "", errors.Wrapf(ErrAdapterNotFound, "no spatial-manifest file in %s", path)
}

func decodeManifest(file string, data []byte) (manifestDoc, error) {
	var doc manifestDoc
	var err error
	switch filepath.Ext(file) {
	case ".toml":
		err = toml.Unmarshal(data, &doc)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	case ".json", ".jsonc":
		err = json.Unmarshal(jsonc.ToJSON(data), &doc)
	default:
		return doc, errors.Wrapf(ErrInvalidManifest, "unknown manifest type %s", file)
	}
	if err != nil {
		return doc, errors.Wrapf(errors.Mark(err, ErrInvalidManifest), "decode %s", file)
	}
	return doc, nil
}

func (m *Manifest) Read(ctx context.Context, path string) (*spatial.Dataset, error) {
	file, err := FindManifest(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", file)
	}
	doc, err := decodeManifest(file, data)
	if err != nil {
		return nil, err
	}
	b := &builder{dir: filepath.Dir(file), doc: doc, sources: []string{file}}
	spec, err := b.build(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", file)
	}

	extra := map[string]any{"manifest": filepath.Base(file)}
	if doc.Name != "" {
		extra["name"] = doc.Name
	}
	for k, v := range doc.Extra {
		extra[k] = v
	}
	prov, err := spatial.NewProvenance(ManifestName, m.engineVersion, b.sources, extra)
	if err != nil {
		return nil, err
	}
	spec.Provenance = prov
	return spatial.New(spec)
}

type builder struct {
	dir     string
	doc     manifestDoc
	sources []string
	frames  map[string]spatial.CoordinateFrame
	global  string
}

func (b *builder) resolve(p string) string {
	if p == "" || strings.Contains(p, "://") || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(b.dir, p)
}

func (b *builder) build(ctx context.Context) (spatial.Spec, error) {
	b.global = b.doc.GlobalFrame
	if b.global == "" {
		b.global = spatial.DefaultGlobalFrame
	}
	spec := spatial.Spec{GlobalFrame: b.global}
	spec.Frames = b.declaredFrames()
	b.frames = make(map[string]spatial.CoordinateFrame, len(spec.Frames))
	for _, f := range spec.Frames {
		b.frames[f.Name] = f
	}

	for i, img := range b.doc.Images {
		if err := ctx.Err(); err != nil {
			return spec, err
		}
		frame := b.frameOf(img.Frame)
		tr, err := b.transform(img.Transform, frame, img.Units)
		if err != nil {
			return spec, errors.Wrapf(err, "image %d (%s)", i+1, img.Name)
		}
		layer := spatial.ImageLayer{
			Name:         img.Name,
			Frame:        frame,
			Path:         b.resolve(img.Path),
			Units:        img.Units,
			ChannelNames: img.Channels,
			Transform:    tr,
		}
		copy(layer.PixelSize[:], img.PixelSize)
		for _, lv := range img.Levels {
			layer.Multiscale = append(layer.Multiscale, spatial.Level{Path: lv.Path, Downsample: lv.Downsample})
		}
		if layer.Path != "" {
			b.sources = append(b.sources, layer.Path)
		}
		spec.Images = append(spec.Images, layer)
	}

	for i, lbl := range b.doc.Labels {
		frame := b.frameOf(lbl.Frame)
		tr, err := b.transform(lbl.Transform, frame, "")
		if err != nil {
			return spec, errors.Wrapf(err, "label %d (%s)", i+1, lbl.Name)
		}
		geoms := append([]string(nil), lbl.Geometries...)
		if lbl.GeometriesFile != "" {
			path := b.resolve(lbl.GeometriesFile)
			more, err := readWKTLines(path)
			if err != nil {
				return spec, errors.Wrapf(err, "label %d (%s)", i+1, lbl.Name)
			}
			geoms = append(geoms, more...)
			b.sources = append(b.sources, path)
		}
		spec.Labels = append(spec.Labels, spatial.LabelLayer{
			Name:       lbl.Name,
			Frame:      frame,
			CRS:        lbl.CRS,
			Geometries: geoms,
			Properties: lbl.Properties,
			Transform:  tr,
		})
	}

	for i, tbl := range b.doc.Tables {
		frame := b.frameOf(tbl.Frame)
		tr, err := b.transform(tbl.Transform, frame, "")
		if err != nil {
			return spec, errors.Wrapf(err, "table %d (%s)", i+1, tbl.Name)
		}
		if len(tbl.CoordinateColumns) != 0 && len(tbl.CoordinateColumns) != 2 {
			return spec, errors.Wrapf(ErrInvalidManifest, "table %d (%s): coordinate_columns needs 2 names", i+1, tbl.Name)
		}
		layer := spatial.TableLayer{
			Name:       tbl.Name,
			Frame:      frame,
			Transform:  tr,
			MatrixPath: b.resolve(tbl.Path),
			ObsColumns: tbl.ObsColumns,
			VarColumns: tbl.VarColumns,
		}
		copy(layer.CoordinateColumns[:], tbl.CoordinateColumns)
		if layer.MatrixPath != "" {
			scan, err := table.ScanFile(layer.MatrixPath)
			if err != nil {
				return spec, errors.Wrapf(err, "table %d (%s)", i+1, tbl.Name)
			}
			layer.Summary = map[string]any{
				spatial.SummaryObsCount: scan.Rows,
				"columns":               len(scan.Header),
			}
			b.sources = append(b.sources, layer.MatrixPath)
		}
		spec.Tables = append(spec.Tables, layer)
	}
	return spec, nil
}

// declaredFrames returns the declared frames, or the global frame plus one pixel
// frame per layer frame when none are declared.
func (b *builder) declaredFrames() []spatial.CoordinateFrame {
	if len(b.doc.Frames) > 0 {
		out := make([]spatial.CoordinateFrame, len(b.doc.Frames))
		for i, f := range b.doc.Frames {
			out[i] = frameFromDoc(f)
		}
		return out
	}
	seen := map[string]bool{}
	var out []spatial.CoordinateFrame
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, frameFromDoc(frameDoc{Name: name}))
	}
	add(b.global)
	for _, img := range b.doc.Images {
		add(img.Frame)
	}
	for _, lbl := range b.doc.Labels {
		add(lbl.Frame)
	}
	for _, tbl := range b.doc.Tables {
		add(tbl.Frame)
	}
	return out
}

func frameFromDoc(f frameDoc) spatial.CoordinateFrame {
	cf := spatial.CoordinateFrame{
		Name:        f.Name,
		Axes:        [3]string{"x", "y", "z"},
		Units:       [3]string{defaultUnits, defaultUnits, defaultUnits},
		Description: f.Description,
	}
	copy(cf.Axes[:], f.Axes)
	switch len(f.Units) {
	case 0:
	case 1:
		cf.Units = [3]string{f.Units[0], f.Units[0], f.Units[0]}
	default:
		copy(cf.Units[:], f.Units)
	}
	return cf
}

// frameOf defaults an empty layer frame to the global frame.
func (b *builder) frameOf(name string) string {
	if name == "" {
		return b.global
	}
	return name
}

// transform builds the layer-to-global transform. Units default to the
// layer's units, then the frame's first unit.
func (b *builder) transform(doc *transformDoc, frame, units string) (affine.Transform, error) {
	if units == "" {
		units = defaultUnits
		if f, ok := b.frames[frame]; ok && f.Units[0] != "" {
			units = f.Units[0]
		}
	}
	if doc == nil {
		return affine.IdentityTransform(units, frame, b.global), nil
	}
	if doc.Units != "" {
		units = doc.Units
	}
	target := doc.Target
	if target == "" {
		target = b.global
	}
	matrix := affine.Identity()
	if len(doc.Matrix) > 0 {
		m, err := affine.Validate(doc.Matrix)
		if err != nil {
			return affine.Transform{}, err
		}
		matrix = m
	}
	return affine.New(matrix, units, frame, target)
}

// readWKTLines reads one geometry per line, skipping blank lines and lines
// starting with '#'.
func readWKTLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 64<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return out, nil
}
