package ngff

import (
	"github.com/jameshyojaelee/omnispatial/affine"
)

// Version is the OME-NGFF metadata version written to bundles.
const Version = "0.4"

type Axis struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Unit string `json:"unit,omitempty"`
}

type CoordinateTransformation struct {
	Type        string    `json:"type"`
	Scale       []float64 `json:"scale,omitempty"`
	Translation []float64 `json:"translation,omitempty"`
}

type Dataset struct {
	Path                      string                     `json:"path"`
	CoordinateTransformations []CoordinateTransformation `json:"coordinateTransformations,omitempty"`
}

// ScaleTransform returns the first scale transformation, if any.
func (d Dataset) ScaleTransform() (CoordinateTransformation, bool) {
	return d.find("scale")
}

// TranslationTransform returns the first translation transformation, if any.
func (d Dataset) TranslationTransform() (CoordinateTransformation, bool) {
	return d.find("translation")
}

func (d Dataset) find(kind string) (CoordinateTransformation, bool) {
	for _, t := range d.CoordinateTransformations {
		if t.Type == kind {
			return t, true
		}
	}
	return CoordinateTransformation{}, false
}

// Multiscale is one entry of the "multiscales" attribute.
type Multiscale struct {
	Name     string    `json:"name,omitempty"`
	Version  string    `json:"version,omitempty"`
	Axes     []Axis    `json:"axes"`
	Datasets []Dataset `json:"datasets"`
}

// ImageLabel is the "image-label" attribute of a label group.
type ImageLabel struct {
	Version string           `json:"version"`
	Source  ImageLabelSource `json:"source"`
}

type ImageLabelSource struct {
	Image ImageLabelPath `json:"image"`
}

type ImageLabelPath struct {
	Path string `json:"path"`
}

type Omero struct {
	Channels []OmeroChannel `json:"channels"`
}

type OmeroChannel struct {
	Label  string `json:"label"`
	Active bool   `json:"active"`
}

// Attribute names.
const (
	MultiscalesAttr = "multiscales"
	ImageLabelAttr  = "image-label"
	OmeroAttr       = "omero"
	SpatialDataAttr = "spatialdata_attrs"
	LayerAttr       = "omnispatial"
)

func imageAxes(units string) []Axis {
	return []Axis{
		{Name: "c", Type: "channel"},
		{Name: "y", Type: "space", Unit: units},
		{Name: "x", Type: "space", Unit: units},
	}
}

func labelAxes(units string) []Axis {
	return []Axis{
		{Name: "y", Type: "space", Unit: units},
		{Name: "x", Type: "space", Unit: units},
	}
}

// levelDatasets describes levels 0..levels. Level k doubles the spatial
// scale of level k-1; the translation is shared. When dropChannel is set
// the leading channel entry is removed.
func levelDatasets(t affine.Transform, levels int, dropChannel bool) []Dataset {
	scale, translation := t.ScaleTranslation()
	out := make([]Dataset, 0, levels+1)
	factor := 1.0
	for k := 0; k <= levels; k++ {
		s := []float64{scale[0], scale[1] * factor, scale[2] * factor}
		tr := append([]float64(nil), translation...)
		if dropChannel {
			s, tr = s[1:], tr[1:]
		}
		out = append(out, Dataset{
			Path: levelPath(k),
			CoordinateTransformations: []CoordinateTransformation{
				{Type: "scale", Scale: s},
				{Type: "translation", Translation: tr},
			},
		})
		factor *= 2
	}
	return out
}
