// Package adapter turns vendor outputs into spatial datasets. Adapters are
// collected in an explicit Registry built once at startup; the registry
// checks each adapter's engine constraint and resolves inputs either by
// name or by first successful detection.
package adapter

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/jameshyojaelee/omnispatial/errors"
	"github.com/jameshyojaelee/omnispatial/logger"
	"github.com/jameshyojaelee/omnispatial/spatial"
)

// Adapter reads one family of inputs.
type Adapter interface {
	Metadata() Metadata
	// Detect reports whether the adapter recognizes path. It never fails;
	// unreadable inputs are simply not detected.
	Detect(path string) bool
	Read(ctx context.Context, path string) (*spatial.Dataset, error)
}

// Metadata describes an adapter.
type Metadata struct {
	// Name is the lower-case identifier used with --vendor.
	Name string `json:"name"`

	// Version is the adapter's own version (semver).
	Version string `json:"version"`

	// EngineVersion is a semver constraint on the engine version, e.g.
	// ">= 0.4, < 1.0". Empty accepts every engine.
	EngineVersion string `json:"engine_version,omitempty"`

	Vendor      string   `json:"vendor"`
	Modalities  []string `json:"modalities"`
	Description string   `json:"description,omitempty"`
}

var (
	// ErrAdapterNotFound is returned when no adapter matches a name or input.
	ErrAdapterNotFound = errors.New("adapter not found")

	ErrAdapterConflict     = errors.New("adapter already registered")
	ErrIncompatibleAdapter = errors.New("adapter incompatible with engine")
)

// Registry holds adapters in registration order.
type Registry struct {
	mu       sync.RWMutex
	adapters []Adapter
	version  string
	log      *zap.SugaredLogger
}

// NewRegistry creates an empty registry for the given engine version.
func NewRegistry(engineVersion string, log *zap.SugaredLogger) *Registry {
	return &Registry{
		version: engineVersion,
		log:     logger.OrNop(log).With(logger.FieldComponent, "adapter"),
	}
}

// Register adds a. It fails on name conflicts and when the engine version
// does not satisfy the adapter's constraint.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	md := a.Metadata()
	if md.Name == "" {
		return errors.NewInvalidRequestError("adapter has no name")
	}
	for _, existing := range r.adapters {
		if existing.Metadata().Name == md.Name {
			return errors.Wrapf(ErrAdapterConflict, "%s", md.Name)
		}
	}
	if err := r.checkVersion(md); err != nil {
		return errors.Wrapf(err, "adapter %s", md.Name)
	}
	r.adapters = append(r.adapters, a)
	return nil
}

func (r *Registry) checkVersion(md Metadata) error {
	if md.EngineVersion == "" {
		return nil
	}
	engine, err := semver.NewVersion(r.version)
	if err != nil {
		return errors.Wrapf(err, "invalid engine version %s", r.version)
	}
	constraint, err := semver.NewConstraint(md.EngineVersion)
	if err != nil {
		return errors.Wrapf(err, "invalid engine constraint %s", md.EngineVersion)
	}
	if !constraint.Check(engine) {
		return errors.Wrapf(ErrIncompatibleAdapter, "requires engine %s, running %s", md.EngineVersion, r.version)
	}
	return nil
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.adapters {
		if a.Metadata().Name == name {
			return a, true
		}
	}
	return nil, false
}

// List returns the metadata of every adapter in registration order.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, len(r.adapters))
	for i, a := range r.adapters {
		out[i] = a.Metadata()
	}
	return out
}

// Names returns the registered adapter names in registration order.
func (r *Registry) Names() []string {
	list := r.List()
	names := make([]string, len(list))
	for i, md := range list {
		names[i] = md.Name
	}
	return names
}

// Resolve picks the adapter for path: the one called name when name is
// set, otherwise the first registered adapter whose Detect succeeds.
func (r *Registry) Resolve(path, name string) (Adapter, error) {
	if name != "" {
		a, ok := r.Get(name)
		if !ok {
			return nil, errors.WithHintf(errors.Wrapf(ErrAdapterNotFound, "%q", name),
				"registered adapters: %v", r.Names())
		}
		return a, nil
	}
	r.mu.RLock()
	adapters := slices.Clone(r.adapters)
	r.mu.RUnlock()
	for _, a := range adapters {
		if a.Detect(path) {
			r.log.Debugw("adapter detected", logger.FieldAdapter, a.Metadata().Name, logger.FieldPath, path)
			return a, nil
		}
	}
	return nil, errors.WithHint(errors.Wrapf(ErrAdapterNotFound, "no adapter recognizes %s", path),
		"pass --vendor to choose an adapter explicitly")
}

// Read resolves the adapter for path and reads the dataset.
func (r *Registry) Read(ctx context.Context, path, name string) (*spatial.Dataset, Metadata, error) {
	a, err := r.Resolve(path, name)
	if err != nil {
		return nil, Metadata{}, err
	}
	md := a.Metadata()
	ds, err := a.Read(ctx, path)
	if err != nil {
		return nil, md, errors.Wrapf(err, "adapter %s", md.Name)
	}
	return ds, md, nil
}

// Builtins returns constructors for the adapters shipped with the engine.
func Builtins() map[string]func() Adapter {
	return map[string]func() Adapter{
		ManifestName: func() Adapter { return NewManifest() },
	}
}

// NewDefaultRegistry registers the built-in adapters, restricted to enabled
// when it is non-empty.
func NewDefaultRegistry(engineVersion string, enabled []string, log *zap.SugaredLogger) (*Registry, error) {
	builtins := Builtins()
	names := enabled
	if len(names) == 0 {
		names = []string{ManifestName}
	}
	r := NewRegistry(engineVersion, log)
	for _, name := range names {
		ctor, ok := builtins[name]
		if !ok {
			return nil, errors.Wrapf(ErrAdapterNotFound, "enabled adapter %q is not built in", name)
		}
		if err := r.Register(ctor()); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (md Metadata) String() string {
	return fmt.Sprintf("%s %s (%s)", md.Name, md.Version, md.Vendor)
}
