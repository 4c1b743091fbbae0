package zarr

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/jameshyojaelee/omnispatial/errors"
	"github.com/jameshyojaelee/omnispatial/store/core"
)

// CreateGroup writes a .zgroup at path and, when attrs is non-nil, its
// .zattrs. An empty path addresses the store root.
func CreateGroup(ctx context.Context, st core.Store, path string, attrs map[string]any) error {
	if err := writeJSON(ctx, st, core.Join(path, GroupKey), GroupMetadata{ZarrFormat: Format}); err != nil {
		return err
	}
	if attrs == nil {
		return nil
	}
	return WriteAttrs(ctx, st, path, attrs)
}

// WriteAttrs replaces the .zattrs document of the node at path.
func WriteAttrs(ctx context.Context, st core.Store, path string, attrs map[string]any) error {
	return writeJSON(ctx, st, core.Join(path, AttrsKey), attrs)
}

// UpdateAttrs merges attrs into the existing .zattrs of path.
func UpdateAttrs(ctx context.Context, st core.Store, path string, attrs map[string]any) error {
	current, err := ReadAttrs(ctx, st, path)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return err
	}
	if current == nil {
		current = make(map[string]any, len(attrs))
	}
	for k, v := range attrs {
		current[k] = v
	}
	return WriteAttrs(ctx, st, path, current)
}

// ReadAttrs returns the .zattrs of path. A missing document yields
// core.ErrNotFound.
func ReadAttrs(ctx context.Context, st core.Store, path string) (map[string]any, error) {
	var attrs map[string]any
	if err := DecodeAttrs(ctx, st, path, &attrs); err != nil {
		return nil, err
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	return attrs, nil
}

// DecodeAttrs unmarshals the .zattrs of path into v.
func DecodeAttrs(ctx context.Context, st core.Store, path string, v any) error {
	return readJSON(ctx, st, core.Join(path, AttrsKey), v)
}

// DecodeAttr unmarshals a single attribute into v. It reports false when the
// attribute is absent.
func DecodeAttr(ctx context.Context, st core.Store, path, name string, v any) (bool, error) {
	var raw map[string]json.RawMessage
	if err := DecodeAttrs(ctx, st, path, &raw); err != nil {
		return false, err
	}
	msg, ok := raw[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(msg, v); err != nil {
		return true, errors.Wrapf(err, "decode attribute %q of %q", name, path)
	}
	return true, nil
}

// IsGroup reports whether path holds a .zgroup.
func IsGroup(ctx context.Context, st core.Store, path string) (bool, error) {
	return core.Exists(ctx, st, core.Join(path, GroupKey))
}

// IsArray reports whether path holds a .zarray.
func IsArray(ctx context.Context, st core.Store, path string) (bool, error) {
	return core.Exists(ctx, st, core.Join(path, ArrayKey))
}

// ChildGroups returns the names of the groups directly below path, sorted.
func ChildGroups(ctx context.Context, st core.Store, path string) ([]string, error) {
	return children(ctx, st, path, GroupKey)
}

// ChildArrays returns the names of the arrays directly below path, sorted.
func ChildArrays(ctx context.Context, st core.Store, path string) ([]string, error) {
	return children(ctx, st, path, ArrayKey)
}

func children(ctx context.Context, st core.Store, path, marker string) ([]string, error) {
	prefix := core.Join(path)
	if prefix != "" {
		prefix += "/"
	}
	infos, err := st.List(ctx, prefix)
	if err != nil {
		return nil, errors.Wrapf(err, "list %q", path)
	}
	seen := make(map[string]struct{})
	for _, info := range infos {
		rest := strings.TrimPrefix(info.Key, prefix)
		name, tail, ok := strings.Cut(rest, "/")
		if !ok || tail != marker {
			continue
		}
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
