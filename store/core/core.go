// Package core defines the key/value abstraction bundles are written to.
// Keys are slash-separated paths relative to the bundle root, e.g.
// "images/dapi/0/.zarray".
package core

import (
	"bytes"
	"context"
	"io"
	"path"
	"strings"
	"time"

	"github.com/jameshyojaelee/omnispatial/errors"
)

// Driver identifies a concrete store implementation.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverMemory     Driver = "memory"
)

// Info describes a stored object.
type Info struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size_bytes"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Store is a flat namespace of objects addressed by slash-separated keys.
// Put overwrites existing objects.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	// List returns every object whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

// Resetter is implemented by stores that can drop all content faster than
// deleting objects one by one.
type Resetter interface {
	Reset(ctx context.Context) error
}

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.ErrNotFound

	// ErrInvalidKey is returned for empty, absolute or escaping keys.
	ErrInvalidKey = errors.New("invalid store key")
)

// CleanKey normalizes key and rejects keys that could escape the store root.
func CleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.Wrap(ErrInvalidKey, "empty key")
	}
	if strings.HasPrefix(key, "/") {
		return "", errors.Wrapf(ErrInvalidKey, "absolute key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", errors.Wrapf(ErrInvalidKey, "key %q escapes the store root", key)
		}
	}
	return path.Clean(key), nil
}

// Join builds a key from path elements, ignoring empty elements.
func Join(elem ...string) string {
	parts := make([]string, 0, len(elem))
	for _, e := range elem {
		if e = strings.Trim(e, "/"); e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, "/")
}

// ReadAll returns the full content of key.
func ReadAll(ctx context.Context, st Store, key string) ([]byte, error) {
	_, rc, err := st.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", key)
	}
	return data, nil
}

// PutBytes stores data under key.
func PutBytes(ctx context.Context, st Store, key string, data []byte) error {
	_, err := st.Put(ctx, key, bytes.NewReader(data))
	return err
}

// Exists reports whether key is present.
func Exists(ctx context.Context, st Store, key string) (bool, error) {
	_, err := st.Head(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// DeletePrefix removes every object under prefix.
func DeletePrefix(ctx context.Context, st Store, prefix string) error {
	infos, err := st.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, info := range infos {
		if _, err := st.Delete(ctx, info.Key); err != nil {
			return errors.Wrapf(err, "delete %s", info.Key)
		}
	}
	return nil
}

// Reset empties st, using Resetter when the store provides it.
func Reset(ctx context.Context, st Store) error {
	if r, ok := st.(Resetter); ok {
		return r.Reset(ctx)
	}
	return DeletePrefix(ctx, st, "")
}
