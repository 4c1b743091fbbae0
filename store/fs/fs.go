// Package fs implements core.Store on a local directory tree. Keys map to
// files under the root, so a bundle written here is a plain zarr directory.
package fs

import (
	"context"
	"io"
	iofs "io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jameshyojaelee/omnispatial/errors"
	"github.com/jameshyojaelee/omnispatial/store/core"
)

const tempPrefix = ".tmp-"

// Store implements core.Store using the local filesystem.
type Store struct {
	root string
}

var _ core.Store = (*Store)(nil)

// New returns a store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.Wrap(core.ErrInvalidKey, "empty filesystem root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create %s", root)
	}
	return &Store{root: root}, nil
}

// OpenExisting returns a store over an existing directory.
func OpenExisting(root string) (*Store, error) {
	st, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, errors.Wrapf(core.ErrNotFound, "directory %s", root)
		}
		return nil, errors.Wrapf(err, "stat %s", root)
	}
	if !st.IsDir() {
		return nil, errors.Newf("%s is not a directory", root)
	}
	return &Store{root: root}, nil
}

// Root returns the directory backing the store.
func (s *Store) Root() string { return s.root }

func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

func (s *Store) pathFor(key string) (string, error) {
	k, err := core.CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(k)), nil
}

// Put writes to a temp file in the target directory and renames it into
// place, so readers never observe a partially written object.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) (core.Info, error) {
	dataPath, err := s.pathFor(key)
	if err != nil {
		return core.Info{}, err
	}
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return core.Info{}, errors.Wrapf(err, "create parent of %s", key)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dataPath), tempPrefix+"*")
	if err != nil {
		return core.Info{}, errors.Wrapf(err, "create temp for %s", key)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return core.Info{}, errors.Wrapf(err, "write %s", key)
	}
	if err := tmp.Close(); err != nil {
		return core.Info{}, errors.Wrapf(err, "close %s", key)
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		return core.Info{}, errors.Wrapf(err, "rename into %s", key)
	}
	return s.Head(ctx, key)
}

func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	dataPath, err := s.pathFor(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	f, err := os.Open(dataPath)
	if err != nil {
		return core.Info{}, nil, notFound(err, key)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return core.Info{}, nil, errors.Wrapf(err, "stat %s", key)
	}
	if st.IsDir() {
		f.Close()
		return core.Info{}, nil, errors.Wrapf(core.ErrNotFound, "key %s is a directory", key)
	}
	return infoFor(key, st), f, nil
}

func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	dataPath, err := s.pathFor(key)
	if err != nil {
		return core.Info{}, err
	}
	st, err := os.Stat(dataPath)
	if err != nil {
		return core.Info{}, notFound(err, key)
	}
	if st.IsDir() {
		return core.Info{}, errors.Wrapf(core.ErrNotFound, "key %s is a directory", key)
	}
	return infoFor(key, st), nil
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	dataPath, err := s.pathFor(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(dataPath); err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return false, nil
		}
		return false, errors.Wrapf(err, "delete %s", key)
	}
	return true, nil
}

// List walks only the directory that can contain keys under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	base := s.root
	if i := strings.LastIndex(prefix, "/"); i > 0 {
		base = filepath.Join(s.root, filepath.FromSlash(path.Clean(prefix[:i])))
	}
	var infos []core.Info
	err := filepath.WalkDir(base, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, iofs.ErrNotExist) {
				return iofs.SkipDir
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		st, err := d.Info()
		if err != nil {
			return err
		}
		infos = append(infos, infoFor(key, st))
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "list %q", prefix)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// Reset removes the root directory and recreates it empty.
func (s *Store) Reset(context.Context) error {
	if err := os.RemoveAll(s.root); err != nil {
		return errors.Wrapf(err, "remove %s", s.root)
	}
	return errors.Wrapf(os.MkdirAll(s.root, 0o755), "recreate %s", s.root)
}

func infoFor(key string, st iofs.FileInfo) core.Info {
	return core.Info{Key: key, Size: st.Size(), LastModified: st.ModTime().UTC()}
}

func notFound(err error, key string) error {
	if errors.Is(err, iofs.ErrNotExist) {
		return errors.Wrapf(core.ErrNotFound, "key %s", key)
	}
	return errors.Wrapf(err, "open %s", key)
}
