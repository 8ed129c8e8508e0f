package sink

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// LocalStore keeps objects as files under a root directory. Writes go to a
// temp file in the target directory and are renamed into place, so readers
// never see a partial snapshot.
type LocalStore struct {
	root string
}

// NewLocalStore creates root if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, eris.Wrapf(err, "sink: create store root %s", root)
	}
	return &LocalStore{root: root}, nil
}

// Root returns the store directory.
func (l *LocalStore) Root() string { return l.root }

func (l *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", eris.Errorf("sink: invalid key %q", key)
	}
	return filepath.Join(l.root, clean), nil
}

// Put writes data atomically.
func (l *LocalStore) Put(ctx context.Context, key string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "sink: put")
	}
	dst, err := l.path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "sink: create dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return eris.Wrapf(err, "sink: create temp file for %s", key)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrapf(err, "sink: write %s", key)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrapf(err, "sink: sync %s", key)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "sink: close %s", key)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return eris.Wrapf(err, "sink: rename into %s", key)
	}
	return nil
}

// Get reads the object at key.
func (l *LocalStore) Get(_ context.Context, key string) ([]byte, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, eris.Wrapf(ErrNotFound, "sink: get %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sink: read %s", key)
	}
	return data, nil
}

// List walks the directory for prefix. Temp files are skipped.
func (l *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	start := l.root
	if p := strings.Trim(prefix, "/"); p != "" {
		var err error
		if start, err = l.path(p); err != nil {
			return nil, err
		}
	}

	var keys []string
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return fs.SkipDir
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "sink: list %s", prefix)
	}
	return keys, nil
}
