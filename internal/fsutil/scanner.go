package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Resource is one discovered script.
type Resource struct {
	// Name is the path relative to the location root, using "/".
	Name string
	// Filename is the base name.
	Filename string
	// Location is where the bytes came from, e.g. filesystem:/srv/db/V1__init.cql.
	Location string
	Bytes    []byte
}

// Scanner resolves classpath: roots against an embedded FS (or the working
// directory when none is set) and filesystem: roots against the OS.
type Scanner struct {
	Classpath  afero.Fs
	Filesystem afero.Fs
}

func NewScanner(embedded fs.FS) *Scanner {
	s := &Scanner{Filesystem: afero.NewReadOnlyFs(afero.NewOsFs())}
	if embedded != nil {
		s.Classpath = afero.FromIOFS{FS: embedded}
	} else {
		s.Classpath = s.Filesystem
	}
	return s
}

func (s *Scanner) fsFor(loc Location) afero.Fs {
	if loc.IsClasspath() {
		return s.Classpath
	}
	return s.Filesystem
}

// Scan returns every file below loc whose base name has the given prefix and
// suffix, sorted by name. A missing root yields no resources.
func (s *Scanner) Scan(loc Location, prefix, suffix string) ([]Resource, error) {
	fsys := s.fsFor(loc)
	root := loc.Path
	if root == "" {
		root = "."
	}
	if _, err := fsys.Stat(root); err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []Resource
	err := afero.Walk(fsys, root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		base := info.Name()
		if !strings.HasPrefix(base, prefix) || !strings.HasSuffix(base, suffix) || len(base) <= len(prefix)+len(suffix) {
			return nil
		}
		b, err := afero.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		rel := filepath.ToSlash(p)
		if loc.Path != "" {
			rel = strings.TrimPrefix(strings.TrimPrefix(rel, filepath.ToSlash(root)), "/")
		}
		out = append(out, Resource{
			Name:     rel,
			Filename: base,
			Location: loc.Prefix + path.Join(loc.Path, rel),
			Bytes:    b,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
