package gateway

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"strings"
)

// PathEntry describes one entry of a listed directory.
type PathEntry struct {
	Name string
	Dir  bool
}

// PathProvider lists the entries of a directory in a handler tree.
// Paths use forward slashes and are relative to the provider's root; the root
// itself is "".
//
// A directory that does not exist yields an empty listing, not an error.
type PathProvider interface {
	ReadDir(ctx context.Context, dir string) ([]PathEntry, error)
}

// FSProvider is a PathProvider over an fs.FS, typically os.DirFS(".") or an
// fstest.MapFS in tests.
type FSProvider struct {
	fsys fs.FS
}

// NewFSProvider returns a PathProvider reading from fsys.
func NewFSProvider(fsys fs.FS) *FSProvider {
	return &FSProvider{fsys: fsys}
}

// ReadDir implements the PathProvider interface.
func (p *FSProvider) ReadDir(_ context.Context, dir string) ([]PathEntry, error) {
	dir = cleanPath(dir)
	if dir == "" {
		dir = "."
	}
	entries, err := fs.ReadDir(p.fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]PathEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, PathEntry{Name: e.Name(), Dir: e.IsDir()})
	}
	return out, nil
}

// listing indexes a directory for segment lookups.
type listing struct {
	dirs   map[string]bool
	files  map[string]string // stem -> file name
	names  map[string]bool   // full file names
	params []PathEntry
}

func newListing(entries []PathEntry) listing {
	l := listing{
		dirs:  make(map[string]bool),
		files: make(map[string]string),
		names: make(map[string]bool),
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name, ".") {
			continue
		}
		if isParamName(e.Name) {
			l.params = append(l.params, e)
		}
		if e.Dir {
			l.dirs[e.Name] = true
			continue
		}
		l.files[stem(e.Name)] = e.Name
		l.names[e.Name] = true
	}
	return l
}

// param returns the single path-parameter entry of the directory.
func (l listing) param() (PathEntry, bool, error) {
	switch len(l.params) {
	case 0:
		return PathEntry{}, false, nil
	case 1:
		return l.params[0], true, nil
	default:
		return PathEntry{}, false, errMultiplePathParameters()
	}
}

// isParamName reports whether an entry name is a path-parameter marker such
// as "{id}" or "{id}.go".
func isParamName(name string) bool {
	return strings.HasPrefix(name, "{") && strings.Contains(name, "}")
}

// paramKey extracts "id" from "{id}" or "{id}.go".
func paramKey(name string) string {
	name = strings.TrimPrefix(name, "{")
	if i := strings.Index(name, "}"); i >= 0 {
		name = name[:i]
	}
	return name
}

func stem(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}

func joinPath(elem ...string) string {
	return cleanPath(path.Join(elem...))
}
