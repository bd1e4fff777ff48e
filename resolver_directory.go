package gateway

import (
	"context"
	"fmt"
	"sort"
)

// DirectoryResolver resolves routes by walking a handler tree one route
// segment at a time.
//
// Intermediate segments match a directory of the same name, falling back to a
// single "{name}" directory that captures the segment. The last segment
// matches a file whose name without extension equals the segment, falling back
// to a single "{name}" file. The matched file is imported through the
// ModuleLoader using its path relative to the root without the extension:
//
//	handlers/
//	    health.go         -> "health"
//	    users/
//	        search.go     -> "users/search"
//	        {id}.go       -> "users/{id}"
//	    orgs/
//	        {org}/
//	            teams.go  -> "orgs/{org}/teams"
//
// A file and a directory sharing a name, or two "{name}" entries in one
// directory, are config errors.
type DirectoryResolver struct {
	root     string
	provider PathProvider
	loader   ModuleLoader
}

// NewDirectoryResolver returns a resolver for the tree rooted at root. Leading
// and trailing slashes on root are ignored.
func NewDirectoryResolver(root string, provider PathProvider, loader ModuleLoader) *DirectoryResolver {
	return &DirectoryResolver{root: cleanPath(root), provider: provider, loader: loader}
}

// Resolve implements the Resolver interface.
func (d *DirectoryResolver) Resolve(ctx context.Context, req *Request) (Resolution, error) {
	segs := req.Segments()
	if len(segs) == 0 {
		return Resolution{}, nil
	}

	var (
		dir    = d.root
		rel    []string
		params = map[string]string{}
	)

	for i, seg := range segs {
		entries, err := d.provider.ReadDir(ctx, dir)
		if err != nil {
			return Resolution{}, fmt.Errorf("read handler directory %q: %w", dir, err)
		}
		l := newListing(entries)

		_, hasFile := l.files[seg]
		hasDir := l.dirs[seg]
		if hasFile && hasDir {
			return Resolution{}, errFileDirectoryConflict()
		}

		last := i == len(segs)-1
		if !last && hasDir {
			dir = joinPath(dir, seg)
			rel = append(rel, seg)
			continue
		}
		if last && hasFile {
			return d.load(ctx, joinPath(append(rel, seg)...), params)
		}

		p, ok, err := l.param()
		if err != nil {
			return Resolution{}, err
		}
		if !ok || p.Dir == last {
			return Resolution{}, nil
		}
		params[paramKey(p.Name)] = seg
		if !last {
			dir = joinPath(dir, p.Name)
			rel = append(rel, p.Name)
			continue
		}
		return d.load(ctx, joinPath(append(rel, stem(p.Name))...), params)
	}
	return Resolution{}, nil
}

func (d *DirectoryResolver) load(ctx context.Context, modulePath string, params map[string]string) (Resolution, error) {
	m, err := load(ctx, d.loader, modulePath)
	if err != nil {
		return Resolution{}, err
	}
	return found(m, params, modulePath), nil
}

// Routes lists every route template the tree serves, in sorted order. Each
// template is also the module path handed to the ModuleLoader.
func (d *DirectoryResolver) Routes(ctx context.Context) ([]string, error) {
	var out []string
	var walk func(dir string, rel []string) error
	walk = func(dir string, rel []string) error {
		entries, err := d.provider.ReadDir(ctx, dir)
		if err != nil {
			return fmt.Errorf("read handler directory %q: %w", dir, err)
		}
		l := newListing(entries)
		if _, _, err := l.param(); err != nil {
			return err
		}
		for name := range l.dirs {
			if _, ok := l.files[name]; ok {
				return errFileDirectoryConflict()
			}
			if err := walk(joinPath(dir, name), append(rel, name)); err != nil {
				return err
			}
		}
		for s := range l.files {
			out = append(out, joinPath(append(rel, s)...))
		}
		return nil
	}
	if err := walk(d.root, nil); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
