package gateway

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
)

// PatternResolver resolves routes against a handler pattern such as
// "handlers/**/*.controller.go". The part before "**" is the root of the
// handler tree; "*" in the file name stands for the last route segment.
//
// Two layouts are recognized for a route "users/list":
//
//	handlers/users/list.controller.go       flat
//	handlers/users/list/list.controller.go  nested
//
// Path parameters use "{name}" in place of a segment, as directories for
// intermediate segments and in the file name (or nested directory) for the
// last one. The module path handed to the ModuleLoader is the route template
// as found on disk: "users/list" for the flat layout, "users/list/list" for
// the nested one.
type PatternResolver struct {
	root     string
	prefix   string
	suffix   string
	provider PathProvider
	loader   ModuleLoader
}

// NewPatternResolver parses pattern and returns a resolver over provider.
func NewPatternResolver(pattern string, provider PathProvider, loader ModuleLoader) (*PatternResolver, error) {
	pattern = cleanPath(pattern)
	i := strings.Index(pattern, "**")
	if i < 0 {
		return nil, ConfigError("handlerPattern must contain a ** directory wildcard")
	}
	file := strings.Replace(path.Base(pattern[i:]), "**", "*", 1)
	if strings.Count(file, "*") != 1 || file == "*" {
		return nil, ConfigError("handlerPattern file name must contain exactly one * placeholder")
	}
	prefix, suffix, _ := strings.Cut(file, "*")
	return &PatternResolver{
		root:     cleanPath(pattern[:i]),
		prefix:   prefix,
		suffix:   suffix,
		provider: provider,
		loader:   loader,
	}, nil
}

func (p *PatternResolver) fileFor(seg string) string {
	return p.prefix + seg + p.suffix
}

// segmentOf returns the segment a file name stands for.
func (p *PatternResolver) segmentOf(name string) (string, bool) {
	if len(name) <= len(p.prefix)+len(p.suffix) {
		return "", false
	}
	if !strings.HasPrefix(name, p.prefix) || !strings.HasSuffix(name, p.suffix) {
		return "", false
	}
	return name[len(p.prefix) : len(name)-len(p.suffix)], true
}

// Resolve implements the Resolver interface.
func (p *PatternResolver) Resolve(ctx context.Context, req *Request) (Resolution, error) {
	segs := req.Segments()
	if len(segs) == 0 {
		return Resolution{}, nil
	}

	dir := p.root
	var rel []string
	params := map[string]string{}

	for _, seg := range segs[:len(segs)-1] {
		l, err := p.list(ctx, dir)
		if err != nil {
			return Resolution{}, err
		}
		if l.dirs[seg] {
			dir = joinPath(dir, seg)
			rel = append(rel, seg)
			continue
		}
		e, ok, err := l.param()
		if err != nil {
			return Resolution{}, err
		}
		if !ok || !e.Dir {
			return Resolution{}, nil
		}
		params[paramKey(e.Name)] = seg
		dir = joinPath(dir, e.Name)
		rel = append(rel, e.Name)
	}

	last := segs[len(segs)-1]
	name, ok, err := p.terminal(ctx, dir, last)
	if err != nil {
		return Resolution{}, err
	}
	if ok {
		return p.load(ctx, joinPath(append(rel, name)...), params)
	}

	l, err := p.list(ctx, dir)
	if err != nil {
		return Resolution{}, err
	}
	e, ok, err := l.param()
	if err != nil || !ok {
		return Resolution{}, err
	}
	var key string
	if e.Dir {
		key = e.Name
	} else if key, ok = p.segmentOf(e.Name); !ok {
		return Resolution{}, nil
	}
	name, ok, err = p.terminal(ctx, dir, key)
	if err != nil || !ok {
		return Resolution{}, err
	}
	params[paramKey(key)] = last
	return p.load(ctx, joinPath(append(rel, name)...), params)
}

// terminal looks for the handler file of seg in dir. It returns the module
// path relative to dir: "seg" for the flat layout, "seg/seg" for the nested
// one.
func (p *PatternResolver) terminal(ctx context.Context, dir, seg string) (string, bool, error) {
	l, err := p.list(ctx, dir)
	if err != nil {
		return "", false, err
	}
	flat := l.names[p.fileFor(seg)]

	nested := false
	if l.dirs[seg] {
		sub, err := p.list(ctx, joinPath(dir, seg))
		if err != nil {
			return "", false, err
		}
		nested = sub.names[p.fileFor(seg)]
	}

	switch {
	case flat && nested:
		return "", false, errFileDirectoryConflict()
	case flat:
		return seg, true, nil
	case nested:
		return joinPath(seg, seg), true, nil
	default:
		return "", false, nil
	}
}

func (p *PatternResolver) list(ctx context.Context, dir string) (listing, error) {
	entries, err := p.provider.ReadDir(ctx, dir)
	if err != nil {
		return listing{}, fmt.Errorf("read handler directory %q: %w", dir, err)
	}
	return newListing(entries), nil
}

func (p *PatternResolver) load(ctx context.Context, modulePath string, params map[string]string) (Resolution, error) {
	m, err := load(ctx, p.loader, modulePath)
	if err != nil {
		return Resolution{}, err
	}
	return found(m, params, modulePath), nil
}

// Routes lists every route template the tree serves, in sorted order.
func (p *PatternResolver) Routes(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var walk func(dir string, rel []string) error
	walk = func(dir string, rel []string) error {
		l, err := p.list(ctx, dir)
		if err != nil {
			return err
		}
		for name := range l.names {
			seg, ok := p.segmentOf(name)
			if !ok {
				continue
			}
			// a nested handler lives in a directory named after its segment
			if n := len(rel); n > 0 && rel[n-1] == seg {
				seen[joinPath(rel...)] = true
				continue
			}
			seen[joinPath(append(rel, seg)...)] = true
		}
		for name := range l.dirs {
			if err := walk(joinPath(dir, name), append(rel, name)); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(p.root, nil); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Strings(out)
	return out, nil
}
