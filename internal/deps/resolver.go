package deps

import (
	"context"
	"runtime"
	"sort"

	"github.com/ZacharyZcR/PEDeps/internal/clr"
	"github.com/ZacharyZcR/PEDeps/internal/pe"
	"github.com/apex/log"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// EdgeReader extracts the outgoing references of the file at path.
type EdgeReader func(path string) ([]Edge, error)

// Options configures a Resolver.
type Options struct {
	// RecurseDelayed walks into dependencies reached only through
	// delay-load imports.
	RecurseDelayed bool
	// Workers bounds how many files of one level are parsed at once.
	Workers int
	// Logger receives per-file progress. Defaults to the global logger.
	Logger log.Interface
	// ReadEdges replaces ReadEdges, mainly for tests.
	ReadEdges EdgeReader
}

// Resolver computes the transitive dependency set of seed files.
type Resolver struct {
	locator Locator
	opts    Options
}

// NewResolver returns a resolver that finds references with locator.
func NewResolver(locator Locator, opts Options) *Resolver {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = log.Log
	}
	if opts.ReadEdges == nil {
		opts.ReadEdges = ReadEdges
	}
	return &Resolver{locator: locator, opts: opts}
}

// Graph is the result of a resolution run.
type Graph struct {
	// Deps holds every record sorted by name.
	Deps []*Dependency
	// Roots are the keys of the seed files in the order given.
	Roots []string
	// Edges maps a record key to the keys it references, in reference order.
	Edges map[string][]string

	byKey map[string]*Dependency
}

// Lookup returns the record for name, matching case-insensitively.
func (g *Graph) Lookup(name string) (*Dependency, bool) {
	d, ok := g.byKey[Key(name)]
	return d, ok
}

// Children returns the records referenced by the record with key.
func (g *Graph) Children(key string) []*Dependency {
	var out []*Dependency
	for _, k := range g.Edges[key] {
		out = append(out, g.byKey[k])
	}
	return out
}

// record is a dependency under construction.
type record struct {
	dep    *Dependency
	queued bool
}

// resolvedEdge is an edge after lookup; path is empty when not found.
type resolvedEdge struct {
	Edge
	path string
}

type parseResult struct {
	edges []resolvedEdge
	err   error
}

// walk holds the mutable state of one Resolve call.
type walk struct {
	opts    Options
	records map[string]*record
	edges   map[string][]string
	pending []string
}

// ReadAll resolves files against lookupPaths with a default locator.
func ReadAll(ctx context.Context, lookupPaths, files []string, recurseDelayed bool) (*Graph, error) {
	locator, err := NewFileLocator(lookupPaths, DefaultCacheSize)
	if err != nil {
		return nil, err
	}
	return NewResolver(locator, Options{RecurseDelayed: recurseDelayed}).Resolve(ctx, files)
}

// Resolve walks the dependency graph level by level starting from seeds.
// Files that cannot be found, opened or parsed are recorded with HasError
// and never abort the walk; the only error returned is from ctx.
func (r *Resolver) Resolve(ctx context.Context, seeds []string) (*Graph, error) {
	w := &walk{
		opts:    r.opts,
		records: make(map[string]*record),
		edges:   make(map[string][]string),
	}

	var roots []string
	for _, seed := range seeds {
		path, ok := r.locator.Find(seed)
		if !ok {
			path = seed
		}
		key := Key(path)
		if rec, exists := w.records[key]; exists {
			rec.dep.Refs++
			continue
		}
		w.records[key] = &record{dep: &Dependency{Name: path, Refs: 1, Found: ok}, queued: true}
		w.pending = append(w.pending, key)
		roots = append(roots, key)
	}

	for level := 0; len(w.pending) > 0; level++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch := w.pending
		w.pending = nil

		results, err := r.parseLevel(ctx, w, batch)
		if err != nil {
			return nil, err
		}
		for i, key := range batch {
			w.apply(key, results[i])
		}
		r.opts.Logger.WithFields(log.Fields{
			"level": level,
			"files": len(batch),
			"next":  len(w.pending),
		}).Debug("依赖层级完成")
	}

	return w.finish(roots), nil
}

// parseLevel reads and resolves the edges of every file in batch
// concurrently. Results are indexed like batch so they can be applied in a
// fixed order.
func (r *Resolver) parseLevel(ctx context.Context, w *walk, batch []string) ([]parseResult, error) {
	paths := make([]string, len(batch))
	for i, key := range batch {
		paths[i] = w.records[key].dep.Name
	}

	results := make([]parseResult, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = r.parseFile(path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Resolver) parseFile(path string) parseResult {
	logger := r.opts.Logger.WithField("file", path)
	edges, err := r.opts.ReadEdges(path)
	if err != nil {
		logger.WithError(err).Warn("解析失败")
		return parseResult{err: err}
	}

	resolved := make([]resolvedEdge, len(edges))
	delayed := 0
	for i, e := range edges {
		resolved[i].Edge = e
		if p, ok := r.locator.Find(e.Name); ok {
			resolved[i].path = p
		}
		if e.Delayed {
			delayed++
		}
	}
	logger.WithFields(log.Fields{"edges": len(edges), "delayed": delayed}).Debug("已解析")
	return parseResult{edges: resolved}
}

// apply merges the edges of the file with key into the walk state.
func (w *walk) apply(key string, res parseResult) {
	parent := w.records[key]
	if res.err != nil {
		parent.dep.Flags |= HasError
		return
	}

	for _, e := range res.edges {
		if e.path == "" {
			k := Key(e.Name)
			if _, ok := w.records[k]; !ok {
				dep := &Dependency{Name: e.Name, Flags: HasError}
				count(dep, e.Delayed)
				w.records[k] = &record{dep: dep}
			}
			w.edges[key] = append(w.edges[key], k)
			continue
		}

		k := Key(e.path)
		rec, ok := w.records[k]
		if ok {
			count(rec.dep, e.Delayed)
		} else {
			rec = &record{dep: &Dependency{Name: e.path, Found: true}}
			count(rec.dep, e.Delayed)
			w.records[k] = rec
		}
		// A record first reached by a delay-load is walked as soon as
		// anything requires it at load time; a plain counter bump would
		// leave it unwalked.
		if !rec.queued && (!e.Delayed || w.opts.RecurseDelayed) {
			rec.queued = true
			w.pending = append(w.pending, k)
		}
		w.edges[key] = append(w.edges[key], k)
	}
}

func count(dep *Dependency, delayed bool) {
	if delayed {
		dep.DelayedRefs++
	} else {
		dep.Refs++
	}
}

// finish computes the final flags and freezes the records.
func (w *walk) finish(roots []string) *Graph {
	g := &Graph{
		Roots: roots,
		Edges: w.edges,
		byKey: make(map[string]*Dependency, len(w.records)),
	}
	for k, rec := range w.records {
		d := rec.dep
		if IsWindowsDll(d.Name) {
			d.Flags |= IsWindows
		}
		if IsMsvcrtDll(d.Name) {
			d.Flags |= IsMsvcrt
		}
		if d.DelayedRefs > 0 && d.Refs == 0 {
			d.Flags |= IsDelayed
		}
		g.byKey[k] = d
		g.Deps = append(g.Deps, d)
	}
	sort.Slice(g.Deps, func(i, j int) bool {
		return Key(g.Deps[i].Name) < Key(g.Deps[j].Name)
	})
	return g
}

// ReadEdges opens path and returns its references: assembly and module
// references for IL-only images, normal and delay-load imports otherwise.
// A file without PE signatures has no references.
func ReadEdges(path string) ([]Edge, error) {
	img, err := pe.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = img.Close() }()

	if !img.IsPE() {
		return nil, nil
	}

	if img.IsPureManaged() {
		md, err := clr.FromImage(img)
		if err != nil {
			return nil, errors.WithMessagef(err, "读取 %s 的元数据失败", path)
		}
		refs, err := md.AssemblyReferences()
		if err != nil {
			return nil, errors.WithMessagef(err, "读取 %s 的程序集引用失败", path)
		}
		edges := make([]Edge, len(refs))
		for i, ref := range refs {
			edges[i] = Edge{Name: ref.Name}
		}
		return edges, nil
	}

	imports, err := img.Imports()
	if err != nil {
		return nil, errors.WithMessagef(err, "读取 %s 的导入表失败", path)
	}
	edges := make([]Edge, len(imports))
	for i, imp := range imports {
		edges[i] = Edge{Name: imp.Name, Delayed: imp.Delayed}
	}
	return edges, nil
}
