package deps

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ZacharyZcR/PEDeps/internal/clr"
	"github.com/ZacharyZcR/PEDeps/internal/pe/petest"
	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFS maps module names to paths and paths to their references.
type fakeFS struct {
	files map[string][]Edge
	bad   map[string]bool

	mu    sync.Mutex
	reads map[string]int
}

func newFakeFS() *fakeFS {
	return &fakeFS{
		files: make(map[string][]Edge),
		bad:   make(map[string]bool),
		reads: make(map[string]int),
	}
}

func (f *fakeFS) add(name string, edges ...Edge) {
	f.files["/bin/"+name] = edges
}

func (f *fakeFS) Find(name string) (string, bool) {
	path := "/bin/" + Key(name)
	_, ok := f.files[path]
	return path, ok
}

func (f *fakeFS) readEdges(path string) ([]Edge, error) {
	f.mu.Lock()
	f.reads[path]++
	f.mu.Unlock()
	if f.bad[path] {
		return nil, errors.New("损坏的映像")
	}
	edges, ok := f.files[path]
	if !ok {
		return nil, errors.Errorf("打开 %s 失败", path)
	}
	return edges, nil
}

func (f *fakeFS) readCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads["/bin/"+name]
}

func dll(name string) Edge     { return Edge{Name: name} }
func delayed(name string) Edge { return Edge{Name: name, Delayed: true} }

func resolve(t *testing.T, fs *fakeFS, opts Options, seeds ...string) *Graph {
	t.Helper()
	opts.ReadEdges = fs.readEdges
	if opts.Logger == nil {
		opts.Logger = &log.Logger{Handler: memory.New(), Level: log.DebugLevel}
	}
	g, err := NewResolver(fs, opts).Resolve(context.Background(), seeds)
	require.NoError(t, err)
	return g
}

func lookup(t *testing.T, g *Graph, name string) *Dependency {
	t.Helper()
	d, ok := g.Lookup(name)
	require.True(t, ok, "missing record %s", name)
	return d
}

func TestResolveCycle(t *testing.T) {
	fs := newFakeFS()
	fs.add("a.exe", dll("b.dll"))
	fs.add("b.dll", dll("A.EXE"))

	g := resolve(t, fs, Options{}, "a.exe")

	require.Len(t, g.Deps, 2)
	a := lookup(t, g, "/bin/a.exe")
	b := lookup(t, g, "/bin/b.dll")
	assert.Equal(t, 2, a.Refs)
	assert.Equal(t, 1, b.Refs)
	assert.Equal(t, DllFlags(0), a.Flags)
	assert.Equal(t, DllFlags(0), b.Flags)
	assert.Equal(t, 1, fs.readCount("a.exe"))
	assert.Equal(t, 1, fs.readCount("b.dll"))
	assert.Equal(t, []string{"/bin/a.exe"}, g.Roots)
	assert.Equal(t, []string{"/bin/b.dll"}, g.Edges["/bin/a.exe"])
	assert.Equal(t, []string{"/bin/a.exe"}, g.Edges["/bin/b.dll"])
}

func TestResolveDelayed(t *testing.T) {
	tests := []struct {
		name           string
		recurseDelayed bool
		helperReads    int
	}{
		{"not recursed", false, 0},
		{"recursed", true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFakeFS()
			fs.add("app.exe", dll("core.dll"), delayed("helper.dll"))
			fs.add("core.dll")
			fs.add("helper.dll", dll("extra.dll"))
			fs.add("extra.dll")

			g := resolve(t, fs, Options{RecurseDelayed: tt.recurseDelayed}, "app.exe")

			helper := lookup(t, g, "/bin/helper.dll")
			assert.Equal(t, 0, helper.Refs)
			assert.Equal(t, 1, helper.DelayedRefs)
			assert.Equal(t, IsDelayed, helper.Flags)
			assert.True(t, helper.Delayed())
			assert.Equal(t, tt.helperReads, fs.readCount("helper.dll"))

			_, hasExtra := g.Lookup("/bin/extra.dll")
			assert.Equal(t, tt.recurseDelayed, hasExtra)

			core := lookup(t, g, "/bin/core.dll")
			assert.Equal(t, 1, core.Refs)
			assert.False(t, core.Delayed())
		})
	}
}

func TestResolveDelayedThenRequired(t *testing.T) {
	fs := newFakeFS()
	fs.add("app.exe", delayed("shared.dll"), dll("core.dll"))
	fs.add("core.dll", dll("shared.dll"))
	fs.add("shared.dll", dll("leaf.dll"))
	fs.add("leaf.dll")

	g := resolve(t, fs, Options{}, "app.exe")

	shared := lookup(t, g, "/bin/shared.dll")
	assert.Equal(t, 1, shared.Refs)
	assert.Equal(t, 1, shared.DelayedRefs)
	assert.False(t, shared.Delayed())
	assert.Equal(t, 1, fs.readCount("shared.dll"))
	lookup(t, g, "/bin/leaf.dll")
}

func TestResolveNotFound(t *testing.T) {
	fs := newFakeFS()
	fs.add("app.exe", dll("missing.dll"), dll("core.dll"), dll("KERNEL32.dll"))
	fs.add("core.dll", dll("MISSING.DLL"))

	g := resolve(t, fs, Options{}, "app.exe")

	missing := lookup(t, g, "missing.dll")
	assert.Equal(t, "missing.dll", missing.Name)
	assert.False(t, missing.Found)
	assert.Equal(t, HasError, missing.Flags)
	assert.Equal(t, 1, missing.Refs)

	kernel := lookup(t, g, "kernel32.dll")
	assert.Equal(t, HasError|IsWindows, kernel.Flags)

	assert.Equal(t, 0, fs.readCount("missing.dll"))
	assert.Equal(t, []string{"missing.dll"}, g.Edges["/bin/core.dll"])
}

func TestResolveParseError(t *testing.T) {
	fs := newFakeFS()
	fs.add("app.exe", dll("broken.dll"), dll("msvcr80.dll"))
	fs.add("broken.dll", dll("never.dll"))
	fs.add("msvcr80.dll")
	fs.bad["/bin/broken.dll"] = true

	handler := memory.New()
	g := resolve(t, fs, Options{Logger: &log.Logger{Handler: handler, Level: log.InfoLevel}}, "app.exe")

	broken := lookup(t, g, "/bin/broken.dll")
	assert.True(t, broken.Found)
	assert.True(t, broken.Failed())
	_, ok := g.Lookup("never.dll")
	assert.False(t, ok)

	crt := lookup(t, g, "/bin/msvcr80.dll")
	assert.Equal(t, IsMsvcrt, crt.Flags)

	require.Len(t, handler.Entries, 1)
	assert.Equal(t, log.WarnLevel, handler.Entries[0].Level)
	assert.Equal(t, "/bin/broken.dll", handler.Entries[0].Fields["file"])
}

func TestResolveMissingSeed(t *testing.T) {
	fs := newFakeFS()
	fs.add("app.exe")

	g := resolve(t, fs, Options{}, "app.exe", "ghost.exe", "APP.EXE")

	require.Len(t, g.Deps, 2)
	ghost := lookup(t, g, "ghost.exe")
	assert.False(t, ghost.Found)
	assert.True(t, ghost.Failed())
	assert.Equal(t, 2, lookup(t, g, "/bin/app.exe").Refs)
	assert.Equal(t, []string{"/bin/app.exe", "ghost.exe"}, g.Roots)
}

func TestResolveDeterministic(t *testing.T) {
	build := func() *fakeFS {
		fs := newFakeFS()
		fs.add("app.exe", dll("a.dll"), dll("b.dll"), dll("c.dll"), delayed("d.dll"))
		fs.add("a.dll", dll("shared.dll"), dll("missing.dll"))
		fs.add("b.dll", dll("shared.dll"), delayed("c.dll"))
		fs.add("c.dll", dll("d.dll"))
		fs.add("d.dll", dll("shared.dll"))
		fs.add("shared.dll", dll("app.exe"))
		return fs
	}

	var graphs []*Graph
	for _, workers := range []int{1, 2, 8} {
		graphs = append(graphs, resolve(t, build(), Options{Workers: workers, RecurseDelayed: true}, "app.exe"))
	}
	for _, g := range graphs[1:] {
		assert.Equal(t, graphs[0].Deps, g.Deps)
		assert.Equal(t, graphs[0].Edges, g.Edges)
	}

	var names []string
	for _, d := range graphs[0].Deps {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{
		"/bin/a.dll", "/bin/app.exe", "/bin/b.dll", "/bin/c.dll",
		"/bin/d.dll", "/bin/shared.dll", "missing.dll",
	}, names)

	shared := lookup(t, graphs[0], "/bin/shared.dll")
	assert.Equal(t, 3, shared.Refs)
	c := lookup(t, graphs[0], "/bin/c.dll")
	assert.Equal(t, 1, c.Refs)
	assert.Equal(t, 1, c.DelayedRefs)
}

func TestResolveCanceled(t *testing.T) {
	fs := newFakeFS()
	fs.add("app.exe")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewResolver(fs, Options{ReadEdges: fs.readEdges}).Resolve(ctx, []string{"app.exe"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadAllImages(t *testing.T) {
	dir := t.TempDir()
	libs := t.TempDir()

	petest.New().
		Import("KERNEL32.dll", "ExitProcess").
		Import("widget.dll", "CreateWidget").
		DelayImport("helper.dll", "Help").
		Write(t, dir, "app.exe")

	widget := petest.New()
	widget.DLL = true
	widget.Import("MSVCR80.dll", "malloc").Export("CreateWidget").Write(t, libs, "widget.dll")

	crt := petest.New()
	crt.DLL = true
	crt.Write(t, libs, "msvcr80.dll")

	helper := petest.New()
	helper.DLL = true
	helper.Import("never.dll").Write(t, libs, "helper.dll")

	g, err := ReadAll(context.Background(), []string{dir, libs}, []string{filepath.Join(dir, "app.exe")}, false)
	require.NoError(t, err)

	app := lookup(t, g, filepath.Join(dir, "app.exe"))
	assert.Equal(t, DllFlags(0), app.Flags)

	kernel := lookup(t, g, "KERNEL32.dll")
	assert.Equal(t, HasError|IsWindows, kernel.Flags)

	w := lookup(t, g, filepath.Join(libs, "widget.dll"))
	assert.Equal(t, 1, w.Refs)
	assert.True(t, w.Found)

	msvcr := lookup(t, g, filepath.Join(libs, "msvcr80.dll"))
	assert.Equal(t, IsMsvcrt, msvcr.Flags)

	h := lookup(t, g, filepath.Join(libs, "helper.dll"))
	assert.Equal(t, IsDelayed, h.Flags)
	_, ok := g.Lookup("never.dll")
	assert.False(t, ok)
}

func TestReadEdgesManaged(t *testing.T) {
	dir := t.TempDir()

	m := petest.NewMetadata()
	m.Row(int(clr.AssemblyRef), uint16(4), uint16(0), uint16(0), uint16(0), uint32(0),
		uint16(0), uint16(m.String("Widgets.Core")), uint16(0), uint16(0))
	m.Row(int(clr.ModuleRef), uint16(m.String("native")))
	app := petest.New().Managed(m.Bytes(), true).Write(t, dir, "app.exe")

	core := petest.New()
	core.DLL = true
	core.Write(t, dir, "Widgets.Core.dll")

	edges, err := ReadEdges(app)
	require.NoError(t, err)
	assert.Equal(t, []Edge{{Name: "Widgets.Core"}, {Name: "native"}}, edges)

	g, err := ReadAll(context.Background(), []string{dir}, []string{app}, false)
	require.NoError(t, err)
	d := lookup(t, g, filepath.Join(dir, "Widgets.Core.dll"))
	assert.True(t, d.Found)
	assert.Equal(t, 1, d.Refs)
	n := lookup(t, g, "native")
	assert.True(t, n.Failed())
}

func TestReadEdgesMixedMode(t *testing.T) {
	dir := t.TempDir()
	path := petest.New().
		Import("mscoree.dll", "_CorExeMain").
		Managed(petest.NewMetadata().Bytes(), false).
		Write(t, dir, "mixed.exe")

	edges, err := ReadEdges(path)
	require.NoError(t, err)
	assert.Equal(t, []Edge{{Name: "mscoree.dll"}}, edges)
}

func TestReadEdgesNotPE(t *testing.T) {
	dir := t.TempDir()
	path := touch(t, dir, "readme.dll")

	edges, err := ReadEdges(path)
	require.NoError(t, err)
	assert.Empty(t, edges)

	_, err = ReadEdges(filepath.Join(dir, "missing.dll"))
	assert.Error(t, err)
}
