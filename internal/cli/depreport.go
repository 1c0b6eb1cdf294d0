package cli

import (
	"encoding/json"
	"io"
	"path/filepath"

	"github.com/ZacharyZcR/PEDeps/internal/config"
	"github.com/ZacharyZcR/PEDeps/internal/deps"
	"github.com/fatih/color"
	"github.com/pkg/errors"
)

// DependencyReporter prints the result of a dependency walk.
type DependencyReporter struct {
	printer
	graph *deps.Graph
}

// NewDependencyReporter creates a reporter writing to w.
func NewDependencyReporter(w io.Writer, graph *deps.Graph) *DependencyReporter {
	return &DependencyReporter{printer: printer{w: w}, graph: graph}
}

// SetPlain disables colour, e.g. when writing to a file.
func (r *DependencyReporter) SetPlain(plain bool) {
	r.plain = plain
}

// Print renders the graph in the given mode.
func (r *DependencyReporter) Print(mode config.Mode) error {
	switch mode {
	case config.ModeJSON:
		return r.printJSON()
	case config.ModeInternal:
		r.printInternal()
	case config.ModeVerbose:
		r.printTree()
		r.printLists()
	default:
		r.printLists()
	}
	return nil
}

// nonRoots returns the records that are not seed files, in name order.
func (r *DependencyReporter) nonRoots() []*deps.Dependency {
	roots := make(map[string]bool, len(r.graph.Roots))
	for _, k := range r.graph.Roots {
		roots[k] = true
	}
	var out []*deps.Dependency
	for _, d := range r.graph.Deps {
		if !roots[deps.Key(d.Name)] {
			out = append(out, d)
		}
	}
	return out
}

// failedRoots returns the seed files that could not be found or parsed.
func (r *DependencyReporter) failedRoots() []*deps.Dependency {
	var out []*deps.Dependency
	for _, k := range r.graph.Roots {
		if d, ok := r.graph.Lookup(k); ok && (!d.Found || d.Failed()) {
			out = append(out, d)
		}
	}
	return out
}

func (r *DependencyReporter) printLists() {
	missing := r.failedRoots()
	var found []*deps.Dependency
	for _, d := range r.nonRoots() {
		if d.Found {
			found = append(found, d)
		} else {
			missing = append(missing, d)
		}
	}

	r.section("【未找到】(共 %d 个)", len(missing))
	red := r.color(color.FgRed)
	for _, d := range missing {
		red.Fprintf(r.w, "  %s", d.Name)
		r.flags(d)
	}

	r.section("【依赖项】(共 %d 个)", len(found))
	for _, d := range found {
		c := r.color(color.FgGreen)
		switch {
		case d.Failed():
			c = r.color(color.FgRed, color.Bold)
		case d.Delayed():
			c = r.color(color.FgYellow)
		case d.Flags&(deps.IsWindows|deps.IsMsvcrt) != 0:
			c = r.color(color.FgHiBlack)
		}
		c.Fprintf(r.w, "  %s", d.Name)
		r.flags(d)
	}
	r.printf("\n")
}

func (r *DependencyReporter) flags(d *deps.Dependency) {
	if d.Flags != 0 {
		r.gray("  [%s]", d.Flags)
	}
	r.printf("\n")
}

func (r *DependencyReporter) printInternal() {
	for _, d := range r.nonRoots() {
		if !d.Found || d.Failed() || d.Flags&(deps.IsWindows|deps.IsMsvcrt) != 0 {
			continue
		}
		path, err := filepath.Abs(d.Name)
		if err != nil {
			path = d.Name
		}
		r.printf("%s\n", path)
	}
}

func (r *DependencyReporter) printTree() {
	r.section("【依赖树】")
	for _, root := range r.graph.Roots {
		d, _ := r.graph.Lookup(root)
		r.color(color.FgCyan, color.Bold).Fprintf(r.w, "%s\n", d.Name)
		expanded := map[string]bool{root: true}
		r.printChildren(root, "", map[string]bool{root: true}, expanded)
	}
}

// printChildren draws the children of key. ancestors guards against
// cycles; expanded prints each shared subtree only once.
func (r *DependencyReporter) printChildren(key, prefix string, ancestors, expanded map[string]bool) {
	children := r.graph.Edges[key]
	for i, child := range children {
		last := i == len(children)-1
		marker, next := "├── ", "│   "
		if last {
			marker, next = "└── ", "    "
		}

		d, _ := r.graph.Lookup(child)
		r.printf("%s%s", prefix, marker)
		name := d.Name
		if d.Found {
			name = filepath.Base(d.Name)
		}
		switch {
		case !d.Found:
			r.color(color.FgRed).Fprintf(r.w, "%s (未找到)\n", name)
			continue
		case ancestors[child]:
			r.color(color.FgMagenta).Fprintf(r.w, "%s (循环)\n", name)
			continue
		case expanded[child]:
			r.printf("%s", name)
			if len(r.graph.Edges[child]) > 0 {
				r.gray(" ...")
			}
			r.printf("\n")
			continue
		}
		r.printf("%s", name)
		if d.Flags != 0 {
			r.gray("  [%s]", d.Flags)
		}
		r.printf("\n")

		expanded[child] = true
		ancestors[child] = true
		r.printChildren(child, prefix+next, ancestors, expanded)
		delete(ancestors, child)
	}
}

type jsonReport struct {
	Roots        []string            `json:"roots"`
	Dependencies []*deps.Dependency  `json:"dependencies"`
	Edges        map[string][]string `json:"edges"`
}

func (r *DependencyReporter) printJSON() error {
	roots := make([]string, 0, len(r.graph.Roots))
	for _, k := range r.graph.Roots {
		d, _ := r.graph.Lookup(k)
		roots = append(roots, d.Name)
	}
	edges := make(map[string][]string, len(r.graph.Edges))
	for k, children := range r.graph.Edges {
		parent, _ := r.graph.Lookup(k)
		names := make([]string, 0, len(children))
		for _, c := range children {
			d, _ := r.graph.Lookup(c)
			names = append(names, d.Name)
		}
		edges[parent.Name] = names
	}

	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	err := enc.Encode(jsonReport{Roots: roots, Dependencies: r.graph.Deps, Edges: edges})
	return errors.Wrap(err, "写入JSON失败")
}
