package cli

import (
	"io"
	"strings"

	"github.com/ZacharyZcR/PEDeps/internal/clr"
	"github.com/ZacharyZcR/PEDeps/internal/pe"
	"github.com/fatih/color"
)

// DetailReporter prints the per-file detail queries: version resource,
// managed references and export lookups.
type DetailReporter struct {
	printer
}

// NewDetailReporter creates a reporter writing to w.
func NewDetailReporter(w io.Writer) *DetailReporter {
	return &DetailReporter{printer: printer{w: w}}
}

// SetPlain disables colour.
func (r *DetailReporter) SetPlain(plain bool) {
	r.plain = plain
}

// PrintVersionInfo prints the decoded version resource of file.
func (r *DetailReporter) PrintVersionInfo(file string, vi *pe.VersionInfo) {
	r.section("【版本信息】%s", file)
	if len(vi.Fixed) == 0 && len(vi.Lines) == 0 {
		r.printf("  未发现版本资源\n")
		return
	}
	for _, f := range vi.Fixed {
		r.printf("  %-20s: %s\n", "文件版本", f.FileVersion())
		r.printf("  %-20s: %s\n", "产品版本", f.ProductVersion())
	}
	header := r.color(color.FgGreen)
	for _, line := range vi.Lines {
		if line == "VarFileInfo" || strings.HasPrefix(line, "StringFileInfo ") {
			header.Fprintf(r.w, "  %s\n", line)
			continue
		}
		r.printf("    %s\n", line)
	}
}

// PrintTypeRefs prints type references grouped by assembly and namespace.
func (r *DetailReporter) PrintTypeRefs(file string, refs clr.TypeRefIndex) {
	r.section("【类型引用】%s (共 %d 个程序集)", file, len(refs))
	asm := r.color(color.FgGreen, color.Bold)
	for _, a := range refs.Assemblies() {
		asm.Fprintf(r.w, "  %s\n", a)
		namespaces := refs[a]
		for _, ns := range clr.SortedKeys(namespaces) {
			r.printf("    %s\n", displayNamespace(ns))
			for _, t := range namespaces[ns] {
				r.printf("      %s\n", t)
			}
		}
	}
}

// PrintMemberRefs prints member references grouped by assembly, namespace
// and type.
func (r *DetailReporter) PrintMemberRefs(file string, refs clr.MemberRefIndex) {
	r.section("【成员引用】%s (共 %d 个程序集)", file, len(refs))
	asm := r.color(color.FgGreen, color.Bold)
	for _, a := range refs.Assemblies() {
		asm.Fprintf(r.w, "  %s\n", a)
		namespaces := refs[a]
		for _, ns := range clr.SortedKeys(namespaces) {
			r.printf("    %s\n", displayNamespace(ns))
			types := namespaces[ns]
			for _, t := range clr.SortedKeys(types) {
				r.printf("      %s\n", t)
				for _, m := range types[t] {
					r.gray("        %s\n", m)
				}
			}
		}
	}
}

// PrintExport prints whether file exports symbol.
func (r *DetailReporter) PrintExport(file, symbol string, found bool) {
	if found {
		r.color(color.FgGreen).Fprintf(r.w, "✓ %s 导出了 %s\n", file, symbol)
		return
	}
	r.color(color.FgRed).Fprintf(r.w, "✗ %s 未导出 %s\n", file, symbol)
}

func displayNamespace(ns string) string {
	if ns == "" {
		return "<全局>"
	}
	return ns
}
