// Package cli renders pedeps reports for the terminal and for files.
package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// printer writes to w, coloured unless plain is set.
type printer struct {
	w     io.Writer
	plain bool
}

func (p *printer) color(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if p.plain {
		c.DisableColor()
	}
	return c
}

func (p *printer) section(format string, args ...any) {
	p.color(color.FgYellow, color.Bold).Fprintf(p.w, "\n"+format+"\n", args...)
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) gray(format string, args ...any) {
	p.color(color.FgHiBlack).Fprintf(p.w, format, args...)
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
