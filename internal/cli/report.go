package cli

import (
	"io"
	"strings"
	"time"

	"github.com/ZacharyZcR/PEDeps/internal/pe"
	"github.com/fatih/color"
)

// Reporter formats and prints an image summary.
type Reporter struct {
	printer
	info    *pe.Info
	verbose bool
}

// NewReporter creates a new reporter for the given image summary.
func NewReporter(w io.Writer, info *pe.Info) *Reporter {
	return &Reporter{printer: printer{w: w}, info: info}
}

// SetVerbose enables verbose mode (show all functions).
func (r *Reporter) SetVerbose(verbose bool) {
	r.verbose = verbose
}

// SetPlain disables colour.
func (r *Reporter) SetPlain(plain bool) {
	r.plain = plain
}

// Print outputs the complete summary.
func (r *Reporter) Print() {
	r.printHeader()
	r.printBasicInfo()
	if r.info.Flags == 0 {
		r.gray("  不是PE文件\n")
		return
	}
	r.printSections()
	r.printImports()
	r.printExports()
	r.printResources()
	r.printSignature()
	r.printTLS()
	r.printRelocations()
}

func (r *Reporter) printHeader() {
	cyan := r.color(color.FgCyan, color.Bold)
	cyan.Fprintln(r.w, "\n╔════════════════════════════════════════╗")
	cyan.Fprintln(r.w, "║          PEDeps 映像摘要               ║")
	cyan.Fprintln(r.w, "╚════════════════════════════════════════╝")
}

func (r *Reporter) printBasicInfo() {
	r.section("【基本信息】")

	r.printf("  %-20s: %s\n", "文件路径", r.info.FilePath)
	r.printf("  %-20s: %s\n", "文件大小", formatSize(r.info.FileSize))
	if r.info.Flags == 0 {
		return
	}
	r.printf("  %-20s: %s\n", "类型", r.info.Flags)
	r.printf("  %-20s: %s\n", "架构", r.info.Architecture)
	r.printf("  %-20s: %s\n", "子系统", r.info.Subsystem)
	r.printf("  %-20s: 0x%X\n", "入口点", r.info.EntryPoint)
	r.printf("  %-20s: 0x%X\n", "镜像基址", r.info.ImageBase)
	if r.info.Runtime != "" {
		kind := "混合模式"
		if r.info.PureManaged {
			kind = "纯IL"
		}
		r.printf("  %-20s: %s (%s)\n", "CLR运行时", r.info.Runtime, kind)
	}

	if r.info.Checksum != nil {
		r.printf("  %-20s: ", "校验和")
		switch {
		case r.info.Checksum.Stored == 0:
			r.gray("未设置")
		case r.info.Checksum.Valid:
			r.color(color.FgGreen).Fprintf(r.w, "✓ 有效 (0x%08X)", r.info.Checksum.Stored)
		default:
			r.color(color.FgRed, color.Bold).Fprintf(r.w, "✗ 无效 (存储: 0x%08X, 计算: 0x%08X)",
				r.info.Checksum.Stored, r.info.Checksum.Computed)
		}
		r.printf("\n")
	}
}

func (r *Reporter) printSections() {
	sections := r.info.Sections
	r.section("【节区信息】(共 %d 个)", len(sections))
	if len(sections) == 0 {
		r.printf("  未发现节区\n")
		return
	}

	r.printf("%s\n", strings.Repeat("-", 100))
	r.printf("  %-10s %-12s %-15s %-15s %-8s %-8s %-20s\n",
		"名称", "虚拟地址", "虚拟大小", "原始大小", "权限", "熵", "特征")
	r.printf("%s\n", strings.Repeat("-", 100))

	for _, section := range sections {
		permColor := r.color(color.FgWhite)
		if section.Permissions == "RWX" {
			permColor = r.color(color.FgRed, color.Bold)
		} else if strings.Contains(section.Permissions, "X") {
			permColor = r.color(color.FgYellow)
		}

		r.printf("  %-10s 0x%08X   %-15s %-15s ",
			section.Name,
			section.VirtualAddress,
			formatSize(int64(section.VirtualSize)),
			formatSize(int64(section.Size)),
		)
		permColor.Fprintf(r.w, "%-8s", section.Permissions)
		r.printf(" %-8.2f 0x%08X\n", section.Entropy, section.Characteristics)
	}
	r.printf("%s\n", strings.Repeat("-", 100))
}

func (r *Reporter) printImports() {
	r.section("【导入表】(共 %d 个DLL)", len(r.info.Imports))
	if len(r.info.Imports) == 0 {
		r.printf("  未发现导入\n")
		return
	}

	for i, imp := range r.info.Imports {
		funcCount := len(imp.Functions)
		green := r.color(color.FgGreen)
		green.Fprintf(r.w, "  %3d. %s (%d 个函数)", i+1, imp.DLL, funcCount)
		if imp.Delayed {
			r.color(color.FgYellow).Fprint(r.w, " [延迟加载]")
		}
		r.printf("\n")

		maxDisplay := 10
		if r.verbose {
			maxDisplay = funcCount
		}
		displayCount := min(funcCount, maxDisplay)
		for j := 0; j < displayCount; j++ {
			r.printf("       - %s\n", imp.Functions[j])
		}
		if funcCount > maxDisplay {
			r.gray("       ... (还有 %d 个函数)\n", funcCount-maxDisplay)
		}
	}
}

func (r *Reporter) printExports() {
	r.section("【导出表】(共 %d 个函数)", len(r.info.Exports))
	if len(r.info.Exports) == 0 {
		r.printf("  未发现导出\n")
		return
	}

	maxDisplay := 20
	if r.verbose {
		maxDisplay = len(r.info.Exports)
	}
	displayCount := min(len(r.info.Exports), maxDisplay)
	green := r.color(color.FgGreen)
	for i := 0; i < displayCount; i++ {
		green.Fprintf(r.w, "  %3d. %s\n", i+1, r.info.Exports[i])
	}
	if len(r.info.Exports) > maxDisplay {
		r.gray("  ... (还有 %d 个函数)\n", len(r.info.Exports)-maxDisplay)
	}
}

func (r *Reporter) printResources() {
	r.section("【资源】(共 %d 类)", len(r.info.Resources))
	if len(r.info.Resources) == 0 {
		r.printf("  未发现资源\n")
		return
	}
	for _, res := range r.info.Resources {
		r.printf("  %-20s %d\n", res.Type, res.Count)
	}
}

func (r *Reporter) printSignature() {
	r.section("【数字签名】")
	sig := r.info.Signature
	if sig == nil || !sig.IsSigned {
		r.gray("  未签名\n")
		return
	}
	r.printf("  %-20s: 0x%X (%s)\n", "证书表", sig.Offset, formatSize(int64(sig.Size)))
	if sig.DigestAlgorithm != "" {
		r.printf("  %-20s: %s\n", "摘要算法", sig.DigestAlgorithm)
	}
	now := time.Now()
	for i, cert := range sig.Certificates {
		r.color(color.FgGreen).Fprintf(r.w, "  %3d. %s\n", i+1, cert.Subject)
		r.printf("       颁发者: %s\n", cert.Issuer)
		r.printf("       序列号: %s\n", cert.SerialNumber)
		r.printf("       有效期: %s - %s ", cert.NotBefore.Format(time.DateOnly), cert.NotAfter.Format(time.DateOnly))
		if cert.ValidAt(now) {
			r.color(color.FgGreen).Fprint(r.w, "✓")
		} else {
			r.color(color.FgRed).Fprint(r.w, "✗ 已过期或未生效")
		}
		r.printf("\n")
	}
}

func (r *Reporter) printTLS() {
	tls := r.info.TLS
	if tls == nil || !tls.HasTLS {
		return
	}
	r.section("【TLS】(共 %d 个回调)", len(tls.Callbacks))
	r.printf("  %-20s: 0x%X - 0x%X\n", "数据范围", tls.StartAddressOfRawData, tls.EndAddressOfRawData)
	r.printf("  %-20s: 0x%X\n", "索引地址", tls.AddressOfIndex)
	for i, cb := range tls.Callbacks {
		r.color(color.FgYellow).Fprintf(r.w, "  %3d. 0x%X\n", i+1, cb)
	}
}

func (r *Reporter) printRelocations() {
	relocs := r.info.Relocations
	if relocs == nil || !relocs.HasRelocations {
		return
	}
	r.section("【重定位】(共 %d 块, %d 项)", relocs.BlockCount, relocs.TotalEntries)
	for _, t := range relocs.Types() {
		r.printf("  %-20s %d\n", pe.RelocationTypeName(t), relocs.ByType[t])
	}
	r.printf("\n")
}
