package cli

import (
	"bytes"
	"testing"

	"github.com/ZacharyZcR/PEDeps/internal/clr"
	"github.com/ZacharyZcR/PEDeps/internal/pe"
	"github.com/ZacharyZcR/PEDeps/internal/pe/petest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analyze(t *testing.T, data []byte) *pe.Info {
	t.Helper()
	img, err := pe.NewImage(pe.NewBytesSource(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = img.Close() })
	info, err := pe.NewAnalyzer(img).Analyze()
	require.NoError(t, err)
	return info
}

func TestReporterPrint(t *testing.T) {
	b := petest.New().
		Import("KERNEL32.dll", "CreateFileW").
		DelayImport("dbghelp.dll", "MiniDumpWriteDump").
		Export("Start").
		TLS(0x1000).
		Relocation(0x1000, 0x3004)
	b.DLL = true
	info := analyze(t, b.Bytes())

	var buf bytes.Buffer
	r := NewReporter(&buf, info)
	r.SetPlain(true)
	r.Print()
	out := buf.String()

	for _, want := range []string{
		"PEDeps 映像摘要",
		"IsDll, Is32",
		"x86 (32位)",
		"【节区信息】(共 1 个)",
		".rdata",
		"【导入表】(共 2 个DLL)",
		"KERNEL32.dll (1 个函数)",
		"dbghelp.dll (1 个函数) [延迟加载]",
		"- MiniDumpWriteDump",
		"【导出表】(共 1 个函数)",
		"Start",
		"未签名",
		"【TLS】(共 1 个回调)",
		"0x401000",
		"【重定位】(共 1 块, 1 项)",
		"HIGHLOW",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "\x1b[")
}

func TestReporterNotPE(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, analyze(t, []byte("plain text")))
	r.SetPlain(true)
	r.Print()

	assert.Contains(t, buf.String(), "不是PE文件")
	assert.NotContains(t, buf.String(), "【节区信息】")
}

func TestReporterTruncatesFunctions(t *testing.T) {
	funcs := make([]string, 12)
	for i := range funcs {
		funcs[i] = string(rune('A'+i)) + "Func"
	}
	info := analyze(t, petest.New().Import("user32.dll", funcs...).Bytes())

	tests := []struct {
		name    string
		verbose bool
		want    string
		absent  string
	}{
		{"默认", false, "... (还有 2 个函数)", "LFunc"},
		{"详细", true, "LFunc", "还有"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			r := NewReporter(&buf, info)
			r.SetPlain(true)
			r.SetVerbose(tt.verbose)
			r.Print()
			assert.Contains(t, buf.String(), tt.want)
			assert.NotContains(t, buf.String(), tt.absent)
		})
	}
}

func TestDetailReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewDetailReporter(&buf)
	r.SetPlain(true)

	r.PrintVersionInfo("a.dll", &pe.VersionInfo{Lines: []string{
		"StringFileInfo for LangId: 040904b0",
		"CompanyName -> Acme",
		"VarFileInfo",
	}})
	r.PrintTypeRefs("a.dll", clr.TypeRefIndex{
		"mscorlib": {"": {"Module"}, "System": {"Object", "String"}},
	})
	r.PrintMemberRefs("a.dll", clr.MemberRefIndex{
		"mscorlib": {"System": {"Object": {".ctor -- 200001"}}},
	})
	r.PrintExport("a.dll", "Start", true)
	r.PrintExport("a.dll", "Stop", false)

	want := "\n【版本信息】a.dll\n" +
		"  StringFileInfo for LangId: 040904b0\n" +
		"    CompanyName -> Acme\n" +
		"  VarFileInfo\n" +
		"\n【类型引用】a.dll (共 1 个程序集)\n" +
		"  mscorlib\n" +
		"    <全局>\n" +
		"      Module\n" +
		"    System\n" +
		"      Object\n" +
		"      String\n" +
		"\n【成员引用】a.dll (共 1 个程序集)\n" +
		"  mscorlib\n" +
		"    System\n" +
		"      Object\n" +
		"        .ctor -- 200001\n" +
		"✓ a.dll 导出了 Start\n" +
		"✗ a.dll 未导出 Stop\n"
	assert.Equal(t, want, buf.String())
}

func TestDetailReporterNoVersion(t *testing.T) {
	var buf bytes.Buffer
	r := NewDetailReporter(&buf)
	r.SetPlain(true)
	r.PrintVersionInfo("a.dll", &pe.VersionInfo{})
	assert.Equal(t, "\n【版本信息】a.dll\n  未发现版本资源\n", buf.String())
}
