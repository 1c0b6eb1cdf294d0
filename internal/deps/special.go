package deps

import "strings"

// windowsDlls are operating-system libraries that ship with Windows.
var windowsDlls = map[string]bool{
	"activeds.dll": true,
	"advapi32.dll": true,
	"bcrypt.dll":   true,
	"cfgmgr32.dll": true,
	"comctl32.dll": true,
	"comdlg32.dll": true,
	"crypt32.dll":  true,
	"dbghelp.dll":  true,
	"dwmapi.dll":   true,
	"gdi32.dll":    true,
	"gdiplus.dll":  true,
	"imagehlp.dll": true,
	"imm32.dll":    true,
	"iphlpapi.dll": true,
	"kernel32.dll": true,
	"mpr.dll":      true,
	"msi.dll":      true,
	"msimg32.dll":  true,
	"msvcrt.dll":   true,
	"mswsock.dll":  true,
	"netapi32.dll": true,
	"ntdll.dll":    true,
	"odbc32.dll":   true,
	"odbccp32.dll": true,
	"ole32.dll":    true,
	"oleaut32.dll": true,
	"powrprof.dll": true,
	"psapi.dll":    true,
	"query.dll":    true,
	"rpcrt4.dll":   true,
	"secur32.dll":  true,
	"setupapi.dll": true,
	"shell32.dll":  true,
	"shlwapi.dll":  true,
	"snmpapi.dll":  true,
	"user32.dll":   true,
	"userenv.dll":  true,
	"uuid.dll":     true,
	"uxtheme.dll":  true,
	"version.dll":  true,
	"wininet.dll":  true,
	"winmm.dll":    true,
	"winspool.drv": true,
	"winspool.dll": true,
	"wintrust.dll": true,
	"ws2_32.dll":   true,
	"wsock32.dll":  true,
}

// apiSetPrefixes match API-set contract names, which the loader redirects
// to system libraries.
var apiSetPrefixes = []string{"api-ms-win-", "ext-ms-"}

// msvcrtDlls are the Visual C++ 2005 runtime libraries.
var msvcrtDlls = map[string]bool{
	"msvcm80.dll":  true,
	"msvcm80d.dll": true,
	"msvcp80.dll":  true,
	"msvcp80d.dll": true,
	"msvcr80.dll":  true,
	"msvcr80d.dll": true,
}

// IsWindowsDll reports whether the base name of path is a Windows system
// library. The comparison is case-insensitive.
func IsWindowsDll(path string) bool {
	name := Key(baseName(path))
	if windowsDlls[name] {
		return true
	}
	for _, prefix := range apiSetPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// IsMsvcrtDll reports whether the base name of path is a C runtime library.
func IsMsvcrtDll(path string) bool {
	return msvcrtDlls[Key(baseName(path))]
}

// baseName strips directories using either separator, so Windows paths
// classify the same on every host.
func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
