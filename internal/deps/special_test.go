package deps

import "testing"

func TestSpecialDlls(t *testing.T) {
	tests := []struct {
		path    string
		windows bool
		msvcrt  bool
	}{
		{"kernel32.dll", true, false},
		{"KERNEL32.DLL", true, false},
		{`C:\Windows\System32\User32.dll`, true, false},
		{"/mnt/c/Windows/System32/ws2_32.dll", true, false},
		{"api-ms-win-crt-runtime-l1-1-0.dll", true, false},
		{"ext-ms-win-ntuser-window-l1-1-0.dll", true, false},
		{"winspool.drv", true, false},
		{"msvcrt.dll", true, false},
		{"MSVCR80.dll", false, true},
		{`D:\app\msvcp80d.dll`, false, true},
		{"msvcr120.dll", false, false},
		{"widgets.dll", false, false},
		{`C:\kernel32.dll\widgets.dll`, false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := IsWindowsDll(tt.path); got != tt.windows {
				t.Errorf("IsWindowsDll(%q) = %v, want %v", tt.path, got, tt.windows)
			}
			if got := IsMsvcrtDll(tt.path); got != tt.msvcrt {
				t.Errorf("IsMsvcrtDll(%q) = %v, want %v", tt.path, got, tt.msvcrt)
			}
		})
	}
}

func TestDllFlagsString(t *testing.T) {
	tests := []struct {
		flags DllFlags
		want  string
	}{
		{0, "None"},
		{IsDelayed, "IsDelayed"},
		{IsWindows | HasError, "IsWindows, HasError"},
		{IsDelayed | IsWindows | IsMsvcrt | HasError, "IsDelayed, IsWindows, IsMsvcrt, HasError"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.flags.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
