package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPaths(t *testing.T) {
	sep := string(os.PathListSeparator)
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"空字符串", "", nil},
		{"分号", "a;b", []string{"a", "b"}},
		{"系统分隔符", "a" + sep + "b", []string{"a", "b"}},
		{"空白与空项", " a ;; b ;", []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitPaths(tt.in))
		})
	}
}

func TestLoadModes(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Mode
	}{
		{"默认", []string{"a.exe"}, ModeDefault},
		{"树状", []string{"-v", "a.exe"}, ModeVerbose},
		{"内部", []string{"-v", "-internal", "a.exe"}, ModeInternal},
		{"JSON优先", []string{"-v", "-internal", "-json", "a.exe"}, ModeJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.args, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Mode)
			assert.Equal(t, []string{"a.exe"}, cfg.Files)
		})
	}
}

func TestLoadNoFiles(t *testing.T) {
	_, err := Load([]string{"-v"}, nil)
	assert.EqualError(t, err, "必须指定至少一个文件")
}

func TestLoadBadFlag(t *testing.T) {
	_, err := Load([]string{"-nope", "a.exe"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "解析参数失败")
}

func TestLoadHelp(t *testing.T) {
	called := false
	_, err := Load([]string{"-h"}, func(*flag.FlagSet) { called = true })
	assert.ErrorIs(t, err, flag.ErrHelp)
	assert.True(t, called)
}

func TestLoadLookupPaths(t *testing.T) {
	envDir := t.TempDir()
	flagDir := t.TempDir()
	seedDir := t.TempDir()
	t.Setenv(EnvPaths, envDir)

	seed := filepath.Join(seedDir, "app.exe")
	cfg, err := Load([]string{"-paths", flagDir + ";" + envDir, seed}, nil)
	require.NoError(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, []string{flagDir, envDir, seedDir, wd}, cfg.LookupPaths)
}

func TestLoadEnvironment(t *testing.T) {
	// an earlier Load must not pin the environment it saw
	_, err := Load([]string{"a.exe"}, nil)
	require.NoError(t, err)

	t.Setenv(EnvWorkers, "3")
	t.Setenv(EnvRecurseDelayed, "true")
	t.Setenv(EnvCacheSize, "16")

	cfg, err := Load([]string{"a.exe"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Workers)
	assert.True(t, cfg.RecurseDelayed)
	assert.Equal(t, 16, cfg.CacheSize)

	// flags override the environment
	cfg, err = Load([]string{"-j", "0", "-delayed=false", "a.exe"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Workers)
	assert.False(t, cfg.RecurseDelayed)
}

func TestLoadDetailFlags(t *testing.T) {
	cfg, err := Load([]string{"-info", "-version-info", "-typerefs", "-memberrefs", "-export", "Foo", "-o", "out.txt", "a.dll"}, nil)
	require.NoError(t, err)
	assert.True(t, cfg.Info)
	assert.True(t, cfg.VersionInfo)
	assert.True(t, cfg.TypeRefs)
	assert.True(t, cfg.MemberRefs)
	assert.Equal(t, "Foo", cfg.Export)
	assert.Equal(t, "out.txt", cfg.Output)
}
