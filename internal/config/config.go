// Package config loads pedeps settings from defaults, a .env file, the
// environment and command-line flags, in increasing precedence.
package config

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/xyproto/env/v2"
)

// Environment variables.
const (
	EnvPaths          = "PEDEPS_PATH"
	EnvRecurseDelayed = "PEDEPS_RECURSE_DELAYED"
	EnvWorkers        = "PEDEPS_WORKERS"
	EnvDebug          = "PEDEPS_DEBUG"
	EnvCacheSize      = "PEDEPS_CACHE_SIZE"
)

// Mode selects the dependency report layout.
type Mode int

// Report modes.
const (
	ModeDefault Mode = iota
	ModeVerbose
	ModeInternal
	ModeJSON
)

// Config is the resolved configuration of one run.
type Config struct {
	Files          []string
	LookupPaths    []string
	RecurseDelayed bool
	Workers        int
	CacheSize      int
	Debug          bool
	Mode           Mode
	Output         string

	Info        bool
	VersionInfo bool
	TypeRefs    bool
	MemberRefs  bool
	Export      string
}

// Load reads .env (if present) and the environment, then parses args.
func Load(args []string, usage func(*flag.FlagSet)) (*Config, error) {
	_ = godotenv.Load()
	// env/v2 caches the environment on first use
	env.Load()

	cfg := &Config{
		LookupPaths:    SplitPaths(env.Str(EnvPaths)),
		RecurseDelayed: env.Bool(EnvRecurseDelayed),
		Workers:        env.Int(EnvWorkers, runtime.NumCPU()),
		CacheSize:      env.Int(EnvCacheSize, 1024),
		Debug:          env.Bool(EnvDebug),
	}

	fs := flag.NewFlagSet("pedeps", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	paths := fs.String("paths", "", "额外的搜索目录（以 ; 或系统路径分隔符分隔）")
	verbose := fs.Bool("v", false, "以树状结构输出依赖")
	internal := fs.Bool("internal", false, "仅输出已找到的非系统依赖的完整路径")
	jsonOut := fs.Bool("json", false, "以JSON格式输出")
	fs.StringVar(&cfg.Output, "o", "", "同时将报告写入文件")
	fs.BoolVar(&cfg.RecurseDelayed, "delayed", cfg.RecurseDelayed, "递归分析延迟加载的依赖")
	fs.IntVar(&cfg.Workers, "j", cfg.Workers, "并发解析的文件数")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "输出调试日志")
	fs.BoolVar(&cfg.Info, "info", false, "显示映像摘要")
	fs.BoolVar(&cfg.VersionInfo, "version-info", false, "显示版本资源")
	fs.BoolVar(&cfg.TypeRefs, "typerefs", false, "显示托管类型引用")
	fs.BoolVar(&cfg.MemberRefs, "memberrefs", false, "显示托管成员引用")
	fs.StringVar(&cfg.Export, "export", "", "检查是否导出指定符号")
	if usage != nil {
		fs.Usage = func() { usage(fs) }
	}

	if err := fs.Parse(args); err != nil {
		return nil, errors.Wrap(err, "解析参数失败")
	}

	cfg.Files = fs.Args()
	if len(cfg.Files) == 0 {
		return nil, errors.New("必须指定至少一个文件")
	}

	switch {
	case *jsonOut:
		cfg.Mode = ModeJSON
	case *internal:
		cfg.Mode = ModeInternal
	case *verbose:
		cfg.Mode = ModeVerbose
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	cfg.LookupPaths = append(SplitPaths(*paths), cfg.LookupPaths...)
	cfg.LookupPaths = append(cfg.LookupPaths, seedDirs(cfg.Files)...)
	if wd, err := os.Getwd(); err == nil {
		cfg.LookupPaths = append(cfg.LookupPaths, wd)
	}
	cfg.LookupPaths = dedupe(cfg.LookupPaths)
	return cfg, nil
}

// SplitPaths splits a list separated by ';' or the OS list separator.
func SplitPaths(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ';' || r == os.PathListSeparator
	}) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// seedDirs returns the directories of the seed files; a module's own
// directory is searched first by the Windows loader as well.
func seedDirs(files []string) []string {
	dirs := make([]string, 0, len(files))
	for _, f := range files {
		if abs, err := filepath.Abs(f); err == nil {
			dirs = append(dirs, filepath.Dir(abs))
		}
	}
	return dirs
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
