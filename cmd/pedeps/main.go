// Package main provides the pedeps CLI tool.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/ZacharyZcR/PEDeps/internal/cli"
	"github.com/ZacharyZcR/PEDeps/internal/clr"
	"github.com/ZacharyZcR/PEDeps/internal/config"
	"github.com/ZacharyZcR/PEDeps/internal/deps"
	"github.com/ZacharyZcR/PEDeps/internal/pe"
	"github.com/apex/log"
	clihandler "github.com/apex/log/handlers/cli"
	"github.com/fatih/color"
	"github.com/pkg/errors"
)

func main() {
	cfg, err := config.Load(os.Args[1:], printUsage)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err == nil {
		err = run(cfg)
	}
	if err != nil {
		red := color.New(color.FgRed, color.Bold)
		_, _ = red.Fprintf(os.Stderr, "\n错误: %v\n\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log.SetHandler(clihandler.New(os.Stderr))
	log.SetLevel(log.InfoLevel)
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if cfg.Info || cfg.VersionInfo || cfg.TypeRefs || cfg.MemberRefs || cfg.Export != "" {
		return render(cfg, func(w io.Writer, plain bool) error {
			for _, file := range cfg.Files {
				if err := inspect(w, plain, cfg, file); err != nil {
					log.WithError(err).WithField("file", file).Error("分析失败")
				}
			}
			return nil
		})
	}

	locator, err := deps.NewFileLocator(cfg.LookupPaths, cfg.CacheSize)
	if err != nil {
		return err
	}
	log.WithField("paths", len(locator.Paths())).Debug("搜索路径")
	resolver := deps.NewResolver(locator, deps.Options{
		RecurseDelayed: cfg.RecurseDelayed,
		Workers:        cfg.Workers,
		Logger:         log.Log,
	})
	graph, err := resolver.Resolve(ctx, cfg.Files)
	if err != nil {
		return err
	}

	return render(cfg, func(w io.Writer, plain bool) error {
		r := cli.NewDependencyReporter(w, graph)
		r.SetPlain(plain)
		return r.Print(cfg.Mode)
	})
}

// render writes the report to stdout and, with -o, a plain copy to a file.
func render(cfg *config.Config, report func(w io.Writer, plain bool) error) error {
	if err := report(os.Stdout, false); err != nil {
		return err
	}
	if cfg.Output == "" {
		return nil
	}

	f, err := os.Create(cfg.Output)
	if err != nil {
		return errors.Wrap(err, "创建输出文件失败")
	}
	if err := report(f, true); err != nil {
		_ = f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "写入输出文件失败")
}

// inspect runs the per-file detail queries selected by cfg.
func inspect(w io.Writer, plain bool, cfg *config.Config, file string) error {
	img, err := pe.Open(file)
	if err != nil {
		return err
	}
	defer func() { _ = img.Close() }()

	if cfg.Info {
		info, err := pe.NewAnalyzer(img).Analyze()
		if err != nil {
			return err
		}
		r := cli.NewReporter(w, info)
		r.SetVerbose(cfg.Mode == config.ModeVerbose)
		r.SetPlain(plain)
		r.Print()
	}

	detail := cli.NewDetailReporter(w)
	detail.SetPlain(plain)

	if cfg.VersionInfo {
		vi, err := img.VersionInfo()
		if err != nil {
			return err
		}
		detail.PrintVersionInfo(file, vi)
	}

	if cfg.TypeRefs || cfg.MemberRefs {
		if img.ManagedHeader() == nil {
			return errors.Errorf("%s 不是托管映像", file)
		}
		md, err := clr.FromImage(img)
		if err != nil {
			return err
		}
		if cfg.TypeRefs {
			refs, err := md.TypeRefs()
			if err != nil {
				return err
			}
			detail.PrintTypeRefs(file, refs)
		}
		if cfg.MemberRefs {
			refs, err := md.MemberRefs()
			if err != nil {
				return err
			}
			detail.PrintMemberRefs(file, refs)
		}
	}

	if cfg.Export != "" {
		found, err := img.FindExport(cfg.Export)
		if err != nil {
			return err
		}
		detail.PrintExport(file, cfg.Export, found)
	}
	return nil
}

func printUsage(fs *flag.FlagSet) {
	cyan := color.New(color.FgCyan, color.Bold)
	_, _ = cyan.Println("\nPEDeps - PE/.NET 依赖分析工具")

	fmt.Println("\n用法:")
	fmt.Println("  pedeps [选项] <文件>...")
	fmt.Println("\n选项:")
	fs.SetOutput(os.Stdout)
	fs.PrintDefaults()
	fs.SetOutput(io.Discard)

	fmt.Println("\n环境变量:")
	fmt.Printf("  %-24s 额外的搜索目录\n", config.EnvPaths)
	fmt.Printf("  %-24s 递归分析延迟加载的依赖 (1/true)\n", config.EnvRecurseDelayed)
	fmt.Printf("  %-24s 并发解析的文件数\n", config.EnvWorkers)
	fmt.Printf("  %-24s 输出调试日志\n", config.EnvDebug)
	fmt.Printf("  %-24s 路径查找缓存大小\n", config.EnvCacheSize)

	fmt.Println("\n示例:")
	fmt.Println("  # 列出依赖")
	fmt.Println("  pedeps app.exe")
	fmt.Println("  # 树状输出并递归延迟加载的依赖")
	fmt.Println("  pedeps -v -delayed app.exe")
	fmt.Println("  # 只输出需要随程序分发的DLL")
	fmt.Println("  pedeps -internal -paths \"C:\\libs;D:\\bin\" app.exe")
	fmt.Println("  # 托管程序集的类型引用")
	fmt.Println("  pedeps -typerefs Library.dll")
	fmt.Println()
}
