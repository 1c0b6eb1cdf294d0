package deps

import (
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// Locator finds a referenced module on disk.
type Locator interface {
	// Find returns the full path of name, or false when it does not exist
	// in any searched location.
	Find(name string) (string, bool)
}

// DefaultCacheSize bounds the number of memoised lookups.
const DefaultCacheSize = 1024

// imageExts are extensions that mark a name as an on-disk module already.
var imageExts = map[string]bool{
	".dll": true, ".exe": true, ".pyd": true, ".sys": true,
	".drv": true, ".ocx": true, ".cpl": true, ".efi": true,
}

// FileLocator probes a list of directories in order. Names without a
// module extension are also tried with ".dll" and ".exe" appended, which
// is how managed assembly names map to files. When the exact spelling is
// missing, a case-insensitive match in the directory is accepted so
// Windows binaries resolve the same way on case-sensitive filesystems.
// FileLocator is safe for concurrent use.
type FileLocator struct {
	paths   []string
	lookups *lru.Cache[string, string]
	dirs    *lru.Cache[string, map[string]string]
}

// NewFileLocator returns a locator searching paths in order.
func NewFileLocator(paths []string, cacheSize int) (*FileLocator, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	lookups, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "创建查找缓存失败")
	}
	dirs, err := lru.New[string, map[string]string](cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "创建目录缓存失败")
	}
	return &FileLocator{paths: paths, lookups: lookups, dirs: dirs}, nil
}

// Paths returns the searched directories.
func (l *FileLocator) Paths() []string {
	return l.paths
}

// Find implements Locator.
func (l *FileLocator) Find(name string) (string, bool) {
	key := Key(name)
	if path, ok := l.lookups.Get(key); ok {
		return path, path != ""
	}
	path := l.find(name)
	l.lookups.Add(key, path)
	return path, path != ""
}

func (l *FileLocator) find(name string) string {
	candidates := candidateNames(name)
	if filepath.IsAbs(name) || strings.ContainsAny(name, `/\`) {
		for _, c := range candidates {
			if path := l.probe(filepath.Dir(c), filepath.Base(c)); path != "" {
				return path
			}
		}
		return ""
	}
	for _, dir := range l.paths {
		for _, c := range candidates {
			if path := l.probe(dir, c); path != "" {
				return path
			}
		}
	}
	return ""
}

// probe looks for file in dir, first exactly and then ignoring case.
func (l *FileLocator) probe(dir, file string) string {
	path := filepath.Join(dir, file)
	if isFile(path) {
		return absPath(path)
	}
	if actual, ok := l.listing(dir)[Key(file)]; ok {
		return absPath(filepath.Join(dir, actual))
	}
	return ""
}

// listing maps lower-cased file names to their spelling on disk.
func (l *FileLocator) listing(dir string) map[string]string {
	if m, ok := l.dirs.Get(dir); ok {
		return m
	}
	m := make(map[string]string)
	if entries, err := os.ReadDir(dir); err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				m[Key(e.Name())] = e.Name()
			}
		}
	}
	l.dirs.Add(dir, m)
	return m
}

func candidateNames(name string) []string {
	if imageExts[Key(filepath.Ext(name))] {
		return []string{name}
	}
	return []string{name, name + ".dll", name + ".exe"}
}

func isFile(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
