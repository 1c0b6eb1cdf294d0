//go:build unix

package pe

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// OpenSource maps path read-only.
func OpenSource(path string) (ByteSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "打开文件失败")
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "获取文件信息失败")
	}
	size := stat.Size()
	if size == 0 {
		return NewBytesSource(nil), nil
	}
	if int64(int(size)) != size {
		return nil, errors.Errorf("文件过大: %d 字节", size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrap(err, "映射文件失败")
	}
	return &bytesSource{data: data, release: unix.Munmap}, nil
}
