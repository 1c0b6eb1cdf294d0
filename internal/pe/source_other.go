//go:build !unix

package pe

import (
	"os"

	"github.com/pkg/errors"
)

// OpenSource loads path into memory.
func OpenSource(path string) (ByteSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "读取文件失败")
	}
	return NewBytesSource(data), nil
}
