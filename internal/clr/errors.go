package clr

import "github.com/pkg/errors"

// Decode errors.
var (
	ErrOutOfRange    = errors.New("元数据读取越界")
	ErrBadSignature  = errors.New("元数据签名无效")
	ErrUnknownStream = errors.New("未知的元数据流")
	ErrMissingStream = errors.New("缺少元数据流")
	ErrHeapOffset    = errors.New("堆偏移无效")
	ErrBadToken      = errors.New("编码令牌无效")
)
