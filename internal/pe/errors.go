package pe

import "github.com/pkg/errors"

// Decode errors. Callers match them with errors.Is; every returned error
// carries the offset or name that triggered it.
var (
	ErrOutOfRange         = errors.New("读取越界")
	ErrAddressTranslation = errors.New("RVA 不在任何节区内")
	ErrBadOptionalHeader  = errors.New("未知的可选头魔数")
	ErrBadBlockName       = errors.New("版本资源块名称无效")
	ErrResourceTree       = errors.New("资源目录结构无效")
)
