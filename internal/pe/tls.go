package pe

import "github.com/pkg/errors"

// TLSInfo contains TLS (Thread Local Storage) information.
type TLSInfo struct {
	HasTLS                bool
	StartAddressOfRawData uint64
	EndAddressOfRawData   uint64
	AddressOfIndex        uint64
	SizeOfZeroFill        uint32
	Characteristics       uint32
	// Callbacks are virtual addresses, as stored in the image.
	Callbacks []uint64
}

// IMAGE_TLS_DIRECTORY32.
type tlsDirectory32 struct {
	StartAddressOfRawData uint32
	EndAddressOfRawData   uint32
	AddressOfIndex        uint32
	AddressOfCallBacks    uint32
	SizeOfZeroFill        uint32
	Characteristics       uint32
}

// IMAGE_TLS_DIRECTORY64.
type tlsDirectory64 struct {
	StartAddressOfRawData uint64
	EndAddressOfRawData   uint64
	AddressOfIndex        uint64
	AddressOfCallBacks    uint64
	SizeOfZeroFill        uint32
	Characteristics       uint32
}

const maxTLSCallbacks = 100

// TLS reads the TLS directory and its NULL-terminated callback array.
func (img *Image) TLS() (*TLSInfo, error) {
	info := &TLSInfo{}
	dir := img.DataDirectory(DirTLS)
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return info, nil
	}
	info.HasTLS = true

	off, err := img.Rva2Offset(dir.VirtualAddress)
	if err != nil {
		return info, errors.Wrap(err, "定位TLS目录失败")
	}

	var callbacksVA uint64
	if img.optional.Magic == optMagic64 {
		var tls tlsDirectory64
		if err := readStruct(img.src, off, 40, &tls); err != nil {
			return info, errors.Wrap(err, "读取TLS目录失败")
		}
		info.StartAddressOfRawData = tls.StartAddressOfRawData
		info.EndAddressOfRawData = tls.EndAddressOfRawData
		info.AddressOfIndex = tls.AddressOfIndex
		info.SizeOfZeroFill = tls.SizeOfZeroFill
		info.Characteristics = tls.Characteristics
		callbacksVA = tls.AddressOfCallBacks
	} else {
		var tls tlsDirectory32
		if err := readStruct(img.src, off, 24, &tls); err != nil {
			return info, errors.Wrap(err, "读取TLS目录失败")
		}
		info.StartAddressOfRawData = uint64(tls.StartAddressOfRawData)
		info.EndAddressOfRawData = uint64(tls.EndAddressOfRawData)
		info.AddressOfIndex = uint64(tls.AddressOfIndex)
		info.SizeOfZeroFill = tls.SizeOfZeroFill
		info.Characteristics = tls.Characteristics
		callbacksVA = uint64(tls.AddressOfCallBacks)
	}

	if callbacksVA != 0 {
		info.Callbacks = img.tlsCallbacks(callbacksVA)
	}
	return info, nil
}

// tlsCallbacks reads the callback array. An array that cannot be located
// yields no callbacks rather than an error.
func (img *Image) tlsCallbacks(va uint64) []uint64 {
	if va < img.optional.ImageBase {
		return nil
	}
	off, err := img.Rva2Offset(uint32(va - img.optional.ImageBase))
	if err != nil {
		return nil
	}

	var callbacks []uint64
	for i := 0; i < maxTLSCallbacks; i++ {
		var cb uint64
		if img.optional.Magic == optMagic64 {
			cb, err = readU64(img.src, off+int64(i)*8)
		} else {
			var v uint32
			v, err = readU32(img.src, off+int64(i)*4)
			cb = uint64(v)
		}
		if err != nil || cb == 0 {
			break
		}
		callbacks = append(callbacks, cb)
	}
	return callbacks
}
