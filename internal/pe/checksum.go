package pe

import (
	"encoding/binary"
	"io"
)

// ChecksumInfo contains PE checksum verification results.
type ChecksumInfo struct {
	Stored   uint32
	Computed uint32
	Valid    bool
}

// VerifyChecksum recomputes the optional-header checksum of img.
// A stored checksum of zero means the file is not checksummed.
func VerifyChecksum(img *Image) (*ChecksumInfo, error) {
	stored := img.optional.CheckSum
	if stored == 0 {
		return &ChecksumInfo{Valid: true}, nil
	}

	computed, err := CalculatePEChecksum(img.src, img.src.Len(), img.checksumOffset())
	if err != nil {
		return nil, err
	}
	return &ChecksumInfo{
		Stored:   stored,
		Computed: computed,
		Valid:    stored == computed,
	}, nil
}

// CalculatePEChecksum calculates the PE checksum: a carry-folded sum of
// little-endian DWORDs, skipping the CheckSum field, plus the file size.
func CalculatePEChecksum(r io.ReaderAt, filesize int64, checksumOffset int64) (uint32, error) {
	var checksum uint64
	buf := make([]byte, 4)

	for offset := int64(0); offset < filesize; offset += 4 {
		if checksumOffset >= 0 && offset >= checksumOffset && offset < checksumOffset+4 {
			continue
		}

		n, err := r.ReadAt(buf, offset)
		if err != nil && err != io.EOF {
			return 0, err
		}
		for i := n; i < 4; i++ {
			buf[i] = 0
		}

		checksum += uint64(binary.LittleEndian.Uint32(buf))
		if checksum > 0xFFFFFFFF {
			checksum = (checksum & 0xFFFFFFFF) + (checksum >> 32)
		}
	}

	checksum = (checksum & 0xFFFF) + (checksum >> 16)
	checksum += checksum >> 16
	checksum &= 0xFFFF
	checksum += uint64(filesize)

	return uint32(checksum), nil
}
