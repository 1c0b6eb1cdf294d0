package pe

import (
	"math"
)

// CalculateEntropy calculates Shannon entropy for a given data block.
// Entropy value ranges from 0 (completely uniform) to 8 (completely random).
// High entropy (>7.0) often indicates encryption or compression.
func CalculateEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0.0
	}

	var freq [256]int
	for _, b := range data {
		freq[b]++
	}

	// H = -Σ(p(x) * log2(p(x)))
	var entropy float64
	dataLen := float64(len(data))
	for _, count := range freq {
		if count == 0 {
			continue
		}
		p := float64(count) / dataLen
		entropy -= p * math.Log2(p)
	}

	return entropy
}

// CalculateSectionEntropy calculates the entropy of a section's raw data.
// Raw data running past the end of the file is truncated to what exists.
func CalculateSectionEntropy(src ByteSource, s SectionHeader) float64 {
	off := int64(s.PointerToRawData)
	if s.SizeOfRawData == 0 || off >= src.Len() {
		return 0.0
	}
	n := int64(s.SizeOfRawData)
	if n > src.Len()-off {
		n = src.Len() - off
	}
	data, err := src.Slice(off, n)
	if err != nil {
		return 0.0
	}
	return CalculateEntropy(data)
}
