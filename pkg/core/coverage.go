package core

import (
	"encoding/binary"
	"fmt"
)

// EncodeCoverageMask serializes a per-residue depth mask as a little-endian
// int32 residue count followed by one uint16 per residue.
func EncodeCoverageMask(mask []uint16) []byte {
	buf := make([]byte, 4+2*len(mask))
	binary.LittleEndian.PutUint32(buf, uint32(int32(len(mask))))
	for i, depth := range mask {
		binary.LittleEndian.PutUint16(buf[4+2*i:], depth)
	}
	return buf
}

// DecodeCoverageMask parses a blob written by EncodeCoverageMask.
// A nil or header-less blob decodes to a nil mask.
func DecodeCoverageMask(blob []byte) ([]uint16, error) {
	if len(blob) < 4 {
		return nil, nil
	}
	n := int(int32(binary.LittleEndian.Uint32(blob)))
	if n < 0 || len(blob) != 4+2*n {
		return nil, fmt.Errorf("coverage mask header says %d residues but blob has %d bytes", n, len(blob))
	}
	mask := make([]uint16, n)
	for i := range mask {
		mask[i] = binary.LittleEndian.Uint16(blob[4+2*i:])
	}
	return mask, nil
}

// CoveragePercent returns the share of residues with non-zero depth, scaled to 100.
func CoveragePercent(mask []uint16) float64 {
	if len(mask) == 0 {
		return 0
	}
	covered := 0
	for _, depth := range mask {
		if depth > 0 {
			covered++
		}
	}
	return float64(covered) * 100 / float64(len(mask))
}
