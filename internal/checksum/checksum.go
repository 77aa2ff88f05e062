package checksum

import (
	"hash/crc32"
	"strconv"
)

// CRC32 returns the IEEE CRC32 of b as the signed 32-bit value stored in the
// checksum column.
func CRC32(b []byte) int32 {
	return int32(crc32.ChecksumIEEE(b))
}

// Ptr is CRC32 for nullable checksum fields.
func Ptr(b []byte) *int32 {
	c := CRC32(b)
	return &c
}

// Equal compares nullable checksums.
func Equal(a, b *int32) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Format renders a nullable checksum.
func Format(c *int32) string {
	if c == nil {
		return "null"
	}
	return strconv.FormatInt(int64(*c), 10)
}
