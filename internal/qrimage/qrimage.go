// Package qrimage renders QR payloads as PNG images of bounded size.
package qrimage

import qrcode "github.com/skip2/go-qrcode"

// Side lengths in pixels accepted by Encode.
const (
	DefaultSize = 256
	MinSize     = 64
	MaxSize     = 1024
)

// ClampSize maps a requested side length into [MinSize, MaxSize]; zero or a
// negative value selects DefaultSize.
func ClampSize(size int) int {
	switch {
	case size <= 0:
		return DefaultSize
	case size < MinSize:
		return MinSize
	case size > MaxSize:
		return MaxSize
	default:
		return size
	}
}

// Encode renders content at medium error correction.
func Encode(content string, size int) ([]byte, error) {
	return qrcode.Encode(content, qrcode.Medium, ClampSize(size))
}
