// Package frame implements the frame synchronization core: a triple buffer
// decoupling the hardware frame-arrival callback from a polling consumer,
// per-slot lazy colorspace derivation, and the YUV conversion tables.
package frame

// Format selects the pixel layout returned by a slot read.
type Format int

const (
	FormatRGB  Format = iota // 3 channels, 8-bit packed RGB
	FormatYUV                // raw 4:2:2 packed YUV (cb,y0,cr,y1)
	FormatGray               // 1 channel, 8-bit luma
)

func (f Format) String() string {
	switch f {
	case FormatRGB:
		return "rgb"
	case FormatYUV:
		return "yuv422"
	case FormatGray:
		return "gray"
	default:
		return "unknown"
	}
}

// Channels returns bytes per pixel for the format, or 0 for an unknown format.
func (f Format) Channels() int {
	switch f {
	case FormatRGB:
		return 3
	case FormatYUV:
		return 2 // 4:2:2 packs 2 bytes per pixel
	case FormatGray:
		return 1
	default:
		return 0
	}
}

// RequiredSize returns the buffer size in bytes needed to hold a width×height
// frame in the given format. Zero for unknown formats or empty dimensions.
func RequiredSize(f Format, width, height int) int {
	if width <= 0 || height <= 0 {
		return 0
	}
	return width * height * f.Channels()
}

// Info reports the dimensions and channel count of a frame returned by Read.
type Info struct {
	Width    int
	Height   int
	Channels int
}
