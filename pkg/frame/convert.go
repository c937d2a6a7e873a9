package frame

import "sync"

// Tables holds precomputed fixed-point YUV→RGB lookup tables. The green table
// dominates at 16 MiB, which buys O(1) per-pixel lookups instead of per-pixel
// multiplies. One instance is shared by all slots of a pipeline and built
// lazily on the first RGB read.
type Tables struct {
	once  sync.Once
	red   [][]uint8   // [v][y]
	green [][][]uint8 // [u][v][y]
	blue  [][]uint8   // [u][y]
}

func NewTables() *Tables {
	return &Tables{}
}

func clamp(v int) uint8 {
	if v > 255 {
		return 255
	}
	if v < 0 {
		return 0
	}
	return uint8(v)
}

// init builds the tables. Reentrant calls are no-ops.
//
// Fixed-point BT.601 coefficients:
//
//	R = (y<<8 + (v-128)*359) >> 8
//	G = (y<<8 - ((u-128)*88 + (v-128)*183)) >> 8
//	B = (y<<8 + (u-128)*454) >> 8
func (t *Tables) init() {
	t.once.Do(func() {
		t.red = make([][]uint8, 256)
		t.blue = make([][]uint8, 256)
		t.green = make([][][]uint8, 256)

		for v := 0; v < 256; v++ {
			t.red[v] = make([]uint8, 256)
			vr := (v - 128) * 359
			for y := 0; y < 256; y++ {
				t.red[v][y] = clamp((y<<8 + vr) >> 8)
			}
		}

		for u := 0; u < 256; u++ {
			t.blue[u] = make([]uint8, 256)
			ub := (u - 128) * 454
			for y := 0; y < 256; y++ {
				t.blue[u][y] = clamp((y<<8 + ub) >> 8)
			}
		}

		for u := 0; u < 256; u++ {
			t.green[u] = make([][]uint8, 256)
			for v := 0; v < 256; v++ {
				t.green[u][v] = make([]uint8, 256)
				ugvg := (u-128)*88 + (v-128)*183
				for y := 0; y < 256; y++ {
					t.green[u][v][y] = clamp((y<<8 - ugvg) >> 8)
				}
			}
		}
	})
}

// yuvToRGB converts packed 4:2:2 YUV (cb,y0,cr,y1) to packed RGB. Each 4-byte
// group yields two RGB pixels sharing chroma. rgb must hold pixelCount*3 bytes
// and yuv pixelCount*2.
func (t *Tables) yuvToRGB(yuv, rgb []byte, pixelCount int) {
	t.init()

	yuvSize := 2 * pixelCount
	for i, j := 0, 0; i < yuvSize; i, j = i+4, j+6 {
		u := yuv[i]
		y0 := yuv[i+1]
		v := yuv[i+2]
		y1 := yuv[i+3]

		rgb[j+0] = t.red[v][y0]
		rgb[j+1] = t.green[u][v][y0]
		rgb[j+2] = t.blue[u][y0]

		rgb[j+3] = t.red[v][y1]
		rgb[j+4] = t.green[u][v][y1]
		rgb[j+5] = t.blue[u][y1]
	}
}

// yuvToGray extracts luma from packed 4:2:2 YUV. Not a colorspace conversion,
// just a de-interleave: every odd byte of the cb,y0,cr,y1 stream.
func yuvToGray(yuv, gray []byte, pixelCount int) {
	for i, j := 0, 1; i < pixelCount; i, j = i+1, j+2 {
		gray[i] = yuv[j]
	}
}
