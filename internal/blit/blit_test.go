package blit

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/Merovius/simpledrm/internal/format"
)

// randomRegion returns a w×h region in f with stride padding, filled with
// random pixels. For 32-bit formats the padding byte of each pixel is zero,
// as the converter does not preserve it.
func randomRegion(rnd *rand.Rand, f format.Format, w, h, pad int) Region {
	bpp := f.BytesPerPixel()
	stride := w*bpp + pad
	pix := make([]byte, stride*h)
	rnd.Read(pix)
	if bpp == 4 {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				pix[y*stride+x*4+3] = 0
				if !littleEndian() {
					pix[y*stride+x*4] = 0
				}
			}
		}
	}
	return Region{Pix: pix, Stride: stride, Format: f}
}

func littleEndian() bool {
	return binary.NativeEndian.Uint16([]byte{1, 0}) == 1
}

func TestFastPathMatchesConversion(t *testing.T) {
	rnd := rand.New(rand.NewSource(0))
	for _, f := range []format.Format{format.XRGB8888, format.RGB565} {
		const w, h = 17, 3
		src := randomRegion(rnd, f, w, h, 12)
		dstStride := w*f.BytesPerPixel() + 6
		fast := Region{Pix: make([]byte, dstStride*h), Stride: dstStride, Format: f}
		slow := Region{Pix: make([]byte, dstStride*h), Stride: dstStride, Format: f}
		rnd.Read(fast.Pix)
		copy(slow.Pix, fast.Pix)

		Blit(fast, src, w, h)
		Convert(slow, src, w, h)
		if !bytes.Equal(fast.Pix, slow.Pix) {
			t.Errorf("%v: fast path differs from conversion\nfast: %x\nslow: %x", f, fast.Pix, slow.Pix)
		}
	}
}

func TestLinesKeepsPadding(t *testing.T) {
	src := Region{Pix: bytes.Repeat([]byte{0xff}, 4*4), Stride: 4, Format: format.RGB565}
	dst := Region{Pix: make([]byte, 6*4), Stride: 6, Format: format.RGB565}
	Lines(dst, src, 2, 4)
	for y := 0; y < 4; y++ {
		line := dst.Pix[y*6 : y*6+6]
		if want := []byte{0xff, 0xff, 0xff, 0xff, 0, 0}; !bytes.Equal(line, want) {
			t.Errorf("line %d = %x, want %x", y, line, want)
		}
	}
}

func TestConvertXRGB8888ToRGB565(t *testing.T) {
	const w, h = 3, 2
	src := Region{Pix: make([]byte, w*4*h), Stride: w * 4, Format: format.XRGB8888}
	for i := 0; i < w*h; i++ {
		binary.NativeEndian.PutUint32(src.Pix[i*4:], 0x00ff0000)
	}
	dst := Region{Pix: make([]byte, w*2*h), Stride: w * 2, Format: format.RGB565}
	Blit(dst, src, w, h)
	for i := 0; i < w*h; i++ {
		if got := binary.NativeEndian.Uint16(dst.Pix[i*2:]); got != 0xf800 {
			t.Fatalf("pixel %d = %#x, want %#x", i, got, 0xf800)
		}
	}
}

func TestConvertRGB565ToXRGB8888(t *testing.T) {
	src := Region{Pix: make([]byte, 4), Stride: 4, Format: format.RGB565}
	binary.NativeEndian.PutUint16(src.Pix, 0x07e0)
	binary.NativeEndian.PutUint16(src.Pix[2:], 0x001f)
	dst := Region{Pix: make([]byte, 8), Stride: 8, Format: format.XRGB8888}
	Blit(dst, src, 2, 1)
	if got := binary.NativeEndian.Uint32(dst.Pix); got != 0x0000fc00 {
		t.Errorf("green = %#08x, want %#08x", got, 0x0000fc00)
	}
	if got := binary.NativeEndian.Uint32(dst.Pix[4:]); got != 0x000000f8 {
		t.Errorf("blue = %#08x, want %#08x", got, 0x000000f8)
	}
}

func TestUnsupportedFormatsAreSkipped(t *testing.T) {
	tcs := []struct {
		name     string
		src, dst format.Format
	}{
		{"source", format.RGB888, format.RGB565},
		{"destination", format.XRGB8888, format.XBGR8888},
	}
	for _, tc := range tcs {
		src := Region{Pix: bytes.Repeat([]byte{0xff}, 16), Stride: 16, Format: tc.src}
		dst := Region{Pix: make([]byte, 16), Stride: 16, Format: tc.dst}
		Blit(dst, src, 2, 1)
		if !bytes.Equal(dst.Pix, make([]byte, 16)) {
			t.Errorf("unsupported %s format: destination modified: %x", tc.name, dst.Pix)
		}
	}
}
