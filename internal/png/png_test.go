package png

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"math/rand"
	"testing"
)

func testImage(w, h int) *image.RGBA {
	rnd := rand.New(rand.NewSource(0))
	im := image.NewRGBA(image.Rect(0, 0, w, h))
	rnd.Read(im.Pix)
	for i := 3; i < len(im.Pix); i += 4 {
		im.Pix[i] = 0xff
	}
	return im
}

func TestOwn(t *testing.T) {
	// Large enough to need more than one stored block.
	for _, im := range []*image.RGBA{testImage(1, 1), testImage(320, 240)} {
		buf := new(bytes.Buffer)
		if err := WritePNG(buf, im); err != nil {
			t.Fatalf("WritePNG() = %v", err)
		}
		img, err := png.Decode(buf)
		if err != nil {
			t.Fatalf("Generated invalid png: %v", err)
		}
		if img.Bounds() != im.Bounds() {
			t.Fatalf("Bounds() = %v, want %v", img.Bounds(), im.Bounds())
		}
		b := im.Bounds()
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				got := color.RGBAModel.Convert(img.At(x, y))
				if want := im.RGBAAt(x, y); got != want {
					t.Fatalf("pixel (%d, %d) = %v, want %v", x, y, got, want)
				}
			}
		}
	}
}

func TestSubImage(t *testing.T) {
	im := testImage(16, 16).SubImage(image.Rect(4, 4, 12, 10)).(*image.RGBA)
	buf := new(bytes.Buffer)
	if err := WritePNG(buf, im); err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(buf)
	if err != nil {
		t.Fatalf("Generated invalid png: %v", err)
	}
	if got := color.RGBAModel.Convert(img.At(0, 0)); got != im.RGBAAt(4, 4) {
		t.Errorf("pixel (0, 0) = %v, want %v", got, im.RGBAAt(4, 4))
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestWriteError(t *testing.T) {
	if err := WritePNG(failWriter{}, testImage(2, 2)); err != io.ErrClosedPipe {
		t.Errorf("WritePNG() = %v, want %v", err, io.ErrClosedPipe)
	}
}

var benchImage = testImage(1920, 1080)

func BenchmarkStdlib(b *testing.B) {
	enc := &png.Encoder{CompressionLevel: png.NoCompression}
	for i := 0; i < b.N; i++ {
		enc.Encode(io.Discard, benchImage)
	}
}

func BenchmarkOwn(b *testing.B) {
	for i := 0; i < b.N; i++ {
		WritePNG(io.Discard, benchImage)
	}
}
