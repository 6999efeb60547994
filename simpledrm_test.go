//go:build linux

package main

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/Merovius/simpledrm/internal/hw"
	"github.com/Merovius/simpledrm/internal/sdrm"
)

func newDevice(t *testing.T) (*sdrm.Device, []byte) {
	t.Helper()
	mem := make([]byte, 8*2*4)
	dev, err := sdrm.Bind(
		hw.Descriptor{Width: 8, Height: 4, Stride: 16, Format: "r5g6b5", Length: uint64(len(mem))},
		&hw.Memory{Mem: mem},
		sdrm.Options{Log: log.New(io.Discard, "", 0)},
	)
	if err != nil {
		t.Fatal(err)
	}
	return dev, mem
}

func TestServePNG(t *testing.T) {
	dev, mem := newDevice(t)
	binary.NativeEndian.PutUint16(mem[16+2:], 0xf800)
	srv := httptest.NewServer(&handler{dev: dev, interval: time.Millisecond})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/png")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /png: %v", resp.Status)
	}
	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("invalid png: %v", err)
	}
	if got := color.RGBAModel.Convert(img.At(1, 1)); got != (color.RGBA{0xff, 0, 0, 0xff}) {
		t.Errorf("pixel (1, 1) = %v, want red", got)
	}

	dev.Remove()
	resp, err = http.Get(srv.URL + "/png")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("GET /png after removal: %v, want %v", resp.Status, http.StatusServiceUnavailable)
	}
}

func TestServeVideo(t *testing.T) {
	dev, _ := newDevice(t)
	defer dev.Remove()
	srv := httptest.NewServer(&handler{dev: dev, interval: time.Millisecond})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/video")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	mt, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mt != "multipart/x-mixed-replace" {
		t.Fatalf("Content-Type = %q, %v", resp.Header.Get("Content-Type"), err)
	}
	mr := multipart.NewReader(resp.Body, params["boundary"])
	for i := 0; i < 3; i++ {
		part, err := mr.NextPart()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		buf := new(bytes.Buffer)
		if _, err := io.Copy(buf, part); err != nil {
			t.Fatal(err)
		}
		img, err := png.Decode(buf)
		if err != nil {
			t.Fatalf("frame %d: invalid png: %v", i, err)
		}
		if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 4 {
			t.Errorf("frame %d has bounds %v", i, img.Bounds())
		}
	}
}

func TestNotFound(t *testing.T) {
	dev, _ := newDevice(t)
	defer dev.Remove()
	rec := httptest.NewRecorder()
	(&handler{dev: dev}).ServeHTTP(rec, httptest.NewRequest("GET", "/raw", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /raw = %d, want %d", rec.Code, http.StatusNotFound)
	}
	rec = httptest.NewRecorder()
	(&handler{dev: dev}).ServeHTTP(rec, httptest.NewRequest("POST", "/png", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /png = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestShow(t *testing.T) {
	dev, mem := newDevice(t)
	defer dev.Remove()
	path := t.TempDir() + "/red.png"
	writeRed(t, path)
	if err := show(dev, path); err != nil {
		t.Fatalf("show() = %v", err)
	}
	for i := 0; i < 8*4; i++ {
		if got := binary.NativeEndian.Uint16(mem[2*i:]); got != 0xf800 {
			t.Fatalf("pixel %d = %#04x, want %#04x", i, got, 0xf800)
		}
	}
}

func writeRed(t *testing.T, path string) {
	t.Helper()
	im := image.NewRGBA(image.Rect(0, 0, 3, 3))
	draw.Draw(im, im.Bounds(), image.NewUniform(color.RGBA{0xff, 0, 0, 0xff}), image.Point{}, draw.Src)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, im); err != nil {
		t.Fatal(err)
	}
}
