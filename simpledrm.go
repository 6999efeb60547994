// Copyright 2018 Axel Wagner
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux

// Command simpledrm drives a firmware framebuffer as a display device and
// serves its contents over HTTP.
package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"os/signal"
	"time"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/sys/unix"

	"github.com/Merovius/simpledrm/internal/fb"
	"github.com/Merovius/simpledrm/internal/format"
	"github.com/Merovius/simpledrm/internal/gem"
	"github.com/Merovius/simpledrm/internal/hw"
	"github.com/Merovius/simpledrm/internal/kms"
	"github.com/Merovius/simpledrm/internal/png"
	"github.com/Merovius/simpledrm/internal/sdrm"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	listen := flag.String("listen", ":1234", "Address to listen on")
	fbdev := flag.String("fbdev", "", "Take the framebuffer description and memory from this fbdev node")
	mem := flag.String("mem", "/dev/mem", "Physical memory device, if -fbdev is not given")
	width := flag.Int("width", 0, "Width of the framebuffer in pixels")
	height := flag.Int("height", 0, "Height of the framebuffer in pixels")
	stride := flag.Int("stride", 0, "Length of a line in bytes")
	pixfmt := flag.String("format", "r5g6b5", "Pixel format of the framebuffer")
	base := flag.Uint64("base", 0, "Physical address of the framebuffer")
	size := flag.Uint64("size", 0, "Size of the framebuffer memory in bytes (default stride*height)")
	img := flag.String("image", "", "Picture to show on the framebuffer")
	shmem := flag.Bool("shmem", false, "Back buffer objects with shared memory instead of the heap")
	interval := flag.Duration("interval", 100*time.Millisecond, "Minimum time between frames of /video")
	flag.Parse()
	if flag.NArg() != 0 {
		return errors.New("usage: simpledrm [<flags>]")
	}

	var (
		desc   hw.Descriptor
		mapper hw.Mapper
	)
	if *fbdev != "" {
		d, err := fb.Open(*fbdev)
		if err != nil {
			return err
		}
		defer d.Close()
		if desc, err = d.Descriptor(); err != nil {
			return fmt.Errorf("%s (%s): %w", *fbdev, d.ID(), err)
		}
		mapper = d
	} else {
		if *size == 0 {
			*size = uint64(*stride) * uint64(*height)
		}
		desc = hw.Descriptor{Width: *width, Height: *height, Stride: *stride, Format: *pixfmt, Base: *base, Length: *size}
		mapper = &hw.DevMem{Path: *mem}
	}

	opts := sdrm.Options{Registry: logRegistry{}}
	if *shmem {
		opts.Pages = gem.ShmemPages{Name: "simpledrm"}
	}
	dev, err := sdrm.Bind(desc, mapper, opts)
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, unix.SIGTERM)
	go func() {
		<-sig
		log.Println("removing device")
		dev.Remove()
		os.Exit(0)
	}()

	if *img != "" {
		if err := show(dev, *img); err != nil {
			dev.Remove()
			return err
		}
	}

	h := &handler{dev: dev, interval: *interval}
	http.Handle("/", h)
	return http.ListenAndServe(*listen, nil)
}

// logRegistry stands in for a mode-setting layer and logs the pipes it is
// given.
type logRegistry struct{}

func (logRegistry) Register(p *kms.Pipe) error {
	c := p.Connector()
	if c.Detect() != kms.Connected {
		return errors.New("connector not connected")
	}
	log.Printf("registered display pipe, modes %v, limits %+v", c.Modes(), p.ModeConfig())
	return nil
}

func (logRegistry) Unregister(p *kms.Pipe) {
	log.Println("unregistered display pipe")
}

// show decodes the picture in file, scales it to the screen and shows it.
func show(dev *sdrm.Device, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	src, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", file, err)
	}

	r := dev.Pipe().Connector().Bounds()
	im := image.NewRGBA(r)
	xdraw.CatmullRom.Scale(im, im.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	df, err := dev.Open()
	if err != nil {
		return err
	}
	// The framebuffer stays on screen after the file is closed.
	defer df.Close()

	h, pitch, size, err := df.CreateDumb(r.Dx(), r.Dy(), 32)
	if err != nil {
		return err
	}
	off, err := df.MapOffset(h)
	if err != nil {
		return err
	}
	m, err := df.Mmap(off, size)
	if err != nil {
		return err
	}
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			c := im.RGBAAt(x, y)
			binary.NativeEndian.PutUint32(m.Data[y*pitch+4*x:], uint32(c.R)<<16|uint32(c.G)<<8|uint32(c.B))
		}
	}
	m.Close()

	id, err := df.AddFB(h, kms.FBCmd{Width: r.Dx(), Height: r.Dy(), Pitch: pitch, Format: format.XRGB8888})
	if err != nil {
		return err
	}
	dev.Pipe().Enable(kms.CRTCState{})
	ev := kms.NewEvent()
	if err := df.SetPlane(id, ev); err != nil {
		return err
	}
	<-ev.Done()
	seq, at := ev.Sequence()
	log.Printf("showing %s (frame %d at %v)", file, seq, at.Format(time.RFC3339))
	return nil
}

type handler struct {
	dev      *sdrm.Device
	interval time.Duration
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log.Println(r.Method, r.URL.Path)
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	switch r.URL.Path {
	case "/video":
		h.serveVideo(w, r)
	case "/png":
		h.servePNG(w, r)
	default:
		http.Error(w, fmt.Sprintf("%q not found", r.URL.Path), http.StatusNotFound)
	}
}

func (h *handler) servePNG(w http.ResponseWriter, r *http.Request) {
	im := new(image.RGBA)
	if !h.dev.Surface().Snapshot(im) {
		http.Error(w, "Framebuffer not available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := png.WritePNG(w, im); err != nil {
		log.Println(err)
	}
}

func (h *handler) serveVideo(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		log.Println("Not a flusher")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace;boundary=endofsection")
	w.WriteHeader(http.StatusOK)

	mpw := multipart.NewWriter(w)
	mpw.SetBoundary("endofsection")
	hdr := make(textproto.MIMEHeader)
	hdr.Add("Content-Type", "image/png")
	im := new(image.RGBA)
	tick := time.NewTicker(h.interval)
	defer tick.Stop()
	for {
		if !h.dev.Surface().Snapshot(im) {
			log.Println("framebuffer gone, ending stream")
			return
		}
		part, err := mpw.CreatePart(hdr)
		if err != nil {
			log.Println(err)
			return
		}
		if err := png.WritePNG(part, im); err != nil {
			log.Println(err)
			return
		}
		flusher.Flush()
		select {
		case <-tick.C:
		case <-r.Context().Done():
			return
		}
	}
}
