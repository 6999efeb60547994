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

// Package hw manages the firmware-provided framebuffer: a fixed region of
// physical memory with a fixed geometry and pixel format.
package hw

import (
	"errors"
	"fmt"
	"image"
	"log"
	"sync"

	"github.com/Merovius/simpledrm/internal/format"
)

var (
	ErrInvalidGeometry   = errors.New("invalid geometry")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrIO                = errors.New("I/O error")
)

// Descriptor describes a firmware framebuffer, as reported by the firmware
// or the bus it was found on.
type Descriptor struct {
	Width  int
	Height int
	Stride int
	// Format is the simple-framebuffer name of the pixel format, like
	// "r5g6b5".
	Format string
	Base   uint64
	Length uint64
}

// A Mapper maps physical memory into the address space of the process.
type Mapper interface {
	Map(base, size uint64) ([]byte, error)
	Unmap(b []byte) error
}

// Surface is the hardware framebuffer. Its geometry is fixed; its memory is
// only mapped while the owning device is bound.
type Surface struct {
	Width  int
	Height int
	Stride int
	Format format.Format
	Base   uint64
	Size   uint64

	// Log receives diagnostics. If nil, log.Default() is used.
	Log *log.Logger

	mapper Mapper

	mu  sync.Mutex
	mem []byte
}

// Identify validates d and returns an unmapped surface for it.
func Identify(d Descriptor, m Mapper) (*Surface, error) {
	f, ok := format.Lookup(d.Format)
	if !ok {
		return nil, fmt.Errorf("format %q: %w", d.Format, ErrUnsupportedFormat)
	}
	switch {
	case d.Width <= 0, d.Height <= 0, d.Stride <= 0:
		return nil, fmt.Errorf("%dx%d, stride %d: %w", d.Width, d.Height, d.Stride, ErrInvalidGeometry)
	case uint64(d.Stride)*uint64(d.Height) > d.Length:
		return nil, fmt.Errorf("%d lines of %d bytes exceed memory of %d bytes: %w", d.Height, d.Stride, d.Length, ErrInvalidGeometry)
	case d.Width > d.Stride/f.BytesPerPixel():
		return nil, fmt.Errorf("%d pixels of %v exceed stride %d: %w", d.Width, f, d.Stride, ErrInvalidGeometry)
	}
	return &Surface{
		Width:  d.Width,
		Height: d.Height,
		Stride: d.Stride,
		Format: f,
		Base:   d.Base,
		Size:   d.Length,
		mapper: m,
	}, nil
}

// Bind maps the framebuffer memory, unless it is mapped already.
func (s *Surface) Bind() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mem != nil {
		return nil
	}
	mem, err := s.mapper.Map(s.Base, s.Size)
	if err != nil {
		return fmt.Errorf("mapping %#x+%#x: %w", s.Base, s.Size, errors.Join(ErrIO, err))
	}
	if uint64(len(mem)) < s.Size {
		s.mapper.Unmap(mem)
		return fmt.Errorf("mapping %#x+%#x: short mapping of %d bytes: %w", s.Base, s.Size, len(mem), ErrIO)
	}
	s.mem = mem
	return nil
}

// Unbind unmaps the framebuffer memory. Once Unbind returns, no Do call
// touches the memory anymore.
func (s *Surface) Unbind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mem == nil {
		return
	}
	if err := s.mapper.Unmap(s.mem); err != nil {
		s.Logf("unmapping framebuffer at %#x: %v", s.Base, err)
	}
	s.mem = nil
}

// Logf logs a diagnostic about s.
func (s *Surface) Logf(format string, v ...any) {
	if s.Log == nil {
		log.Printf(format, v...)
		return
	}
	s.Log.Printf(format, v...)
}

// Mapped reports whether the framebuffer memory is currently mapped.
func (s *Surface) Mapped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem != nil
}

// Do calls fn with the framebuffer memory, holding the surface lock for the
// duration of the call. If the memory is not mapped, fn is not called and Do
// returns false.
func (s *Surface) Do(fn func(mem []byte)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mem == nil {
		return false
	}
	fn(s.mem)
	return true
}

// Free checks that s is not mapped anymore. s must not be used afterwards.
func (s *Surface) Free() {
	if s.Mapped() {
		s.Logf("WARNING: framebuffer at %#x freed while mapped", s.Base)
		s.Unbind()
	}
}

// Snapshot reads the framebuffer back into dst, which is resized to the
// surface if needed. It returns false if the memory is not mapped or its
// format can not be decoded.
func (s *Surface) Snapshot(dst *image.RGBA) bool {
	if dst.Rect != image.Rect(0, 0, s.Width, s.Height) {
		*dst = *image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
	}
	bpp := s.Format.BytesPerPixel()
	ok := true
	mapped := s.Do(func(mem []byte) {
		for y := 0; y < s.Height && ok; y++ {
			line := mem[y*s.Stride:]
			out := dst.Pix[y*dst.Stride:]
			for x := 0; x < s.Width; x++ {
				var r, g, b uint16
				r, g, b, ok = format.Get(line[x*bpp:], s.Format)
				if !ok {
					break
				}
				out[4*x], out[4*x+1], out[4*x+2], out[4*x+3] = byte(r>>8), byte(g>>8), byte(b>>8), 0xff
			}
		}
	})
	return mapped && ok
}
