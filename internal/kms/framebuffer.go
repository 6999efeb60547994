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

// Package kms implements the display side of the device: framebuffers that
// can be shown, damage tracking, and the single display pipe scanning out to
// the hardware surface.
package kms

import (
	"fmt"
	"image"
	"sync/atomic"

	"github.com/Merovius/simpledrm/internal/blit"
	"github.com/Merovius/simpledrm/internal/format"
	"github.com/Merovius/simpledrm/internal/gem"
	"github.com/Merovius/simpledrm/internal/hw"
)

// FBCmd describes the layout of a framebuffer inside a buffer object.
type FBCmd struct {
	Width  int
	Height int
	Pitch  int
	Offset int
	Format format.Format
	Flags  uint32
}

// Framebuffer is a buffer object annotated with its geometry and pixel
// format. It holds a reference to the buffer object until it is destroyed by
// dropping its last reference.
type Framebuffer struct {
	obj  *gem.Object
	refs atomic.Int32

	Width  int
	Height int
	Pitch  int
	Offset int
	Format format.Format
}

// NewFramebuffer creates a framebuffer on top of obj, mapping obj if needed.
// On success, the framebuffer owns the caller's reference to obj.
func NewFramebuffer(obj *gem.Object, cmd FBCmd) (*Framebuffer, error) {
	if cmd.Flags != 0 {
		return nil, fmt.Errorf("framebuffer flags %#x: %w", cmd.Flags, hw.ErrInvalidGeometry)
	}
	if !cmd.Format.Known() {
		return nil, fmt.Errorf("framebuffer format %v: %w", cmd.Format, hw.ErrUnsupportedFormat)
	}
	switch {
	case cmd.Width <= 0, cmd.Height <= 0, cmd.Pitch <= 0, cmd.Offset < 0:
		return nil, fmt.Errorf("framebuffer %dx%d+%d, pitch %d: %w", cmd.Width, cmd.Height, cmd.Offset, cmd.Pitch, hw.ErrInvalidGeometry)
	case cmd.Width > cmd.Pitch/cmd.Format.BytesPerPixel():
		return nil, fmt.Errorf("framebuffer pitch %d too small for %d pixels: %w", cmd.Pitch, cmd.Width, hw.ErrInvalidGeometry)
	case cmd.Offset > obj.Size(), cmd.Height > (obj.Size()-cmd.Offset)/cmd.Pitch:
		// offset + pitch*height <= size, without overflowing.
		return nil, fmt.Errorf("framebuffer exceeds buffer of %d bytes: %w", obj.Size(), hw.ErrInvalidGeometry)
	}
	if _, err := obj.Map(); err != nil {
		return nil, err
	}
	fb := &Framebuffer{
		obj:    obj,
		Width:  cmd.Width,
		Height: cmd.Height,
		Pitch:  cmd.Pitch,
		Offset: cmd.Offset,
		Format: cmd.Format,
	}
	fb.refs.Store(1)
	return fb, nil
}

// Object returns the buffer object backing fb.
func (fb *Framebuffer) Object() *gem.Object {
	return fb.obj
}

// Bounds returns the rectangle covered by fb.
func (fb *Framebuffer) Bounds() image.Rectangle {
	return image.Rect(0, 0, fb.Width, fb.Height)
}

// Get acquires an additional reference to fb.
func (fb *Framebuffer) Get() *Framebuffer {
	fb.refs.Add(1)
	return fb
}

// Put drops a reference to fb. Dropping the last one releases the buffer
// object.
func (fb *Framebuffer) Put() {
	if fb.refs.Add(-1) == 0 {
		fb.obj.Put()
		fb.obj = nil
	}
}

// flush copies the rectangle r of fb to the same position on s. The copy is
// skipped if s is not mapped.
func (fb *Framebuffer) flush(s *hw.Surface, r image.Rectangle) {
	src := fb.obj.Vmapping()
	if src == nil {
		s.Logf("WARNING: flushing unmapped framebuffer")
		return
	}
	r = r.Intersect(fb.Bounds()).Intersect(image.Rect(0, 0, s.Width, s.Height))
	if r.Empty() {
		return
	}
	sbpp, dbpp := fb.Format.BytesPerPixel(), s.Format.BytesPerPixel()
	s.Do(func(mem []byte) {
		blit.Blit(
			blit.Region{Pix: mem[r.Min.Y*s.Stride+r.Min.X*dbpp:], Stride: s.Stride, Format: s.Format},
			blit.Region{Pix: src[fb.Offset+r.Min.Y*fb.Pitch+r.Min.X*sbpp:], Stride: fb.Pitch, Format: fb.Format},
			r.Dx(), r.Dy())
	})
}

// Clip is a damaged rectangle, reaching from (X1, Y1) inclusive to (X2, Y2)
// exclusive.
type Clip struct {
	X1, Y1, X2, Y2 int
}

// Damage returns the rectangles of a w×h surface to repaint for clips. Clips
// that are out of order or out of bounds are dropped. Without any clips, the
// whole surface is damaged.
func Damage(clips []Clip, w, h int) []image.Rectangle {
	if len(clips) == 0 {
		return []image.Rectangle{image.Rect(0, 0, w, h)}
	}
	var out []image.Rectangle
	for _, c := range clips {
		if c.X1 < 0 || c.Y1 < 0 || c.X1 > c.X2 || c.X2 > w || c.Y1 > c.Y2 || c.Y2 > h {
			continue
		}
		out = append(out, image.Rectangle{image.Pt(c.X1, c.Y1), image.Pt(c.X2, c.Y2)})
	}
	return out
}
