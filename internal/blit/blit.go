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

// Package blit copies rectangular pixel regions between buffers, converting
// between pixel formats where necessary.
package blit

import (
	"encoding/binary"

	"github.com/Merovius/simpledrm/internal/format"
)

// Region describes a rectangle of pixels in a buffer. Pix starts at the top
// left pixel of the rectangle; consecutive lines are Stride bytes apart.
type Region struct {
	Pix    []byte
	Stride int
	Format format.Format
}

// Blit copies a width×height rectangle from src to dst. If both share the same
// format, lines are copied verbatim. Otherwise each pixel is decoded and
// re-packed into dst's format. Source formats other than XRGB8888, ARGB8888 and
// RGB565, as well as destination formats the converter does not know, leave
// dst untouched.
func Blit(dst, src Region, width, height int) {
	if src.Format == dst.Format {
		Lines(dst, src, width, height)
		return
	}
	Convert(dst, src, width, height)
}

// Lines copies width pixels of each of height lines from src to dst, without
// looking at their contents. dst is assumed to have the same format as src.
func Lines(dst, src Region, width, height int) {
	n := width * src.Format.BytesPerPixel()
	for y := 0; y < height; y++ {
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+n], src.Pix[y*src.Stride:])
	}
}

// Convert is like Blit, but always converts pixel by pixel.
func Convert(dst, src Region, width, height int) {
	switch src.Format {
	case format.XRGB8888, format.ARGB8888:
		fromXRGB8888(dst, src, width, height)
	case format.RGB565:
		fromRGB565(dst, src, width, height)
	}
}

func fromXRGB8888(dst, src Region, width, height int) {
	sbpp, dbpp := src.Format.BytesPerPixel(), dst.Format.BytesPerPixel()
	for y := 0; y < height; y++ {
		s, d := src.Pix[y*src.Stride:], dst.Pix[y*dst.Stride:]
		for i := 0; i < width; i++ {
			v := binary.NativeEndian.Uint32(s[i*sbpp:])
			format.Put(d[i*dbpp:], dst.Format,
				uint16((v&0x00ff0000)>>8),
				uint16(v&0x0000ff00),
				uint16((v&0x000000ff)<<8))
		}
	}
}

func fromRGB565(dst, src Region, width, height int) {
	sbpp, dbpp := src.Format.BytesPerPixel(), dst.Format.BytesPerPixel()
	for y := 0; y < height; y++ {
		s, d := src.Pix[y*src.Stride:], dst.Pix[y*dst.Stride:]
		for i := 0; i < width; i++ {
			v := binary.NativeEndian.Uint16(s[i*sbpp:])
			format.Put(d[i*dbpp:], dst.Format,
				v&0xf800,
				(v&0x07e0)<<5,
				(v&0x001f)<<11)
		}
	}
}
