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

// Package format describes the packed RGB pixel formats a firmware
// framebuffer can be configured with and converts single pixels between
// them.
package format

import (
	"encoding/binary"
	"fmt"
)

// Format is a fourcc pixel format code, as used by DRM.
type Format uint32

func fourcc(a, b, c, d byte) Format {
	return Format(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

var (
	RGB565      = fourcc('R', 'G', '1', '6')
	XRGB1555    = fourcc('X', 'R', '1', '5')
	ARGB1555    = fourcc('A', 'R', '1', '5')
	RGB888      = fourcc('R', 'G', '2', '4')
	XRGB8888    = fourcc('X', 'R', '2', '4')
	ARGB8888    = fourcc('A', 'R', '2', '4')
	ABGR8888    = fourcc('A', 'B', '2', '4')
	XRGB2101010 = fourcc('X', 'R', '3', '0')
	ARGB2101010 = fourcc('A', 'R', '3', '0')

	// Known to DRM, but not to the converter. Surfaces in these formats can
	// only ever be shown through a same-format copy.
	BGR565   = fourcc('B', 'G', '1', '6')
	XBGR8888 = fourcc('X', 'B', '2', '4')
)

type info struct {
	name string // simple-framebuffer name, empty if not usable by firmware
	bpp  int
}

var formats = map[Format]info{
	RGB565:      {"r5g6b5", 16},
	XRGB1555:    {"x1r5g5b5", 16},
	ARGB1555:    {"a1r5g5b5", 16},
	RGB888:      {"r8g8b8", 24},
	XRGB8888:    {"x8r8g8b8", 32},
	ARGB8888:    {"a8r8g8b8", 32},
	ABGR8888:    {"a8b8g8r8", 32},
	XRGB2101010: {"x2r10g10b10", 32},
	ARGB2101010: {"a2r10g10b10", 32},
	BGR565:      {"", 16},
	XBGR8888:    {"", 32},
}

// Lookup returns the format with the given simple-framebuffer name, like
// "r5g6b5" or "x8r8g8b8".
func Lookup(name string) (Format, bool) {
	for f, i := range formats {
		if i.name != "" && i.name == name {
			return f, true
		}
	}
	return 0, false
}

// Known reports whether f is a format this package has a description for.
func (f Format) Known() bool {
	_, ok := formats[f]
	return ok
}

// BitsPerPixel returns the storage size of a single pixel in bits, or 0 if f
// is unknown.
func (f Format) BitsPerPixel() int {
	return formats[f].bpp
}

// BytesPerPixel returns the storage size of a single pixel in bytes, rounded
// up.
func (f Format) BytesPerPixel() int {
	return (f.BitsPerPixel() + 7) / 8
}

// Name returns the simple-framebuffer name of f, or "" if there is none.
func (f Format) Name() string {
	return formats[f].name
}

func (f Format) String() string {
	return fmt.Sprintf("%c%c%c%c", byte(f), byte(f>>8), byte(f>>16), byte(f>>24))
}

var littleEndian = binary.NativeEndian.Uint16([]byte{1, 0}) == 1

// Put packs the 16-bit normalized channel values r, g and b into dst, using
// the layout of f. Multi-byte values are stored in native byte order, like
// the hardware reads them. If f has no packing rule, dst is left unchanged.
//
// dst must hold at least f.BytesPerPixel() bytes.
func Put(dst []byte, f Format, r, g, b uint16) {
	switch f {
	case RGB565:
		v := (r>>11)<<11 | (g>>10)<<5 | b>>11
		binary.NativeEndian.PutUint16(dst, v)
	case XRGB1555, ARGB1555:
		v := (r>>11)<<10 | (g>>11)<<5 | b>>11
		binary.NativeEndian.PutUint16(dst, v)
	case RGB888:
		if littleEndian {
			dst[0], dst[1], dst[2] = byte(b>>8), byte(g>>8), byte(r>>8)
		} else {
			dst[0], dst[1], dst[2] = byte(r>>8), byte(g>>8), byte(b>>8)
		}
	case XRGB8888, ARGB8888:
		v := uint32(r>>8)<<16 | uint32(g>>8)<<8 | uint32(b>>8)
		binary.NativeEndian.PutUint32(dst, v)
	case ABGR8888:
		v := uint32(b>>8)<<16 | uint32(g>>8)<<8 | uint32(r>>8)
		binary.NativeEndian.PutUint32(dst, v)
	case XRGB2101010, ARGB2101010:
		v := uint32(r>>6)<<20 | uint32(g>>6)<<10 | uint32(b>>6)
		binary.NativeEndian.PutUint32(dst, v)
	}
}

// Get is the inverse of Put. It unpacks the pixel at the start of src and
// returns its channels, scaled to 16 bits by replicating the high bits. ok is
// false if f has no packing rule.
func Get(src []byte, f Format) (r, g, b uint16, ok bool) {
	switch f {
	case RGB565:
		v := binary.NativeEndian.Uint16(src)
		return expand(uint32(v>>11), 5), expand(uint32(v>>5), 6), expand(uint32(v), 5), true
	case XRGB1555, ARGB1555:
		v := binary.NativeEndian.Uint16(src)
		return expand(uint32(v>>10), 5), expand(uint32(v>>5), 5), expand(uint32(v), 5), true
	case RGB888:
		if littleEndian {
			return expand(uint32(src[2]), 8), expand(uint32(src[1]), 8), expand(uint32(src[0]), 8), true
		}
		return expand(uint32(src[0]), 8), expand(uint32(src[1]), 8), expand(uint32(src[2]), 8), true
	case XRGB8888, ARGB8888:
		v := binary.NativeEndian.Uint32(src)
		return expand(v>>16, 8), expand(v>>8, 8), expand(v, 8), true
	case ABGR8888:
		v := binary.NativeEndian.Uint32(src)
		return expand(v, 8), expand(v>>8, 8), expand(v>>16, 8), true
	case XRGB2101010, ARGB2101010:
		v := binary.NativeEndian.Uint32(src)
		return expand(v>>20, 10), expand(v>>10, 10), expand(v, 10), true
	}
	return 0, 0, 0, false
}

// expand scales the low n bits of v to 16 bits, so that all-zero and all-one
// map to 0 and 0xffff.
func expand(v uint32, n uint) uint16 {
	v &= 1<<n - 1
	out := uint32(0)
	for shift := int(16 - n); shift > -int(n); shift -= int(n) {
		if shift >= 0 {
			out |= v << uint(shift)
		} else {
			out |= v >> uint(-shift)
		}
	}
	return uint16(out)
}
