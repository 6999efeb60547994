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

// Package fb reads the description of a firmware framebuffer from a Linux
// fbdev node, and maps its memory.
package fb

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/Merovius/simpledrm/internal/hw"
)

// <linux/fb.h> ioctls.
const (
	FBIOGET_VSCREENINFO = 0x4600
	FBIOGET_FSCREENINFO = 0x4602
)

// FixScreeninfo is struct fb_fix_screeninfo.
type FixScreeninfo struct {
	Id           [16]byte
	Smem_start   uintptr
	Smem_len     uint32
	Type         uint32
	Type_aux     uint32
	Visual       uint32
	Xpanstep     uint16
	Ypanstep     uint16
	Ywrapstep    uint16
	Line_length  uint32
	Mmio_start   uintptr
	Mmio_len     uint32
	Accel        uint32
	Capabilities uint16
	Reserved     [2]uint16
}

// Bitfield is struct fb_bitfield.
type Bitfield struct {
	Offset    uint32
	Length    uint32
	Msb_right uint32
}

// VarScreeninfo is struct fb_var_screeninfo.
type VarScreeninfo struct {
	Xres           uint32
	Yres           uint32
	Xres_virtual   uint32
	Yres_virtual   uint32
	Xoffset        uint32
	Yoffset        uint32
	Bits_per_pixel uint32
	Grayscale      uint32
	Red            Bitfield
	Green          Bitfield
	Blue           Bitfield
	Transp         Bitfield
	Nonstd         uint32
	Activate       uint32
	Height         uint32
	Width          uint32
	Accel_flags    uint32
	Pixclock       uint32
	Left_margin    uint32
	Right_margin   uint32
	Upper_margin   uint32
	Lower_margin   uint32
	Hsync_len      uint32
	Vsync_len      uint32
	Sync           uint32
	Vmode          uint32
	Rotate         uint32
	Colorspace     uint32
	Reserved       [4]uint32
}

// Device is an open fbdev node. It implements hw.Mapper for the memory
// behind it.
type Device struct {
	fd    uintptr
	finfo FixScreeninfo
	vinfo VarScreeninfo
}

// Open opens the fbdev node dev and reads its screen information.
func Open(dev string) (*Device, error) {
	fd, err := unix.Open(dev, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v", dev, err)
	}
	if int(uintptr(fd)) != fd {
		unix.Close(fd)
		return nil, errors.New("fd overflows")
	}
	d := &Device{fd: uintptr(fd)}

	_, _, eno := unix.Syscall(unix.SYS_IOCTL, d.fd, FBIOGET_FSCREENINFO, uintptr(unsafe.Pointer(&d.finfo)))
	if eno != 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("FBIOGET_FSCREENINFO: %v", eno)
	}
	_, _, eno = unix.Syscall(unix.SYS_IOCTL, d.fd, FBIOGET_VSCREENINFO, uintptr(unsafe.Pointer(&d.vinfo)))
	if eno != 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("FBIOGET_VSCREENINFO: %v", eno)
	}
	return d, nil
}

// ID returns the identification string of the framebuffer driver.
func (d *Device) ID() string {
	return strings.TrimRight(string(d.finfo.Id[:]), "\x00")
}

// Descriptor describes the visible part of the framebuffer.
func (d *Device) Descriptor() (hw.Descriptor, error) {
	name, ok := formatName(d.vinfo)
	if !ok {
		return hw.Descriptor{}, fmt.Errorf("%d bits per pixel, red %+v, green %+v, blue %+v: %w",
			d.vinfo.Bits_per_pixel, d.vinfo.Red, d.vinfo.Green, d.vinfo.Blue, hw.ErrUnsupportedFormat)
	}
	return hw.Descriptor{
		Width:  int(d.vinfo.Xres),
		Height: int(d.vinfo.Yres),
		Stride: int(d.finfo.Line_length),
		Format: name,
		Base:   uint64(d.finfo.Smem_start),
		Length: uint64(d.finfo.Smem_len),
	}, nil
}

// formatName returns the simple-framebuffer name of the pixel layout in v.
func formatName(v VarScreeninfo) (string, bool) {
	if v.Red.Msb_right != 0 || v.Green.Msb_right != 0 || v.Blue.Msb_right != 0 {
		return "", false
	}
	type layout struct {
		bpp     uint32
		r, g, b Bitfield
		alpha   bool
	}
	bf := func(off, n uint32) Bitfield { return Bitfield{Offset: off, Length: n} }
	names := []struct {
		l    layout
		name string
	}{
		{layout{16, bf(11, 5), bf(5, 6), bf(0, 5), false}, "r5g6b5"},
		{layout{16, bf(10, 5), bf(5, 5), bf(0, 5), false}, "x1r5g5b5"},
		{layout{16, bf(10, 5), bf(5, 5), bf(0, 5), true}, "a1r5g5b5"},
		{layout{24, bf(16, 8), bf(8, 8), bf(0, 8), false}, "r8g8b8"},
		{layout{32, bf(16, 8), bf(8, 8), bf(0, 8), false}, "x8r8g8b8"},
		{layout{32, bf(16, 8), bf(8, 8), bf(0, 8), true}, "a8r8g8b8"},
		{layout{32, bf(0, 8), bf(8, 8), bf(16, 8), true}, "a8b8g8r8"},
		{layout{32, bf(20, 10), bf(10, 10), bf(0, 10), false}, "x2r10g10b10"},
		{layout{32, bf(20, 10), bf(10, 10), bf(0, 10), true}, "a2r10g10b10"},
	}
	got := layout{v.Bits_per_pixel, v.Red, v.Green, v.Blue, v.Transp.Length != 0}
	for _, n := range names {
		if n.l == got {
			return n.name, true
		}
	}
	return "", false
}

// Map maps size bytes of framebuffer memory starting at the physical address
// base, which must lie within the memory of d.
func (d *Device) Map(base, size uint64) ([]byte, error) {
	start := uint64(d.finfo.Smem_start)
	if base < start || base-start+size > uint64(d.finfo.Smem_len) {
		return nil, fmt.Errorf("range %#x+%#x outside of framebuffer memory", base, size)
	}
	if base != start {
		return nil, errors.New("mapping at an offset into framebuffer memory is not supported")
	}
	b, err := unix.Mmap(int(d.fd), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %v", err)
	}
	return b, nil
}

func (d *Device) Unmap(b []byte) error {
	return unix.Munmap(b)
}

func (d *Device) Close() error {
	return unix.Close(int(d.fd))
}
