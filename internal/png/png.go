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

// Package png writes uncompressed PNG images. It trades size for speed, which
// suits streaming screen contents over a fast link.
package png

import (
	"encoding/binary"
	"fmt"
	"hash/adler32"
	"hash/crc32"
	"image"
	"io"
)

// WritePNG writes im as an 8-bit RGB PNG. Alpha is dropped.
func WritePNG(out io.Writer, im *image.RGBA) error {
	bounds := im.Bounds()
	w := &errWriter{w: out}

	// PNG Header
	fmt.Fprint(w, "\x89PNG\r\n\x1a\n")
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], uint32(bounds.Dx())) // width
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(bounds.Dy())) // height
	ihdr[8] = 8                                                // bit-depth
	ihdr[9] = 2                                                // color-type = truecolor
	ihdr[10] = 0                                               // compression-method
	ihdr[11] = 0                                               // filter-method
	ihdr[12] = 0                                               // interlace-method
	writeChunk(w, ihdr, "IHDR")
	writeIDAT(w, im)
	writeChunk(w, nil, "IEND")
	return w.err
}

// errWriter remembers the first error and drops all writes after it.
type errWriter struct {
	w   io.Writer
	err error
}

func (w *errWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	n, err := w.w.Write(p)
	w.err = err
	return n, err
}

func writeIDAT(out io.Writer, im *image.RGBA) {
	var buf [4]byte
	bounds := im.Bounds()

	chunkSum := crc32.NewIEEE()
	chunkContent := io.MultiWriter(out, chunkSum)
	zlibSum := adler32.New()
	lineLen := 1 + 3*bounds.Dx()
	contentLen := lineLen * bounds.Dy()
	fw := flate(chunkContent, contentLen)
	zlibContent := io.MultiWriter(&fw, zlibSum)

	// chunk-header. Chunk content is
	//   * chunk type (not counted for length)
	//   * 6 bytes for zlib header/footer
	//   * pixel-data
	//   * 1 zero-byte filter method per line
	dflen := uint32(deflateLen(contentLen))
	binary.BigEndian.PutUint32(buf[:], 6+dflen)
	out.Write(buf[:])
	chunkContent.Write([]byte("IDAT"))

	// zlib-header
	chunkContent.Write([]byte{0x78, 0x01})

	// "compressed" content
	line := make([]byte, lineLen)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		row := im.Pix[im.PixOffset(bounds.Min.X, y):]
		for x := 0; x < bounds.Dx(); x++ {
			copy(line[1+3*x:4+3*x], row[4*x:4*x+3])
		}
		zlibContent.Write(line)
	}
	fw.Close()
	// zlib-footer
	chunkContent.Write(zlibSum.Sum(buf[:0]))
	// chunk-footer
	out.Write(chunkSum.Sum(buf[:0]))
}

func deflateLen(n int) int {
	nblocks := (1 + (n-1)/0xffff)
	return n + (nblocks+1)*5
}

func flate(w io.Writer, total int) flateWriter {
	return flateWriter{w: w, total: total}
}

// flateWriter writes a deflate stream of stored blocks, terminated by an
// empty final block on Close.
type flateWriter struct {
	w     io.Writer
	block int
	total int
	err   error
}

func (w *flateWriter) Write(p []byte) (n int, err error) {
	if w.err != nil {
		return 0, w.err
	}
	n, err = w.write(p)
	w.err = err
	return n, err
}

func (w *flateWriter) write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	if w.block == 0 {
		w.block = 0xffff
		if w.total < w.block {
			w.block = w.total
		}
		w.total -= w.block
		var hdr [5]byte
		binary.LittleEndian.PutUint16(hdr[1:], uint16(w.block))
		binary.LittleEndian.PutUint16(hdr[3:], ^uint16(w.block))
		_, err = w.w.Write(hdr[:])
		if err != nil {
			return 0, err
		}
	}
	if len(p) <= w.block {
		n, err = w.w.Write(p)
		w.block -= n
		return n, err
	}
	x := w.block
	n, err = w.w.Write(p[:x])
	w.block -= n
	if err != nil {
		return n, err
	}
	m, err := w.write(p[x:])
	return n + m, err
}

func (w *flateWriter) Close() error {
	if w.err != nil {
		return w.err
	}
	if w.total != 0 || w.block != 0 {
		panic("wrote less than anticipated")
	}
	_, err := w.w.Write([]byte{1, 0, 0, 0xff, 0xff})
	return err
}

func writeChunk(out io.Writer, b []byte, typ string) {
	if len(typ) != 4 {
		panic("len(typ) != 4")
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(len(b)))
	out.Write(buf[:])

	h := crc32.NewIEEE()
	w := io.MultiWriter(out, h)
	io.WriteString(w, typ)
	w.Write(b)
	out.Write(h.Sum(buf[:0]))
}
