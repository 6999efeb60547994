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

package hw

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DevMem maps physical memory through a device node like /dev/mem.
type DevMem struct {
	Path string

	maps map[*byte][]byte
}

func (d *DevMem) Map(base, size uint64) ([]byte, error) {
	fd, err := unix.Open(d.Path, unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v", d.Path, err)
	}
	defer unix.Close(fd)

	// mmap needs a page aligned offset; map from the start of the page
	// and hand out the tail.
	pg := uint64(os.Getpagesize())
	skip := base % pg
	b, err := unix.Mmap(fd, int64(base-skip), int(size+skip), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %v", d.Path, err)
	}
	m := b[skip:]
	if d.maps == nil {
		d.maps = make(map[*byte][]byte)
	}
	d.maps[&m[0]] = b
	return m, nil
}

func (d *DevMem) Unmap(b []byte) error {
	full, ok := d.maps[&b[0]]
	if !ok {
		return fmt.Errorf("unmap of unknown mapping")
	}
	delete(d.maps, &b[0])
	return unix.Munmap(full)
}
