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

package gem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ShmemPages is a PageSource backed by anonymous shared memory. Each Pin
// creates a memfd and allocates all of its pages up front, so that mapping
// them later can not fail with SIGBUS.
type ShmemPages struct {
	// Name is used for the memfds, as shown in /proc/self/fd.
	Name string
}

func (s ShmemPages) Pin(n int) (Pages, error) {
	name := s.Name
	if name == "" {
		name = "gem"
	}
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %v", err)
	}
	size := int64(n) * PageSize
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ftruncate: %v", err)
	}
	if err := unix.Fallocate(fd, 0, 0, size); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fallocate: %v", err)
	}
	return &shmemPages{fd: fd, n: n}, nil
}

type shmemPages struct {
	fd int
	n  int
}

func (p *shmemPages) Len() int { return p.n }

func (p *shmemPages) Vmap() ([]byte, error) {
	b, err := unix.Mmap(p.fd, 0, p.n*PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %v", err)
	}
	return b, nil
}

func (p *shmemPages) Vunmap(b []byte) error {
	return unix.Munmap(b)
}

func (p *shmemPages) Release() error {
	return unix.Close(p.fd)
}
