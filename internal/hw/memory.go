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

package hw

import (
	"fmt"
	"sync"
)

// Memory is a Mapper for framebuffers living in process memory, like the
// scan-out buffer of a virtual display. Map returns a view of Mem; the base
// address is relative to Offset.
type Memory struct {
	Mem    []byte
	Offset uint64

	mu     sync.Mutex
	mapped int
}

func (m *Memory) Map(base, size uint64) ([]byte, error) {
	if base < m.Offset || base-m.Offset+size > uint64(len(m.Mem)) {
		return nil, fmt.Errorf("range %#x+%#x outside of memory %#x+%#x", base, size, m.Offset, len(m.Mem))
	}
	m.mu.Lock()
	m.mapped++
	m.mu.Unlock()
	off := base - m.Offset
	return m.Mem[off : off+size : off+size], nil
}

func (m *Memory) Unmap([]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mapped == 0 {
		return fmt.Errorf("unmap without mapping")
	}
	m.mapped--
	return nil
}

// Mappings returns the number of currently established mappings.
func (m *Memory) Mappings() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mapped
}
