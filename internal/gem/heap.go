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

package gem

// HeapPages is a PageSource backed by the Go heap. Its pages are trivially
// pinned and Vmap returns the same contiguous slice every time.
type HeapPages struct{}

func (HeapPages) Pin(n int) (Pages, error) {
	return &heapPages{n: n, buf: make([]byte, n*PageSize)}, nil
}

type heapPages struct {
	n   int
	buf []byte
}

func (p *heapPages) Len() int              { return p.n }
func (p *heapPages) Vmap() ([]byte, error) { return p.buf, nil }
func (p *heapPages) Vunmap([]byte) error   { return nil }

func (p *heapPages) Release() error {
	p.buf = nil
	return nil
}
