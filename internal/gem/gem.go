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

// Package gem implements buffer objects: client-allocated pixel storage whose
// backing pages are pinned lazily and mapped into one contiguous view.
package gem

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

// PageSize is the granularity of buffer object sizes.
const PageSize = 4096

var (
	ErrInvalidSize = errors.New("invalid buffer size")
	ErrNoMemory    = errors.New("out of memory")
)

// PageAlign rounds n up to a multiple of PageSize. n must be at most
// math.MaxInt-PageSize+1.
func PageAlign(n int) int {
	return (n + PageSize - 1) &^ (PageSize - 1)
}

// Pages is a pinned set of backing pages.
type Pages interface {
	// Len returns the number of pages.
	Len() int
	// Vmap establishes a single mapping covering all pages.
	Vmap() ([]byte, error)
	// Vunmap tears down a mapping returned by Vmap.
	Vunmap(b []byte) error
	// Release unpins the pages. They must not be mapped anymore.
	Release() error
}

// A PageSource pins backing pages for buffer objects.
type PageSource interface {
	Pin(n int) (Pages, error)
}

// Object is a buffer object. It is reference counted: New returns an object
// with a single reference and the object is destroyed when the last reference
// is dropped with Put.
type Object struct {
	src  PageSource
	size int
	refs atomic.Int32

	mu       sync.Mutex
	pages    Pages
	vmapping []byte
	onFree   []func()
}

// New creates a buffer object of the given size, which must be a positive
// multiple of PageSize. No pages are pinned until the object is mapped.
func New(src PageSource, size int) (*Object, error) {
	if size <= 0 || size%PageSize != 0 {
		return nil, fmt.Errorf("buffer object of %d bytes: %w", size, ErrInvalidSize)
	}
	o := &Object{src: src, size: size}
	o.refs.Store(1)
	return o, nil
}

// Size returns the size of o in bytes.
func (o *Object) Size() int {
	return o.size
}

// Map pins the backing pages of o and maps them, if that has not happened
// yet, and returns the mapping. Calling Map on a mapped object returns the
// existing mapping. On failure, no pages stay pinned.
func (o *Object) Map() ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.vmapping != nil {
		return o.vmapping, nil
	}
	pinned := false
	if o.pages == nil {
		p, err := o.src.Pin(o.size / PageSize)
		if err != nil {
			return nil, fmt.Errorf("pinning %d pages: %w", o.size/PageSize, errors.Join(ErrNoMemory, err))
		}
		o.pages, pinned = p, true
	}
	m, err := o.pages.Vmap()
	if err != nil {
		if pinned {
			o.pages.Release()
			o.pages = nil
		}
		return nil, fmt.Errorf("vmap: %w", errors.Join(ErrNoMemory, err))
	}
	o.vmapping = m
	return m, nil
}

// Vmapping returns the mapping established by Map, or nil if o is not mapped.
func (o *Object) Vmapping() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.vmapping
}

// Get acquires an additional reference to o.
func (o *Object) Get() *Object {
	if o.refs.Add(1) <= 1 {
		panic("gem: Get on a destroyed buffer object")
	}
	return o
}

// TryGet acquires an additional reference to o, unless o is already being
// destroyed.
func (o *Object) TryGet() bool {
	for {
		n := o.refs.Load()
		if n <= 0 {
			return false
		}
		if o.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Put drops a reference to o. Dropping the last reference unmaps and unpins
// its pages.
func (o *Object) Put() {
	switch n := o.refs.Add(-1); {
	case n == 0:
		o.destroy()
	case n < 0:
		panic("gem: Put on a destroyed buffer object")
	}
}

// OnFree registers fn to be called when o is destroyed.
func (o *Object) OnFree(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onFree = append(o.onFree, fn)
}

func (o *Object) destroy() {
	o.mu.Lock()
	fns := o.onFree
	o.onFree = nil
	o.mu.Unlock()
	for _, fn := range fns {
		fn()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.vmapping != nil {
		o.pages.Vunmap(o.vmapping)
		o.vmapping = nil
	}
	if o.pages != nil {
		o.pages.Release()
		o.pages = nil
	}
}

// Dumb returns the line pitch and the (page aligned) size of a buffer holding
// a width×height image with bpp bits per pixel.
func Dumb(width, height, bpp int) (pitch, size int, err error) {
	if width <= 0 || height <= 0 || bpp <= 0 {
		return 0, 0, fmt.Errorf("dumb buffer %dx%d@%d: %w", width, height, bpp, ErrInvalidSize)
	}
	cpp := (bpp-1)/8 + 1
	if width > math.MaxInt/cpp || height > (math.MaxInt-PageSize+1)/(cpp*width) {
		return 0, 0, fmt.Errorf("dumb buffer %dx%d@%d: %w", width, height, bpp, ErrInvalidSize)
	}
	pitch = cpp * width
	return pitch, PageAlign(pitch * height), nil
}
