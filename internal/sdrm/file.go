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

package sdrm

import (
	"fmt"
	"os"
	"sync"

	"github.com/Merovius/simpledrm/internal/gem"
	"github.com/Merovius/simpledrm/internal/kms"
)

// File is an open handle to a Device. It owns the buffer objects and
// framebuffers created through it; closing it releases them.
type File struct {
	dev *Device

	mu      sync.Mutex
	closed  bool
	next    uint32
	objects map[uint32]*gem.Object
	fbs     map[uint32]*kms.Framebuffer
}

// Open opens a new handle to d. It fails with ErrDeviceGone once d is being
// removed.
func (d *Device) Open() (*File, error) {
	if err := d.acquire(); err != nil {
		return nil, err
	}
	return &File{
		dev:     d,
		objects: make(map[uint32]*gem.Object),
		fbs:     make(map[uint32]*kms.Framebuffer),
	}, nil
}

// Close releases all objects and framebuffers of f and drops its use of the
// device. If the device has been removed and f was its last user, the device
// is torn down.
func (f *File) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return os.ErrClosed
	}
	f.closed = true
	fbs, objects := f.fbs, f.objects
	f.fbs, f.objects = nil, nil
	f.mu.Unlock()

	for _, fb := range fbs {
		fb.Put()
	}
	for _, o := range objects {
		o.Put()
	}
	f.dev.release()
	return nil
}

// check returns an error if f can not be used for new operations. f.mu must
// be held.
func (f *File) check() error {
	if f.closed || f.dev.used.Load() < 0 {
		return ErrDeviceGone
	}
	return nil
}

func (f *File) handle() uint32 {
	f.next++
	return f.next
}

// Create allocates a buffer object of size bytes and returns its handle.
func (f *File) Create(size int) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return 0, err
	}
	o, err := gem.New(f.dev.pages, size)
	if err != nil {
		return 0, err
	}
	h := f.handle()
	f.objects[h] = o
	return h, nil
}

// CreateDumb allocates a buffer object large enough for a width×height image
// with bpp bits per pixel. It returns the handle, line pitch and size.
func (f *File) CreateDumb(width, height, bpp int) (handle uint32, pitch, size int, err error) {
	pitch, size, err = gem.Dumb(width, height, bpp)
	if err != nil {
		return 0, 0, 0, err
	}
	handle, err = f.Create(size)
	return handle, pitch, size, err
}

// Destroy drops the handle to a buffer object. The object itself lives on as
// long as framebuffers or mappings use it.
func (f *File) Destroy(handle uint32) error {
	f.mu.Lock()
	o, ok := f.objects[handle]
	delete(f.objects, handle)
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("buffer object %d: %w", handle, ErrNotFound)
	}
	o.Put()
	return nil
}

// lookup returns a new reference to the object with the given handle.
func (f *File) lookup(handle uint32) (*gem.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	o, ok := f.objects[handle]
	if !ok {
		return nil, fmt.Errorf("buffer object %d: %w", handle, ErrNotFound)
	}
	return o.Get(), nil
}

// MapOffset returns the offset to pass to Mmap to map the buffer object with
// the given handle.
func (f *File) MapOffset(handle uint32) (uint64, error) {
	o, err := f.lookup(handle)
	if err != nil {
		return 0, err
	}
	defer o.Put()
	return f.dev.mapOffset(o), nil
}

// Mapping is a client mapping of a buffer object. It keeps the object alive
// until it is closed.
type Mapping struct {
	Data []byte

	once sync.Once
	obj  *gem.Object
}

// Close releases the mapping. Data must not be used afterwards.
func (m *Mapping) Close() error {
	m.once.Do(func() {
		m.Data = nil
		m.obj.Put()
	})
	return nil
}

// Mmap maps length bytes of the buffer object registered at offset, as
// returned by MapOffset.
func (f *File) Mmap(offset uint64, length int) (*Mapping, error) {
	f.mu.Lock()
	err := f.check()
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	o, ok := f.dev.lookupOffset(offset, length)
	if !ok {
		return nil, fmt.Errorf("mmap offset %#x+%#x: %w", offset, length, ErrNotFound)
	}
	b, err := o.Map()
	if err != nil {
		o.Put()
		return nil, err
	}
	return &Mapping{Data: b[:length], obj: o}, nil
}

// AddFB creates a framebuffer on top of the buffer object with the given
// handle and returns its id.
func (f *File) AddFB(handle uint32, cmd kms.FBCmd) (uint32, error) {
	o, err := f.lookup(handle)
	if err != nil {
		return 0, err
	}
	fb, err := kms.NewFramebuffer(o, cmd)
	if err != nil {
		o.Put()
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		fb.Put()
		return 0, ErrDeviceGone
	}
	id := f.handle()
	f.fbs[id] = fb
	return id, nil
}

// RmFB drops the framebuffer with the given id. If it is being shown, it
// stays on screen until it is replaced.
func (f *File) RmFB(id uint32) error {
	f.mu.Lock()
	fb, ok := f.fbs[id]
	delete(f.fbs, id)
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("framebuffer %d: %w", id, ErrNotFound)
	}
	fb.Put()
	return nil
}

// framebuffer returns a new reference to the framebuffer with the given id.
func (f *File) framebuffer(id uint32) (*kms.Framebuffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	fb, ok := f.fbs[id]
	if !ok {
		return nil, fmt.Errorf("framebuffer %d: %w", id, ErrNotFound)
	}
	return fb.Get(), nil
}

// SetPlane shows the framebuffer with the given id. If ev is not nil, it is
// signalled once the framebuffer is on screen.
func (f *File) SetPlane(id uint32, ev *kms.Event) error {
	fb, err := f.framebuffer(id)
	if err != nil {
		return err
	}
	defer fb.Put()
	ps := kms.PlaneState{FB: fb, Event: ev}
	if err := f.dev.pipe.Check(ps); err != nil {
		return err
	}
	if !f.dev.pipe.Update(ps) {
		return ErrDeviceGone
	}
	return nil
}

// Dirty marks the given clips of the framebuffer with the given id as
// changed. Without clips, the whole framebuffer is repainted. Framebuffers
// that are not shown are ignored.
func (f *File) Dirty(id uint32, clips []kms.Clip) error {
	fb, err := f.framebuffer(id)
	if err != nil {
		return err
	}
	defer fb.Put()
	f.dev.pipe.Dirty(fb, clips)
	return nil
}
