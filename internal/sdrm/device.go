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

// Package sdrm drives a firmware framebuffer as a display device. It ties
// together the hardware surface, the display pipe and the buffer objects
// clients render into, and coordinates opening the device against its
// removal.
package sdrm

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"

	"github.com/Merovius/simpledrm/internal/gem"
	"github.com/Merovius/simpledrm/internal/hw"
	"github.com/Merovius/simpledrm/internal/kms"
	"github.com/Merovius/simpledrm/internal/power"
)

var (
	ErrDeviceGone = errors.New("device gone")
	ErrNotFound   = errors.New("not found")
)

// bias is added to the use counter while the device is not usable. A
// non-negative counter is the number of users of a live device; a negative
// counter minus bias is the number of users left on a device going away.
const bias = math.MinInt32

// Phase is the lifecycle phase of a Device.
type Phase int

const (
	// Unbound devices are not (yet) bound to the hardware.
	Unbound Phase = iota
	// Live devices are bound and can be opened.
	Live
	// Draining devices are being removed, but still have users.
	Draining
	// Gone devices are torn down.
	Gone
)

func (p Phase) String() string {
	switch p {
	case Unbound:
		return "unbound"
	case Live:
		return "live"
	case Draining:
		return "draining"
	case Gone:
		return "gone"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Options configure a Device.
type Options struct {
	// Log receives diagnostics. Defaults to log.Default().
	Log *log.Logger
	// Registry is the mode-setting layer the display pipe is registered
	// with. If nil, the pipe is not registered anywhere.
	Registry kms.Registry
	// Power lists the clocks and regulators the framebuffer depends on.
	Power []power.Ref
	// Pages backs buffer objects. Defaults to gem.HeapPages.
	Pages gem.PageSource
	// OnTeardown, if set, is called after the device has been torn down.
	OnTeardown func()
}

// Device is a firmware framebuffer bound as a display device.
type Device struct {
	used     atomic.Int32
	draining atomic.Bool
	gone     atomic.Bool

	log        *log.Logger
	registry   kms.Registry
	pages      gem.PageSource
	onTeardown func()

	hw    *hw.Surface
	pipe  *kms.Pipe
	power *power.Set

	vmaMu   sync.Mutex
	vma     map[uint64]*gem.Object
	vmaNext uint64
}

// Bind validates d, brings up the power resources, maps the framebuffer
// through m and registers the display pipe. On failure, everything done so
// far is undone. The returned device holds one use, which is dropped by
// Remove.
func Bind(d hw.Descriptor, m hw.Mapper, o Options) (*Device, error) {
	s, err := hw.Identify(d, m)
	if err != nil {
		return nil, err
	}
	dev := &Device{
		log:        o.Log,
		registry:   o.Registry,
		pages:      o.Pages,
		onTeardown: o.OnTeardown,
		hw:         s,
		vma:        make(map[uint64]*gem.Object),
		vmaNext:    1,
	}
	if dev.log == nil {
		dev.log = log.Default()
	}
	s.Log = dev.log
	if dev.pages == nil {
		dev.pages = gem.HeapPages{}
	}
	dev.used.Store(bias)

	if err := dev.bind(o.Power); err != nil {
		dev.unbind()
		dev.free()
		return nil, err
	}
	if !dev.used.CompareAndSwap(bias, 1) {
		dev.log.Printf("WARNING: use count of unbound device is %d", dev.used.Load())
	}
	dev.log.Printf("initialized %dx%d %v framebuffer at %#x", s.Width, s.Height, s.Format, s.Base)
	return dev, nil
}

func (d *Device) bind(refs []power.Ref) error {
	ps, err := power.Bind(d.log, refs)
	if err != nil {
		return err
	}
	d.power = ps
	if err := d.hw.Bind(); err != nil {
		return err
	}
	d.pipe = kms.NewPipe(d.hw)
	if d.registry != nil {
		if err := d.registry.Register(d.pipe); err != nil {
			d.pipe = nil
			return fmt.Errorf("registering display pipe: %w", err)
		}
	}
	return nil
}

// unbind undoes bind in reverse order. It copes with partially bound
// devices.
func (d *Device) unbind() {
	if d.pipe != nil {
		d.pipe.Detach()
	}
	d.hw.Unbind()
	d.power.Unbind(d.log)
	d.power = nil
}

func (d *Device) free() {
	if n := d.used.Load(); n != bias {
		d.log.Printf("WARNING: freeing device with use count %d", n)
	}
	d.hw.Free()
}

func (d *Device) teardown() {
	d.draining.Store(true)
	d.unbind()
	d.free()
	d.gone.Store(true)
	if d.onTeardown != nil {
		d.onTeardown()
	}
}

// acquire adds a use, unless the device is going away.
func (d *Device) acquire() error {
	for {
		n := d.used.Load()
		if n < 0 {
			return ErrDeviceGone
		}
		if d.used.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// release drops a use. Dropping the last use of a removed device tears it
// down.
func (d *Device) release() {
	if d.used.Add(-1) == bias {
		d.teardown()
	}
}

// Remove starts removing the device. New opens fail from now on, the
// framebuffer is unmapped immediately and the pipe is unregistered. The
// device is torn down once the last open File is closed, which might be
// right away. Calling Remove more than once has no effect.
func (d *Device) Remove() {
	for {
		n := d.used.Load()
		if n < 0 {
			return
		}
		if d.used.CompareAndSwap(n, n+bias) {
			break
		}
	}
	d.hw.Unbind()
	if d.registry != nil {
		d.registry.Unregister(d.pipe)
	}
	d.release()
}

// Phase returns the current lifecycle phase of d.
func (d *Device) Phase() Phase {
	switch n := d.used.Load(); {
	case d.gone.Load():
		return Gone
	case d.draining.Load():
		return Draining
	case n == bias:
		return Unbound
	case n < 0:
		return Draining
	default:
		return Live
	}
}

// Surface returns the hardware surface of d.
func (d *Device) Surface() *hw.Surface {
	return d.hw
}

// Pipe returns the display pipe of d.
func (d *Device) Pipe() *kms.Pipe {
	return d.pipe
}

// mapOffset returns the fake mmap offset of o, allocating one if needed.
func (d *Device) mapOffset(o *gem.Object) uint64 {
	d.vmaMu.Lock()
	for off, obj := range d.vma {
		if obj == o {
			d.vmaMu.Unlock()
			return off
		}
	}
	off := d.vmaNext * gem.PageSize
	d.vmaNext += uint64(o.Size() / gem.PageSize)
	d.vma[off] = o
	d.vmaMu.Unlock()

	o.OnFree(func() {
		d.vmaMu.Lock()
		delete(d.vma, off)
		d.vmaMu.Unlock()
	})
	return off
}

// lookupOffset returns a new reference to the object whose mapping starts at
// off and is at least length bytes long. Object sizes are page aligned, so
// length fits if and only if its page-aligned size does.
func (d *Device) lookupOffset(off uint64, length int) (*gem.Object, bool) {
	d.vmaMu.Lock()
	defer d.vmaMu.Unlock()
	o, ok := d.vma[off]
	if !ok || length <= 0 || length > o.Size() || !o.TryGet() {
		return nil, false
	}
	return o, true
}
