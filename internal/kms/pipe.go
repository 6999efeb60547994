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

package kms

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/Merovius/simpledrm/internal/format"
	"github.com/Merovius/simpledrm/internal/hw"
)

// State is the state of a Pipe.
type State int

const (
	Disabled State = iota
	Enabled
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Enabled:
		return "enabled"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Event is a completion token. A caller passes it along with a state change
// and waits on Done for the change to be on screen. As there is no real
// vblank, events are signalled synchronously.
type Event struct {
	once sync.Once
	done chan struct{}
	seq  uint64
	at   time.Time
}

// NewEvent returns a new, unsignalled event.
func NewEvent() *Event {
	return &Event{done: make(chan struct{})}
}

// Done returns a channel that is closed once the event is signalled.
func (e *Event) Done() <-chan struct{} {
	return e.done
}

// Sequence returns the vblank sequence number and time the event was
// signalled with. It must only be called after Done is closed.
func (e *Event) Sequence() (uint64, time.Time) {
	return e.seq, e.at
}

func (e *Event) signal(seq uint64) {
	e.once.Do(func() {
		e.seq, e.at = seq, time.Now()
		close(e.done)
	})
}

// CRTCState is the state passed to Enable and Disable.
type CRTCState struct {
	Event *Event
}

// PlaneState is the state passed to Update. FB is the framebuffer to show, or
// nil to keep the current one.
type PlaneState struct {
	FB    *Framebuffer
	Event *Event
}

// Formats are the framebuffer formats the pipe can scan out from.
var Formats = []format.Format{
	format.RGB565,
	format.ARGB8888,
	format.XRGB8888,
}

// ModeConfig are the limits of the mode-setting configuration.
type ModeConfig struct {
	MinWidth, MaxWidth   int
	MinHeight, MaxHeight int
	PreferredDepth       int
}

// Pipe is a display pipe, scanning out a framebuffer to the hardware surface.
type Pipe struct {
	hw   *hw.Surface
	conn *Connector

	mu       sync.Mutex
	state    State
	fb       *Framebuffer
	event    *Event
	seq      uint64
	detached bool
}

// NewPipe returns a disabled pipe scanning out to s.
func NewPipe(s *hw.Surface) *Pipe {
	return &Pipe{
		hw:   s,
		conn: &Connector{mode: Mode{Width: s.Width, Height: s.Height, Refresh: 60, Preferred: true}},
	}
}

// Connector returns the connector driven by p.
func (p *Pipe) Connector() *Connector {
	return p.conn
}

// ModeConfig returns the limits of p. The hardware geometry is fixed, so the
// minimum and maximum size are the same.
func (p *Pipe) ModeConfig() ModeConfig {
	return ModeConfig{
		MinWidth:       p.hw.Width,
		MaxWidth:       p.hw.Width,
		MinHeight:      p.hw.Height,
		MaxHeight:      p.hw.Height,
		PreferredDepth: p.hw.Format.BitsPerPixel(),
	}
}

// State returns the current state of p.
func (p *Pipe) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Current returns the framebuffer currently shown, or nil. The returned
// framebuffer is not referenced; it must only be used for comparison.
func (p *Pipe) Current() *Framebuffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fb
}

// Check validates ps before it is passed to Update.
func (p *Pipe) Check(ps PlaneState) error {
	if ps.FB == nil {
		return nil
	}
	for _, f := range Formats {
		if ps.FB.Format == f {
			return nil
		}
	}
	return fmt.Errorf("scanning out %v: %w", ps.FB.Format, hw.ErrUnsupportedFormat)
}

// Enable enables p and signals the completion of cs.
func (p *Pipe) Enable(cs CRTCState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = Enabled
	p.event = cs.Event
	p.sendVBlank()
}

// Disable disables p and signals the completion of cs.
func (p *Pipe) Disable(cs CRTCState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = Disabled
	p.event = cs.Event
	p.sendVBlank()
}

// Update signals the completion of ps and, if ps carries a framebuffer,
// makes it the current one and copies all of it to the hardware. After
// Detach, only the completion is signalled and Update returns false.
func (p *Pipe) Update(ps PlaneState) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.event = ps.Event
	p.sendVBlank()
	if p.detached {
		return false
	}
	if ps.FB == nil {
		return true
	}
	if ps.FB != p.fb {
		ps.FB.Get()
		if p.fb != nil {
			p.fb.Put()
		}
		p.fb = ps.FB
	}
	p.fb.flush(p.hw, p.fb.Bounds())
	return true
}

// Dirty copies the damaged parts of fb to the hardware, if fb is the current
// framebuffer of p. It reports whether fb is the current framebuffer.
func (p *Pipe) Dirty(fb *Framebuffer, clips []Clip) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fb == nil || fb != p.fb {
		return false
	}
	for _, r := range Damage(clips, fb.Width, fb.Height) {
		fb.flush(p.hw, r)
	}
	return true
}

// Detach drops the current framebuffer of p, if any, and disables it. No
// framebuffer can be installed afterwards.
func (p *Pipe) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detached = true
	if p.fb != nil {
		p.fb.Put()
		p.fb = nil
	}
	p.state = Disabled
}

// sendVBlank signals the pending event, if any. p.mu must be held.
func (p *Pipe) sendVBlank() {
	if p.event == nil {
		return
	}
	p.seq++
	p.event.signal(p.seq)
	p.event = nil
}

// Status is the connection status of a connector.
type Status int

const (
	Connected Status = iota + 1
	Disconnected
	Unknown
)

// Mode is a display mode.
type Mode struct {
	Width, Height int
	Refresh       int
	Preferred     bool
}

func (m Mode) String() string {
	return fmt.Sprintf("%dx%d", m.Width, m.Height)
}

// Connector is the virtual connector of a Pipe. The firmware framebuffer has
// no way to detect a monitor, so it is always connected and offers exactly
// the hardware mode.
type Connector struct {
	mode Mode
}

func (c *Connector) Detect() Status {
	return Connected
}

func (c *Connector) Modes() []Mode {
	return []Mode{c.mode}
}

// Bounds returns the screen rectangle of the connector's mode.
func (c *Connector) Bounds() image.Rectangle {
	return image.Rect(0, 0, c.mode.Width, c.mode.Height)
}

// Registry is the mode-setting layer pipes are registered with.
type Registry interface {
	Register(p *Pipe) error
	Unregister(p *Pipe)
}
