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

// Package power binds the clocks and regulators a firmware framebuffer
// depends on. Binding is best effort: a resource that can not be found or
// enabled is logged and left alone, unless its provider asks to be tried
// again later.
package power

import (
	"errors"
	"fmt"
	"log"
)

// ErrProbeDefer is returned by a Ref whose provider is not ready yet. It
// aborts the whole bind; the caller is expected to retry later.
var ErrProbeDefer = errors.New("probe deferred")

// Kind is the kind of a power resource.
type Kind int

const (
	Clock Kind = iota
	Regulator
)

func (k Kind) String() string {
	switch k {
	case Clock:
		return "clock"
	case Regulator:
		return "regulator"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Resource is an acquired clock or regulator.
type Resource interface {
	Enable() error
	Disable() error
	// Put gives up the resource. It is disabled, if it was enabled.
	Put()
}

// Ref names a resource and how to acquire it.
type Ref struct {
	Kind Kind
	Name string
	Get  func() (Resource, error)
}

// Set is a set of enabled resources.
type Set struct {
	clocks     []Resource
	regulators []Resource
}

// Bind acquires and enables the resources referred to by refs. Clocks are
// bound before regulators. Failures are logged to l and the affected resource
// is skipped; only ErrProbeDefer is returned, after releasing everything
// acquired so far.
func Bind(l *log.Logger, refs []Ref) (*Set, error) {
	s := new(Set)
	for _, k := range []Kind{Clock, Regulator} {
		if err := s.bind(l, k, refs); err != nil {
			s.Unbind(l)
			return nil, err
		}
	}
	return s, nil
}

func (s *Set) bind(l *log.Logger, k Kind, refs []Ref) error {
	var got []Resource
	var names []string
	for _, r := range refs {
		if r.Kind != k {
			continue
		}
		res, err := r.Get()
		if errors.Is(err, ErrProbeDefer) {
			for _, res := range got {
				res.Put()
			}
			return fmt.Errorf("%v %s: %w", k, r.Name, err)
		}
		if err != nil {
			l.Printf("cannot find %v %s: %v", k, r.Name, err)
			continue
		}
		got, names = append(got, res), append(names, r.Name)
	}
	var enabled []Resource
	for i, res := range got {
		if err := res.Enable(); err != nil {
			l.Printf("cannot enable %v %s: %v", k, names[i], err)
			res.Put()
			continue
		}
		enabled = append(enabled, res)
	}
	if k == Clock {
		s.clocks = enabled
	} else {
		s.regulators = enabled
	}
	return nil
}

// Len returns the number of enabled resources of kind k.
func (s *Set) Len(k Kind) int {
	if s == nil {
		return 0
	}
	if k == Clock {
		return len(s.clocks)
	}
	return len(s.regulators)
}

// Unbind disables and releases all resources in s, regulators first.
func (s *Set) Unbind(l *log.Logger) {
	if s == nil {
		return
	}
	for _, rs := range [][]Resource{s.regulators, s.clocks} {
		for _, r := range rs {
			if err := r.Disable(); err != nil {
				l.Printf("disabling power resource: %v", err)
			}
			r.Put()
		}
	}
	s.regulators, s.clocks = nil, nil
}
