package gem

import (
	"errors"
	"math"
	"testing"
)

// countingPages wraps HeapPages and records what happens to the pages.
type countingPages struct {
	pins, releases, vmaps, vunmaps int
	failPin, failVmap              bool
}

func (c *countingPages) Pin(n int) (Pages, error) {
	if c.failPin {
		return nil, errors.New("no pages left")
	}
	c.pins++
	p, _ := HeapPages{}.Pin(n)
	return &countedPages{Pages: p, c: c}, nil
}

type countedPages struct {
	Pages
	c *countingPages
}

func (p *countedPages) Vmap() ([]byte, error) {
	if p.c.failVmap {
		return nil, errors.New("no address space left")
	}
	p.c.vmaps++
	return p.Pages.Vmap()
}

func (p *countedPages) Vunmap(b []byte) error {
	p.c.vunmaps++
	return p.Pages.Vunmap(b)
}

func (p *countedPages) Release() error {
	if p.c.vunmaps != p.c.vmaps {
		panic("pages released while still mapped")
	}
	p.c.releases++
	return p.Pages.Release()
}

func TestNewInvalidSize(t *testing.T) {
	for _, size := range []int{0, -PageSize, 1, PageSize + 1, PageSize - 1} {
		if _, err := New(HeapPages{}, size); !errors.Is(err, ErrInvalidSize) {
			t.Errorf("New(%d) = _, %v, want %v", size, err, ErrInvalidSize)
		}
	}
}

func TestMapIsLazyAndIdempotent(t *testing.T) {
	c := new(countingPages)
	o, err := New(c, 3*PageSize)
	if err != nil {
		t.Fatal(err)
	}
	if c.pins != 0 {
		t.Fatalf("New pinned %d page sets, want 0", c.pins)
	}
	if o.Vmapping() != nil {
		t.Fatal("Vmapping() != nil before Map")
	}
	m1, err := o.Map()
	if err != nil {
		t.Fatalf("Map() = _, %v", err)
	}
	if len(m1) != 3*PageSize {
		t.Fatalf("len(Map()) = %d, want %d", len(m1), 3*PageSize)
	}
	m2, err := o.Map()
	if err != nil {
		t.Fatalf("Map() = _, %v", err)
	}
	if &m1[0] != &m2[0] {
		t.Error("second Map() returned a different mapping")
	}
	if c.pins != 1 || c.vmaps != 1 {
		t.Errorf("pins, vmaps = %d, %d, want 1, 1", c.pins, c.vmaps)
	}
	o.Put()
	if c.vunmaps != 1 || c.releases != 1 {
		t.Errorf("after Put: vunmaps, releases = %d, %d, want 1, 1", c.vunmaps, c.releases)
	}
}

func TestMapFailureReleasesPages(t *testing.T) {
	c := &countingPages{failVmap: true}
	o, err := New(c, PageSize)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Map(); !errors.Is(err, ErrNoMemory) {
		t.Fatalf("Map() = _, %v, want %v", err, ErrNoMemory)
	}
	if c.pins != 1 || c.releases != 1 {
		t.Errorf("pins, releases = %d, %d, want 1, 1", c.pins, c.releases)
	}
	c.failVmap = false
	if _, err := o.Map(); err != nil {
		t.Fatalf("Map() after failure = _, %v", err)
	}
	o.Put()
	if c.pins != 2 || c.releases != 2 {
		t.Errorf("pins, releases = %d, %d, want 2, 2", c.pins, c.releases)
	}

	c = &countingPages{failPin: true}
	o, _ = New(c, PageSize)
	if _, err := o.Map(); !errors.Is(err, ErrNoMemory) {
		t.Fatalf("Map() = _, %v, want %v", err, ErrNoMemory)
	}
	o.Put()
}

func TestDestroyUnmappedObject(t *testing.T) {
	c := new(countingPages)
	o, _ := New(c, PageSize)
	o.Put()
	if c.pins != 0 || c.releases != 0 || c.vunmaps != 0 {
		t.Errorf("destroying an unmapped object touched pages: %+v", *c)
	}
}

func TestReferences(t *testing.T) {
	c := new(countingPages)
	o, _ := New(c, PageSize)
	if _, err := o.Map(); err != nil {
		t.Fatal(err)
	}
	o.Get()
	o.Put()
	if c.releases != 0 {
		t.Fatal("object destroyed while a reference was outstanding")
	}
	if !o.TryGet() {
		t.Fatal("TryGet() on a live object failed")
	}
	o.Put()
	o.Put()
	if c.releases != 1 {
		t.Fatalf("releases = %d, want 1", c.releases)
	}
	if o.TryGet() {
		t.Error("TryGet() on a destroyed object succeeded")
	}
}

func TestDumb(t *testing.T) {
	tcs := []struct {
		w, h, bpp   int
		pitch, size int
	}{
		{64, 64, 32, 256, 4 * PageSize},
		{640, 480, 16, 1280, PageAlign(1280 * 480)},
		{3, 1, 24, 9, PageSize},
		{1, 1, 15, 2, PageSize},
	}
	for _, tc := range tcs {
		pitch, size, err := Dumb(tc.w, tc.h, tc.bpp)
		if err != nil || pitch != tc.pitch || size != tc.size {
			t.Errorf("Dumb(%d, %d, %d) = %d, %d, %v, want %d, %d, <nil>", tc.w, tc.h, tc.bpp, pitch, size, err, tc.pitch, tc.size)
		}
	}
	for _, tc := range [][3]int{
		{0, 1, 32},
		{1, 1, -1},
		{math.MaxInt/4 + 1, 1, 32},
		{16, math.MaxInt / 8, 32},
		{math.MaxInt / 4, 1, 32},
	} {
		if _, _, err := Dumb(tc[0], tc[1], tc[2]); !errors.Is(err, ErrInvalidSize) {
			t.Errorf("Dumb(%d, %d, %d) = _, _, %v, want %v", tc[0], tc[1], tc[2], err, ErrInvalidSize)
		}
	}
}

func TestOnFree(t *testing.T) {
	o, _ := New(HeapPages{}, PageSize)
	called := 0
	o.OnFree(func() { called++ })
	o.Get()
	o.Put()
	if called != 0 {
		t.Fatal("OnFree hook ran before the last reference was dropped")
	}
	o.Put()
	if called != 1 {
		t.Fatalf("OnFree hook ran %d times, want 1", called)
	}
}
