package hw

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDevMem(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mem")
	content := make([]byte, 3*4096)
	content[4096+100] = 0x17
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatal(err)
	}
	s, err := Identify(Descriptor{Width: 4, Height: 2, Stride: 16, Format: "x8r8g8b8", Base: 4096 + 100, Length: 32}, &DevMem{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Bind(); err != nil {
		t.Fatalf("Bind() = %v", err)
	}
	s.Do(func(mem []byte) {
		if mem[0] != 0x17 {
			t.Errorf("mem[0] = %#x, want %#x", mem[0], 0x17)
		}
		mem[1] = 0x18
	})
	s.Unbind()
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got[4096+101] != 0x18 {
		t.Errorf("write through mapping not persisted: %#x", got[4096+101])
	}
}
