// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package vpath

import (
	"bytes"
	"strings"
	"testing"
)

func TestFromNativeRoundTrip(t *testing.T) {
	cases := []string{"a/b/c", "single", "", "a.b.c/d.e"}
	for _, c := range cases {
		p, err := FromNative(c)
		if err != nil {
			t.Fatalf("FromNative(%q): %v", c, err)
		}
		if got := p.ToNative(); got != c {
			t.Errorf("round trip: got %q, want %q", got, c)
		}
	}
}

func TestFromNativeRejectsNUL(t *testing.T) {
	if _, err := FromNative("a\x00b"); err == nil {
		t.Fatal("expected error for embedded NUL")
	}
}

func TestFromNativeRejectsTooLong(t *testing.T) {
	long := strings.Repeat("a", MaxLength+1)
	if _, err := FromNative(long); err == nil {
		t.Fatal("expected error for over-length path")
	}
}

func TestCropToUnchangedWhenShort(t *testing.T) {
	p, _ := FromBytes([]byte("short/path.txt"))
	cropped := p.CropTo(100)
	if !bytes.Equal(cropped, p.Bytes()) {
		t.Errorf("expected unchanged path, got %q", cropped)
	}
}

func TestCropToProducesExactLength(t *testing.T) {
	long := strings.Repeat("x", 200) + ".ext"
	p, err := FromBytes([]byte(long))
	if err != nil {
		t.Fatal(err)
	}
	cropped := p.CropTo(50)
	if len(cropped) != 50 {
		t.Errorf("cropped length = %d, want 50", len(cropped))
	}
	if !strings.HasSuffix(string(cropped), ".ext") {
		t.Errorf("expected extension preserved, got %q", cropped)
	}
}

func TestCropToDiffersForDifferentPaths(t *testing.T) {
	a, _ := FromBytes([]byte(strings.Repeat("a", 200)))
	b, _ := FromBytes([]byte(strings.Repeat("b", 200)))
	ca := a.CropTo(50)
	cb := b.CropTo(50)
	if bytes.Equal(ca, cb) {
		t.Error("expected different crops for different paths")
	}
}

func TestSplitParent(t *testing.T) {
	p, _ := FromBytes([]byte("a/b/c"))
	dir, base := p.SplitParent()
	if string(dir) != "a/b" || string(base) != "c" {
		t.Errorf("got dir=%q base=%q", dir, base)
	}

	p2, _ := FromBytes([]byte("nosep"))
	dir2, base2 := p2.SplitParent()
	if dir2 != nil || string(base2) != "nosep" {
		t.Errorf("got dir=%q base=%q", dir2, base2)
	}
}

func TestToExternalToLocal(t *testing.T) {
	local, _ := FromNative("a/b")
	ext := ToExternal(local)
	back := ToLocal(ext)
	if back.String() != local.String() {
		t.Errorf("cast round trip mismatch: %q vs %q", back.String(), local.String())
	}
}
