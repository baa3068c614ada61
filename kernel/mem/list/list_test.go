package list

import (
	"os"
	"testing"
	"unsafe"

	"github.com/gopheros/gopher386/kernel/mem"
	"github.com/gopheros/gopher386/kernel/mem/nodepool"
)

// nodepool's default backing address (the fixed kernel virtual base) has
// nothing mapped in a hosted test process, so TestMain repoints it at a real
// Go-allocated array before any test in this package runs.
var nodeBacking [4096]nodepool.Node

func TestMain(m *testing.M) {
	nodepool.Base = mem.VirtAddrFromUintptr(uintptr(unsafe.Pointer(&nodeBacking[0])))
	os.Exit(m.Run())
}

func TestPushFrontPopFrontOrdering(t *testing.T) {
	var l List

	for _, v := range []mem.PhysAddr{0x1000, 0x2000, 0x3000} {
		if err := l.PushFront(v); err != nil {
			t.Fatalf("unexpected error pushing %#x: %v", v, err)
		}
	}

	want := []mem.PhysAddr{0x3000, 0x2000, 0x1000}
	for i, w := range want {
		got, ok := l.PopFront()
		if !ok {
			t.Fatalf("[pop %d] expected an element", i)
		}
		if got != w {
			t.Fatalf("[pop %d] expected %#x; got %#x", i, w, got)
		}
	}

	if !l.Empty() {
		t.Fatal("expected list to be empty")
	}
	if _, ok := l.PopFront(); ok {
		t.Fatal("expected PopFront on an empty list to report ok == false")
	}
}

func TestPushBackPopBackOrdering(t *testing.T) {
	var l List

	for _, v := range []mem.PhysAddr{0x1000, 0x2000, 0x3000} {
		if err := l.PushBack(v); err != nil {
			t.Fatalf("unexpected error pushing %#x: %v", v, err)
		}
	}

	want := []mem.PhysAddr{0x3000, 0x2000, 0x1000}
	for i, w := range want {
		got, ok := l.PopBack()
		if !ok {
			t.Fatalf("[pop %d] expected an element", i)
		}
		if got != w {
			t.Fatalf("[pop %d] expected %#x; got %#x", i, w, got)
		}
	}
}

func TestLenTracksPushesAndPops(t *testing.T) {
	var l List

	for i, v := range []mem.PhysAddr{0x1000, 0x2000, 0x3000} {
		l.PushBack(v)
		if got, want := l.Len(), i+1; got != want {
			t.Fatalf("[push %d] expected length %d; got %d", i, want, got)
		}
	}

	for i := 0; i < 3; i++ {
		l.PopFront()
		if got, want := l.Len(), 2-i; got != want {
			t.Fatalf("[pop %d] expected length %d; got %d", i, want, got)
		}
	}
}

func TestRemoveMiddleElement(t *testing.T) {
	var l List

	l.PushBack(0x1000)
	l.PushBack(0x2000)
	l.PushBack(0x3000)

	if !l.Remove(0x2000) {
		t.Fatal("expected Remove to find 0x2000")
	}
	if l.Contains(0x2000) {
		t.Fatal("expected 0x2000 to no longer be linked")
	}
	if l.Len() != 2 {
		t.Fatalf("expected length 2; got %d", l.Len())
	}

	got, ok := l.PopFront()
	if !ok || got != 0x1000 {
		t.Fatalf("expected remaining head 0x1000; got %#x, ok=%v", got, ok)
	}
	got, ok = l.PopFront()
	if !ok || got != 0x3000 {
		t.Fatalf("expected remaining tail 0x3000; got %#x, ok=%v", got, ok)
	}
}

func TestRemoveMissingReportsFalse(t *testing.T) {
	var l List
	l.PushBack(0x1000)

	if l.Remove(0x9999) {
		t.Fatal("expected Remove of a value not in the list to report false")
	}
	if l.Len() != 1 {
		t.Fatalf("expected length unchanged at 1; got %d", l.Len())
	}
}
