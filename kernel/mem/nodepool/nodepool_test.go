package nodepool

import (
	"testing"
	"unsafe"

	"github.com/gopheros/gopher386/kernel"
	"github.com/gopheros/gopher386/kernel/mem"
)

// resetForTest repoints Base at a real Go-allocated backing array so
// Alloc/Free dereference addressable memory instead of the fixed kernel
// virtual base (which has nothing mapped in a hosted test process), and
// clears the bitmap directly, bypassing Init's frame/paging dependencies.
func resetForTest(t *testing.T) *[capacity]Node {
	t.Helper()

	backing := new([capacity]Node)
	origBase := Base
	t.Cleanup(func() { Base = origBase })
	Base = mem.VirtAddrFromUintptr(uintptr(unsafe.Pointer(&backing[0])))

	g := state.Lock()
	for i := range g.Value().bitmap {
		g.Value().bitmap[i] = 0
	}
	g.Value().nextFreeIdx = 0
	g.Release()

	return backing
}

func TestAllocReturnsDistinctZeroedSlots(t *testing.T) {
	resetForTest(t)

	seen := make(map[*Node]bool)
	for i := 0; i < 8; i++ {
		n, err := Alloc()
		if err != nil {
			t.Fatalf("[alloc %d] unexpected error: %v", i, err)
		}
		if seen[n] {
			t.Fatalf("[alloc %d] slot %p returned twice", i, n)
		}
		seen[n] = true
		if n.Next != nil || n.Prev != nil || n.Value != 0 {
			t.Fatalf("[alloc %d] expected a zeroed node; got %+v", i, n)
		}
	}
}

func TestFreeSlotIsReused(t *testing.T) {
	resetForTest(t)

	n1, err := Alloc()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n2, err := Alloc()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n1 == n2 {
		t.Fatal("expected distinct slots")
	}

	if err := Free(n1); err != nil {
		t.Fatalf("unexpected error freeing n1: %v", err)
	}

	n3, err := Alloc()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n3 != n1 {
		t.Fatalf("expected the freed slot to be reused; got %p, want %p", n3, n1)
	}
}

func TestAllocPoolExhausted(t *testing.T) {
	resetForTest(t)

	for i := 0; i < capacity; i++ {
		if _, err := Alloc(); err != nil {
			t.Fatalf("[alloc %d] unexpected error: %v", i, err)
		}
	}

	if _, err := Alloc(); err != errPoolFull {
		t.Fatalf("expected errPoolFull; got %v", err)
	}
}

func TestFreeOutOfBoundsPointer(t *testing.T) {
	resetForTest(t)

	var stray Node
	if err := Free(&stray); err != errOutOfBounds {
		t.Fatalf("expected errOutOfBounds; got %v", err)
	}
}

func TestFreeDoubleFreePanics(t *testing.T) {
	resetForTest(t)
	defer func(orig func(interface{})) { panicFn = orig }(panicFn)

	n, err := Alloc()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := Free(n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var panicked bool
	panicFn = func(interface{}) { panicked = true }

	Free(n)

	if !panicked {
		t.Fatal("expected a double free to invoke the panic path")
	}
}

func TestInitMapsExpectedPageCount(t *testing.T) {
	var mappedVirt []mem.VirtAddr
	var framesGiven int

	origAlloc, origMap := allocateFrameFn, mapPageFn
	defer func() { allocateFrameFn, mapPageFn = origAlloc, origMap }()

	allocateFrameFn = func() (mem.PhysAddr, *kernel.Error) {
		framesGiven++
		return mem.PhysAddr(framesGiven * int(mem.PageSize)), nil
	}
	mapPageFn = func(phys mem.PhysAddr, virt mem.VirtAddr, flags uint32) *kernel.Error {
		mappedVirt = append(mappedVirt, virt)
		return nil
	}

	if err := Init(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantPages := (mem.Size(capacity) * nodeSize).Pages()
	if uint32(len(mappedVirt)) != wantPages {
		t.Fatalf("expected %d pages mapped; got %d", wantPages, len(mappedVirt))
	}
	for i, v := range mappedVirt {
		if want := Base.Add(mem.Size(i) * mem.PageSize); v != want {
			t.Errorf("[page %d] expected virt %#x; got %#x", i, want.Uintptr(), v.Uintptr())
		}
	}
}
