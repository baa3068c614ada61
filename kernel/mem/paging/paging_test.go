package paging

import (
	"testing"

	"github.com/gopheros/gopher386/kernel"
	"github.com/gopheros/gopher386/kernel/mem"
)

// fakeFrames backs allocateFrameFn/tableView for tests with real Go arrays
// instead of the direct map, which has nothing mapped in a hosted test
// process. Each "physical address" handed out is just an index into backing;
// tableView looks the array back up by that index.
type fakeFrames struct {
	backing []*[entriesPerTable]uint32
	freed   map[mem.PhysAddr]bool
}

func newFakeFrames() *fakeFrames {
	return &fakeFrames{freed: make(map[mem.PhysAddr]bool)}
}

func (f *fakeFrames) alloc() (mem.PhysAddr, *kernel.Error) {
	var table [entriesPerTable]uint32
	f.backing = append(f.backing, &table)
	return mem.PhysAddr((len(f.backing) - 1) * int(mem.PageSize)), nil
}

func (f *fakeFrames) dealloc(p mem.PhysAddr) {
	f.freed[p] = true
}

func (f *fakeFrames) view(p mem.PhysAddr) *[entriesPerTable]uint32 {
	idx := int(p.Uintptr() / uintptr(mem.PageSize))
	return f.backing[idx]
}

func installFakeFrames(t *testing.T) *fakeFrames {
	t.Helper()

	f := newFakeFrames()

	origAlloc, origDealloc, origView, origFlush, origPanic := allocateFrameFn, deallocateFrameFn, tableView, flushTLBFn, panicFn
	t.Cleanup(func() {
		allocateFrameFn, deallocateFrameFn, tableView, flushTLBFn, panicFn = origAlloc, origDealloc, origView, origFlush, origPanic
	})

	allocateFrameFn = f.alloc
	deallocateFrameFn = f.dealloc
	tableView = f.view
	flushTLBFn = func(uintptr) {}

	pdPhys, err := NewDirectory()
	if err != nil {
		t.Fatalf("failed to allocate a fresh directory: %v", err)
	}
	Init(pdPhys)

	return f
}

func TestTranslateUnmappedReturnsFalse(t *testing.T) {
	installFakeFrames(t)

	if _, ok := Translate(mem.VirtAddr(0xD0000000)); ok {
		t.Fatal("expected no mapping for an untouched virtual address")
	}
}

func TestMapTranslateUnmapRoundTrip(t *testing.T) {
	f := installFakeFrames(t)

	phys, err := f.alloc()
	if err != nil {
		t.Fatalf("unexpected error allocating test frame: %v", err)
	}

	virt := mem.VirtAddr(0xE0000000)
	if mapErr := MapPage(phys, virt, FlagWritable); mapErr != nil {
		t.Fatalf("unexpected MapPage error: %v", mapErr)
	}

	got, ok := Translate(virt)
	if !ok {
		t.Fatal("expected a mapping to exist after MapPage")
	}
	if got != phys {
		t.Fatalf("expected Translate(%#x) == %#x; got %#x", virt.Uintptr(), phys.Uintptr(), got.Uintptr())
	}

	if unmapErr := UnmapPage(virt); unmapErr != nil {
		t.Fatalf("unexpected UnmapPage error: %v", unmapErr)
	}

	if _, ok := Translate(virt); ok {
		t.Fatal("expected no mapping after UnmapPage")
	}
}

func TestUnmapReturnsFrameToAllocator(t *testing.T) {
	f := installFakeFrames(t)

	phys, err := f.alloc()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	virt := mem.VirtAddr(0xE0000000)
	if mapErr := MapPage(phys, virt, FlagWritable); mapErr != nil {
		t.Fatalf("unexpected MapPage error: %v", mapErr)
	}
	if unmapErr := UnmapPage(virt); unmapErr != nil {
		t.Fatalf("unexpected UnmapPage error: %v", unmapErr)
	}

	if !f.freed[phys] {
		t.Fatalf("expected frame %#x to be returned to the allocator on unmap", phys.Uintptr())
	}
}

func TestUnmapFreesEmptyPageTable(t *testing.T) {
	f := installFakeFrames(t)

	phys, err := f.alloc()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	virt := mem.VirtAddr(0xE0000000)
	if mapErr := MapPage(phys, virt, FlagWritable); mapErr != nil {
		t.Fatalf("unexpected MapPage error: %v", mapErr)
	}

	pd := activeDirectory()
	pdIndex := (virt.Uintptr() >> pdIndexShift) & tableIndexMask
	ptPhys := mem.PhysAddr(pd[pdIndex] & entryFrameMask)

	if unmapErr := UnmapPage(virt); unmapErr != nil {
		t.Fatalf("unexpected UnmapPage error: %v", unmapErr)
	}

	if !f.freed[ptPhys] {
		t.Fatal("expected the now-empty page table frame to be freed")
	}
	if pd[pdIndex] != 0 {
		t.Fatal("expected the PDE to be cleared once its page table is freed")
	}
}

func TestMapPageRejectsUnalignedAddresses(t *testing.T) {
	installFakeFrames(t)

	if err := MapPage(mem.PhysAddr(1), mem.VirtAddr(0xE0000000), FlagWritable); err != errUnaligned {
		t.Fatalf("expected errUnaligned; got %v", err)
	}
	if err := MapPage(mem.PhysAddr(0), mem.VirtAddr(0xE0000001), FlagWritable); err != errUnaligned {
		t.Fatalf("expected errUnaligned; got %v", err)
	}
}

func TestUnmapAbsentMappingPanics(t *testing.T) {
	installFakeFrames(t)

	var panicked bool
	panicFn = func(interface{}) { panicked = true }

	UnmapPage(mem.VirtAddr(0xE0000000))

	if !panicked {
		t.Fatal("expected UnmapPage of an absent mapping to invoke the panic path")
	}
}

func TestMapConflictWithPSEPagePanics(t *testing.T) {
	installFakeFrames(t)

	pd := activeDirectory()
	pdIndex := (uintptr(0xE0000000) >> pdIndexShift) & tableIndexMask
	pd[pdIndex] = uint32(4*mem.Mb) | FlagPresent | FlagPSE

	var panicked bool
	panicFn = func(interface{}) { panicked = true }

	MapPage(mem.PhysAddr(0), mem.VirtAddr(0xE0000000), FlagWritable)

	if !panicked {
		t.Fatal("expected MapPage to panic when the PDE already maps a 4 MiB page")
	}
}

func TestTranslatePSEPage(t *testing.T) {
	installFakeFrames(t)

	pd := activeDirectory()
	virt := mem.VirtAddr(0xE0000000)
	pdIndex := (virt.Uintptr() >> pdIndexShift) & tableIndexMask
	pd[pdIndex] = uint32(8*mem.Mb) | FlagPresent | FlagPSE

	got, ok := Translate(virt.Add(mem.Size(0x1234)))
	if !ok {
		t.Fatal("expected a mapping through the PSE entry")
	}
	if want := mem.PhysAddr(8*mem.Mb + 0x1234); got != want {
		t.Fatalf("expected %#x; got %#x", want.Uintptr(), got.Uintptr())
	}
}
