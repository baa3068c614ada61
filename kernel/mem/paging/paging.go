// Package paging implements the 32-bit two-level page table manipulator:
// page directory and page table entries, translation, and the map/unmap
// operations every other allocator that needs fresh virtual mappings
// (the node pool, the dynamic virtual-range allocator) builds on.
package paging

import (
	"unsafe"

	"github.com/gopheros/gopher386/kernel"
	"github.com/gopheros/gopher386/kernel/cpu"
	"github.com/gopheros/gopher386/kernel/kfmt/early"
	"github.com/gopheros/gopher386/kernel/mem"
	"github.com/gopheros/gopher386/kernel/mem/frame"
	gosync "github.com/gopheros/gopher386/kernel/sync"
)

// Entry flag bits shared by page directory and page table entries.
const (
	FlagPresent  uint32 = 1 << 0
	FlagWritable uint32 = 1 << 1
	FlagUser     uint32 = 1 << 2
	FlagPSE      uint32 = 1 << 7 // page directory only: 4 MiB page

	entryFrameMask = ^uint32(mem.PageSize - 1)
	pseFrameMask   = ^uint32(4*mem.Mb - 1)

	entriesPerTable = 1024
	pdIndexShift    = 22
	ptIndexShift    = 12
	tableIndexMask  = 0x3FF
)

var (
	errUnaligned    = &kernel.Error{Module: "paging", Message: "address not page-aligned"}
	errMapConflict  = &kernel.Error{Module: "paging", Message: "mapping conflicts with an existing 4 MiB page"}
	errUnmapAbsent  = &kernel.Error{Module: "paging", Message: "unmap of an absent mapping"}
	errNoFreeFrames = &kernel.Error{Module: "paging", Message: "out of memory while allocating a page table"}

	// panicFn is mocked by tests.
	panicFn = kernel.Panic

	// flushTLBFn and allocateFrameFn/deallocateFrameFn indirect through the
	// frame allocator and CPU primitives so unit tests can exercise the
	// translation/mapping logic without real hardware underneath.
	flushTLBFn        = cpu.FlushTLBEntry
	allocateFrameFn   = frame.AllocateFrame
	deallocateFrameFn = frame.DeallocateFrame

	// tableView resolves the physical address of a page directory or page
	// table to a dereferenceable view of its 1024 entries. In production
	// this is the direct map (phys_to_virt); tests that do not run against
	// real physical memory override it to serve pre-allocated Go arrays
	// instead, the same way the reference vmm package's tests substitute a
	// real backing array for MapTemporary's return value.
	tableView = directMappedTableView
)

func directMappedTableView(phys mem.PhysAddr) *[entriesPerTable]uint32 {
	return mem.PhysAddrAsPointer[[entriesPerTable]uint32](phys)
}

type directoryState struct {
	phys mem.PhysAddr
}

var state gosync.Locked[directoryState]

// Init records phys as the currently active page directory's physical
// address. It does not touch CR3; the caller is responsible for ensuring
// phys is (or will be) the address the CPU is actually using.
func Init(phys mem.PhysAddr) {
	g := state.Lock()
	defer g.Release()
	g.Value().phys = phys
}

// Active returns the physical address of the page directory Init or
// SwitchTo last recorded.
func Active() mem.PhysAddr {
	g := state.Lock()
	defer g.Release()
	return g.Value().phys
}

// SwitchTo installs phys as the active page directory, both in our local
// bookkeeping and in CR3.
func SwitchTo(phys mem.PhysAddr) {
	g := state.Lock()
	defer g.Release()
	g.Value().phys = phys
	cpu.SwitchPDT(phys.Uintptr())
}

func activeDirectory() *[entriesPerTable]uint32 {
	g := state.Lock()
	defer g.Release()
	return tableView(g.Value().phys)
}

// NewDirectory allocates and zeroes a fresh, empty page directory, returning
// its physical address. It does not install it as active.
func NewDirectory() (mem.PhysAddr, *kernel.Error) {
	phys, err := allocateFrameFn()
	if err != nil {
		return 0, err
	}
	pd := tableView(phys)
	mem.Memset(uintptr(unsafe.Pointer(&pd[0])), 0, mem.Size(len(pd))*mem.Size(unsafe.Sizeof(pd[0])))
	return phys, nil
}

// Translate walks the active page directory and returns the physical
// address v maps to, or ok == false if no mapping exists.
func Translate(v mem.VirtAddr) (mem.PhysAddr, bool) {
	pd := activeDirectory()

	pdIndex := (v.Uintptr() >> pdIndexShift) & tableIndexMask
	pde := pd[pdIndex]
	if pde&FlagPresent == 0 {
		return 0, false
	}

	if pde&FlagPSE != 0 {
		base := mem.PhysAddr(pde & pseFrameMask)
		return base.Add(mem.Size(v.Uintptr() & uintptr(4*mem.Mb-1))), true
	}

	pt := tableView(mem.PhysAddr(pde & entryFrameMask))
	ptIndex := (v.Uintptr() >> ptIndexShift) & tableIndexMask
	pte := pt[ptIndex]
	if pte&FlagPresent == 0 {
		return 0, false
	}

	base := mem.PhysAddr(pte & entryFrameMask)
	return base.Add(mem.Size(v.Uintptr() & uintptr(mem.PageSize-1))), true
}

// MapPage installs a 4 KiB mapping from virt to phys with the given entry
// flags (PRESENT is implied and need not be set by the caller). Both
// addresses must already be page-aligned. Mapping into a virtual range
// currently covered by a 4 MiB page is fatal.
func MapPage(phys mem.PhysAddr, virt mem.VirtAddr, flags uint32) *kernel.Error {
	if !phys.Aligned(mem.PageSize) || !virt.Aligned(mem.PageSize) {
		return errUnaligned
	}

	pd := activeDirectory()
	pdIndex := (virt.Uintptr() >> pdIndexShift) & tableIndexMask
	pde := pd[pdIndex]

	switch {
	case pde&FlagPresent == 0:
		ptPhys, err := allocateFrameFn()
		if err != nil {
			return errNoFreeFrames
		}
		pt := tableView(ptPhys)
		mem.Memset(uintptr(unsafe.Pointer(&pt[0])), 0, mem.Size(len(pt))*mem.Size(unsafe.Sizeof(pt[0])))
		pd[pdIndex] = uint32(ptPhys) | FlagPresent | FlagWritable
		pde = pd[pdIndex]
	case pde&FlagPSE != 0:
		panicFn(errMapConflict)
		return errMapConflict
	}

	pt := tableView(mem.PhysAddr(pde & entryFrameMask))
	ptIndex := (virt.Uintptr() >> ptIndexShift) & tableIndexMask
	pt[ptIndex] = uint32(phys) | (flags & 0xFFF) | FlagPresent

	flushTLBFn(virt.Uintptr())
	return nil
}

// UnmapPage removes the mapping for virt, returns the frame that was mapped
// to the frame allocator, and invalidates the TLB entry. If the containing
// page table becomes entirely empty it is freed too and the PDE cleared.
// Unmapping a virtual address with no mapping, or one covered by a 4 MiB
// page, is fatal.
func UnmapPage(virt mem.VirtAddr) *kernel.Error {
	if !virt.Aligned(mem.PageSize) {
		return errUnaligned
	}

	pd := activeDirectory()
	pdIndex := (virt.Uintptr() >> pdIndexShift) & tableIndexMask
	pde := pd[pdIndex]

	if pde&FlagPresent == 0 || pde&FlagPSE != 0 {
		panicFn(errUnmapAbsent)
		return errUnmapAbsent
	}

	ptPhys := mem.PhysAddr(pde & entryFrameMask)
	pt := tableView(ptPhys)
	ptIndex := (virt.Uintptr() >> ptIndexShift) & tableIndexMask
	pte := pt[ptIndex]

	if pte&FlagPresent == 0 {
		panicFn(errUnmapAbsent)
		return errUnmapAbsent
	}

	freedFrame := mem.PhysAddr(pte & entryFrameMask)
	pt[ptIndex] = 0
	flushTLBFn(virt.Uintptr())
	deallocateFrameFn(freedFrame)

	if tableEmpty(pt) {
		deallocateFrameFn(ptPhys)
		pd[pdIndex] = 0
		early.Printf("[paging] freed empty page table at %x\n", ptPhys.Uintptr())
	}

	return nil
}

func tableEmpty(pt *[entriesPerTable]uint32) bool {
	for _, e := range pt {
		if e&FlagPresent != 0 {
			return false
		}
	}
	return true
}
