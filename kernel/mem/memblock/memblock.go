// Package memblock implements the earliest physical memory allocator: a
// first-fit region allocator seeded directly from the bootloader's memory
// map. It serves the handful of large, permanent allocations (frame bitmap
// storage, node-pool storage) needed before the frame, buddy and slab
// allocators exist. It has no deallocate operation; once the later
// allocators are up the remaining available regions are simply abandoned.
package memblock

import (
	"github.com/gopheros/gopher386/kernel"
	"github.com/gopheros/gopher386/kernel/mem"
)

// maxRegions bounds each of the available/reserved region arrays.
const maxRegions = 64

var (
	errOutOfRegionSlots = &kernel.Error{Module: "memblock", Message: "region table full"}
	errDeallocUnsupported = &kernel.Error{Module: "memblock", Message: "dealloc is not supported"}

	// panicFn is mocked by tests and is automatically inlined by the compiler.
	panicFn = kernel.Panic
)

// MemRegion is a contiguous physical range tracked by the allocator. The
// zero value is the "empty" sentinel used to mark unused array slots.
type MemRegion struct {
	Base mem.PhysAddr
	Size mem.Size
}

func (r MemRegion) empty() bool {
	return r.Base == 0 && r.Size == 0
}

// Layout describes an allocation request, mirroring Rust's core::alloc::Layout.
type Layout struct {
	Size  mem.Size
	Align mem.Size
}

// allocator is the single package-level instance; the kernel only ever
// needs one memblock allocator.
var allocator state

type state struct {
	available [maxRegions]MemRegion
	reserved  [maxRegions]MemRegion
	availCnt  int
	reservCnt int
}

// Init populates the available list from every Available segment in
// segments. It panics if more Available segments are reported than
// maxRegions can track.
func Init(segments []mem.MemorySegment) {
	allocator = state{}
	for _, seg := range segments {
		switch seg.Kind {
		case mem.Available:
			if !allocator.addAvailable(MemRegion{Base: seg.Start, Size: seg.Len}) {
				panicFn(errOutOfRegionSlots)
			}
		case mem.Reserved:
			allocator.addReserved(MemRegion{Base: seg.Start, Size: seg.Len})
		}
	}
}

// addAvailable inserts r into the first empty slot of available. The table
// is sparse (removal leaves a hole rather than compacting), so insertion
// must scan for a free slot instead of trusting a front-packed counter.
func (s *state) addAvailable(r MemRegion) bool {
	for i := range s.available {
		if s.available[i].empty() {
			s.available[i] = r
			s.availCnt++
			return true
		}
	}
	return false
}

// addReserved records r in the first empty slot of the reserved table.
// Overflow is tolerated here (unlike addAvailable): reserved bookkeeping
// beyond maxRegions entries only affects diagnostics, never correctness of
// future Alloc calls.
func (s *state) addReserved(r MemRegion) bool {
	for i := range s.reserved {
		if s.reserved[i].empty() {
			s.reserved[i] = r
			s.reservCnt++
			return true
		}
	}
	return false
}

func (s *state) removeAvailable(i int) {
	s.available[i] = MemRegion{}
	s.availCnt--
}

// Alloc returns a physical address satisfying layout, or 0 if no available
// region can satisfy it. Both size and alignment are rounded up to at least
// PAGE_SIZE. The chosen region is removed from available; any leading
// alignment gap and trailing remainder are reinserted as new available
// regions, and the allocated range is appended to reserved.
func Alloc(layout Layout) mem.PhysAddr {
	if layout.Size == 0 {
		return 0
	}

	allocSize := roundUp(layout.Size, mem.PageSize)
	requiredAlign := layout.Align
	if requiredAlign < mem.PageSize {
		requiredAlign = mem.PageSize
	}

	foundIndex := -1
	var alignedAddr mem.PhysAddr
	for i := 0; i < maxRegions; i++ {
		region := allocator.available[i]
		if region.empty() || region.Size < allocSize {
			continue
		}

		candidate := region.Base.AlignUp(requiredAlign)
		alignmentOffset := candidate.Sub(region.Base)
		if region.Size >= alignmentOffset+allocSize {
			foundIndex = i
			alignedAddr = candidate
			break
		}
	}

	if foundIndex == -1 {
		return 0
	}

	region := allocator.available[foundIndex]
	allocator.removeAvailable(foundIndex)

	allocator.addReserved(MemRegion{Base: alignedAddr, Size: allocSize})

	if gap := alignedAddr.Sub(region.Base); gap > 0 {
		allocator.addAvailable(MemRegion{Base: region.Base, Size: gap})
	}

	consumed := alignedAddr.Sub(region.Base) + allocSize
	if remaining := region.Size - consumed; remaining > 0 {
		allocator.addAvailable(MemRegion{Base: alignedAddr.Add(allocSize), Size: remaining})
	}

	return alignedAddr
}

// Dealloc is unsupported: Memblock is abandoned once the frame, buddy and
// slab allocators take over, so nothing ever frees through it. Calling it
// is a logic error.
func Dealloc(mem.PhysAddr, Layout) {
	panicFn(errDeallocUnsupported)
}

// VisitAvailable invokes visitor once for every non-empty available region,
// in array order.
func VisitAvailable(visitor func(MemRegion)) {
	for i := 0; i < maxRegions; i++ {
		if r := allocator.available[i]; !r.empty() {
			visitor(r)
		}
	}
}

// VisitReserved invokes visitor once for every non-empty reserved region, in
// array order.
func VisitReserved(visitor func(MemRegion)) {
	for i := 0; i < maxRegions; i++ {
		if r := allocator.reserved[i]; !r.empty() {
			visitor(r)
		}
	}
}

func roundUp(v, align mem.Size) mem.Size {
	return (v + align - 1) &^ (align - 1)
}
