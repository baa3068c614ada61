// Package frame implements the bitmap-based physical frame allocator: once
// Memblock has reported the available memory regions, this package hands out
// and reclaims individual 4 KiB physical frames for the rest of the kernel's
// lifetime.
package frame

import (
	"unsafe"

	"github.com/gopheros/gopher386/kernel"
	"github.com/gopheros/gopher386/kernel/kfmt/early"
	"github.com/gopheros/gopher386/kernel/mem"
	"github.com/gopheros/gopher386/kernel/mem/memblock"
	gosync "github.com/gopheros/gopher386/kernel/sync"
)

const (
	totalFrames     = 1 << (32 - mem.PageShift)
	bitmapEntryBits = 64
	bitmapWordCount = (totalFrames + bitmapEntryBits - 1) / bitmapEntryBits
)

var (
	errFrameOutOfMemory = &kernel.Error{Module: "frame", Message: "out of memory"}

	// KernelStart and KernelEnd are the physical bounds of the loaded
	// kernel image, provided by the linker-supplied symbols
	// _kernel_physical_start/_kernel_physical_end. They must be set
	// before calling Init.
	KernelStart, KernelEnd mem.PhysAddr
)

type bitmapState struct {
	words       [bitmapWordCount]uint64
	nextFreeIdx int
}

var state gosync.Locked[bitmapState]

// Init materializes the frame bitmap from the regions Memblock currently
// reports as available, then marks the kernel image and the bitmap's own
// backing storage as used. It must be called exactly once, after Memblock
// has been populated and before the first AllocateFrame call.
func Init() {
	g := state.Lock()
	defer g.Release()
	s := g.Value()

	for i := range s.words {
		s.words[i] = ^uint64(0)
	}
	s.nextFreeIdx = 0

	memblock.VisitAvailable(func(region memblock.MemRegion) {
		clearRange(s, region.Base, region.Base.Add(region.Size))
	})

	markRangeUsed(s, KernelStart, KernelEnd)

	bitmapPhysStart, bitmapPhysEnd := bitmapExtent(s)
	markRangeUsed(s, bitmapPhysStart, bitmapPhysEnd)

	early.Printf("[frame] total frames tracked: %d\n", totalFrames)
}

// bitmapExtent returns the physical address range occupied by the bitmap
// word array itself, derived from its virtual address via KernelOffset. The
// caller must already hold the lock protecting s.
func bitmapExtent(s *bitmapState) (mem.PhysAddr, mem.PhysAddr) {
	virt := mem.VirtAddrFromUintptr(uintptr(unsafe.Pointer(&s.words[0])))
	phys := mem.PhysAddr(virt - mem.KernelOffset)
	size := mem.Size(bitmapWordCount * 8)
	return phys, phys.Add(size)
}

func clearRange(s *bitmapState, start, end mem.PhysAddr) {
	firstFrame := int(start.AlignUp(mem.PageSize).Uintptr() >> mem.PageShift)
	lastFrame := int(end.AlignDown(mem.PageSize).Uintptr() >> mem.PageShift)
	for frameIdx := firstFrame; frameIdx < lastFrame; frameIdx++ {
		if frameIdx >= totalFrames {
			break
		}
		s.words[frameIdx/bitmapEntryBits] &^= 1 << uint(frameIdx%bitmapEntryBits)
	}
}

func markRangeUsed(s *bitmapState, start, end mem.PhysAddr) {
	firstFrame := int(start.Uintptr() >> mem.PageShift)
	lastFrame := int(end.AlignUp(mem.PageSize).Uintptr() >> mem.PageShift)
	for frameIdx := firstFrame; frameIdx < lastFrame; frameIdx++ {
		if frameIdx >= totalFrames {
			break
		}
		s.words[frameIdx/bitmapEntryBits] |= 1 << uint(frameIdx%bitmapEntryBits)
	}
}

// AllocateFrame reserves and returns the physical address of a free 4 KiB
// frame, or errFrameOutOfMemory if none remain.
func AllocateFrame() (mem.PhysAddr, *kernel.Error) {
	g := state.Lock()
	defer g.Release()
	s := g.Value()

	for entryIdx := s.nextFreeIdx; entryIdx < bitmapWordCount; entryIdx++ {
		if s.words[entryIdx] == ^uint64(0) {
			continue
		}
		for bitIdx := 0; bitIdx < bitmapEntryBits; bitIdx++ {
			mask := uint64(1) << uint(bitIdx)
			if s.words[entryIdx]&mask != 0 {
				continue
			}

			frameIdx := entryIdx*bitmapEntryBits + bitIdx
			if frameIdx >= totalFrames {
				continue
			}

			s.words[entryIdx] |= mask
			s.nextFreeIdx = entryIdx
			return mem.PhysAddr(frameIdx << mem.PageShift), nil
		}
	}

	return 0, errFrameOutOfMemory
}

// DeallocateFrame returns frame to the free pool. Frames outside the tracked
// range are ignored; a frame that is already free is a double-free and is
// likewise ignored after logging a diagnostic.
func DeallocateFrame(frame mem.PhysAddr) {
	frameIdx := int(frame.Uintptr() >> mem.PageShift)
	if frameIdx >= totalFrames {
		early.Printf("[frame] deallocate: frame %x outside tracked range\n", frame.Uintptr())
		return
	}

	entryIdx := frameIdx / bitmapEntryBits
	mask := uint64(1) << uint(frameIdx%bitmapEntryBits)

	g := state.Lock()
	defer g.Release()
	s := g.Value()

	if s.words[entryIdx]&mask == 0 {
		early.Printf("[frame] double free detected for frame %x\n", frame.Uintptr())
		return
	}

	s.words[entryIdx] &^= mask
	if entryIdx < s.nextFreeIdx {
		s.nextFreeIdx = entryIdx
	}
}
