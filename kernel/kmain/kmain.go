// Package kmain wires together the memory subsystem's boot sequence: parse
// the Multiboot memory map, bring up Memblock, carve the frame bitmap and
// node pool out of it, seed Buddy with the largest remaining region, and
// finally initialize the slab caches that back the rest of the kernel's
// heap. Everything past this package's Boot call runs on the slab
// allocator; nothing here is expected to run twice.
package kmain

import (
	"github.com/gopheros/gopher386/kernel"
	"github.com/gopheros/gopher386/kernel/console"
	"github.com/gopheros/gopher386/kernel/cpu"
	"github.com/gopheros/gopher386/kernel/mem"
	"github.com/gopheros/gopher386/kernel/mem/buddy"
	"github.com/gopheros/gopher386/kernel/mem/frame"
	"github.com/gopheros/gopher386/kernel/mem/memblock"
	"github.com/gopheros/gopher386/kernel/mem/nodepool"
	"github.com/gopheros/gopher386/kernel/mem/paging"
	"github.com/gopheros/gopher386/kernel/mem/slab"
	"github.com/gopheros/gopher386/kernel/multiboot"
)

var (
	errMultibootInfoInvalid = &kernel.Error{Module: "kmain", Message: "multiboot info is missing required flags"}
	errNoUsableMemory       = &kernel.Error{Module: "kmain", Message: "no usable memory regions reported"}
	errKmainReturned        = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
)

// Kmain is the only Go symbol the rt0 assembly stub calls. It is handed the
// physical address of the Multiboot info structure and the physical bounds
// of the loaded kernel image, as recorded by the linker.
//
// Kmain is not expected to return. If it does, the rt0 code halts the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	console.SetSink(console.NewVGA(0xB8000))

	frame.KernelStart = mem.PhysAddr(kernelStart)
	frame.KernelEnd = mem.PhysAddr(kernelEnd)

	if err := Boot(multibootInfoPtr); err != nil {
		kernel.Panic(err)
	}

	// Use kernel.Panic instead of panic to prevent the compiler from
	// treating kernel.Panic as dead code and eliminating it.
	kernel.Panic(errKmainReturned)
}

// Boot runs the memory subsystem's entire bring-up sequence in dependency
// order. It returns the first error it meets instead of panicking; Kmain
// hands that error to kernel.Panic.
func Boot(multibootInfoPtr uintptr) *kernel.Error {
	multiboot.SetInfoPtr(multibootInfoPtr)
	if !multiboot.FlagsValid() {
		return errMultibootInfoInvalid
	}

	segments := collectSegments()
	mem.SetSegments(segments)
	memblock.Init(segments)

	frame.Init()

	paging.Init(mem.PhysAddr(cpu.ActivePDT()))

	if err := nodepool.Init(); err != nil {
		return err
	}

	base, size, ok := largestAvailableRegion()
	if !ok {
		return errNoUsableMemory
	}
	if err := buddy.Init(base, size); err != nil {
		return err
	}

	slab.Init()

	return nil
}

// collectSegments converts every Multiboot memory map entry into a
// mem.MemorySegment, normalizing each entry's type into the package's own
// RegionType enumeration.
func collectSegments() []mem.MemorySegment {
	var segments []mem.MemorySegment

	multiboot.VisitMemRegions(func(entry *multiboot.MemoryMapEntry) {
		segments = append(segments, mem.MemorySegment{
			Start: mem.PhysAddr(entry.PhysAddress),
			Len:   mem.Size(entry.Length),
			Kind:  regionKind(entry.Type),
		})
	})

	return segments
}

func regionKind(t multiboot.MemoryEntryType) mem.RegionType {
	switch t {
	case multiboot.MemAvailable:
		return mem.Available
	case multiboot.MemAcpiReclaimable:
		return mem.AcpiReclaimable
	case multiboot.MemAcpiNvs:
		return mem.AcpiNvs
	case multiboot.MemBadMemory:
		return mem.BadMemory
	default:
		return mem.Reserved
	}
}

// largestAvailableRegion returns the largest region Memblock still reports
// as available, right before Buddy claims it. This is the single maximal
// block Buddy is seeded with; everything Memblock has already handed out to
// Frame and NodePool is excluded by construction, since those allocations
// shrink or remove their source region from the available table.
func largestAvailableRegion() (mem.PhysAddr, mem.Size, bool) {
	var base mem.PhysAddr
	var size mem.Size
	found := false

	memblock.VisitAvailable(func(r memblock.MemRegion) {
		if r.Size > size {
			base, size, found = r.Base, r.Size, true
		}
	})

	return base, size, found
}
