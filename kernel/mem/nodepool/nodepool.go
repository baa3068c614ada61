// Package nodepool is a dedicated arena for the intrusive list nodes used by
// the buddy and slab free lists. A general-purpose allocator whose own
// bookkeeping structures allocate through itself is unbootable, so free-list
// nodes are carved out of this fixed-capacity pool instead of the slab heap.
package nodepool

import (
	"unsafe"

	"github.com/gopheros/gopher386/kernel"
	"github.com/gopheros/gopher386/kernel/kfmt/early"
	"github.com/gopheros/gopher386/kernel/mem"
	"github.com/gopheros/gopher386/kernel/mem/frame"
	"github.com/gopheros/gopher386/kernel/mem/paging"
	gosync "github.com/gopheros/gopher386/kernel/sync"
)

// Base is the fixed virtual address the pool's backing storage is mapped at.
// It is a var rather than a const so tests can repoint it at a real
// Go-allocated backing array: a hosted test process has nothing mapped at
// 0xC1000000, and Alloc/Free dereference slots directly.
var Base = mem.VirtAddr(0xC1000000)

// capacity bounds the number of live nodes the buddy and slab free lists may
// hold at once. Each order of the buddy allocator and each slab cache
// contributes at most a handful of free-list entries, so this comfortably
// covers the 32-bit address space's worth of orders and caches with room to
// spare.
const capacity = 4096

const (
	bitmapEntryBits = 64
	bitmapWordCount = (capacity + bitmapEntryBits - 1) / bitmapEntryBits
)

// Node is the intrusive doubly-linked list node type every free list in the
// memory subsystem is built from. Its fields are exported so the list
// package, which lives outside this one, can link and unlink nodes directly.
type Node struct {
	Next, Prev *Node
	Value      mem.PhysAddr
}

var nodeSize = mem.Size(unsafe.Sizeof(Node{}))

var (
	errPoolFull    = &kernel.Error{Module: "nodepool", Message: "pool exhausted"}
	errOutOfBounds = &kernel.Error{Module: "nodepool", Message: "pointer outside pool bounds"}
	errMisaligned  = &kernel.Error{Module: "nodepool", Message: "pointer not aligned to a node slot"}

	// panicFn is mocked by tests.
	panicFn = kernel.Panic

	// allocateFrameFn/mapPageFn indirect through the frame allocator and
	// paging layer so Init's page-mapping loop can be exercised without
	// real hardware underneath.
	allocateFrameFn = frame.AllocateFrame
	mapPageFn       = paging.MapPage
)

type poolState struct {
	bitmap      [bitmapWordCount]uint64
	nextFreeIdx int
}

var state gosync.Locked[poolState]

// Init maps the pool's backing virtual range one page at a time, using
// fresh physical frames from the frame allocator, and clears the
// in-use bitmap. It must be called once, after the frame allocator and
// paging layer are both up, before the first Alloc.
func Init() *kernel.Error {
	g := state.Lock()
	defer g.Release()
	s := g.Value()

	for i := range s.bitmap {
		s.bitmap[i] = 0
	}
	s.nextFreeIdx = 0

	totalBytes := mem.Size(capacity) * nodeSize
	pageCount := totalBytes.Pages()

	for i := uint32(0); i < pageCount; i++ {
		phys, err := allocateFrameFn()
		if err != nil {
			return err
		}
		virt := Base.Add(mem.Size(i) * mem.PageSize)
		if mapErr := mapPageFn(phys, virt, paging.FlagWritable); mapErr != nil {
			return mapErr
		}
	}

	early.Printf("[nodepool] mapped %d pages for %d node slots\n", pageCount, capacity)
	return nil
}

func slotAddr(index int) mem.VirtAddr {
	return Base.Add(mem.Size(index) * nodeSize)
}

// Alloc reserves and returns a zeroed node slot.
func Alloc() (*Node, *kernel.Error) {
	g := state.Lock()
	defer g.Release()
	s := g.Value()

	for wordIdx := s.nextFreeIdx; wordIdx < bitmapWordCount; wordIdx++ {
		if s.bitmap[wordIdx] == ^uint64(0) {
			continue
		}
		for bitIdx := 0; bitIdx < bitmapEntryBits; bitIdx++ {
			mask := uint64(1) << uint(bitIdx)
			if s.bitmap[wordIdx]&mask != 0 {
				continue
			}

			index := wordIdx*bitmapEntryBits + bitIdx
			if index >= capacity {
				continue
			}

			s.bitmap[wordIdx] |= mask
			s.nextFreeIdx = wordIdx

			n := mem.VirtAddrAsPointer[Node](slotAddr(index))
			*n = Node{}
			return n, nil
		}
	}

	return nil, errPoolFull
}

// Free returns n to the pool. A pointer outside the pool or not on a slot
// boundary is rejected with an error; freeing a slot that is not currently
// allocated (a double free) is fatal.
func Free(n *Node) *kernel.Error {
	addr := mem.VirtAddrFromUintptr(uintptr(unsafe.Pointer(n)))

	if addr < Base || addr >= Base.Add(mem.Size(capacity)*nodeSize) {
		early.Printf("[nodepool] free: pointer %x outside pool bounds\n", addr.Uintptr())
		return errOutOfBounds
	}
	if addr.Sub(Base)%nodeSize != 0 {
		early.Printf("[nodepool] free: pointer %x misaligned\n", addr.Uintptr())
		return errMisaligned
	}

	index := int(addr.Sub(Base) / nodeSize)
	wordIdx := index / bitmapEntryBits
	mask := uint64(1) << uint(index%bitmapEntryBits)

	g := state.Lock()
	defer g.Release()
	s := g.Value()

	if s.bitmap[wordIdx]&mask == 0 {
		panicFn(&kernel.Error{Module: "nodepool", Message: "double free or freeing an unallocated node"})
		return nil
	}

	s.bitmap[wordIdx] &^= mask
	if wordIdx < s.nextFreeIdx {
		s.nextFreeIdx = wordIdx
	}
	return nil
}
