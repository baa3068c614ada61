// Package slab implements the fixed-size object caches that back the
// kernel's general-purpose heap. Each cache serves objects of one size
// class, carving them out of slabs obtained a page at a time from the buddy
// allocator. It is the last allocator in the boot chain: Memblock seeds
// Frame and NodePool, Frame and Paging seed NodePool, NodePool backs Buddy's
// free lists, and Buddy backs every slab.
package slab

import (
	"unsafe"

	"github.com/gopheros/gopher386/kernel"
	"github.com/gopheros/gopher386/kernel/kfmt/early"
	"github.com/gopheros/gopher386/kernel/mem"
	"github.com/gopheros/gopher386/kernel/mem/buddy"
	"github.com/gopheros/gopher386/kernel/mem/list"
	gosync "github.com/gopheros/gopher386/kernel/sync"
)

// sizeClasses are the fixed object sizes the heap serves. A request larger
// than the largest class fails outright; escalating such a request straight
// to Buddy for a multi-page allocation is a deliberately deferred extension.
var sizeClasses = [...]mem.Size{4, 8, 16, 32, 64, 128, 256, 512, 1024}

// slabSize is the size of every slab, regardless of cache. Keeping it
// uniform and equal to Buddy's minimum block size is what makes locating a
// slab's header from an interior object pointer a single mask operation:
// slab_base = ptr &^ (slabSize-1).
const slabSize = mem.PageSize

var (
	errSizeTooLarge = &kernel.Error{Module: "slab", Message: "requested size exceeds the largest size class"}
	errOutOfMemory  = &kernel.Error{Module: "slab", Message: "out of memory"}

	// panicFn is mocked by tests.
	panicFn = kernel.Panic

	// allocSlabFn/freeSlabFn indirect through Buddy so tests can back slabs
	// with real Go-allocated pages instead of Buddy-returned physical
	// addresses, which have nothing mapped in a hosted test process.
	allocSlabFn = buddy.Alloc
	freeSlabFn  = buddy.Dealloc

	// physView resolves a slab-managed physical address to a dereferenceable
	// virtual address. Production routes this through the direct map; tests
	// override it to serve real backing pages, the same way paging's
	// tableView and nodepool's Base do.
	physView = mem.PhysToVirt

	// virtToPhys is the inverse of physView, used by Free to recover an
	// object's physical address. Tests override the two together.
	virtToPhys = mem.VirtToPhys
)

// slabHeader sits at the start of every slab, ahead of its object area.
// firstFree is the address of the first free object, or 0 if the slab is
// full; each free object's first word in turn holds the address of the next
// free object, 0 terminating the chain.
type slabHeader struct {
	cacheIndex int32
	inUse      int32
	firstFree  mem.PhysAddr
}

var headerSize = mem.Size(unsafe.Sizeof(slabHeader{}))

type cacheState struct {
	objSize        mem.Size
	objectsOffset  mem.Size // byte offset from slab base to the first object
	objectsPerSlab int

	free, partial, full list.List
}

type heapState struct {
	caches [len(sizeClasses)]cacheState
}

var state gosync.Locked[heapState]

func roundUp(v, align mem.Size) mem.Size {
	return (v + align - 1) &^ (align - 1)
}

// Init computes the per-size-class layout (how many objects of that class
// fit in a slab once the on-slab header is accounted for) and resets every
// cache to empty. It must be called once, after Buddy is up, before the
// first Alloc.
func Init() {
	g := state.Lock()
	defer g.Release()
	s := g.Value()

	*s = heapState{}
	for i, size := range sizeClasses {
		offset := roundUp(headerSize, size)
		s.caches[i] = cacheState{
			objSize:        size,
			objectsOffset:  offset,
			objectsPerSlab: int((slabSize - offset) / size),
		}
	}

	early.Printf("[slab] %d size classes initialized (%d..%d bytes)\n", len(sizeClasses), uint64(sizeClasses[0]), uint64(sizeClasses[len(sizeClasses)-1]))
}

func classIndexFor(size mem.Size) (int, bool) {
	for i, class := range sizeClasses {
		if size <= class {
			return i, true
		}
	}
	return 0, false
}

func headerAt(phys mem.PhysAddr) *slabHeader {
	return mem.VirtAddrAsPointer[slabHeader](physView(phys))
}

func wordAt(phys mem.PhysAddr) *mem.PhysAddr {
	return mem.VirtAddrAsPointer[mem.PhysAddr](physView(phys))
}

// growCache obtains a fresh slab from Buddy, lays out its free list across
// every object slot, and returns the slab's base address.
func growCache(classIndex int, c *cacheState) (mem.PhysAddr, *kernel.Error) {
	base, err := allocSlabFn(buddy.Layout{Size: slabSize, Align: slabSize})
	if err != nil {
		return 0, err
	}

	h := headerAt(base)
	*h = slabHeader{cacheIndex: int32(classIndex)}

	var prev mem.PhysAddr
	for i := c.objectsPerSlab - 1; i >= 0; i-- {
		obj := base.Add(c.objectsOffset + mem.Size(i)*c.objSize)
		*wordAt(obj) = prev
		prev = obj
	}
	h.firstFree = prev

	return base, nil
}

// Alloc returns a fresh object of at least size bytes, or an error if size
// exceeds the largest size class or Buddy is out of memory.
func Alloc(size mem.Size) (mem.VirtAddr, *kernel.Error) {
	classIndex, ok := classIndexFor(size)
	if !ok {
		return 0, errSizeTooLarge
	}

	g := state.Lock()
	defer g.Release()
	c := &g.Value().caches[classIndex]

	var slabBase mem.PhysAddr
	switch {
	case !c.partial.Empty():
		slabBase, _ = c.partial.Front()
	case !c.free.Empty():
		slabBase, _ = c.free.PopFront()
		if err := c.partial.PushFront(slabBase); err != nil {
			return 0, err
		}
	default:
		base, err := growCache(classIndex, c)
		if err != nil {
			return 0, errOutOfMemory
		}
		slabBase = base
		if err := c.partial.PushFront(slabBase); err != nil {
			return 0, err
		}
	}

	h := headerAt(slabBase)
	objPhys := h.firstFree
	h.firstFree = *wordAt(objPhys)
	h.inUse++

	if int(h.inUse) == c.objectsPerSlab {
		c.partial.Remove(slabBase)
		if err := c.full.PushFront(slabBase); err != nil {
			return 0, err
		}
	}

	return physView(objPhys), nil
}

// Shrink releases every slab sitting idle on a cache's free list back to
// Buddy. Slabs are otherwise kept on the free list indefinitely once
// emptied, trading memory for avoiding a Buddy round trip on the next
// allocation into that size class.
func Shrink() {
	g := state.Lock()
	defer g.Release()
	s := g.Value()

	for i := range s.caches {
		c := &s.caches[i]
		for {
			slabBase, ok := c.free.PopFront()
			if !ok {
				break
			}
			freeSlabFn(slabBase, buddy.Layout{Size: slabSize, Align: slabSize})
		}
	}
}

// Free returns an object previously obtained from Alloc. addr must not
// already be free; freeing an address that is not a live object from this
// heap is a logic error.
func Free(addr mem.VirtAddr) {
	phys := virtToPhys(addr)
	slabBase := phys.AlignDown(slabSize)

	h := headerAt(slabBase)

	g := state.Lock()
	defer g.Release()
	c := &g.Value().caches[h.cacheIndex]

	if h.inUse == 0 {
		panicFn(&kernel.Error{Module: "slab", Message: "double free or freeing an unallocated object"})
		return
	}

	wasFull := int(h.inUse) == c.objectsPerSlab

	*wordAt(phys) = h.firstFree
	h.firstFree = phys
	h.inUse--

	switch {
	case h.inUse == 0:
		if wasFull {
			c.full.Remove(slabBase)
		} else {
			c.partial.Remove(slabBase)
		}
		c.free.PushFront(slabBase)
	case wasFull:
		c.full.Remove(slabBase)
		c.partial.PushFront(slabBase)
	}
}
