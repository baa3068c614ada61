// Package buddy implements a power-of-two physical block allocator: the
// coarse-grained allocator that serves page-multiple requests with O(log N)
// coalescing on free, and the source every slab cache draws its backing
// pages from.
package buddy

import (
	"unsafe"

	"github.com/gopheros/gopher386/kernel"
	"github.com/gopheros/gopher386/kernel/kfmt/early"
	"github.com/gopheros/gopher386/kernel/mem"
	"github.com/gopheros/gopher386/kernel/mem/list"
	"github.com/gopheros/gopher386/kernel/mem/memblock"
	gosync "github.com/gopheros/gopher386/kernel/sync"
)

// maxOrders bounds the number of free lists: order maxOrders-1 covers a
// block of PAGE_SIZE << (maxOrders-1) bytes, comfortably spanning the full
// 32-bit physical address space (PAGE_SIZE << 20 == 4 GiB).
const maxOrders = 21

var (
	errRequestTooLarge = &kernel.Error{Module: "buddy", Message: "requested size exceeds the largest order"}
	errOutOfMemory      = &kernel.Error{Module: "buddy", Message: "out of memory"}
	errBitmapAllocation = &kernel.Error{Module: "buddy", Message: "failed to allocate the block bitmap"}

	// panicFn is mocked by tests.
	panicFn = kernel.Panic

	// allocateBitmapFn is mocked by tests so the bitmap can be backed by a
	// real Go slice instead of a memblock-returned physical address, which
	// has nothing mapped in a hosted test process.
	allocateBitmapFn = defaultAllocateBitmap
)

func defaultAllocateBitmap(wordCount int) ([]uint64, *kernel.Error) {
	layout := memblock.Layout{Size: mem.Size(wordCount) * 8, Align: mem.Size(mem.PageSize)}
	phys := memblock.Alloc(layout)
	if phys == 0 {
		return nil, errBitmapAllocation
	}
	ptr := mem.PhysAddrAsPointer[uint64](phys)
	return unsafe.Slice(ptr, wordCount), nil
}

// Layout describes an allocation request: a byte size and a required
// alignment, mirroring the other allocators in this module.
type Layout struct {
	Size  mem.Size
	Align mem.Size
}

type buddyState struct {
	base      mem.PhysAddr
	maxOrder  int
	bitmap    []uint64
	freeLists [maxOrders]list.List
}

var state gosync.Locked[buddyState]

// Init seeds the allocator with a single maximal block starting at base and
// covering the largest power-of-two number of pages that fits in
// [base, base+totalSize). base itself is not realigned. Bytes beyond that
// block are not tracked and are effectively wasted; callers seed Init with
// the largest available memory region, so this waste is at most a factor of
// two in the worst case.
func Init(base mem.PhysAddr, totalSize mem.Size) *kernel.Error {
	g := state.Lock()
	defer g.Release()
	s := g.Value()

	blockCount := uint64(totalSize / mem.PageSize)
	order := 0
	for (uint64(1) << uint(order+1)) <= blockCount {
		order++
	}
	if order >= maxOrders {
		order = maxOrders - 1
	}

	wordCount := int((uint64(1)<<uint(order) + 63) / 64)
	bitmap, err := allocateBitmapFn(wordCount)
	if err != nil {
		return err
	}
	for i := range bitmap {
		bitmap[i] = 0
	}

	*s = buddyState{
		base:     base,
		maxOrder: order,
		bitmap:   bitmap,
	}

	if err := s.freeLists[order].PushFront(base); err != nil {
		return err
	}

	early.Printf("[buddy] seeded with base=%x order=%d (%d bytes)\n", base.Uintptr(), order, uint64(mem.PageSize<<uint(order)))
	return nil
}

func orderFor(required mem.Size) int {
	order := 0
	for mem.PageSize<<uint(order) < required {
		order++
	}
	return order
}

func (s *buddyState) minBlockRange(addr mem.PhysAddr, order int) (start, count int) {
	start = int(addr.Sub(s.base) / mem.PageSize)
	count = 1 << uint(order)
	return start, count
}

func (s *buddyState) markUsed(addr mem.PhysAddr, order int) {
	start, count := s.minBlockRange(addr, order)
	for i := start; i < start+count; i++ {
		s.bitmap[i/64] |= 1 << uint(i%64)
	}
}

func (s *buddyState) markFree(addr mem.PhysAddr, order int) {
	start, count := s.minBlockRange(addr, order)
	for i := start; i < start+count; i++ {
		s.bitmap[i/64] &^= 1 << uint(i%64)
	}
}

func (s *buddyState) rangeFree(addr mem.PhysAddr, order int) bool {
	start, count := s.minBlockRange(addr, order)
	for i := start; i < start+count; i++ {
		if s.bitmap[i/64]&(1<<uint(i%64)) != 0 {
			return false
		}
	}
	return true
}

// Alloc returns a block satisfying layout, or an error if none is
// available. The block's size is PAGE_SIZE << order, where order is the
// smallest order whose block size is >= max(layout.Size, layout.Align). Its
// offset from the base passed to Init is a multiple of that size; the
// absolute address is aligned to it only when base is.
func Alloc(layout Layout) (mem.PhysAddr, *kernel.Error) {
	required := layout.Size
	if layout.Align > required {
		required = layout.Align
	}

	k := orderFor(required)

	g := state.Lock()
	defer g.Release()
	s := g.Value()

	if k >= maxOrders || k > s.maxOrder {
		return 0, errRequestTooLarge
	}

	j := -1
	for order := k; order <= s.maxOrder; order++ {
		if !s.freeLists[order].Empty() {
			j = order
			break
		}
	}
	if j == -1 {
		return 0, errOutOfMemory
	}

	addr, _ := s.freeLists[j].PopFront()

	for j > k {
		upperHalf := addr.Add(mem.PageSize << uint(j-1))
		if err := s.freeLists[j-1].PushFront(upperHalf); err != nil {
			return 0, err
		}
		j--
	}

	s.markUsed(addr, k)
	return addr, nil
}

// Dealloc returns a block previously obtained from Alloc with an identical
// layout, coalescing it with its buddy wherever possible.
func Dealloc(ptr mem.PhysAddr, layout Layout) {
	required := layout.Size
	if layout.Align > required {
		required = layout.Align
	}
	k := orderFor(required)

	g := state.Lock()
	defer g.Release()
	s := g.Value()

	managedSize := mem.PageSize << uint(s.maxOrder)
	if ptr < s.base || ptr >= s.base.Add(managedSize) {
		panicFn(&kernel.Error{Module: "buddy", Message: "dealloc address outside managed range"})
		return
	}

	s.markFree(ptr, k)

	for k < s.maxOrder {
		buddyAddr := s.base.Add(ptr.Sub(s.base) ^ (mem.PageSize << uint(k)))

		if !s.rangeFree(buddyAddr, k) || !s.freeLists[k].Contains(buddyAddr) {
			break
		}

		s.freeLists[k].Remove(buddyAddr)
		if buddyAddr < ptr {
			ptr = buddyAddr
		}
		k++
	}

	s.freeLists[k].PushFront(ptr)
}
