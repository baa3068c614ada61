// Package vrange is the kernel's dynamic virtual-address-range allocator: a
// monotonically increasing pointer into a fixed 128 MiB window, handing out
// page-aligned virtual ranges to callers that need fresh address space to
// map something into (a growing node pool, a large contiguous mapping) but
// have no need to ever give the range back.
package vrange

import (
	"github.com/gopheros/gopher386/kernel"
	"github.com/gopheros/gopher386/kernel/mem"
	gosync "github.com/gopheros/gopher386/kernel/sync"
)

// Base and Size fix the window this allocator carves ranges from. They sit
// above the node pool's own fixed virtual base (0xC1000000) and below the
// top of the 32-bit address space, leaving room for both to grow without
// colliding.
const (
	Base = mem.VirtAddr(0xD0000000)
	Size = 128 * mem.Mb
)

var errExhausted = &kernel.Error{Module: "vrange", Message: "virtual range window exhausted"}

type rangeState struct {
	next mem.VirtAddr
}

var state = gosync.NewLocked(rangeState{next: Base})

func roundUp(v, align mem.Size) mem.Size {
	return (v + align - 1) &^ (align - 1)
}

// Reserve hands out the next size bytes of virtual address space, rounded
// up to a whole number of pages. The returned range is not backed by any
// physical mapping; the caller is responsible for calling paging.MapPage
// over it before dereferencing. There is no corresponding release: the
// window only ever grows monotonically.
func Reserve(size mem.Size) (mem.VirtAddr, *kernel.Error) {
	aligned := roundUp(size, mem.PageSize)

	g := state.Lock()
	defer g.Release()
	s := g.Value()

	if s.next.Add(aligned) > Base.Add(Size) {
		return 0, errExhausted
	}

	addr := s.next
	s.next = s.next.Add(aligned)
	return addr, nil
}
