// Package list implements an intrusive doubly-linked list of physical
// addresses, the structure the buddy allocator's per-order free lists and
// the slab allocator's full/partial/free slab lists are both built from.
// Nodes are carved out of the node pool rather than the global heap, since
// the global heap's own bookkeeping must not recurse into itself.
package list

import (
	"github.com/gopheros/gopher386/kernel"
	"github.com/gopheros/gopher386/kernel/mem"
	"github.com/gopheros/gopher386/kernel/mem/nodepool"
)

// List is a LIFO-biased doubly-linked list: PushFront/PopFront run in O(1)
// and are what the buddy and slab free lists use on the hot path. Remove
// supports the coalescing scan buddy-merging needs, at the cost of a linear
// walk.
type List struct {
	head, tail *nodepool.Node
	length     int
}

// Len returns the number of elements currently linked.
func (l *List) Len() int {
	return l.length
}

// Empty reports whether the list holds no elements.
func (l *List) Empty() bool {
	return l.head == nil
}

// PushFront links v at the head of the list.
func (l *List) PushFront(v mem.PhysAddr) *kernel.Error {
	n, err := nodepool.Alloc()
	if err != nil {
		return err
	}
	n.Value = v
	n.Prev = nil
	n.Next = l.head

	if l.head != nil {
		l.head.Prev = n
	} else {
		l.tail = n
	}
	l.head = n
	l.length++
	return nil
}

// PushBack links v at the tail of the list.
func (l *List) PushBack(v mem.PhysAddr) *kernel.Error {
	n, err := nodepool.Alloc()
	if err != nil {
		return err
	}
	n.Value = v
	n.Next = nil
	n.Prev = l.tail

	if l.tail != nil {
		l.tail.Next = n
	} else {
		l.head = n
	}
	l.tail = n
	l.length++
	return nil
}

// PopFront unlinks and returns the head element, or ok == false if empty.
func (l *List) PopFront() (mem.PhysAddr, bool) {
	if l.head == nil {
		return 0, false
	}

	n := l.head
	v := n.Value

	l.head = n.Next
	if l.head != nil {
		l.head.Prev = nil
	} else {
		l.tail = nil
	}
	l.length--

	nodepool.Free(n)
	return v, true
}

// PopBack unlinks and returns the tail element, or ok == false if empty.
func (l *List) PopBack() (mem.PhysAddr, bool) {
	if l.tail == nil {
		return 0, false
	}

	n := l.tail
	v := n.Value

	l.tail = n.Prev
	if l.tail != nil {
		l.tail.Next = nil
	} else {
		l.head = nil
	}
	l.length--

	nodepool.Free(n)
	return v, true
}

// Front returns the head element without unlinking it, or ok == false if
// empty. Used by the slab allocator to keep carving objects out of the same
// partially-used slab without a pop/push round trip on every allocation.
func (l *List) Front() (mem.PhysAddr, bool) {
	if l.head == nil {
		return 0, false
	}
	return l.head.Value, true
}

// Contains reports whether v is linked anywhere in the list.
func (l *List) Contains(v mem.PhysAddr) bool {
	for n := l.head; n != nil; n = n.Next {
		if n.Value == v {
			return true
		}
	}
	return false
}

// Remove unlinks the first node whose value equals v, reporting whether one
// was found. Used by buddy coalescing to detach a free buddy block before
// merging it into a larger one.
func (l *List) Remove(v mem.PhysAddr) bool {
	for n := l.head; n != nil; n = n.Next {
		if n.Value != v {
			continue
		}

		if n.Prev != nil {
			n.Prev.Next = n.Next
		} else {
			l.head = n.Next
		}
		if n.Next != nil {
			n.Next.Prev = n.Prev
		} else {
			l.tail = n.Prev
		}

		l.length--
		nodepool.Free(n)
		return true
	}
	return false
}
