package mem

// PhysAddr represents a physical memory address. It is a distinct type from
// VirtAddr so that the compiler rejects code that mixes the two address
// spaces; there is no implicit conversion between them.
type PhysAddr uintptr

// PhysAddrFromUintptr constructs a PhysAddr from a raw word.
func PhysAddrFromUintptr(addr uintptr) PhysAddr {
	return PhysAddr(addr)
}

// Uintptr returns the raw word backing this address.
func (p PhysAddr) Uintptr() uintptr {
	return uintptr(p)
}

// Add returns p offset by delta bytes.
func (p PhysAddr) Add(delta Size) PhysAddr {
	return p + PhysAddr(delta)
}

// Sub returns the byte delta between p and other (p - other).
func (p PhysAddr) Sub(other PhysAddr) Size {
	return Size(p - other)
}

// AlignUp rounds p up to the next multiple of align, which must be a power
// of two. If p is already aligned it is returned unchanged.
func (p PhysAddr) AlignUp(align Size) PhysAddr {
	mask := PhysAddr(align - 1)
	return (p + mask) &^ mask
}

// AlignDown rounds p down to the previous multiple of align, which must be a
// power of two.
func (p PhysAddr) AlignDown(align Size) PhysAddr {
	mask := PhysAddr(align - 1)
	return p &^ mask
}

// Aligned reports whether p is a multiple of align, which must be a power of
// two.
func (p PhysAddr) Aligned(align Size) bool {
	return p&PhysAddr(align-1) == 0
}

// Pointer converts p into a direct-mapped typed pointer by routing it
// through PhysToVirt. Dereferencing the result is only valid while the
// direct map covers p.
func PhysAddrAsPointer[T any](p PhysAddr) *T {
	return VirtAddrAsPointer[T](PhysToVirt(p))
}

// VirtAddr represents a virtual memory address. It is a distinct type from
// PhysAddr so that the two address spaces cannot be accidentally mixed.
type VirtAddr uintptr

// VirtAddrFromUintptr constructs a VirtAddr from a raw word.
func VirtAddrFromUintptr(addr uintptr) VirtAddr {
	return VirtAddr(addr)
}

// Uintptr returns the raw word backing this address.
func (v VirtAddr) Uintptr() uintptr {
	return uintptr(v)
}

// Add returns v offset by delta bytes.
func (v VirtAddr) Add(delta Size) VirtAddr {
	return v + VirtAddr(delta)
}

// Sub returns the byte delta between v and other (v - other).
func (v VirtAddr) Sub(other VirtAddr) Size {
	return Size(v - other)
}

// AlignUp rounds v up to the next multiple of align, which must be a power
// of two.
func (v VirtAddr) AlignUp(align Size) VirtAddr {
	mask := VirtAddr(align - 1)
	return (v + mask) &^ mask
}

// AlignDown rounds v down to the previous multiple of align, which must be a
// power of two.
func (v VirtAddr) AlignDown(align Size) VirtAddr {
	mask := VirtAddr(align - 1)
	return v &^ mask
}

// Aligned reports whether v is a multiple of align, which must be a power of
// two.
func (v VirtAddr) Aligned(align Size) bool {
	return v&VirtAddr(align-1) == 0
}

// VirtAddrAsPointer converts v into a typed pointer. Dereferencing requires
// that v refer to mapped, accessible memory.
func VirtAddrAsPointer[T any](v VirtAddr) *T {
	return (*T)(unsafeAddrToPtr(v))
}

// PhysToVirt returns the kernel's direct-mapped view of the given physical
// address: phys_to_virt(p) = p + KERNEL_OFFSET.
func PhysToVirt(p PhysAddr) VirtAddr {
	return VirtAddr(p) + KernelOffset
}

// VirtToPhys inverts PhysToVirt: virt_to_phys(v) = v - KERNEL_OFFSET. It is
// only valid for addresses within the direct map, i.e. ones previously
// obtained from PhysToVirt.
func VirtToPhys(v VirtAddr) PhysAddr {
	return PhysAddr(v - KernelOffset)
}
