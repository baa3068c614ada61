package mem

import "unsafe"

// unsafeAddrToPtr centralizes the one unsafe.Pointer conversion needed to
// turn a VirtAddr into a typed pointer.
func unsafeAddrToPtr(v VirtAddr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(v))
}
