// Package multiboot parses the Multiboot 1 information structure handed to
// the kernel's entry point by the bootloader. Only the subset of fields the
// memory subsystem actually needs is modeled: the flags word (used to
// validate that the loader populated the fields we rely on) and the memory
// map.
package multiboot

import "unsafe"

// Flag bits within the Multiboot 1 info flags word that the kernel requires
// the bootloader to have set.
const (
	// FlagMemInfo indicates that mem_lower/mem_upper are valid.
	FlagMemInfo = 1 << 0
	// FlagBootDevice indicates that boot_device is valid.
	FlagBootDevice = 1 << 1
	// FlagMemMap indicates that mmap_length/mmap_addr are valid.
	FlagMemMap = 1 << 2

	// RequiredFlags is the set of flag bits that must all be set for the
	// kernel to trust the info structure (MBALIGN | MEMINFO | VIDEO in the
	// assembly boot stub's request, mirrored here as bits 0,1,2).
	RequiredFlags = FlagMemInfo | FlagBootDevice | FlagMemMap

	// Magic is the value the bootloader must place in EAX before jumping
	// to the kernel entry point.
	Magic = 0x2BADB002
)

// MemoryEntryType identifies the kind of memory a MemoryMapEntry describes,
// using the Multiboot 1 convention.
type MemoryEntryType uint32

const (
	// MemAvailable indicates memory usable by the kernel.
	MemAvailable MemoryEntryType = iota + 1
	// MemReserved indicates memory reserved by firmware or hardware.
	MemReserved
	// MemAcpiReclaimable indicates ACPI tables that can be reclaimed once parsed.
	MemAcpiReclaimable
	// MemAcpiNvs indicates memory that must be preserved across sleep states.
	MemAcpiNvs
	// MemBadMemory indicates memory that has been detected as defective.
	MemBadMemory

	// memUnknown marks the first value outside the known range; any type
	// at or above it is treated as reserved.
	memUnknown
)

// info mirrors the fixed-size prefix of the Multiboot 1 information
// structure, down to the two fields the memory subsystem consults.
type info struct {
	flags uint32

	_memLower, _memUpper uint32
	_bootDevice          uint32
	_cmdline             uint32
	_modsCount, _modsAddr uint32
	_syms                [4]uint32

	mmapLength uint32
	mmapAddr   uint32
}

// mmapEntry sizes and offsets, relative to the start of the entry. The wire
// layout is packed (size:4, base:8, length:8, type:4 with no padding), which
// does not match the Go compiler's natural alignment for a struct containing
// a uint64 field, so entries are read field-by-field instead of through a
// single overlay struct.
const (
	mmapEntrySizeOff   = 0
	mmapEntryBaseOff   = 4
	mmapEntryLengthOff = 12
	mmapEntryTypeOff   = 20
)

// MemoryMapEntry describes one memory region reported by the bootloader.
type MemoryMapEntry struct {
	// PhysAddress is the starting physical address of the region.
	PhysAddress uint64
	// Length is the size of the region in bytes.
	Length uint64
	// Type classifies the region.
	Type MemoryEntryType
}

// MemRegionVisitor is invoked once per memory map entry by VisitMemRegions.
type MemRegionVisitor func(entry *MemoryMapEntry)

var infoPtr uintptr

// SetInfoPtr records the physical-turned-virtual address of the Multiboot
// info structure supplied by the bootloader. It must be called before any
// other function in this package.
func SetInfoPtr(ptr uintptr) {
	infoPtr = ptr
}

// Flags returns the flags word of the Multiboot info structure.
func Flags() uint32 {
	return (*info)(unsafe.Pointer(infoPtr)).flags
}

// FlagsValid reports whether the bootloader populated every field the
// memory subsystem depends on (RequiredFlags all set).
func FlagsValid() bool {
	return Flags()&RequiredFlags == RequiredFlags
}

// VisitMemRegions walks the Multiboot memory map, invoking visitor once per
// entry. Entry types outside the known enumeration are normalized to
// MemReserved before the visitor sees them.
func VisitMemRegions(visitor MemRegionVisitor) {
	hdr := (*info)(unsafe.Pointer(infoPtr))
	if hdr.mmapLength == 0 {
		return
	}

	curPtr := uintptr(hdr.mmapAddr)
	endPtr := curPtr + uintptr(hdr.mmapLength)

	var entry MemoryMapEntry
	for curPtr < endPtr {
		entrySize := *(*uint32)(unsafe.Pointer(curPtr + mmapEntrySizeOff))

		typ := MemoryEntryType(*(*uint32)(unsafe.Pointer(curPtr + mmapEntryTypeOff)))
		if typ == 0 || typ >= memUnknown {
			typ = MemReserved
		}

		entry = MemoryMapEntry{
			PhysAddress: *(*uint64)(unsafe.Pointer(curPtr + mmapEntryBaseOff)),
			Length:      *(*uint64)(unsafe.Pointer(curPtr + mmapEntryLengthOff)),
			Type:        typ,
		}
		visitor(&entry)

		curPtr += uintptr(entrySize) + 4
	}
}
