package console

// VGA is a thin stand-in for the real VGA text-mode console driver (80x25,
// attribute byte per cell at 0xB8000). The actual driver, its font/logo
// handling and its cursor management are out of scope for the memory
// subsystem; this type gives Kmain a concrete Writer to install as the
// console sink. WriteByte only tracks the cursor column: nothing is written
// to the framebuffer and no color attribute is applied.
type VGA struct {
	base uintptr
	col  int
}

// NewVGA returns a VGA writer for the text-mode framebuffer located at base
// (normally 0xB8000, mapped through the kernel's higher-half direct map).
// base is recorded but not written to.
func NewVGA(base uintptr) *VGA {
	return &VGA{base: base}
}

// WriteByte implements Writer.
func (v *VGA) WriteByte(ch byte) {
	if ch == '\n' {
		v.col = 0
		return
	}
	v.col++
}

// WriteString implements Writer.
func (v *VGA) WriteString(s string) {
	for i := 0; i < len(s); i++ {
		v.WriteByte(s[i])
	}
}
