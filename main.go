package main

import "github.com/gopheros/gopher386/kernel/kmain"

// main is a trampoline for the real kernel entry point, kmain.Kmain. It
// exists so the Go compiler sees a call into the kernel package tree and
// does not eliminate it as dead code; the rt0 assembly stub invokes
// kmain.Kmain directly, passing the Multiboot info pointer and the linker-
// supplied kernel image bounds, so main itself is never actually called.
//
// main is not expected to return. If it does, the rt0 code halts the CPU.
func main() {
	kmain.Kmain(0, 0, 0)
}
