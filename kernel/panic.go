package kernel

import (
	"github.com/gopheros/gopher386/kernel/cpu"
	"github.com/gopheros/gopher386/kernel/kfmt/early"
)

var (
	// cpuHaltFn and cpuDisableInterruptsFn are mocked by tests and are
	// automatically inlined by the compiler.
	cpuHaltFn              = cpu.Halt
	cpuDisableInterruptsFn = cpu.DisableInterrupts

	errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}
)

// Panic disables interrupts, outputs the supplied error (if not nil) to the
// console and halts the CPU. Calls to Panic never return. Panic also works
// as a redirection target for calls to panic() (resolved via
// runtime.gopanic).
//
// Every fatal condition in the memory subsystem -- out-of-memory in a path
// that cannot return null, corruption detected via a bitmap or free-list
// walk, a paging conflict, double-free -- funnels through here.
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	cpuDisableInterruptsFn()

	early.Printf("\n-----------------------------------\n")
	if err != nil {
		early.Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	early.Printf("*** kernel panic: system halted ***")
	early.Printf("\n-----------------------------------\n")

	cpuHaltFn()
}
