// Package console defines the minimal output sink interface used by the early
// kernel formatter and the panic handler.
//
// The real VGA text-mode console, the serial port driver and the PS/2
// keyboard input path live outside the memory subsystem covered by this
// module; they are treated as external collaborators and are represented
// here only by the interface they must satisfy plus a pair of trivial stand-
// ins so that the allocators and the boot sequence remain exercisable and
// testable without a real machine underneath them.
package console

// Writer is implemented by any device that can sink kernel diagnostic output.
// Both the VGA text console and the serial port driver satisfy this
// interface in the full kernel; tests substitute a buffer-backed Writer.
type Writer interface {
	WriteByte(ch byte)
	WriteString(s string)
}

// Sink is the currently active diagnostic output device. It starts out
// pointing at discard so that early boot code can call into kfmt/early
// before any real console has been attached.
var Sink Writer = discard{}

// SetSink installs w as the active diagnostic output device.
func SetSink(w Writer) {
	if w == nil {
		Sink = discard{}
		return
	}
	Sink = w
}

type discard struct{}

func (discard) WriteByte(byte)     {}
func (discard) WriteString(string) {}
