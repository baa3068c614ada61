package console

// Serial is a thin stand-in for the real 16550 UART driver used to mirror
// panic output off-machine. The port I/O primitives it would use (inb/outb
// on COM1, 0x3F8) live in kernel/cpu; wiring them up is outside the scope of
// the memory subsystem, so this type just satisfies Writer.
type Serial struct {
	port uint16
}

// NewSerial returns a Serial writer for the given I/O port.
func NewSerial(port uint16) *Serial {
	return &Serial{port: port}
}

// WriteByte implements Writer.
func (s *Serial) WriteByte(ch byte) {
	_ = ch
}

// WriteString implements Writer.
func (s *Serial) WriteString(str string) {
	for i := 0; i < len(str); i++ {
		s.WriteByte(str[i])
	}
}
