// Package gpio provides GPIO input reading with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Reader reads a single digital sensor input.
type Reader interface {
	// Read returns the logical state of the input (true = active).
	// Active-low wiring is already inverted by the implementation.
	Read() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Defaults for a PIR motion sensor on a Raspberry Pi (BCM numbering).
const (
	DefaultChip = "gpiochip0"
	DefaultPin  = 17
)
