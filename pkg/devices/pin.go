package devices

// Pin represents a single GPIO line. It is implemented by machine.Pin on
// TinyGo targets and by memory-mapped or sysfs drivers on Linux hosts.
// Configuration (direction, pull-ups) is done by the concrete implementation.
type Pin interface {
	// Get returns the current pin state (high = true, low = false).
	Get() bool

	// Set sets the pin state (high = true, low = false).
	Set(value bool)

	// High sets the pin to high (true).
	High()

	// Low sets the pin to low (false).
	Low()
}
