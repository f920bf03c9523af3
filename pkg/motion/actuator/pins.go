package actuator

import "github.com/cgreening/RBotFirmware/pkg/devices"

// AxisPins is the hardware map of one axis. End-stop pins may be nil when
// the axis has no switch at that end.
type AxisPins struct {
	Step devices.Pin
	Dirn devices.Pin

	EndStopMin            devices.Pin
	EndStopMinActiveLevel bool
	EndStopMax            devices.Pin
	EndStopMaxActiveLevel bool
}

// endStopCheck is one pre-computed sample: reading the pin at this level
// aborts the block.
type endStopCheck struct {
	pin   devices.Pin
	level bool
}
