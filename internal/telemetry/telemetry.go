package telemetry

// Domain identifies one of the two telemetry kinds carried on the battery bus.
type Domain int

const (
	Voltage Domain = iota
	Temperature
)

// String returns the domain name used in file layouts and log attributes.
func (d Domain) String() string {
	switch d {
	case Voltage:
		return "voltage"
	case Temperature:
		return "temperature"
	default:
		return "unknown"
	}
}

// Sample is a single sensor reading. Timestamp is Unix time in milliseconds,
// kept as a float to preserve sub-millisecond precision from the bus driver.
type Sample struct {
	Timestamp float64
	Value     float64
}

// Layout describes the fixed module/cell coordinate space for both domains.
// It is set at construction time and never changes while the logger runs.
type Layout struct {
	VoltageModules int `yaml:"voltageModules"`
	VoltageCells   int `yaml:"voltageCells"`
	TempModules    int `yaml:"tempModules"`
	TempCells      int `yaml:"tempCells"`
}

// DefaultLayout matches the pack fitted on the test bench: five modules with
// 16 voltage taps and 6 thermistors each.
func DefaultLayout() Layout {
	return Layout{
		VoltageModules: 5,
		VoltageCells:   16,
		TempModules:    5,
		TempCells:      6,
	}
}

// Dims returns the (modules, cells) pair for a domain.
func (l Layout) Dims(d Domain) (modules, cells int) {
	if d == Voltage {
		return l.VoltageModules, l.VoltageCells
	}
	return l.TempModules, l.TempCells
}

// Channels returns the total number of channels across both domains.
func (l Layout) Channels() int {
	return l.VoltageModules*l.VoltageCells + l.TempModules*l.TempCells
}
