package canbus

import "time"

// Bus identifies one of the two physical CAN buses the logger listens on.
type Bus string

const (
	// BusBattery carries the per-cell voltage and temperature broadcasts.
	BusBattery Bus = "battery"

	// BusVehicle carries vehicle state traffic; it is traced raw and only
	// decoded when a signal map is configured for it.
	BusVehicle Bus = "vehicle"
)

// Frame is a raw bus frame as handed over by the transport driver. Data keeps
// its wire length (classic CAN or CAN FD), and Timestamp is the driver-side
// receive time.
type Frame struct {
	ID        uint32
	Extended  bool
	Timestamp time.Time
	Data      []byte
}

// Message pairs a frame with the bus it arrived on.
type Message struct {
	Bus   Bus
	Frame Frame
}

// Decoder turns a raw frame into a map of signal name to physical value.
// The second return is false when the frame ID is not in the decoder's
// database. The production decoder is generated from the vehicle DBC; this
// package ships a table-driven implementation (SignalMap) for the logger.
type Decoder interface {
	Decode(f Frame) (map[string]float64, bool)
}
