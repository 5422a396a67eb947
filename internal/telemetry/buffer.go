package telemetry

import (
	"fmt"
	"time"
)

// DefaultCapacity is the per-channel history depth used when the config does
// not override it. At a 100ms update rate this holds one minute of data.
const DefaultCapacity = 600

// ring is the fixed-capacity sample history of a single channel. Once the
// cursor wraps, the slot at cursor is always the oldest valid sample.
type ring struct {
	samples []Sample
	cursor  int
	wrapped bool
}

// Buffer is a thread-safe circular store for per-cell voltage and temperature
// readings. Writers (one per bus reader) and the single presentation-side
// reader share it; each domain is guarded by its own lock so contention on
// voltage traffic never delays temperature reads.
//
// The channel space is dense and fixed at construction: rings live in a flat
// slice indexed by module*cells+cell, so the hot write path performs no map
// lookups and no allocation.
type Buffer struct {
	layout   Layout
	capacity int

	voltage shard
	temp    shard

	// dataReady is a level-triggered "new data since last wait" signal.
	// A buffered slot of one gives Event.set/clear semantics: writes set it
	// without blocking, a successful wait clears it.
	dataReady chan struct{}
}

// NewBuffer creates a buffer for the given layout with the given per-channel
// history depth. Capacity and layout dimensions must be positive.
func NewBuffer(layout Layout, capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid ring capacity: %d", capacity)
	}
	if layout.VoltageModules <= 0 || layout.VoltageCells <= 0 ||
		layout.TempModules <= 0 || layout.TempCells <= 0 {
		return nil, fmt.Errorf("invalid layout: %+v", layout)
	}

	b := Buffer{
		layout:    layout,
		capacity:  capacity,
		dataReady: make(chan struct{}, 1),
	}
	b.voltage.init(layout.VoltageModules, layout.VoltageCells, capacity)
	b.temp.init(layout.TempModules, layout.TempCells, capacity)
	return &b, nil
}

// Layout returns the configured channel coordinate space.
func (b *Buffer) Layout() Layout {
	return b.layout
}

// Capacity returns the per-channel history depth.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Write stores one sample for the addressed channel and signals any waiter.
// It returns false and leaves all state untouched when module or cell fall
// outside the configured range; callers are expected to filter first, but the
// buffer defends anyway.
func (b *Buffer) Write(domain Domain, module, cell int, timestamp, value float64) bool {
	s := b.shard(domain)
	if !s.write(module, cell, Sample{Timestamp: timestamp, Value: value}) {
		return false
	}

	select {
	case b.dataReady <- struct{}{}:
	default: // already signalled
	}
	return true
}

// History returns all currently valid samples for one channel in
// chronological order, oldest first. After the ring has wrapped, the result
// is reassembled cursor-first so order follows write time, not slot index.
// Unwritten channels and out-of-range keys yield an empty slice.
func (b *Buffer) History(domain Domain, module, cell int) []Sample {
	return b.shard(domain).history(module, cell)
}

// LatestSnapshot returns the most recently written value per channel for one
// domain as a module-by-cell matrix. Entries are nil where no sample has ever
// been written, so a real 0.0 reading is never conflated with "no data".
func (b *Buffer) LatestSnapshot(domain Domain) [][]*float64 {
	return b.shard(domain).latest()
}

// WaitForData blocks until at least one write has happened since the last
// successful wait, or the timeout elapses. It is meant for a single consumer;
// concurrent waiters would race for the same signal.
func (b *Buffer) WaitForData(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-b.dataReady:
		return true
	case <-t.C:
		return false
	}
}

func (b *Buffer) shard(domain Domain) *shard {
	if domain == Voltage {
		return &b.voltage
	}
	return &b.temp
}
