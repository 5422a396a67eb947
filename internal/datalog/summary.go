package datalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/helios-ev/bms-datalogger/internal/canbus"
)

// writeSummary emits the plain-text session summary. It runs after every
// writer is closed so the trace sizes on disk are final.
func (s *Session) writeSummary() error {
	var b strings.Builder

	b.WriteString("HELIOS BMS Logging Session\n")
	b.WriteString(fmt.Sprintf("Started at: %s\n", s.startedAt.Format(time.DateTime)))
	b.WriteString(fmt.Sprintf("Stopped at: %s\n", s.stoppedAt.Format(time.DateTime)))
	b.WriteString(fmt.Sprintf("Duration: %s\n", s.stoppedAt.Sub(s.startedAt).Round(time.Second)))
	b.WriteString("Configuration:\n")
	b.WriteString(fmt.Sprintf("  Voltage Modules: %d\n", s.layout.VoltageModules))
	b.WriteString(fmt.Sprintf("  Voltage Cells per Module: %d\n", s.layout.VoltageCells))
	b.WriteString(fmt.Sprintf("  Temperature Modules: %d\n", s.layout.TempModules))
	b.WriteString(fmt.Sprintf("  Temperature Cells per Module: %d\n", s.layout.TempCells))
	b.WriteString("Written:\n")
	b.WriteString(fmt.Sprintf("  Voltage samples: %s\n", humanize.Comma(int64(s.voltageWritten.Load()))))
	b.WriteString(fmt.Sprintf("  Temperature samples: %s\n", humanize.Comma(int64(s.tempWritten.Load()))))

	for _, bus := range []canbus.Bus{canbus.BusBattery, canbus.BusVehicle} {
		frames, size := s.traceStats(bus)
		b.WriteString(fmt.Sprintf("  Frames on %s bus: %s (%s)\n",
			bus, humanize.Comma(int64(frames)), humanize.Bytes(uint64(size))))
	}

	path := filepath.Join(s.tempDir, summaryFileName)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing session summary: %w", err)
	}
	return nil
}

func (s *Session) traceStats(bus canbus.Bus) (frames uint64, size int64) {
	if bus == canbus.BusBattery {
		frames = s.batteryWritten.Load()
	} else {
		frames = s.vehicleWritten.Load()
	}

	info, err := os.Stat(filepath.Join(s.tempDir, TraceFileName(bus)))
	if err == nil {
		size = info.Size()
	}
	return frames, size
}
