package datalog

import (
	"fmt"
	"path/filepath"

	"github.com/helios-ev/bms-datalogger/internal/canbus"
	"github.com/helios-ev/bms-datalogger/internal/telemetry"
)

// On-disk session layout:
//
//	Voltage/Module_00/voltage_00_00.csv
//	Temperature/Module_03/temperature_03_05.csv
//	battery_can_raw.cbor
//	vehicle_can_raw.cbor
//	log_summary.txt
const (
	tempDirPrefix   = "helios_log_"
	summaryFileName = "log_summary.txt"
)

// DomainDirName returns the per-domain directory name within a session.
func DomainDirName(d telemetry.Domain) string {
	if d == telemetry.Voltage {
		return "Voltage"
	}
	return "Temperature"
}

func moduleDirName(module int) string {
	return fmt.Sprintf("Module_%02d", module)
}

func cellFileName(d telemetry.Domain, module, cell int) string {
	return fmt.Sprintf("%s_%02d_%02d.csv", d.String(), module, cell)
}

// CellFilePath returns the path of one channel's CSV file relative to the
// session root. Exported for the session readers (heatmap, tests).
func CellFilePath(d telemetry.Domain, module, cell int) string {
	return filepath.Join(DomainDirName(d), moduleDirName(module), cellFileName(d, module, cell))
}

// TraceFileName returns the raw-frame trace file name for a bus.
func TraceFileName(bus canbus.Bus) string {
	return fmt.Sprintf("%s_can_raw.cbor", bus)
}

// SummaryFileName is the name of the plain-text session summary.
func SummaryFileName() string {
	return summaryFileName
}
