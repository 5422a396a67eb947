package ingest

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/helios-ev/bms-datalogger/internal/canbus"
	"github.com/helios-ev/bms-datalogger/internal/datalog"
	"github.com/helios-ev/bms-datalogger/internal/telemetry"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()

	buffer, err := telemetry.NewBuffer(telemetry.Layout{
		VoltageModules: 2,
		VoltageCells:   3,
		TempModules:    2,
		TempCells:      2,
	}, 16)
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}
	return NewCollector(buffer)
}

func TestCollector_SubmitWithoutSession(t *testing.T) {
	c := newTestCollector(t)

	if !c.Submit(telemetry.Voltage, 0, 1, 1_700_000_000_000, 3.7) {
		t.Fatal("Valid submit rejected")
	}
	if c.Submit(telemetry.Voltage, 9, 0, 1_700_000_000_000, 3.7) {
		t.Error("Out-of-range submit accepted")
	}

	hist := c.Buffer().History(telemetry.Voltage, 0, 1)
	if len(hist) != 1 || hist[0].Value != 3.7 {
		t.Errorf("Expected one buffered sample, got %v", hist)
	}

	// No session: frames are dropped silently.
	c.SubmitFrame(canbus.BusBattery, canbus.Frame{ID: 0x101})
	if c.SessionActive() {
		t.Error("No session should be active")
	}
}

func TestCollector_SessionReceivesSubmissions(t *testing.T) {
	c := newTestCollector(t)

	s := datalog.NewSession(c.Buffer().Layout(), datalog.WithDrainInterval(time.Millisecond))
	if err := c.StartSession(s); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	t.Cleanup(s.Cleanup)

	const n = 10
	for i := 0; i < n; i++ {
		c.Submit(telemetry.Voltage, 1, 2, float64(1_700_000_000_000+i), 4.0)
		c.SubmitFrame(canbus.BusVehicle, canbus.Frame{ID: 0x25, Timestamp: time.Now()})
	}

	// Out-of-range submissions must not leak into the session either.
	c.Submit(telemetry.Voltage, 5, 0, 1, 1)

	stopped, err := c.StopSession()
	if err != nil {
		t.Fatalf("Failed to stop session: %v", err)
	}
	if stopped != s {
		t.Fatal("StopSession returned a different session")
	}

	if got := s.SamplesWritten(telemetry.Voltage); got != n {
		t.Errorf("Expected %d persisted samples, got %d", n, got)
	}

	records, err := datalog.ReadTrace(filepath.Join(s.Dir(), datalog.TraceFileName(canbus.BusVehicle)))
	if err != nil {
		t.Fatalf("Failed to read vehicle trace: %v", err)
	}
	if len(records) != n {
		t.Errorf("Expected %d traced frames, got %d", n, len(records))
	}

	// Buffer keeps serving reads after the session ends.
	if hist := c.Buffer().History(telemetry.Voltage, 1, 2); len(hist) != n {
		t.Errorf("Expected %d buffered samples, got %d", n, len(hist))
	}
}

func TestCollector_SessionLifecycleMisuse(t *testing.T) {
	c := newTestCollector(t)

	if _, err := c.StopSession(); !errors.Is(err, datalog.ErrSessionInactive) {
		t.Errorf("Stop without session: expected ErrSessionInactive, got %v", err)
	}

	first := datalog.NewSession(c.Buffer().Layout(), datalog.WithDrainInterval(time.Millisecond))
	if err := c.StartSession(first); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	t.Cleanup(first.Cleanup)

	second := datalog.NewSession(c.Buffer().Layout())
	if err := c.StartSession(second); !errors.Is(err, datalog.ErrSessionActive) {
		t.Errorf("Second start: expected ErrSessionActive, got %v", err)
	}

	if _, err := c.StopSession(); err != nil {
		t.Fatalf("Failed to stop session: %v", err)
	}
	if c.SessionActive() {
		t.Error("Session still active after stop")
	}
}

func TestCollector_SubmitAfterStopIsBufferOnly(t *testing.T) {
	c := newTestCollector(t)

	s := datalog.NewSession(c.Buffer().Layout(), datalog.WithDrainInterval(time.Millisecond))
	if err := c.StartSession(s); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	t.Cleanup(s.Cleanup)

	if _, err := c.StopSession(); err != nil {
		t.Fatalf("Failed to stop session: %v", err)
	}

	c.Submit(telemetry.Temperature, 0, 0, 1_700_000_000_000, 24.5)
	if got := s.SamplesWritten(telemetry.Temperature); got != 0 {
		t.Errorf("Stopped session received %d samples", got)
	}
	if hist := c.Buffer().History(telemetry.Temperature, 0, 0); len(hist) != 1 {
		t.Errorf("Expected buffered sample after session stop, got %d", len(hist))
	}
}
