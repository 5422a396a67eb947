package datalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/helios-ev/bms-datalogger/internal/canbus"
	"github.com/helios-ev/bms-datalogger/internal/telemetry"
)

func testLayout() telemetry.Layout {
	return telemetry.Layout{
		VoltageModules: 2,
		VoltageCells:   3,
		TempModules:    2,
		TempCells:      2,
	}
}

func startTestSession(t *testing.T) *Session {
	t.Helper()

	s := NewSession(testLayout(), WithDrainInterval(time.Millisecond))
	if err := s.Start(); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	t.Cleanup(s.Cleanup)
	return s
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("Failed to read %s: %v", path, err)
	}
	return rows
}

func TestSession_StartCreatesFullLayout(t *testing.T) {
	s := startTestSession(t)

	layout := testLayout()
	var csvCount int
	for _, domain := range []telemetry.Domain{telemetry.Voltage, telemetry.Temperature} {
		modules, cells := layout.Dims(domain)
		for m := 0; m < modules; m++ {
			for c := 0; c < cells; c++ {
				path := filepath.Join(s.Dir(), CellFilePath(domain, m, c))
				rows := readRows(t, path)
				if len(rows) != 1 || rows[0][0] != "timestamp" || rows[0][1] != "value" {
					t.Errorf("%s: missing header row", path)
				}
				csvCount++
			}
		}
	}

	want := layout.VoltageModules*layout.VoltageCells + layout.TempModules*layout.TempCells
	if csvCount != want {
		t.Errorf("Expected %d channel files, got %d", want, csvCount)
	}

	for _, bus := range []canbus.Bus{canbus.BusBattery, canbus.BusVehicle} {
		if _, err := os.Stat(filepath.Join(s.Dir(), TraceFileName(bus))); err != nil {
			t.Errorf("Trace file for %s bus missing: %v", bus, err)
		}
	}

	if !strings.Contains(filepath.Base(s.Dir()), "helios_log_") {
		t.Errorf("Unexpected session directory name: %s", s.Dir())
	}
}

func TestSession_LifecycleMisuse(t *testing.T) {
	s := NewSession(testLayout(), WithDrainInterval(time.Millisecond))

	if _, err := s.Stop(); !errors.Is(err, ErrSessionInactive) {
		t.Errorf("Stop before start: expected ErrSessionInactive, got %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	t.Cleanup(s.Cleanup)

	if err := s.Start(); !errors.Is(err, ErrSessionActive) {
		t.Errorf("Double start: expected ErrSessionActive, got %v", err)
	}

	if _, err := s.Stop(); err != nil {
		t.Fatalf("Failed to stop session: %v", err)
	}
	if _, err := s.Stop(); !errors.Is(err, ErrSessionInactive) {
		t.Errorf("Double stop: expected ErrSessionInactive, got %v", err)
	}
}

func TestSession_StopDrainsEverythingEnqueued(t *testing.T) {
	s := startTestSession(t)

	const perChannel = 50
	for i := 0; i < perChannel; i++ {
		ts := float64(1_700_000_000_000 + i)
		s.EnqueueSample(telemetry.Voltage, 0, 1, ts, 3.7)
		s.EnqueueSample(telemetry.Temperature, 1, 0, ts, 25.5)
		s.EnqueueFrame(canbus.BusBattery, canbus.Frame{ID: 0x101, Timestamp: time.UnixMilli(int64(ts)), Data: []byte{byte(i)}})
	}

	// Stop immediately: the final drain pass must rescue everything.
	dir, err := s.Stop()
	if err != nil {
		t.Fatalf("Failed to stop session: %v", err)
	}

	rows := readRows(t, filepath.Join(dir, CellFilePath(telemetry.Voltage, 0, 1)))
	if len(rows) != perChannel+1 {
		t.Fatalf("Voltage file: expected %d rows, got %d", perChannel+1, len(rows))
	}

	// First data row carries the first write, converted ms to seconds.
	ts, err := strconv.ParseFloat(rows[1][0], 64)
	if err != nil {
		t.Fatalf("Unparseable timestamp %q: %v", rows[1][0], err)
	}
	if want := 1_700_000_000_000.0 / 1000.0; ts != want {
		t.Errorf("Expected first timestamp %v s, got %v", want, ts)
	}
	if rows[1][1] != "3.7" {
		t.Errorf("Expected value 3.7, got %q", rows[1][1])
	}

	rows = readRows(t, filepath.Join(dir, CellFilePath(telemetry.Temperature, 1, 0)))
	if len(rows) != perChannel+1 {
		t.Errorf("Temperature file: expected %d rows, got %d", perChannel+1, len(rows))
	}

	records, err := ReadTrace(filepath.Join(dir, TraceFileName(canbus.BusBattery)))
	if err != nil {
		t.Fatalf("Failed to read battery trace: %v", err)
	}
	if len(records) != perChannel {
		t.Errorf("Battery trace: expected %d frames, got %d", perChannel, len(records))
	}
	for i, rec := range records {
		if len(rec.Data) != 1 || rec.Data[0] != byte(i) {
			t.Fatalf("Battery trace frame %d out of order", i)
		}
	}

	if got := s.SamplesWritten(telemetry.Voltage); got != perChannel {
		t.Errorf("Expected %d voltage samples counted, got %d", perChannel, got)
	}
}

func TestSession_EnqueueInactiveIsNoop(t *testing.T) {
	s := NewSession(testLayout())

	// Must not panic or accumulate anything.
	s.EnqueueSample(telemetry.Voltage, 0, 0, 1, 3.7)
	s.EnqueueFrame(canbus.BusVehicle, canbus.Frame{ID: 0x25})

	if s.voltageQueue.Len() != 0 || s.vehicleQueue.Len() != 0 {
		t.Error("Inactive session accepted queued data")
	}
}

func TestSession_SummaryWrittenOnStop(t *testing.T) {
	s := startTestSession(t)

	s.EnqueueSample(telemetry.Voltage, 0, 0, 1_700_000_000_000, 3.7)
	dir, err := s.Stop()
	if err != nil {
		t.Fatalf("Failed to stop session: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, SummaryFileName()))
	if err != nil {
		t.Fatalf("Summary file missing: %v", err)
	}

	summary := string(data)
	for _, want := range []string{
		"HELIOS BMS Logging Session",
		"Voltage Modules: 2",
		"Voltage Cells per Module: 3",
		"Temperature Modules: 2",
		"Temperature Cells per Module: 2",
		"Voltage samples: 1",
	} {
		if !strings.Contains(summary, want) {
			t.Errorf("Summary missing %q:\n%s", want, summary)
		}
	}
}

func TestSession_MoveToNewDestination(t *testing.T) {
	s := startTestSession(t)

	s.EnqueueSample(telemetry.Voltage, 1, 2, 1_700_000_000_000, 4.1)
	if _, err := s.Stop(); err != nil {
		t.Fatalf("Failed to stop session: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "logs", "run_01")
	if err := s.MoveTo(dest); err != nil {
		t.Fatalf("Failed to move session: %v", err)
	}

	rows := readRows(t, filepath.Join(dest, CellFilePath(telemetry.Voltage, 1, 2)))
	if len(rows) != 2 {
		t.Errorf("Moved voltage file: expected 2 rows, got %d", len(rows))
	}
	if _, err := os.Stat(filepath.Join(dest, SummaryFileName())); err != nil {
		t.Errorf("Summary missing in destination: %v", err)
	}
	if _, err := os.Stat(s.Dir()); !os.IsNotExist(err) {
		t.Errorf("Temporary directory still present after move")
	}
}

func TestSession_MoveToExistingDestinationMerges(t *testing.T) {
	s := startTestSession(t)
	if _, err := s.Stop(); err != nil {
		t.Fatalf("Failed to stop session: %v", err)
	}

	dest := t.TempDir()
	unrelated := filepath.Join(dest, "notes.txt")
	if err := os.WriteFile(unrelated, []byte("keep me"), 0o644); err != nil {
		t.Fatalf("Failed to seed destination: %v", err)
	}

	if err := s.MoveTo(dest); err != nil {
		t.Fatalf("Failed to merge session: %v", err)
	}

	data, err := os.ReadFile(unrelated)
	if err != nil || string(data) != "keep me" {
		t.Errorf("Merge clobbered unrelated file: %v %q", err, data)
	}
	if _, err = os.Stat(filepath.Join(dest, CellFilePath(telemetry.Voltage, 0, 0))); err != nil {
		t.Errorf("Session content missing after merge: %v", err)
	}
}

func TestSession_CleanupIdempotent(t *testing.T) {
	s := NewSession(testLayout(), WithDrainInterval(time.Millisecond))

	s.Cleanup() // never started

	if err := s.Start(); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	dir := s.Dir()

	s.Cleanup() // active: stop then remove
	if s.IsActive() {
		t.Error("Session still active after cleanup")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("Session directory still present after cleanup")
	}

	s.Cleanup() // second call must be harmless
}

func TestSession_DrainLoopWritesWhileActive(t *testing.T) {
	s := startTestSession(t)

	const n = 20
	for i := 0; i < n; i++ {
		s.EnqueueSample(telemetry.Voltage, 0, 0, float64(1_700_000_000_000+i), 3.6)
	}

	// Give the drain loop a few intervals to pick the samples up.
	deadline := time.Now().Add(time.Second)
	for s.SamplesWritten(telemetry.Voltage) < n {
		if time.Now().After(deadline) {
			t.Fatalf("Drain loop stuck: %d of %d samples written", s.SamplesWritten(telemetry.Voltage), n)
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := s.Stop(); err != nil {
		t.Fatalf("Failed to stop session: %v", err)
	}
}

func TestSession_ConcurrentProducersAllPersisted(t *testing.T) {
	s := startTestSession(t)

	layout := testLayout()
	const perChannel = 40

	done := make(chan struct{})
	for m := 0; m < layout.VoltageModules; m++ {
		for c := 0; c < layout.VoltageCells; c++ {
			go func(m, c int) {
				defer func() { done <- struct{}{} }()
				for i := 0; i < perChannel; i++ {
					s.EnqueueSample(telemetry.Voltage, m, c, float64(i), float64(m)+float64(c)/10)
				}
			}(m, c)
		}
	}
	for i := 0; i < layout.VoltageModules*layout.VoltageCells; i++ {
		<-done
	}

	dir, err := s.Stop()
	if err != nil {
		t.Fatalf("Failed to stop session: %v", err)
	}

	for m := 0; m < layout.VoltageModules; m++ {
		for c := 0; c < layout.VoltageCells; c++ {
			rows := readRows(t, filepath.Join(dir, CellFilePath(telemetry.Voltage, m, c)))
			if len(rows) != perChannel+1 {
				t.Errorf("Channel (%d,%d): expected %d rows, got %d", m, c, perChannel+1, len(rows))
			}
		}
	}

	if got := s.SamplesWritten(telemetry.Voltage); got != uint64(layout.VoltageModules*layout.VoltageCells*perChannel) {
		t.Errorf("Unexpected persisted sample count: %d", got)
	}
}

func ExampleSession() {
	s := NewSession(telemetry.DefaultLayout())
	if err := s.Start(); err != nil {
		fmt.Println(err)
		return
	}
	defer s.Cleanup()

	s.EnqueueSample(telemetry.Voltage, 0, 0, 1_700_000_000_000, 3.712)
	if _, err := s.Stop(); err != nil {
		fmt.Println(err)
	}
	// Output:
}
