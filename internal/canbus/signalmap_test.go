package canbus

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testFrameDefs() []FrameDef {
	return []FrameDef{
		{
			ID:   0x101,
			Name: "CellVoltages_M1_A",
			Signals: []SignalDef{
				{Name: "UCellBattPwrHi_1_1", StartBit: 0, BitLength: 16, Factor: 0.001},
				{Name: "UCellBattPwrHi_1_2", StartBit: 16, BitLength: 16, Factor: 0.001},
				{Name: "UCellBattPwrHi_1_3", StartBit: 32, BitLength: 16, Factor: 0.001},
			},
		},
		{
			ID:   0x201,
			Name: "CellTemps_M1",
			Signals: []SignalDef{
				{Name: "TCellBattPwrHi_1_1", StartBit: 0, BitLength: 8, Signed: true, Factor: 0.5, Offset: -40},
			},
		},
	}
}

func TestSignalMap_Decode(t *testing.T) {
	m, err := NewSignalMap(testFrameDefs())
	if err != nil {
		t.Fatalf("Failed to build signal map: %v", err)
	}

	// 3.700V, 3.852V, 0.000V packed little-endian as millivolts.
	frame := Frame{
		ID:        0x101,
		Timestamp: time.Now(),
		Data:      []byte{0x74, 0x0E, 0x0C, 0x0F, 0x00, 0x00},
	}

	signals, ok := m.Decode(frame)
	if !ok {
		t.Fatal("Known frame ID not decoded")
	}
	if len(signals) != 3 {
		t.Fatalf("Expected 3 signals, got %d", len(signals))
	}

	expected := map[string]float64{
		"UCellBattPwrHi_1_1": 3.700,
		"UCellBattPwrHi_1_2": 3.852,
		"UCellBattPwrHi_1_3": 0.000,
	}
	for name, want := range expected {
		got, found := signals[name]
		if !found {
			t.Errorf("Signal %s missing", name)
			continue
		}
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("Signal %s: expected %v, got %v", name, want, got)
		}
	}
}

func TestSignalMap_DecodeSignedWithOffset(t *testing.T) {
	m, err := NewSignalMap(testFrameDefs())
	if err != nil {
		t.Fatalf("Failed to build signal map: %v", err)
	}

	// Raw -10 (0xF6) * 0.5 - 40 = -45.0
	signals, ok := m.Decode(Frame{ID: 0x201, Data: []byte{0xF6}})
	if !ok {
		t.Fatal("Known frame ID not decoded")
	}
	if got := signals["TCellBattPwrHi_1_1"]; math.Abs(got-(-45.0)) > 1e-9 {
		t.Errorf("Expected -45.0, got %v", got)
	}
}

func TestSignalMap_UnknownFrame(t *testing.T) {
	m, err := NewSignalMap(testFrameDefs())
	if err != nil {
		t.Fatalf("Failed to build signal map: %v", err)
	}

	if _, ok := m.Decode(Frame{ID: 0x7FF, Data: []byte{0x00}}); ok {
		t.Error("Unknown frame ID must not decode")
	}
}

func TestSignalMap_ShortPayloadSkipsSignal(t *testing.T) {
	m, err := NewSignalMap(testFrameDefs())
	if err != nil {
		t.Fatalf("Failed to build signal map: %v", err)
	}

	// Two bytes only: the second and third voltage signals do not fit.
	signals, ok := m.Decode(Frame{ID: 0x101, Data: []byte{0x74, 0x0E}})
	if !ok {
		t.Fatal("Known frame ID not decoded")
	}
	if len(signals) != 1 {
		t.Errorf("Expected 1 decodable signal, got %d", len(signals))
	}
}

func TestSignalMap_ValidationErrors(t *testing.T) {
	if _, err := NewSignalMap([]FrameDef{
		{ID: 0x1, Signals: []SignalDef{{Name: "a", BitLength: 8}}},
		{ID: 0x1, Signals: []SignalDef{{Name: "b", BitLength: 8}}},
	}); err == nil {
		t.Error("Duplicate frame ID must be rejected")
	}

	if _, err := NewSignalMap([]FrameDef{
		{ID: 0x1, Signals: []SignalDef{{Name: "", BitLength: 8}}},
	}); err == nil {
		t.Error("Unnamed signal must be rejected")
	}

	if _, err := NewSignalMap([]FrameDef{
		{ID: 0x1, Signals: []SignalDef{{Name: "a", BitLength: 0}}},
	}); err == nil {
		t.Error("Zero bit length must be rejected")
	}

	if _, err := NewSignalMap([]FrameDef{
		{ID: 0x1, Signals: []SignalDef{{Name: "a", StartBit: -8, BitLength: 8}}},
	}); err == nil {
		t.Error("Negative start bit must be rejected")
	}

	if _, err := NewSignalMap([]FrameDef{
		{ID: 0x1, Signals: []SignalDef{{Name: "a", StartBit: 504, BitLength: 16}}},
	}); err == nil {
		t.Error("Signal extending past the largest payload must be rejected")
	}
}

func TestLoadSignalMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.yaml")
	content := `frames:
  - id: 0x101
    name: CellVoltages_M1_A
    signals:
      - name: UCellBattPwrHi_1_1
        startBit: 0
        bitLength: 16
        factor: 0.001
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	m, err := LoadSignalMap(path)
	if err != nil {
		t.Fatalf("Failed to load signal map: %v", err)
	}

	signals, ok := m.Decode(Frame{ID: 0x101, Data: []byte{0x74, 0x0E}})
	if !ok {
		t.Fatal("Loaded map did not decode known frame")
	}
	if got := signals["UCellBattPwrHi_1_1"]; math.Abs(got-3.7) > 1e-9 {
		t.Errorf("Expected 3.7, got %v", got)
	}
}
