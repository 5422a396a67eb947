package canbus

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SignalDef describes how one signal is packed into a frame payload.
// Only little-endian packing is used by the battery firmware.
type SignalDef struct {
	Name      string  `yaml:"name"`
	StartBit  int     `yaml:"startBit"`
	BitLength int     `yaml:"bitLength"`
	Signed    bool    `yaml:"signed"`
	Factor    float64 `yaml:"factor"`
	Offset    float64 `yaml:"offset"`
}

// FrameDef is the set of signals carried by one frame ID.
type FrameDef struct {
	ID      uint32      `yaml:"id"`
	Name    string      `yaml:"name"`
	Signals []SignalDef `yaml:"signals"`
}

// SignalMap is a table-driven Decoder. It covers the subset of the DBC the
// logger needs and is loaded from a YAML file next to the main config.
type SignalMap struct {
	byID map[uint32]FrameDef
}

type signalMapFile struct {
	Frames []FrameDef `yaml:"frames"`
}

// maxFrameBits bounds signal positions to the largest CAN FD payload (64
// bytes). Decode additionally skips signals beyond the actual payload.
const maxFrameBits = 64 * 8

// LoadSignalMap reads frame definitions from a YAML file.
func LoadSignalMap(path string) (*SignalMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading signal map: %w", err)
	}

	var file signalMapFile
	if err = yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing signal map: %w", err)
	}

	return NewSignalMap(file.Frames)
}

// NewSignalMap builds a decoder from frame definitions.
func NewSignalMap(frames []FrameDef) (*SignalMap, error) {
	m := SignalMap{byID: make(map[uint32]FrameDef, len(frames))}
	for _, f := range frames {
		if _, ok := m.byID[f.ID]; ok {
			return nil, fmt.Errorf("duplicate frame ID 0x%X", f.ID)
		}
		for i, s := range f.Signals {
			if s.Name == "" {
				return nil, fmt.Errorf("frame 0x%X: signal %d has no name", f.ID, i)
			}
			if s.BitLength <= 0 || s.BitLength > 64 {
				return nil, fmt.Errorf("frame 0x%X: signal %s has invalid bit length %d", f.ID, s.Name, s.BitLength)
			}
			if s.StartBit < 0 || s.StartBit+s.BitLength > maxFrameBits {
				return nil, fmt.Errorf("frame 0x%X: signal %s has invalid start bit %d", f.ID, s.Name, s.StartBit)
			}
			if s.Factor == 0 {
				f.Signals[i].Factor = 1
			}
		}
		m.byID[f.ID] = f
	}
	return &m, nil
}

// Decode extracts all defined signals from the frame payload. Signals that
// fall outside the actual payload are skipped, which happens when a short
// classic-CAN frame arrives under an ID defined for a longer FD layout.
func (m *SignalMap) Decode(f Frame) (map[string]float64, bool) {
	def, ok := m.byID[f.ID]
	if !ok {
		return nil, false
	}

	signals := make(map[string]float64, len(def.Signals))
	for _, s := range def.Signals {
		if s.StartBit+s.BitLength > len(f.Data)*8 {
			continue
		}

		raw := extractLittleEndian(f.Data, s.StartBit, s.BitLength)
		var value float64
		if s.Signed {
			value = float64(signExtend(raw, s.BitLength))
		} else {
			value = float64(raw)
		}
		signals[s.Name] = value*s.Factor + s.Offset
	}
	return signals, true
}

func extractLittleEndian(data []byte, startBit, bitLength int) uint64 {
	var v uint64
	for i := 0; i < bitLength; i++ {
		bit := startBit + i
		if data[bit/8]&(1<<(bit%8)) != 0 {
			v |= 1 << i
		}
	}
	return v
}

func signExtend(raw uint64, bitLength int) int64 {
	if bitLength == 64 {
		return int64(raw)
	}
	if raw&(1<<(bitLength-1)) != 0 {
		raw |= ^uint64(0) << bitLength
	}
	return int64(raw)
}
