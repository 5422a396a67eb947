package app

import (
	"image/color"
	"math"
)

// ColorTheme selects one of the predefined palettes.
type ColorTheme string

const (
	ClassicTheme   ColorTheme = "classic"   // Blue to red transition
	GrayscaleTheme ColorTheme = "grayscale" // Black to white transition
	JungleTheme    ColorTheme = "jungle"    // Dark green to yellow transition
	ThermalTheme   ColorTheme = "thermal"   // Black to red to yellow to white
	MarineTheme    ColorTheme = "marine"    // Deep blue to cyan to white
)

// colorMapSize is the number of pre-computed palette entries.
const colorMapSize = 256

// ColorMapper maps readings to palette colors over a fixed value range.
// Colors are pre-computed so the per-pixel lookup is a slice index.
type ColorMapper struct {
	colorMap      []color.Color
	theme         func(float64) color.Color
	valuePerIndex float64
	boundsMin     float64
}

func NewColorMapper(theme ColorTheme, bounds ValueBounds) *ColorMapper {
	cm := &ColorMapper{
		colorMap: make([]color.Color, colorMapSize),
		theme:    getColorTheme(theme),
	}
	cm.UpdateBounds(bounds)
	return cm
}

// UpdateBounds changes the value range and recomputes the palette.
func (cm *ColorMapper) UpdateBounds(bounds ValueBounds) {
	cm.boundsMin = bounds.Min
	cm.valuePerIndex = (bounds.Max - bounds.Min) / float64(len(cm.colorMap)-1)

	for i := range cm.colorMap {
		cm.colorMap[i] = cm.theme(float64(i) / float64(len(cm.colorMap)-1))
	}
}

// GetColor returns the palette color for a reading. A nil reading (no data
// for the cell) maps to the low end of the palette, out-of-range readings
// clamp to the nearest end.
func (cm *ColorMapper) GetColor(value *float64) color.Color {
	if value == nil {
		return cm.colorMap[0]
	}

	index := int((*value - cm.boundsMin) / cm.valuePerIndex)
	if index < 0 {
		return cm.colorMap[0]
	}
	if index >= len(cm.colorMap) {
		return cm.colorMap[len(cm.colorMap)-1]
	}
	return cm.colorMap[index]
}

// HSV represents a color in HSV (Hue, Saturation, Value) color space
type HSV struct {
	H float64 // Hue angle in degrees [0-360]
	S float64 // Saturation [0-1]
	V float64 // Value/Brightness [0-1]
}

// RGB converts HSV to RGB color space efficiently
func (hsv HSV) RGB() color.Color {
	// Fast path for grayscale
	if hsv.S <= 0.0 {
		v := uint8(hsv.V * 255)
		return color.RGBA{R: v, G: v, B: v, A: 255}
	}

	// Normalize hue to [0-6)
	h := hsv.H
	if h >= 360 {
		h -= 360
	}
	h /= 60

	// Calculate color components
	i := int(h)
	f := h - float64(i)

	v := uint8(hsv.V * 255)
	p := uint8((hsv.V * (1 - hsv.S)) * 255)
	q := uint8((hsv.V * (1 - (hsv.S * f))) * 255)
	t := uint8((hsv.V * (1 - (hsv.S * (1 - f)))) * 255)

	switch i {
	case 0:
		return color.RGBA{R: v, G: t, B: p, A: 255}
	case 1:
		return color.RGBA{R: q, G: v, B: p, A: 255}
	case 2:
		return color.RGBA{R: p, G: v, B: t, A: 255}
	case 3:
		return color.RGBA{R: p, G: q, B: v, A: 255}
	case 4:
		return color.RGBA{R: t, G: p, B: v, A: 255}
	default: // case 5:
		return color.RGBA{R: v, G: p, B: q, A: 255}
	}
}

// Color theme implementations
func getColorTheme(theme ColorTheme) func(float64) color.Color {
	switch theme {
	case ClassicTheme:
		return func(value float64) color.Color {
			return HSV{
				H: 240 - (value * 240),
				S: 0.9 + (value * 0.1),
				V: math.Pow(value, 0.7),
			}.RGB()
		}

	case GrayscaleTheme:
		return func(value float64) color.Color {
			v := uint8(math.Pow(value, 0.7) * 255)
			return color.RGBA{R: v, G: v, B: v, A: 255}
		}

	case JungleTheme:
		return func(value float64) color.Color {
			return HSV{
				H: 120 - (value * 60),
				S: 1.0,
				V: 0.3 + (math.Pow(value, 0.6) * 0.7),
			}.RGB()
		}

	case ThermalTheme:
		return func(value float64) color.Color {
			if value < 0.33 {
				return color.RGBA{
					R: uint8((value * 3) * 255),
					A: 255,
				}
			}
			if value < 0.66 {
				return color.RGBA{
					R: 255,
					G: uint8(((value - 0.33) * 3) * 255),
					A: 255,
				}
			}
			return color.RGBA{
				R: 255,
				G: 255,
				B: uint8(((value - 0.66) * 3) * 255),
				A: 255,
			}
		}

	case MarineTheme:
		return func(value float64) color.Color {
			return HSV{
				H: 240 - (value * 60),
				S: 1.0 - (value * 0.8),
				V: 0.3 + (math.Pow(value, 0.6) * 0.7),
			}.RGB()
		}

	default:
		return func(value float64) color.Color {
			value = math.Max(0, math.Min(1, value))
			enhanced := math.Pow(value, 0.7)

			switch {
			case value < 0.25:
				return HSV{
					H: 240,
					S: 1.0,
					V: enhanced * 4,
				}.RGB()
			case value < 0.5:
				return HSV{
					H: 240 - ((value - 0.25) * 240),
					S: 1.0,
					V: enhanced * 1.5,
				}.RGB()
			case value < 0.75:
				p := (value - 0.5) * 4
				return HSV{
					H: 180 - (p * 120),
					S: 1.0,
					V: math.Min(1.0, enhanced*1.5),
				}.RGB()
			default:
				p := (value - 0.75) * 4
				return HSV{
					H: 60 - (p * 60),
					S: 1.0,
					V: 1.0,
				}.RGB()
			}
		}
	}
}
