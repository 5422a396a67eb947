package app

import (
	"math"

	"github.com/helios-ev/bms-datalogger/internal/telemetry"
)

// For 20 samples:
// - 5% percentile  = 1 sample
// - 95% percentile = 19th sample
const minimumSampleCount = 20

// ValueBounds represents the calculated value boundaries
type ValueBounds struct {
	Min       float64 // 5th percentile value
	Max       float64 // 95th percentile value
	Mean      float64 // Mean value
	Reference float64 // Reference level for visualization
}

// DomainScale carries the per-domain histogram parameters: the bin size the
// values are quantized to and the fallback bounds used until enough samples
// have arrived.
type DomainScale struct {
	BinSize  float64
	Fallback ValueBounds
}

// ScaleFor returns the histogram parameters for a telemetry domain. Cell
// voltages cluster within a few hundred millivolts, so they get 10mV bins;
// temperatures get half-degree bins.
func ScaleFor(domain telemetry.Domain) DomainScale {
	if domain == telemetry.Voltage {
		return DomainScale{
			BinSize: 0.01,
			Fallback: ValueBounds{
				Min:       2.5,
				Max:       4.5,
				Mean:      3.5,
				Reference: 3.5,
			},
		}
	}
	return DomainScale{
		BinSize: 0.5,
		Fallback: ValueBounds{
			Min:       -20,
			Max:       60,
			Mean:      20,
			Reference: 20,
		},
	}
}

// ValueHistogram maintains a histogram of readings with fixed-size bins
type ValueHistogram struct {
	scale      DomainScale
	bins       map[int]uint32 // Map of bin index to count
	totalCount uint64         // Total number of samples
	minBin     int            // Cache for min bin
	maxBin     int            // Cache for max bin
}

// NewValueHistogram creates a new histogram for the given scale
func NewValueHistogram(scale DomainScale) *ValueHistogram {
	return &ValueHistogram{
		scale:  scale,
		bins:   make(map[int]uint32),
		minBin: math.MaxInt32,
		maxBin: math.MinInt32,
	}
}

func (h *ValueHistogram) binIndex(value float64) int {
	return int(math.Floor(value / h.scale.BinSize))
}

// scaleDown scales all bin counts down by factor of 2
func (h *ValueHistogram) scaleDown() {
	h.minBin = math.MaxInt32
	h.maxBin = math.MinInt32

	for bin := range h.bins {
		h.bins[bin] /= 2
		// Remove bin if it becomes 0
		if h.bins[bin] == 0 {
			delete(h.bins, bin)
			continue
		}

		if bin < h.minBin {
			h.minBin = bin
		}
		if bin > h.maxBin {
			h.maxBin = bin
		}
	}
	h.totalCount /= 2
}

// Update adds a new reading to the histogram
func (h *ValueHistogram) Update(value *float64) {
	if value == nil {
		return
	}

	bin := h.binIndex(*value)

	if h.bins[bin] == math.MaxUint32 || h.totalCount == math.MaxUint64 {
		h.scaleDown()
	}

	h.bins[bin]++
	h.totalCount++

	if bin < h.minBin {
		h.minBin = bin
	}
	if bin > h.maxBin {
		h.maxBin = bin
	}
}

// Clear resets the histogram
func (h *ValueHistogram) Clear() {
	h.bins = make(map[int]uint32)
	h.totalCount = 0
	h.minBin = math.MaxInt32
	h.maxBin = math.MinInt32
}

// GetPercentileBounds returns value bounds based on percentiles
func (h *ValueHistogram) GetPercentileBounds() ValueBounds {
	if h.totalCount < minimumSampleCount { // Require minimum samples
		return h.scale.Fallback
	}

	// Calculate target count for the 5th and 95th percentiles
	target5th := h.totalCount * 5 / 100

	var count uint64
	var min5th, max95th int

	// Find 5th percentile
	for bin := h.minBin; bin <= h.maxBin; bin++ {
		count += uint64(h.bins[bin])
		if count >= target5th {
			min5th = bin
			break
		}
	}

	// Find 95th percentile
	count = 0
	for bin := h.maxBin; bin >= h.minBin; bin-- {
		count += uint64(h.bins[bin])
		if count >= target5th {
			max95th = bin
			break
		}
	}

	// Calculate mean (weighted average of bin centers)
	var sumProduct float64
	for bin := h.minBin; bin <= h.maxBin; bin++ {
		sumProduct += float64(bin) * float64(h.bins[bin])
	}
	mean := sumProduct / float64(h.totalCount) * h.scale.BinSize

	// Ensure a minimum spread of 10 bins so a flat pack does not collapse
	// the color range onto sensor noise
	if max95th-min5th < 10 {
		center := (max95th + min5th) / 2
		min5th = center - 5
		max95th = center + 5
	}

	// Add small margin
	margin := (max95th - min5th) * 1 / 10 // 10% margin
	minValue := float64(min5th-margin) * h.scale.BinSize
	maxValue := float64(max95th+margin) * h.scale.BinSize

	return ValueBounds{
		Min:       minValue,
		Max:       maxValue,
		Mean:      mean,
		Reference: mean,
	}
}

// SmoothBounds represents a smoothed version of the histogram bounds
type SmoothBounds struct {
	hist    *ValueHistogram
	alpha   float64     // Smoothing factor (0-1)
	current ValueBounds // Current smoothed bounds
}

// NewSmoothBounds creates a new bounds smoother
func NewSmoothBounds(scale DomainScale, alpha float64) *SmoothBounds {
	return &SmoothBounds{
		hist:    NewValueHistogram(scale),
		alpha:   alpha,
		current: scale.Fallback,
	}
}

// Update adds a new reading and returns smoothed bounds
func (s *SmoothBounds) Update(value *float64) ValueBounds {
	if value == nil {
		return s.current
	}

	s.hist.Update(value)

	newBounds := s.hist.GetPercentileBounds()

	// Apply exponential smoothing
	s.current.Min = s.current.Min*(1-s.alpha) + newBounds.Min*s.alpha
	s.current.Max = s.current.Max*(1-s.alpha) + newBounds.Max*s.alpha
	s.current.Mean = newBounds.Mean // Use new mean directly
	s.current.Reference = newBounds.Reference

	return s.current
}

// Current returns the current smoothed bounds
func (s *SmoothBounds) Current() ValueBounds {
	return s.current
}

// Override replaces the tracked bounds, for manual range selection.
func (s *SmoothBounds) Override(bounds ValueBounds) {
	s.current = bounds
}

// Clear resets the histogram and bounds
func (s *SmoothBounds) Clear() {
	s.hist.Clear()
	s.current = s.hist.scale.Fallback
}
