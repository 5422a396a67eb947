package app

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/helios-ev/bms-datalogger/internal/datalog"
	"github.com/helios-ev/bms-datalogger/internal/telemetry"
)

// HeatmapGrid is one domain of a recorded session resampled onto a
// row-per-interval, column-per-channel grid. Cells with no reading in an
// interval stay nil and render as "no data".
type HeatmapGrid struct {
	Domain        telemetry.Domain
	Width, Height int

	TimestampStart, TimestampEnd time.Time
	Interval                     time.Duration

	BoundsTracker *SmoothBounds
	Rows          [][]*float64
	Labels        []string // Column labels, "M01C05" style
}

type channelSample struct {
	column    int
	timestamp float64 // seconds since epoch
	value     float64
}

// LoadHeatmapGrid reads one domain's CSV files from a session directory and
// resamples them into a grid. Multiple readings that land in the same
// interval are averaged. Channels whose file is missing (a partial session)
// are left empty rather than failing the render.
func LoadHeatmapGrid(sessionDir string, domain telemetry.Domain, modules, cells int, interval time.Duration, bounds *SmoothBounds) (*HeatmapGrid, error) {
	grid := HeatmapGrid{
		Domain:        domain,
		Width:         modules * cells,
		Interval:      interval,
		BoundsTracker: bounds,
	}

	for module := 0; module < modules; module++ {
		for cell := 0; cell < cells; cell++ {
			grid.Labels = append(grid.Labels, fmt.Sprintf("M%02dC%02d", module, cell))
		}
	}

	var samples []channelSample
	minTime := math.MaxFloat64
	maxTime := -math.MaxFloat64

	for module := 0; module < modules; module++ {
		for cell := 0; cell < cells; cell++ {
			path := filepath.Join(sessionDir, datalog.CellFilePath(domain, module, cell))
			column := module*cells + cell

			channel, err := readChannelFile(path, column)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}
				return nil, fmt.Errorf("reading channel %s: %w", path, err)
			}

			for _, s := range channel {
				minTime = math.Min(minTime, s.timestamp)
				maxTime = math.Max(maxTime, s.timestamp)
			}
			samples = append(samples, channel...)
		}
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("no %s data found in %s", domain, sessionDir)
	}

	grid.TimestampStart = time.Unix(0, int64(minTime*float64(time.Second)))
	grid.TimestampEnd = time.Unix(0, int64(maxTime*float64(time.Second)))
	grid.Height = int((maxTime-minTime)/interval.Seconds()) + 1

	// Accumulate, then average each populated cell
	sums := make([][]float64, grid.Height)
	counts := make([][]int, grid.Height)
	for i := range sums {
		sums[i] = make([]float64, grid.Width)
		counts[i] = make([]int, grid.Width)
	}

	for _, s := range samples {
		row := int((s.timestamp - minTime) / interval.Seconds())
		if row >= grid.Height {
			row = grid.Height - 1
		}
		sums[row][s.column] += s.value
		counts[row][s.column]++
	}

	grid.Rows = make([][]*float64, grid.Height)
	for row := 0; row < grid.Height; row++ {
		values := make([]*float64, grid.Width)
		for col := 0; col < grid.Width; col++ {
			if counts[row][col] == 0 {
				continue
			}
			v := sums[row][col] / float64(counts[row][col])
			values[col] = &v
			grid.BoundsTracker.Update(&v)
		}
		grid.Rows[row] = values
	}

	return &grid, nil
}

// DiscoverDims infers the module and cell counts for one domain from the
// files present in a session directory, so the tool needs no layout flags.
func DiscoverDims(sessionDir string, domain telemetry.Domain) (modules, cells int, err error) {
	pattern := filepath.Join(sessionDir, datalog.DomainDirName(domain), "Module_*", fmt.Sprintf("%s_*.csv", domain))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, 0, fmt.Errorf("scanning session directory: %w", err)
	}
	if len(matches) == 0 {
		return 0, 0, fmt.Errorf("no %s files found in %s", domain, sessionDir)
	}

	for _, path := range matches {
		var module, cell int
		name := filepath.Base(path)
		if _, err := fmt.Sscanf(name, domain.String()+"_%02d_%02d.csv", &module, &cell); err != nil {
			continue
		}
		if module+1 > modules {
			modules = module + 1
		}
		if cell+1 > cells {
			cells = cell + 1
		}
	}

	if modules == 0 || cells == 0 {
		return 0, 0, fmt.Errorf("no recognizable %s files in %s", domain, sessionDir)
	}
	return modules, cells, nil
}

func readChannelFile(path string, column int) (samples []channelSample, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cErr := f.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 2

	// Skip the header row
	if _, err = r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		timestamp, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp '%s': %w", record[0], err)
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value '%s': %w", record[1], err)
		}

		samples = append(samples, channelSample{column: column, timestamp: timestamp, value: value})
	}
	return samples, nil
}
