package app

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"strings"
	"time"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"

	"github.com/helios-ev/bms-datalogger/internal/telemetry"
)

const (
	dpi            = 120.0
	fontSize       = 12.0
	tickMarkHeight = 5
	pixelsPerLabel = 110.0

	// Default border sizes in pixels
	defaultTopBorder    = 40
	defaultLeftBorder   = 80
	defaultBottomBorder = 40
	defaultRightBorder  = 40

	// One grid column is a single channel; stretch it so the heatmap is
	// readable and the channel labels have room.
	defaultCellWidth = 12

	defaultTimeFormat     = "15:04:05"
	defaultDatetimeFormat = time.DateTime
)

// BorderConfig defines the sizes of white space around the heatmap
type BorderConfig struct {
	Top    int // Space for channel labels
	Left   int // Space for time scale
	Bottom int // Space for information bar
	Right  int // Right padding
}

// RenderConfig holds all configuration options for heatmap visualization
type RenderConfig struct {
	// Time display configuration
	TimeFormat     string         // Format string for time display (e.g. "15:04:05")
	DatetimeFormat string         // Format string for date/time display
	Location       *time.Location // Timezone for time display

	// Visual configuration
	FontPath     string     // Path to a TTF font for annotations
	FontSize     float64    // Font size in points
	ColorTheme   ColorTheme // Color scheme for readings
	ColorMapSize int        // Number of colors in gradient (0 for default)
	CellWidth    int        // Horizontal pixels per channel column

	// Border configuration
	BorderConfig BorderConfig
}

// HeatmapRenderer handles the visualization of per-cell battery data
type HeatmapRenderer struct {
	colorMap *ColorMapper
	config   RenderConfig
}

// NewHeatmapRenderer creates a new renderer with the given configuration
func NewHeatmapRenderer(config RenderConfig) (*HeatmapRenderer, error) {
	// Set defaults for zero values
	if config.TimeFormat == "" {
		config.TimeFormat = defaultTimeFormat
	}
	if config.DatetimeFormat == "" {
		config.DatetimeFormat = defaultDatetimeFormat
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.CellWidth == 0 {
		config.CellWidth = defaultCellWidth
	}
	if config.BorderConfig.Top == 0 {
		config.BorderConfig.Top = defaultTopBorder
	}
	if config.BorderConfig.Left == 0 {
		config.BorderConfig.Left = defaultLeftBorder
	}
	if config.BorderConfig.Bottom == 0 {
		config.BorderConfig.Bottom = defaultBottomBorder
	}
	if config.BorderConfig.Right == 0 {
		config.BorderConfig.Right = defaultRightBorder
	}

	return &HeatmapRenderer{config: config}, nil
}

// Render creates an image of the grid with annotations
func (r *HeatmapRenderer) Render(grid *HeatmapGrid) (*image.RGBA, error) {
	plotWidth := grid.Width * r.config.CellWidth

	// Create image with space for borders
	fullWidth := plotWidth + r.config.BorderConfig.Left + r.config.BorderConfig.Right
	fullHeight := grid.Height + r.config.BorderConfig.Top + r.config.BorderConfig.Bottom
	img := image.NewRGBA(image.Rect(0, 0, fullWidth, fullHeight))

	// Fill with white background
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	plotArea := image.Rect(
		r.config.BorderConfig.Left,
		r.config.BorderConfig.Top,
		r.config.BorderConfig.Left+plotWidth,
		r.config.BorderConfig.Top+grid.Height,
	)

	// Update or create color map
	bounds := grid.BoundsTracker.Current()
	if r.colorMap == nil {
		r.colorMap = NewColorMapper(r.config.ColorTheme, bounds)
	} else {
		r.colorMap.UpdateBounds(bounds)
	}

	// Create annotator for drawing scales and labels
	ann, err := newAnnotator(annotatorConfig{
		TimeFormat:     r.config.TimeFormat,
		DatetimeFormat: r.config.DatetimeFormat,
		Location:       r.config.Location,
		FontPath:       r.config.FontPath,
		FontSize:       r.config.FontSize,
		CellWidth:      r.config.CellWidth,
		Borders:        r.config.BorderConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("creating annotator: %w", err)
	}
	defer ann.Close()

	// First draw annotations
	if err = ann.annotate(img, grid, bounds); err != nil {
		return nil, fmt.Errorf("drawing annotations: %w", err)
	}

	// Then render the grid data (overwriting any overlapping annotations)
	r.renderGrid(img, plotArea, grid)

	return img, nil
}

// renderGrid draws the actual grid data using the color map
func (r *HeatmapRenderer) renderGrid(img *image.RGBA, area image.Rectangle, grid *HeatmapGrid) {
	for y, row := range grid.Rows {
		imgY := area.Min.Y + y
		for col, value := range row {
			if value == nil {
				continue
			}

			c := r.colorMap.GetColor(value)
			startX := area.Min.X + col*r.config.CellWidth
			for x := startX; x < startX+r.config.CellWidth; x++ {
				img.Set(x, imgY, c)
			}
		}
	}
}

// Internal annotator implementation
type annotatorConfig struct {
	TimeFormat     string
	DatetimeFormat string
	Location       *time.Location
	FontPath       string
	FontSize       float64
	CellWidth      int
	Borders        BorderConfig
}

type annotator struct {
	context  *freetype.Context
	config   annotatorConfig
	fontFace font.Face
}

func newAnnotator(config annotatorConfig) (*annotator, error) {
	fontBytes, err := os.ReadFile(config.FontPath)
	if err != nil {
		return nil, fmt.Errorf("reading font: %w", err)
	}

	parsedFont, err := freetype.ParseFont(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	return &annotator{
		context: ctx,
		config:  config,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) annotate(img *image.RGBA, grid *HeatmapGrid, bounds ValueBounds) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	if err := a.drawChannelScale(img, grid); err != nil {
		return fmt.Errorf("drawing channel scale: %w", err)
	}
	if err := a.drawTimeScale(img, grid); err != nil {
		return fmt.Errorf("drawing time scale: %w", err)
	}
	if err := a.drawInfoBar(img, grid, bounds); err != nil {
		return fmt.Errorf("drawing info bar: %w", err)
	}

	return nil
}

func (a *annotator) drawChannelScale(img *image.RGBA, grid *HeatmapGrid) error {
	// Label every n-th column so labels never overlap
	labelStep := int(pixelsPerLabel) / a.config.CellWidth
	if labelStep < 1 {
		labelStep = 1
	}

	// Get actual font height in pixels
	metrics := a.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()

	textY := a.config.Borders.Top - fontHeight/2

	for col := 0; col < grid.Width; col += labelStep {
		// Tick at the center of the column
		x := a.config.Borders.Left + col*a.config.CellWidth + a.config.CellWidth/2

		// Draw tick mark
		for y := a.config.Borders.Top - tickMarkHeight; y < a.config.Borders.Top; y++ {
			img.Set(x, y, color.Black)
		}

		label := grid.Labels[col]
		width := font.MeasureString(a.fontFace, label)
		pt := freetype.Pt(x-(width.Round()/2), textY)
		if _, err := a.context.DrawString(label, pt); err != nil {
			return fmt.Errorf("drawing channel label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawTimeScale(img *image.RGBA, grid *HeatmapGrid) error {
	duration := grid.TimestampEnd.Sub(grid.TimestampStart)
	timeStep := calculateNiceTimeStep(duration)

	rowStep := int(timeStep / grid.Interval)
	if rowStep < 1 {
		rowStep = 1
	}

	// Get font metrics once
	metrics := a.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()

	for y := 0; y < grid.Height; y += rowStep {
		imgY := y + a.config.Borders.Top

		// Draw tick mark
		for x := a.config.Borders.Left - 5; x < a.config.Borders.Left; x++ {
			img.Set(x, imgY, color.Black)
		}

		// Center text vertically relative to the tick mark position
		textY := imgY + fontHeight/2 - metrics.Descent.Round()

		rowTime := grid.TimestampStart.Add(time.Duration(y) * grid.Interval)
		label := rowTime.In(a.config.Location).Format(a.config.TimeFormat)
		pt := freetype.Pt(10, textY)
		if _, err := a.context.DrawString(label, pt); err != nil {
			return fmt.Errorf("drawing time label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawInfoBar(img *image.RGBA, grid *HeatmapGrid, bounds ValueBounds) error {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s: %s - %s",
		domainTitle(grid.Domain),
		formatValue(grid.Domain, bounds.Min),
		formatValue(grid.Domain, bounds.Max)))
	sb.WriteString("; ")
	sb.WriteString(fmt.Sprintf("Time: %s - %s",
		grid.TimestampStart.In(a.config.Location).Format(a.config.DatetimeFormat),
		grid.TimestampEnd.In(a.config.Location).Format(a.config.DatetimeFormat)))
	sb.WriteString("; ")
	sb.WriteString(fmt.Sprintf("1row = %s", grid.Interval))

	// Calculate text position in bottom border
	metrics := a.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()

	// Center text vertically in bottom border
	textY := img.Bounds().Max.Y - (a.config.Borders.Bottom-fontHeight)/2 - metrics.Descent.Round()

	pt := freetype.Pt(a.config.Borders.Left, textY)
	if _, err := a.context.DrawString(sb.String(), pt); err != nil {
		return fmt.Errorf("drawing info text: %w", err)
	}

	return nil
}

// Helper functions

func domainTitle(d telemetry.Domain) string {
	if d == telemetry.Voltage {
		return "Voltage"
	}
	return "Temperature"
}

func formatValue(d telemetry.Domain, v float64) string {
	if d == telemetry.Voltage {
		return fmt.Sprintf("%.3fV", v)
	}
	return fmt.Sprintf("%.1fC", v)
}

func calculateNiceTimeStep(duration time.Duration) time.Duration {
	seconds := duration.Seconds()
	roughStep := seconds / 8 // Aim for about 8 time labels

	// Nice time intervals in seconds
	niceIntervals := []float64{
		10,    // 10 seconds
		30,    // 30 seconds
		60,    // 1 minute
		300,   // 5 minutes
		600,   // 10 minutes
		900,   // 15 minutes
		1800,  // 30 minutes
		3600,  // 1 hour
		7200,  // 2 hours
		14400, // 4 hours
	}

	// Find the first interval larger than our rough step
	for _, interval := range niceIntervals {
		if roughStep <= interval {
			return time.Duration(interval) * time.Second
		}
	}

	return time.Hour * 6 // Default for very long durations
}
