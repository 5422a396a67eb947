package app

import (
	"context"
	"fmt"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"time"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if stat, err := os.Stat(config.SessionDir); err != nil || !stat.IsDir() {
		return fmt.Errorf("session directory '%s' does not exist", config.SessionDir)
	}

	modules, cells, err := DiscoverDims(config.SessionDir, config.Domain)
	if err != nil {
		return err
	}

	logger.Info("loading session data",
		slog.String("sessionDir", config.SessionDir),
		slog.String("domain", config.Domain.String()),
		slog.Int("modules", modules),
		slog.Int("cells", cells))

	grid, err := LoadHeatmapGrid(config.SessionDir, config.Domain, modules, cells, config.Interval, NewSmoothBounds(ScaleFor(config.Domain), 0.3))
	if err != nil {
		return err
	}

	if err = ctx.Err(); err != nil {
		return err
	}

	bounds := grid.BoundsTracker.Current()
	if config.MinValue != nil {
		bounds.Min = *config.MinValue
	}
	if config.MaxValue != nil {
		bounds.Max = *config.MaxValue
	}
	grid.BoundsTracker.Override(bounds)

	logger.Info("finished loading session data",
		slog.Group("stats",
			slog.String("minTimestamp", grid.TimestampStart.Local().Format(time.DateTime)),
			slog.String("maxTimestamp", grid.TimestampEnd.Local().Format(time.DateTime)),
			slog.String("minValue", formatValue(grid.Domain, bounds.Min)),
			slog.String("maxValue", formatValue(grid.Domain, bounds.Max)),
		))

	renderer, err := NewHeatmapRenderer(RenderConfig{
		FontPath:   config.FontPath,
		ColorTheme: config.Theme,
	})
	if err != nil {
		return fmt.Errorf("creating heatmap renderer: %w", err)
	}

	logger.Info("rendering heatmap",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.String("theme", string(config.Theme)),
			slog.Int("width", grid.Width),
			slog.Int("height", grid.Height),
		))

	img, err := renderer.Render(grid)
	if err != nil {
		return fmt.Errorf("rendering heatmap: %w", err)
	}

	out, err := os.Create(config.OutputFile)
	if err != nil {
		return err
	}
	defer out.Close()

	switch config.Format {
	case ImagePNG:
		err = png.Encode(out, img)

	case ImageJPEG:
		err = jpeg.Encode(out, img, &jpeg.Options{
			Quality: 98,
		})
	}
	return err
}
