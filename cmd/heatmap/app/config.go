package app

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/helios-ev/bms-datalogger/internal/telemetry"
)

const (
	ImagePNG  = "png"
	ImageJPEG = "jpeg"
)

type ImageFormat string

type Config struct {
	SessionDir string
	Domain     telemetry.Domain
	OutputFile string
	FontPath   string
	Format     ImageFormat
	Theme      ColorTheme
	Interval   time.Duration
	MaxValue   *float64
	MinValue   *float64
}

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

func NewConfig() *Config {
	return &Config{
		Format:   ImagePNG,
		Theme:    ThermalTheme,
		Interval: time.Second,
	}
}

func NewConfigFromCLI() (*Config, error) {
	c := NewConfig()

	var imageFormat, domain, theme string
	var minValue, maxValue float64
	flag.StringVar(&c.SessionDir, "d", "", "Path to the session directory")
	flag.StringVar(&domain, "domain", "voltage", "Telemetry domain to render. [voltage, temperature]")
	flag.StringVar(&c.OutputFile, "o", "", "Path to the output file")
	flag.StringVar(&c.FontPath, "font", "", "Path to a TTF font for annotations")
	flag.StringVar(&imageFormat, "f", string(ImagePNG), "Output image format. [png, jpeg]")
	flag.StringVar(&theme, "theme", string(ThermalTheme), "Color theme. [classic, grayscale, jungle, thermal, marine]")
	flag.DurationVar(&c.Interval, "interval", time.Second, "Time covered by one image row")
	flag.Float64Var(&minValue, "min-value", 0, "Define a manual minimum value (format nn.n)")
	flag.Float64Var(&maxValue, "max-value", 0, "Define a manual maximum value (format nn.n)")
	flag.Parse()

	imageFormat = strings.ToLower(imageFormat)

	flag.Visit(func(f *flag.Flag) {
		if f.Name == "min-value" {
			c.MinValue = &minValue
		}
		if f.Name == "max-value" {
			c.MaxValue = &maxValue
		}
	})

	var err error
	switch strings.ToLower(domain) {
	case "voltage":
		c.Domain = telemetry.Voltage
	case "temperature":
		c.Domain = telemetry.Temperature
	default:
		err = fmt.Errorf("invalid domain: %s", domain)
	}

	if err == nil {
		if c.SessionDir == "" {
			err = errors.New("session directory is required")
		} else if c.OutputFile == "" {
			err = errors.New("output file is required")
		} else if c.FontPath == "" {
			err = errors.New("font path is required")
		} else if c.Interval <= 0 {
			err = errors.New("interval must be positive")
		} else if _, ok := validImageFormats[ImageFormat(imageFormat)]; !ok {
			err = fmt.Errorf("invalid image format: %s", imageFormat)
		}
	}

	if err != nil {
		flag.Usage()
		return nil, err
	}

	c.Format = ImageFormat(imageFormat)
	c.Theme = ColorTheme(theme)
	c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	return c, nil
}
