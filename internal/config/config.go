package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/bamtile/internal/bam"
	"github.com/coreman2200/bamtile/internal/layout"
	"github.com/coreman2200/bamtile/internal/led"
	"github.com/coreman2200/bamtile/internal/pattern"
)

var ErrInvalid = errors.New("config: invalid")

type Pins struct {
	Data  []string `yaml:"data"` // one per chain, chain 0 first
	Clock string   `yaml:"clock"`
	Latch string   `yaml:"latch"`
	Blank string   `yaml:"blank"`
	// LatchIn is the external latch input from the upstream controller.
	LatchIn string `yaml:"latch_in,omitempty"`
}

type Timing struct {
	Step0        time.Duration `yaml:"step0"`
	SPILow       time.Duration `yaml:"spi_low"`
	SPIHigh      time.Duration `yaml:"spi_high"`
	ClearPhase   time.Duration `yaml:"clear_phase"`
	ClearLatch   time.Duration `yaml:"clear_latch"`
	MinRefreshHz int           `yaml:"min_refresh_hz"`
}

type Preview struct {
	Addr string `yaml:"addr"` // empty disables the server
	FPS  int    `yaml:"fps"`
}

type Mirror struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"` // spireg name, "" for the first port
}

// Feed configures the upstream sender.
type Feed struct {
	Port    string        `yaml:"port"`
	SpeedHz int           `yaml:"speed_hz"`
	Latch   string        `yaml:"latch"`
	Gap     time.Duration `yaml:"gap"`
	FPS     int           `yaml:"fps"`
	Pattern string        `yaml:"pattern"`
	Level   int           `yaml:"level"`
	Loop    bool          `yaml:"loop"`
	// Program is a show file; when set it replaces Pattern.
	Program  string  `yaml:"program,omitempty"`
	WhiteCap float64 `yaml:"white_cap,omitempty"`
	BudgetmA float64 `yaml:"budget_ma,omitempty"`
	Gamma    float64 `yaml:"gamma,omitempty"`
}

type Config struct {
	Bus      string  `yaml:"bus"` // "sim" | "gpio"
	Pins     Pins    `yaml:"pins"`
	Timing   Timing  `yaml:"timing"`
	Preview  Preview `yaml:"preview"`
	Mirror   Mirror  `yaml:"mirror"`
	Feed     Feed    `yaml:"feed"`
	LogLevel string  `yaml:"log_level"`
}

func Default() *Config {
	t := bam.DefaultTiming
	return &Config{
		Bus: "sim",
		Pins: Pins{
			Data:    []string{"GPIO5", "GPIO6", "GPIO13", "GPIO19", "GPIO26", "GPIO21"},
			Clock:   "GPIO20",
			Latch:   "GPIO16",
			Blank:   "GPIO12",
			LatchIn: "GPIO25",
		},
		Timing: Timing{
			Step0:        t.Step0,
			SPILow:       t.SPILow,
			SPIHigh:      t.SPIHigh,
			ClearPhase:   t.ClearPhase,
			ClearLatch:   t.ClearLatch,
			MinRefreshHz: 100,
		},
		Preview: Preview{Addr: ":8080", FPS: 30},
		Feed: Feed{
			SpeedHz: 1000000,
			Latch:   "GPIO24",
			Gap:     20 * time.Microsecond,
			FPS:     30,
			Pattern: string(pattern.Ramp),
			Level:   255,
			Loop:    true,
		},
		LogLevel: "info",
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func Save(path string, c *Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

func (c *Config) Validate() error {
	switch c.Bus {
	case "sim":
	case "gpio":
		if len(c.Pins.Data) != layout.Chains {
			return fmt.Errorf("%w: %d data pins, want %d", ErrInvalid, len(c.Pins.Data), layout.Chains)
		}
	default:
		return fmt.Errorf("%w: bus %q", ErrInvalid, c.Bus)
	}
	if c.Feed.Pattern != "" {
		if _, err := pattern.Parse(c.Feed.Pattern); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	if c.Feed.Level < 0 || c.Feed.Level > 255 {
		return fmt.Errorf("%w: feed level %d", ErrInvalid, c.Feed.Level)
	}
	if c.Feed.WhiteCap < 0 || c.Feed.WhiteCap > 3 {
		return fmt.Errorf("%w: feed white_cap %g", ErrInvalid, c.Feed.WhiteCap)
	}
	if c.Feed.BudgetmA < 0 || c.Feed.Gamma < 0 {
		return fmt.Errorf("%w: feed budget_ma/gamma must not be negative", ErrInvalid)
	}
	return c.BAMTiming().Validate(c.Timing.MinRefresh())
}

func (c *Config) BAMTiming() bam.Timing {
	return bam.Timing{
		Step0:      c.Timing.Step0,
		SPILow:     c.Timing.SPILow,
		SPIHigh:    c.Timing.SPIHigh,
		ClearPhase: c.Timing.ClearPhase,
		ClearLatch: c.Timing.ClearLatch,
	}
}

func (t Timing) MinRefresh() physic.Frequency {
	return physic.Frequency(t.MinRefreshHz) * physic.Hertz
}

// LEDPins returns the output bus pins. Validate guarantees the data count
// for the gpio bus.
func (c *Config) LEDPins() led.Pins {
	var p led.Pins
	copy(p.Data[:], c.Pins.Data)
	p.Clock, p.Latch, p.Blank = c.Pins.Clock, c.Pins.Latch, c.Pins.Blank
	return p
}

func (f Feed) Speed() physic.Frequency {
	return physic.Frequency(f.SpeedHz) * physic.Hertz
}

// Post is the frame shaping configured for the feed.
func (f Feed) Post() pattern.Post {
	return pattern.Post{WhiteCap: f.WhiteCap, BudgetmA: f.BudgetmA, Gamma: f.Gamma}
}

// Plan is the single-pattern feed. Validate guarantees the pattern parses.
func (f Feed) Plan() pattern.Plan {
	k, _ := pattern.Parse(f.Pattern)
	return pattern.Plan{Kind: k, Level: byte(f.Level), Loop: f.Loop, Post: f.Post()}
}
