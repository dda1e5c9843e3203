package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"periph.io/x/host/v3"

	"github.com/coreman2200/bamtile/internal/config"
	"github.com/coreman2200/bamtile/internal/link"
	"github.com/coreman2200/bamtile/internal/pattern"
	"github.com/coreman2200/bamtile/internal/sequence"
)

// tilefeed is the upstream controller: it streams a test pattern to one or
// more tiles over an SPI master with a GPIO latch.
func main() {
	// ---- Flags (explicit ones override config.yaml) ----
	var (
		configPath = flag.String("config", "config.yaml", "path to config.yaml")
		port       = flag.String("port", "", "SPI port name (empty for the first)")
		speedHz    = flag.Int("speed-hz", 1000000, "SPI clock")
		latch      = flag.String("latch", "GPIO24", "latch output pin")
		gap        = flag.Duration("gap", 20*time.Microsecond, "pause after every latch edge")
		fps        = flag.Int("fps", 30, "frames per second")
		patternArg = flag.String("pattern", string(pattern.Ramp), "pattern: index_sweep | rgb_channels | ramp | solid")
		level      = flag.Int("level", 255, "pattern intensity 0..255")
		loop       = flag.Bool("loop", true, "restart finite patterns")
		program    = flag.String("program", "", "show file to play instead of a single pattern")
		gamma      = flag.Float64("gamma", 0, "output gamma (0 disables)")
		resync     = flag.Duration("resync", 0, "resync the tiles this often (0 only at start)")
		logLevel   = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	// ---- Logging ----
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})

	cfg := config.Default()
	if c, err := config.Load(*configPath); err != nil {
		log.Warn().Err(err).Str("path", *configPath).Msg("config load failed; proceeding with flags")
	} else {
		cfg = c
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Feed.Port = *port
		case "speed-hz":
			cfg.Feed.SpeedHz = *speedHz
		case "latch":
			cfg.Feed.Latch = *latch
		case "gap":
			cfg.Feed.Gap = *gap
		case "fps":
			cfg.Feed.FPS = *fps
		case "pattern":
			cfg.Feed.Pattern = *patternArg
		case "level":
			cfg.Feed.Level = *level
		case "loop":
			cfg.Feed.Loop = *loop
		case "program":
			cfg.Feed.Program = *program
		case "gamma":
			cfg.Feed.Gamma = *gamma
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("bad configuration")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	period := time.Second / time.Duration(max(1, cfg.Feed.FPS))
	var show *sequence.SafePlayer
	if cfg.Feed.Program != "" {
		s, err := sequence.Open(cfg.Feed.Program, period, cfg.Feed.Post())
		if err != nil {
			log.Fatal().Err(err).Str("program", cfg.Feed.Program).Msg("show")
		}
		show = s
	}

	if _, err := host.Init(); err != nil {
		log.Fatal().Err(err).Msg("periph host init")
	}
	p, err := link.OpenSPI(cfg.Feed.Port, cfg.Feed.Speed(), cfg.Feed.Latch)
	if err != nil {
		log.Fatal().Err(err).Msg("open link")
	}
	defer p.Close()

	sender := link.NewSender(p)
	sender.Gap = cfg.Feed.Gap
	feeder := link.NewFeeder(sender, cfg.Feed.Plan(), period)
	if show != nil {
		feeder.Source = show
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *resync > 0 {
		go func() {
			t := time.NewTicker(*resync)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					if err := feeder.Do(ctx, link.Command{Resync: true}); err != nil {
						return
					}
				}
			}
		}()
	}

	log.Info().
		Str("link", p.String()).
		Str("pattern", cfg.Feed.Pattern).
		Str("program", cfg.Feed.Program).
		Int("fps", cfg.Feed.FPS).
		Msg("feeding tiles")
	if err := feeder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("feed failed")
	}
	log.Info().Uint64("frames", sender.Frames()).Msg("shutting down")
}

