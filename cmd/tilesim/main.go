package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/coreman2200/bamtile/internal/bam"
	"github.com/coreman2200/bamtile/internal/config"
	diag "github.com/coreman2200/bamtile/internal/diagnostics"
	"github.com/coreman2200/bamtile/internal/layout"
	"github.com/coreman2200/bamtile/internal/led"
	"github.com/coreman2200/bamtile/internal/link"
	"github.com/coreman2200/bamtile/internal/mirror"
	"github.com/coreman2200/bamtile/internal/pattern"
	"github.com/coreman2200/bamtile/internal/sequence"
	"github.com/coreman2200/bamtile/internal/tile"
	"github.com/coreman2200/bamtile/internal/ws"
)

func main() {
	// ---- Flags (explicit ones override config.yaml) ----
	var (
		configPath = flag.String("config", "config.yaml", "path to config.yaml")
		bus        = flag.String("bus", "sim", "output bus: sim | gpio")
		addr       = flag.String("addr", ":8080", "preview HTTP listen address (empty disables)")
		fps        = flag.Int("fps", 30, "frames per second fed to the tile")
		patternArg = flag.String("pattern", string(pattern.Ramp), "feed pattern: index_sweep | rgb_channels | ramp | solid")
		level      = flag.Int("level", 255, "pattern intensity 0..255")
		program    = flag.String("program", "", "show file to play instead of a single pattern")
		step0      = flag.Duration("step0", 32*time.Microsecond, "BAM step 0 period")
		gap        = flag.Duration("gap", 20*time.Microsecond, "pause after every latch edge of the loopback feed")
		wired      = flag.Bool("wired-latch", false, "drive feed.latch and watch pins.latch_in instead of posting latch events")
		profile    = flag.Bool("profile", false, "measure the plane transmission before starting")
		logLevel   = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	// ---- Logging ----
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})

	// ---- Load config.yaml (optional); flags given explicitly win ----
	cfg := config.Default()
	if c, err := config.Load(*configPath); err != nil {
		log.Warn().Err(err).Str("path", *configPath).Msg("config load failed; proceeding with flags")
	} else {
		cfg = c
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "bus":
			cfg.Bus = *bus
		case "addr":
			cfg.Preview.Addr = *addr
		case "fps":
			cfg.Feed.FPS = *fps
		case "pattern":
			cfg.Feed.Pattern = *patternArg
		case "level":
			cfg.Feed.Level = *level
		case "program":
			cfg.Feed.Program = *program
		case "step0":
			cfg.Timing.Step0 = *step0
		case "gap":
			cfg.Feed.Gap = *gap
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
	timing := cfg.BAMTiming()

	if cfg.Bus == "gpio" || cfg.Mirror.Enabled || *wired {
		if _, err := host.Init(); err != nil {
			log.Fatal().Err(err).Msg("periph host init")
		}
	}

	// ---- Output bus: gpio falls back to the chain simulator ----
	var out led.Driver
	switch cfg.Bus {
	case "gpio":
		g, err := led.NewGPIO(cfg.LEDPins())
		if err != nil {
			log.Warn().Err(err).Str("bus", "gpio").Msg("GPIO bus init failed; falling back to SIM")
			out, cfg.Bus = led.NewSim(), "sim"
		} else {
			out = g
		}
	default:
		out = led.NewSim()
	}

	tl := tile.New(tile.Options{Bus: out, Timing: timing})

	state := ws.NewState(tl, layout.Panel, tl.Store.Map(), cfg.Preview.FPS)
	state.Timing = timing
	state.CurrentDriver = cfg.Bus

	if *profile {
		worst := bam.Profile(tl.Engine, 8*bam.Steps)
		d := diag.Profile(timing, worst)
		state.Push(d)
		if d.Code == diag.CodeOverrun && cfg.Bus == "gpio" {
			log.Fatal().Dur("worst", worst).Msg("transmission does not fit step 0")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Boot: receiver, BAM, interrupts, timer, then the loop ----
	tl.Boot()
	go func() {
		if err := tl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("tile loop ended")
		}
	}()

	// ---- Upstream feed over the loopback link ----
	port := &link.Loopback{Tile: tl}
	if *wired {
		in, outPin := gpioreg.ByName(cfg.Pins.LatchIn), gpioreg.ByName(cfg.Feed.Latch)
		if in == nil || outPin == nil {
			log.Fatal().Str("latch_in", cfg.Pins.LatchIn).Str("latch_out", cfg.Feed.Latch).Msg("wired latch pins not found")
		}
		if err := outPin.Out(gpio.Low); err != nil {
			log.Fatal().Err(err).Msg("latch out")
		}
		w, err := tile.WatchLatch(in, tl)
		if err != nil {
			log.Fatal().Err(err).Msg("latch in")
		}
		go w.Run(ctx)
		port.Latch = outPin
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
	sender := link.NewSender(port)
	sender.Gap = cfg.Feed.Gap
	feeder := link.NewFeeder(sender, cfg.Feed.Plan(), period)
	if show != nil {
		feeder.Source = show
	}
	go func() {
		if err := feeder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("feeder stopped")
		}
	}()
	state.OnControl = func(c ws.Control) error {
		cmd := link.Command{ResetBuffer: c.ResetBuffer, Resync: c.Resync}
		if c.Show != "" {
			if show == nil {
				return errors.New("no show loaded")
			}
			if err := showControl(show, c.Show); err != nil {
				return err
			}
			cmd.Source = true
		}
		if c.Pattern != "" {
			k, err := pattern.Parse(c.Pattern)
			if err != nil {
				return err
			}
			cmd.Pattern = k
		}
		if cmd == (link.Command{}) {
			return nil
		}
		return feeder.Do(ctx, cmd)
	}

	// ---- Bench mirror ----
	if cfg.Mirror.Enabled {
		mi, err := mirror.Open(cfg.Mirror.Port, layout.Panel, tl.Store.Map())
		if err != nil {
			log.Error().Err(err).Msg("mirror disabled")
		} else {
			defer mi.Halt()
			go func() {
				if err := mi.Run(ctx, tl, time.Second/time.Duration(max(1, cfg.Preview.FPS))); err != nil && !errors.Is(err, context.Canceled) {
					log.Error().Err(err).Msg("mirror stopped")
				}
			}()
		}
	}

	// ---- HTTP routes ----
	var srv *http.Server
	if cfg.Preview.Addr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", state.HandleFramesWS)
		mux.HandleFunc("/diag", state.HandleDiagWS)
		mux.HandleFunc("/control", state.HandleControlWS)
		mux.HandleFunc("/health", state.HandleHealth)

		srv = &http.Server{
			Addr:         cfg.Preview.Addr,
			Handler:      withCORS(mux),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go state.RunPreviewLoop(ctx)
		go func() {
			log.Info().Str("addr", cfg.Preview.Addr).Str("bus", cfg.Bus).Msg("HTTP server starting")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal().Err(err).Msg("http server crashed")
			}
		}()
	}

	// ---- Graceful shutdown ----
	<-ctx.Done()
	log.Info().Msg("shutting down")
	if srv != nil {
		_ = srv.Close()
	}
	tl.Stop()
	if err := out.Close(); err != nil {
		log.Warn().Err(err).Msg("bus close")
	}
}

func showControl(s *sequence.SafePlayer, verb string) error {
	var err error
	s.With(func(p *sequence.Player) {
		switch verb {
		case "pause":
			p.Pause()
		case "resume":
			p.Resume()
		case "restart":
			p.Stop()
			p.Start()
		default:
			err = fmt.Errorf("unknown show control %q", verb)
		}
	})
	return err
}

func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(200)
			return
		}
		h.ServeHTTP(w, r)
	})
}
