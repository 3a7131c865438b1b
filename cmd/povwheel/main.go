package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
	"periph.io/x/host/v3"

	"github.com/coreman2200/arcaluminis-pov/internal/anim"
	"github.com/coreman2200/arcaluminis-pov/internal/canvas"
	"github.com/coreman2200/arcaluminis-pov/internal/config"
	"github.com/coreman2200/arcaluminis-pov/internal/coordinator"
	"github.com/coreman2200/arcaluminis-pov/internal/gifdec"
	"github.com/coreman2200/arcaluminis-pov/internal/pattern"
	"github.com/coreman2200/arcaluminis-pov/internal/playlist"
	"github.com/coreman2200/arcaluminis-pov/internal/preview"
	"github.com/coreman2200/arcaluminis-pov/internal/tracker"
)

func main() {
	// ---- Flags (override config.yaml when set) ----
	var (
		configPath  = flag.String("config", "config.yaml", "path to config.yaml")
		driver      = flag.String("driver", "", "LED driver: spi | sim")
		addr        = flag.String("addr", "", "preview HTTP listen address")
		logLevel    = flag.String("log-level", "", "trace | debug | info | warn | error")
		simulate    = flag.Bool("simulate", false, "simulate hall sensor triggers")
		writeConfig = flag.Bool("write-config", false, "write the effective config to --config and exit")
	)
	flag.Parse()

	// ---- Logging ----
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})

	// ---- Config ----
	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatal().Err(err).Str("path", *configPath).Msg("config rejected")
		}
		log.Warn().Str("path", *configPath).Msg("no config file; using defaults")
		cfg = config.Default()
	}
	if flag.CommandLine.Changed("driver") {
		cfg.Driver = *driver
	}
	if flag.CommandLine.Changed("addr") {
		cfg.Preview.Addr = *addr
	}
	if flag.CommandLine.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if flag.CommandLine.Changed("simulate") {
		cfg.SimulateRotation = *simulate
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level; keeping default")
	} else if lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}

	if *writeConfig {
		if err := config.Save(*configPath, cfg); err != nil {
			log.Fatal().Err(err).Msg("write config")
		}
		log.Info().Str("path", *configPath).Msg("config written")
		return
	}

	// ---- Hardware ----
	if cfg.Driver == "spi" || !cfg.SimulateRotation {
		if _, err := host.Init(); err != nil {
			log.Fatal().Err(err).Msg("periph host init")
		}
	}

	clock := clockwork.NewRealClock()
	logger := log.Logger

	// ---- Core ----
	trk := tracker.New(clock, cfg.EventQueue, logger)
	cv := canvas.New(cfg.CanvasHeight())
	player := anim.NewPlayer(gifdec.Opener{}, cv, logger)
	pl := playlist.New(os.DirFS("/"), cfg.Playlist.Dirs, cfg.Playlist.Ext, logger)
	pl.Clock = clock
	loader := playlist.NewLoader(pl, player, logger)
	patterns := pattern.NewGenerator(time.Now().UnixNano(), logger)

	hub := preview.NewHub(cfg.Arms, cfg.PreviewThrottle(), clock, logger)
	outputs, closeStrips := openStrips(cfg, hub, logger)
	defer closeStrips()

	coord := coordinator.New(cfg, coordinator.Deps{
		Angles:   trk,
		Animator: player,
		Playlist: loader,
		Patterns: patterns,
		Canvas:   cv,
		Outputs:  outputs,
		Sink:     hub,
	}, clock, logger)

	hub.Status = func() any { return coord.Status() }
	hub.Controls = preview.Controls{
		NextPattern:   patterns.Next,
		NextAnimation: loader.Request,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pl.Scan()

	var wg sync.WaitGroup
	goRun := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				log.Error().Err(err).Str("task", name).Msg("task exited")
			}
		}()
	}

	goRun("tracker", func(ctx context.Context) error { trk.Run(ctx); return nil })
	goRun("loader", loader.Run)
	startSensors(cfg, trk, clock, logger, goRun)
	goRun("coordinator", coord.Run)

	// ---- Preview server ----
	var srv *http.Server
	if cfg.Preview.Addr != "" {
		srv = &http.Server{
			Addr:         cfg.Preview.Addr,
			Handler:      withCORS(hub.Handler()),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.Preview.Addr).Str("driver", cfg.Driver).Msg("preview server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("preview server stopped")
			}
		}()
	}

	log.Info().
		Str("driver", cfg.Driver).
		Int("arms", len(cfg.Arms)).
		Bool("simulate", cfg.SimulateRotation).
		Int("playlist", pl.Count()).
		Msg("wheel running")

	// ---- Graceful shutdown ----
	<-ctx.Done()
	log.Info().Msg("shutting down")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}
	wg.Wait()
	player.Close()
}

func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.ServeHTTP(w, r)
	})
}
