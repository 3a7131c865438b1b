package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/arcaluminis-pov/internal/config"
	"github.com/coreman2200/arcaluminis-pov/internal/led"
	"github.com/coreman2200/arcaluminis-pov/internal/pattern"
	"github.com/coreman2200/arcaluminis-pov/internal/preview"
	"github.com/coreman2200/arcaluminis-pov/internal/sensor"
	"github.com/coreman2200/arcaluminis-pov/internal/tracker"
)

// openStrips builds one output per arm. With the spi driver the hardware
// strip, behind the current limiter, is mirrored to the preview; if a strip fails to open the arm falls
// back to preview only, as the sim driver does for every arm.
func openStrips(cfg *config.Config, hub *preview.Hub, log zerolog.Logger) ([]pattern.Output, func()) {
	outputs := make([]pattern.Output, len(cfg.Arms))
	var hw []*led.DrawerStrip

	for i, arm := range cfg.Arms {
		outputs[i].Arm = arm
		if arm.NumLEDs <= 0 {
			continue
		}
		view := hub.Strip(i, arm.NumLEDs)
		if cfg.Driver != "spi" || arm.SPIPort == "" {
			outputs[i].Strip = view
			continue
		}
		s, err := led.OpenNRZ(arm.SPIPort, arm.NumLEDs, physic.Frequency(arm.SPIHz)*physic.Hertz)
		if err != nil {
			log.Warn().Err(err).
				Int("arm", i).
				Str("port", arm.SPIPort).
				Msg("strip init failed; preview only")
			outputs[i].Strip = view
			continue
		}
		hw = append(hw, s)
		outputs[i].Strip = led.Multi{led.NewLimiter(s, cfg.Power.BudgetMA, cfg.Power.ChanMA), view}
	}

	return outputs, func() {
		var errs []error
		for _, s := range hw {
			_ = s.Clear()
			errs = append(errs, s.Close())
		}
		if err := errors.Join(errs...); err != nil {
			log.Warn().Err(err).Msg("closing strips")
		}
	}
}

// startSensors runs either the rotation simulator or one edge watcher per arm
// with a sensor pin.
func startSensors(cfg *config.Config, trk *tracker.Tracker, clock clockwork.Clock, log zerolog.Logger,
	goRun func(string, func(context.Context) error)) {
	if cfg.SimulateRotation {
		sim := sensor.NewSimulator(cfg.Arms, trk, cfg.SimTriggerInterval(), clock, log)
		goRun("simulator", sim.Run)
		return
	}
	for i, arm := range cfg.Arms {
		if arm.SensorPin == "" {
			continue
		}
		pin, err := sensor.OpenPin(arm.SensorPin)
		if err != nil {
			log.Warn().Err(err).Int("arm", i).Msg("sensor unavailable")
			continue
		}
		w := sensor.NewWatcher(pin, arm.MountAngle, trk, clock, log)
		goRun(fmt.Sprintf("sensor-%d", i), w.Run)
	}
}
