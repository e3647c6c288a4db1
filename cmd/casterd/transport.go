package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/iqr/casterbase/canbus"
	"github.com/iqr/casterbase/canopen"
	"github.com/iqr/casterbase/caster"
	"github.com/iqr/casterbase/config"
	"github.com/iqr/casterbase/sim"
)

// newDialer returns a dialer for the configured transport. With the sim
// transport it also starts an in-process simulated controller on a loopback
// bus; cleanup stops it.
func newDialer(cfg *config.Config, logger *zap.Logger) (dial caster.Dialer, cleanup func(), err error) {
	cleanup = func() {}
	var open func() (canbus.Bus, error)

	switch cfg.CAN.Transport {
	case config.TransportSocketCAN:
		if cfg.CAN.BringUp {
			if err := bringUp(cfg.CAN); err != nil {
				return nil, cleanup, err
			}
		}
		open = func() (canbus.Bus, error) { return canbus.DialSocketCAN(cfg.CAN.Interface) }

	case config.TransportSLCAN:
		open = func() (canbus.Bus, error) {
			return canbus.DialSLCAN(cfg.CAN.SerialPort, canbus.SLCANOptions{
				Baud:    cfg.CAN.SerialBaud,
				Bitrate: cfg.CAN.Bitrate,
			})
		}

	case config.TransportSim:
		lb := canbus.NewLoopbackBus()
		ctrl, err := newSim(lb.Open(), cfg, logger)
		if err != nil {
			lb.Close()
			return nil, cleanup, err
		}
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := ctrl.Run(ctx); err != nil {
				logger.Error("simulated controller stopped", zap.Error(err))
			}
		}()
		cleanup = func() {
			cancel()
			lb.Close()
			<-done
		}
		open = func() (canbus.Bus, error) { return lb.Open(), nil }

	default:
		return nil, cleanup, fmt.Errorf("unknown transport %q", cfg.CAN.Transport)
	}

	dial = func(context.Context) (canbus.Bus, error) {
		bus, err := open()
		if err != nil {
			return nil, err
		}
		return wrapBus(bus, cfg, logger), nil
	}
	return dial, cleanup, nil
}

// openHardwareBus opens the configured physical transport directly.
func openHardwareBus(cfg *config.Config, logger *zap.Logger) (canbus.Bus, error) {
	if cfg.CAN.Transport == config.TransportSim {
		return nil, fmt.Errorf("transport %q has no physical bus", cfg.CAN.Transport)
	}
	dial, _, err := newDialer(cfg, logger)
	if err != nil {
		return nil, err
	}
	return dial(context.Background())
}

func wrapBus(bus canbus.Bus, cfg *config.Config, logger *zap.Logger) canbus.Bus {
	if !cfg.CAN.LogFrames {
		return bus
	}
	return canbus.NewLoggedBus(bus, logger.Named("can"), zapcore.DebugLevel, canbus.LogAll, nil)
}

func bringUp(c config.CANConfig) error {
	opts := canbus.LinkOptions{Bitrate: &c.Bitrate}
	if c.RestartMs > 0 {
		opts.RestartMs = &c.RestartMs
	}
	if err := canbus.ConfigureLink(c.Interface, opts); err != nil {
		return err
	}
	return canbus.SetLinkUp(c.Interface)
}

func newSim(bus canbus.Bus, cfg *config.Config, logger *zap.Logger) (*sim.Controller, error) {
	opts := []sim.Option{
		sim.WithLogger(logger.Named("sim")),
		sim.WithTicksPerRevolution(cfg.Sim.TicksPerRevolution),
		sim.WithReplyDelay(cfg.Sim.ReplyDelay),
		sim.WithHeartbeat(cfg.Sim.HeartbeatPeriod),
	}
	if cfg.Sim.DropRate > 0 {
		opts = append(opts, sim.WithDropRate(cfg.Sim.DropRate, nil))
	}
	return sim.New(bus, canopen.NodeID(cfg.CAN.NodeID), opts...)
}
