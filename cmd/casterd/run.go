package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iqr/casterbase/canopen"
	"github.com/iqr/casterbase/caster"
	"github.com/iqr/casterbase/telemetry"
)

// stopTimeout bounds the zero-velocity write on shutdown.
const stopTimeout = time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the control loop and telemetry server",
	Long: `Connect to the controller, run the startup sequence (clear the encoder
counters and take the travel offsets) and then run the read/write control
loop until SIGINT or SIGTERM. Wheel commands arrive over the telemetry
websocket. Both wheels are commanded to zero on the way out.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// openHardware builds the driver for the configured transport and connects
// it. release closes the driver and any in-process simulator.
func openHardware(ctx context.Context, opts ...caster.Option) (hw *caster.Hardware, release func(), err error) {
	dial, cleanup, err := newDialer(appConfig, logger)
	if err != nil {
		return nil, nil, err
	}
	opts = append([]caster.Option{caster.WithLogger(logger.Named("driver"))}, opts...)
	hw, err = caster.New(appConfig.Caster(), dial, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if err := hw.Connect(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}
	release = func() {
		if err := hw.Close(); err != nil {
			logger.Warn("close driver", zap.Error(err))
		}
		cleanup()
	}
	return hw, release, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	onFault := func(f canopen.FaultFlags) {
		logger.Error("controller reported a fault", zap.Strings("faults", f.Names()))
	}
	hw, release, err := openHardware(ctx, caster.WithFaultHandler(onFault))
	if err != nil {
		return err
	}
	defer release()

	if err := hw.Initialize(ctx); err != nil {
		return err
	}

	var (
		source     caster.CommandSource
		server     *telemetry.Server
		runnerOpts = []caster.RunnerOption{caster.WithRunnerLogger(logger.Named("loop"))}
	)
	if appConfig.Telemetry.Enabled {
		commands := telemetry.NewCommandBuffer(appConfig.Telemetry.CommandTimeout, nil)
		server = telemetry.NewServer(appConfig.Telemetry.Listen, commands, telemetry.WithLogger(logger.Named("telemetry")))
		source = commands
		runnerOpts = append(runnerOpts, caster.WithObserver(server.Publish))
	}
	if path := appConfig.Telemetry.RecordPath; path != "" {
		rec, err := telemetry.CreateRecorder(path)
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				logger.Warn("close recording", zap.Error(err))
			}
			logger.Info("recording closed", zap.String("path", path), zap.Int("snapshots", rec.Count()))
		}()
		runnerOpts = append(runnerOpts, caster.WithObserver(func(s caster.Snapshot) {
			if err := rec.Record(s); err != nil {
				logger.Warn("record snapshot", zap.Error(err))
			}
		}))
	}
	runner := caster.NewRunner(hw, appConfig.Driver.ControlPeriod, source, runnerOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := runner.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if server != nil {
		g.Go(func() error { return server.Run(gctx) })
	}
	err = g.Wait()

	sctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if serr := hw.Stop(sctx); serr != nil {
		logger.Error("zero velocity on shutdown failed", zap.Error(serr))
		err = multierr.Append(err, fmt.Errorf("stop wheels: %w", serr))
	}
	return err
}
