package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iqr/casterbase/canbus"
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Serve a simulated controller on the configured bus",
	Long: `Answer the controller protocol on the configured SocketCAN interface or
SLCAN adapter, so a second casterd (or any other client) can be tested
without a motor controller. The simulated node is can.node_id; the sim
section tunes encoder resolution, reply delay, drop rate and heartbeat.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		bus, err := openHardwareBus(appConfig, logger)
		if err != nil {
			return err
		}
		defer bus.Close()
		ctrl, err := newSim(bus, appConfig, logger)
		if err != nil {
			return err
		}
		logger.Info("simulated controller running",
			zap.String("transport", appConfig.CAN.Transport),
			zap.Uint8("node", appConfig.CAN.NodeID),
		)
		err = ctrl.Run(ctx)
		st := ctrl.Stats()
		logger.Info("simulated controller stopped",
			zap.Uint64("requests", st.Requests),
			zap.Uint64("replies", st.Replies),
			zap.Uint64("dropped", st.Dropped),
			zap.Uint64("ignored", st.Ignored),
		)
		if errors.Is(err, canbus.ErrClosed) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(simCmd)
}
