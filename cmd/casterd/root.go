package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iqr/casterbase/config"
)

var (
	cfgFile   string
	logLevel  string
	logger    = zap.NewNop()
	appConfig = config.DefaultConfig()
)

var rootCmd = &cobra.Command{
	Use:   "casterd",
	Short: "Caster base wheel controller driver",
	Long: `casterd talks to the dual-channel motor controller of a Caster base over
CAN (SocketCAN or an SLCAN serial adapter), runs the read/write control loop
and serves telemetry over HTTP and websocket.

Configuration is read from --config, or casterd.yaml / casterd.json in the
working directory, /etc/casterd or ~/.casterd. Every key can be overridden
from the environment, e.g. CASTERD_CAN_INTERFACE=vcan0.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// These run without a config file.
		switch cmd.Name() {
		case "version", "generate", "help", "dump":
		default:
			cfg, err := config.LoadConfig(cfgFile)
			if err != nil {
				return err
			}
			appConfig = cfg
		}
		if logLevel != "" {
			appConfig.Logging.Level = logLevel
		}
		l, err := appConfig.Logging.Build()
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: search casterd.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
}
