package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iqr/casterbase/canbus"
)

var (
	linkInterface  string
	linkBitrate    uint32
	linkRestartMs  uint32
	linkTxQueueLen int
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Inspect and control the SocketCAN link",
	Long: `Show or change the state of the CAN network interface (Linux only).
Changing the link needs CAP_NET_ADMIN. The interface defaults to
can.interface.`,
}

func linkName() string {
	if linkInterface != "" {
		return linkInterface
	}
	return appConfig.CAN.Interface
}

var linkStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the link state as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := canbus.LinkStatus(linkName())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	},
}

var linkUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Bring the link up",
	RunE: func(cmd *cobra.Command, args []string) error {
		return canbus.SetLinkUp(linkName())
	},
}

var linkDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Bring the link down",
	RunE: func(cmd *cobra.Command, args []string) error {
		return canbus.SetLinkDown(linkName())
	},
}

var linkConfigureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Set bitrate, restart-ms and tx queue length",
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts canbus.LinkOptions
		if cmd.Flags().Changed("bitrate") {
			opts.Bitrate = &linkBitrate
		}
		if cmd.Flags().Changed("restart-ms") {
			opts.RestartMs = &linkRestartMs
		}
		if cmd.Flags().Changed("txqueuelen") {
			opts.TxQueueLen = &linkTxQueueLen
		}
		if opts == (canbus.LinkOptions{}) {
			return fmt.Errorf("nothing to configure: set --bitrate, --restart-ms or --txqueuelen")
		}
		return canbus.ConfigureLink(linkName(), opts)
	},
}

func init() {
	linkCmd.PersistentFlags().StringVarP(&linkInterface, "interface", "i", "", "CAN interface (default can.interface)")
	linkConfigureCmd.Flags().Uint32Var(&linkBitrate, "bitrate", 250000, "bus bitrate in bit/s")
	linkConfigureCmd.Flags().Uint32Var(&linkRestartMs, "restart-ms", 100, "bus-off restart delay, 0 disables")
	linkConfigureCmd.Flags().IntVar(&linkTxQueueLen, "txqueuelen", 128, "transmit queue length")
	linkCmd.AddCommand(linkStatusCmd, linkUpCmd, linkDownCmd, linkConfigureCmd)
	rootCmd.AddCommand(linkCmd)
}
