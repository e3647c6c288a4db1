package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iqr/casterbase/canopen"
	"github.com/iqr/casterbase/caster"
)

var (
	commandMotor string
	commandRPM   int32
)

var commandCmd = &cobra.Command{
	Use:   "command",
	Short: "Send one command to the controller",
	Long: `Send a single command frame. Commands are not acknowledged; a nil error
only means the frame left the transport.`,
}

var setVelocityCmd = &cobra.Command{
	Use:   "set-velocity",
	Short: "Set one motor's speed in motor RPM",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(cmd, canopen.SetVelocity, uint32(commandRPM))
	},
}

var clearCounterCmd = &cobra.Command{
	Use:   "clear-counter",
	Short: "Zero one motor's encoder counter",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(cmd, canopen.SetBLCounter, 0)
	},
}

func init() {
	for _, c := range []*cobra.Command{setVelocityCmd, clearCounterCmd} {
		c.Flags().StringVarP(&commandMotor, "motor", "m", "", "motor: left or right")
		_ = c.MarkFlagRequired("motor")
		commandCmd.AddCommand(c)
	}
	setVelocityCmd.Flags().Int32Var(&commandRPM, "rpm", 0, "motor speed in RPM, negative for reverse")
	rootCmd.AddCommand(commandCmd)
}

func sendCommand(cmd *cobra.Command, obj canopen.Object, value uint32) error {
	m, err := caster.ParseMotor(commandMotor)
	if err != nil {
		return err
	}
	info, _ := obj.Info()

	hw, release, err := openHardware(cmd.Context())
	if err != nil {
		return err
	}
	defer release()
	if err := hw.Client().Command(cmd.Context(), obj, uint8(m), value, info.Width); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent %s[%d] = %d\n", obj, m, int32(value))
	return nil
}
