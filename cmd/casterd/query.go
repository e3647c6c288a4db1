package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iqr/casterbase/canopen"
	"github.com/iqr/casterbase/caster"
)

var queryMotor string

var queryCmd = &cobra.Command{
	Use:   "query <object>",
	Short: "Read one controller register",
	Long: `Send a single query and print the reply. Per-motor registers take
--motor; controller-wide registers ignore it.

Readable objects: ` + strings.Join(readableObjects(), ", "),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		obj, err := canopen.ParseObject(args[0])
		if err != nil {
			return err
		}
		info, _ := obj.Info()
		if info.Access != canopen.AccessRead {
			return fmt.Errorf("%s is write-only", obj)
		}
		var sub uint8
		if info.PerChannel {
			m, err := caster.ParseMotor(queryMotor)
			if err != nil {
				return err
			}
			sub = uint8(m)
		}

		hw, release, err := openHardware(cmd.Context())
		if err != nil {
			return err
		}
		defer release()
		raw, err := hw.Client().Query(cmd.Context(), obj, sub, info.Width)
		if err != nil {
			return err
		}
		printRegister(cmd.OutOrStdout(), obj, sub, raw)
		return nil
	},
}

func init() {
	queryCmd.Flags().StringVarP(&queryMotor, "motor", "m", "left", "motor: left or right")
	rootCmd.AddCommand(queryCmd)
}

func readableObjects() []string {
	var names []string
	for _, o := range canopen.Objects() {
		if info, _ := o.Info(); info.Access == canopen.AccessRead {
			names = append(names, info.Name)
		}
	}
	return names
}

// printRegister writes the raw value and its decoded form.
func printRegister(w io.Writer, obj canopen.Object, sub uint8, raw uint32) {
	info, _ := obj.Info()
	hex := fmt.Sprintf("0x%0*X", int(info.Width)*2, raw)
	switch obj {
	case canopen.ReadStatusFlags:
		f := canopen.StatusFlags(raw)
		fmt.Fprintf(w, "%s = %s %s [%s]\n", obj, hex, f.Binary(), f)
	case canopen.ReadFaultFlags:
		f := canopen.FaultFlags(raw)
		fmt.Fprintf(w, "%s = %s %s [%s]\n", obj, hex, f.Binary(), f)
	case canopen.ReadMotorStatusFlags:
		f := canopen.MotorStatusFlags(raw)
		fmt.Fprintf(w, "%s[%d] = %s %s [%s]\n", obj, sub, hex, f.Binary(), f)
	default:
		fmt.Fprintf(w, "%s[%d] = %s (%d)\n", obj, sub, hex, obj.SignExtend(raw, info.Width))
	}
}
