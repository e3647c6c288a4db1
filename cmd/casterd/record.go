package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iqr/casterbase/caster"
	"github.com/iqr/casterbase/telemetry"
)

var dumpJSON bool

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Work with snapshot recordings",
}

var recordDumpCmd = &cobra.Command{
	Use:   "dump <file>",
	Short: "Print the snapshots in a recording",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		snaps, err := telemetry.ReadRecording(f)
		out := cmd.OutOrStdout()
		if dumpJSON {
			enc := json.NewEncoder(out)
			for _, s := range snaps {
				if err := enc.Encode(s); err != nil {
					return err
				}
			}
		} else {
			for _, s := range snaps {
				fmt.Fprintln(out, formatSnapshot(s))
			}
		}
		// A recording cut short by a crash still prints what it has.
		return err
	},
}

func init() {
	recordDumpCmd.Flags().BoolVar(&dumpJSON, "json", false, "print one JSON object per line")
	recordCmd.AddCommand(recordDumpCmd)
	rootCmd.AddCommand(recordCmd)
}

func formatSnapshot(s caster.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s #%d", s.Time.Format(time.RFC3339Nano), s.Tick)
	for i, j := range s.Joints {
		m := s.Motors[i]
		fmt.Fprintf(&b, " | %s pos=%.4f vel=%.4f cmd=%.4f rpm=%d", j.Name, j.Position, j.Velocity, m.Commanded, m.RPM)
		if !m.Fresh {
			b.WriteString(" stale")
		}
	}
	if len(s.Faults) > 0 {
		fmt.Fprintf(&b, " | faults=%s", strings.Join(s.Faults, ","))
	}
	return b.String()
}
