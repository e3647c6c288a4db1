package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iqr/casterbase/config"
)

var generateOutput string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Check or generate configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Loading already validated it.
		fmt.Fprintf(cmd.OutOrStdout(), "config ok: transport=%s node=%d\n", appConfig.CAN.Transport, appConfig.CAN.NodeID)
		return nil
	},
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write the default configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.DefaultConfig().SaveConfig(generateOutput); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", generateOutput)
		return nil
	},
}

func init() {
	configGenerateCmd.Flags().StringVarP(&generateOutput, "output", "o", "casterd.yaml", "output file; the extension picks the format")
	configCmd.AddCommand(configValidateCmd, configGenerateCmd)
	rootCmd.AddCommand(configCmd)
}
