// Package cli wires the configuration surface and subcommands of the
// meridian binary.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "meridian",
	Short: "A pipelined chained-BFT consensus replica",
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "path to a config file")
	pf.Uint64("seed", 42, "shared seed for deterministic key generation")
	pf.Uint64("total-nodes", 4, "number of replicas in the committee")
	pf.Uint64("timeout", 2000, "view timeout in milliseconds")
	pf.String("data-dir", "data", "directory for persistent storage")
	pf.String("coordinator", "", "coordinator base URL; empty runs a static local committee")
	pf.String("listen", ":8440", "coordinator listen address")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")

	if err := viper.BindPFlags(pf); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(coordinatorCmd)
}

func initConfig() {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "config error when loading %s: %v\n", cfgFile, err)
			os.Exit(1)
		}
	}
	viper.SetEnvPrefix("meridian")
	viper.AutomaticEnv()
}
