package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/meridian-bft/meridian/coordinator"
	"github.com/meridian-bft/meridian/logging"
)

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Run the bootstrap coordinator service",
	RunE: func(*cobra.Command, []string) error {
		service := coordinator.New(coordinator.NetworkConfig{
			TotalNodes: viper.GetUint64("total-nodes"),
			Seed:       viper.GetUint64("seed"),
			TimeoutMS:  viper.GetUint64("timeout"),
		}, logging.NewWithLevel("coordinator", viper.GetString("log-level")))
		return service.ListenAndServe(viper.GetString("listen"))
	},
}
