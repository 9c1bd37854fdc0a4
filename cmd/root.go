package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/metalxalloy/axionarb/utils"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "axionarb",
	Short: "A flash-loan arbitrage engine for EVM chains",
	Long: `A cyclic arbitrage engine that scans DEX liquidity for spatial,
triangular and multi-hop opportunities and executes them atomically
through a flash swap contract.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.axionarb.json)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initConfig() {
	utils.InitLogger(debug)
}
