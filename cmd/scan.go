package cmd

import (
	"encoding/json"
	"math/big"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/metalxalloy/axionarb/config"
	"github.com/metalxalloy/axionarb/graph"
	"github.com/metalxalloy/axionarb/pathfinder"
	"github.com/metalxalloy/axionarb/types"
	"github.com/metalxalloy/axionarb/utils"
)

var (
	scanPoolsFile string
	scanAmountWei string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a one-shot opportunity scan over a pool snapshot",
	Run: func(cmd *cobra.Command, args []string) {
		log := utils.GetLogger()
		defer utils.CleanupLogger()

		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			log.Fatal("Failed to load config", zap.Error(err))
		}

		data, err := os.ReadFile(scanPoolsFile)
		if err != nil {
			log.Fatal("Failed to read pool snapshot", zap.Error(err))
		}
		var pools []types.PoolState
		if err := json.Unmarshal(data, &pools); err != nil {
			log.Fatal("Failed to decode pool snapshot", zap.Error(err))
		}

		amount, ok := new(big.Int).SetString(scanAmountWei, 10)
		if !ok || amount.Sign() <= 0 {
			log.Fatal("Invalid scan amount", zap.String("amount", scanAmountWei))
		}

		g := graph.New(cfg.Pathfinder.SupportedProtocols, log)
		g.Rebuild(pools)

		finder, err := pathfinder.NewFinder(cfg.Pathfinder, g, log)
		if err != nil {
			log.Fatal("Failed to create pathfinder", zap.Error(err))
		}

		var found []*types.ArbitrageOpportunity
		found = append(found, finder.FindSpatial(amount)...)
		found = append(found, finder.FindAll(amount)...)

		stats := finder.Stats()
		log.Info("Scan complete",
			zap.Int("pools", g.PoolCount()),
			zap.Uint64("cycles_analyzed", stats.CyclesAnalyzed),
			zap.Int("opportunities", len(found)),
		)

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(found); err != nil {
			log.Fatal("Failed to encode opportunities", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().StringVar(&scanPoolsFile, "pools", "pools.json", "pool snapshot file")
	scanCmd.Flags().StringVar(&scanAmountWei, "amount", "1000000000000000000", "input amount in wei")
}
