package cmd

import (
	"context"
	"encoding/json"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/metalxalloy/axionarb/config"
	"github.com/metalxalloy/axionarb/executor"
	"github.com/metalxalloy/axionarb/gas"
	"github.com/metalxalloy/axionarb/graph"
	"github.com/metalxalloy/axionarb/nonce"
	"github.com/metalxalloy/axionarb/pathfinder"
	"github.com/metalxalloy/axionarb/pipeline"
	"github.com/metalxalloy/axionarb/safety"
	"github.com/metalxalloy/axionarb/slippage"
	"github.com/metalxalloy/axionarb/txparams"
	"github.com/metalxalloy/axionarb/types"
	"github.com/metalxalloy/axionarb/utils"
)

var (
	poolsFile    string
	scanInterval time.Duration
	capitalWei   string
)

// fileSource re-reads a pool snapshot file each scan cycle. Discovery runs
// as a separate process and rewrites the file.
type fileSource struct {
	path string
}

func (s *fileSource) Pools(ctx context.Context) ([]types.PoolState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var pools []types.PoolState
	if err := json.Unmarshal(data, &pools); err != nil {
		return nil, err
	}
	return pools, nil
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the arbitrage engine",
	Run: func(cmd *cobra.Command, args []string) {
		log := utils.GetLogger()
		defer utils.CleanupLogger()

		if err := config.LoadEnv(); err != nil {
			log.Debug("No .env file loaded", zap.Error(err))
		}

		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			log.Fatal("Failed to load config", zap.Error(err))
		}
		secure, err := config.LoadSecureConfig()
		if err != nil {
			log.Fatal("Failed to load signing key", zap.Error(err))
		}

		ethClient, err := ethclient.Dial(cfg.RPCEndpoint)
		if err != nil {
			log.Fatal("Failed to connect to Ethereum node", zap.Error(err))
		}
		defer ethClient.Close()

		limiter := utils.NewRPCLimiter(cfg.RPCRateLimit)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		// The orchestrator is built after the safety layer; events emitted
		// before it exists are dropped.
		var orch *pipeline.Orchestrator
		emit := func(e types.Event) {
			if orch != nil {
				orch.Publish(e)
			}
		}

		breaker := safety.NewCircuitBreaker(cfg.CircuitBreaker, emit, log)
		stop := safety.NewEmergencyStop(cfg.EmergencyStop, emit, log)
		stop.RegisterCallback(safety.ShutdownCallback{
			Name:     "cancel-inflight",
			Priority: 100,
			Fn: func(context.Context) error {
				cancel()
				return nil
			},
		})
		capital, ok := new(big.Int).SetString(capitalWei, 10)
		if !ok || capital.Sign() <= 0 {
			log.Fatal("Invalid capital amount", zap.String("capital", capitalWei))
		}
		sizer := safety.NewPositionSizer(cfg.Position, capital, log)

		g := graph.New(cfg.Pathfinder.SupportedProtocols, log)
		finder, err := pathfinder.NewFinder(cfg.Pathfinder, g, log)
		if err != nil {
			log.Fatal("Failed to create pathfinder", zap.Error(err))
		}

		reg := prometheus.NewRegistry()
		nonces := nonce.NewManager(ethClient, log)
		exec, err := executor.NewExecutor(cfg.Pipeline, cfg.ChainID, cfg.FlashSwapContract,
			ethClient, nonces, secure.PrivateKey, limiter, executor.NewMetrics(reg), log)
		if err != nil {
			log.Fatal("Failed to create executor", zap.Error(err))
		}

		orch = pipeline.NewOrchestrator(cfg, pipeline.Deps{
			Graph:     g,
			Finder:    finder,
			Slippage:  slippage.NewCalculator(cfg.Slippage, log),
			Estimator: gas.NewEstimator(cfg.Gas, ethClient, limiter, log),
			Validator: gas.NewValidator(cfg.Gas, log),
			Builder:   txparams.NewBuilder(cfg.FlashSwapContract, cfg.Slippage.ToleranceBps, log),
			Executor:  exec,
			Breaker:   breaker,
			Stop:      stop,
			Sizer:     sizer,
		}, reg, log)

		go func() {
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			log.Info("Shutdown signal received")
			cancel()
		}()

		go func() {
			for event := range orch.Subscribe() {
				log.Info("Pipeline event",
					zap.String("type", string(event.Type)),
					zap.Any("payload", event.Payload),
				)
			}
		}()

		log.Info("Starting arbitrage engine",
			zap.Uint64("chain_id", cfg.ChainID),
			zap.String("signer", exec.From().Hex()),
			zap.String("pools_file", poolsFile),
		)
		if err := orch.Run(ctx, &fileSource{path: poolsFile}, scanInterval); err != nil && ctx.Err() == nil {
			log.Error("Orchestrator exited", zap.Error(err))
		}

		stats := orch.Stats()
		log.Info("Final statistics",
			zap.Uint64("seen", stats.Seen),
			zap.Uint64("accepted", stats.Accepted),
			zap.Uint64("completed", stats.Completed),
			zap.Uint64("failed", stats.Failed),
			zap.String("total_profit", stats.TotalProfit.String()),
		)
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().StringVar(&poolsFile, "pools", "pools.json", "pool snapshot file")
	startCmd.Flags().DurationVar(&scanInterval, "scan-interval", 5*time.Second, "delay between scan cycles")
	startCmd.Flags().StringVar(&capitalWei, "capital", "10000000000000000000", "working capital in wei")
}
