// Package executor turns validated opportunities into signed EIP-1559
// transactions, broadcasts them and waits for confirmation. Nonce assignment
// and broadcast are serialized per signer through the nonce manager.
package executor

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/metalxalloy/axionarb/config"
	"github.com/metalxalloy/axionarb/nonce"
	"github.com/metalxalloy/axionarb/types"
)

// Client is the subset of the ethclient surface the executor needs.
type Client interface {
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
}

// Limiter throttles RPC-bound calls. *rate.Limiter and utils.RPCLimiter both
// satisfy it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Executor signs and submits arbitrage transactions.
type Executor struct {
	cfg     config.PipelineConfig
	chainID *big.Int
	client  Client
	nonces  *nonce.Manager
	limiter Limiter
	logger  *zap.Logger

	key      *ecdsa.PrivateKey
	from     common.Address
	contract common.Address

	// receipts caches confirmed receipts by tx hash so the monitoring stage
	// never re-polls a transaction it already resolved.
	receipts *lru.Cache

	metrics *Metrics
}

// NewExecutor creates an executor signing with privateKeyHex and targeting
// the flash swap contract.
func NewExecutor(cfg config.PipelineConfig, chainID uint64, contract common.Address, client Client, nonces *nonce.Manager, privateKeyHex string, limiter Limiter, m *Metrics, logger *zap.Logger) (*Executor, error) {
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	receipts, err := lru.New(1024)
	if err != nil {
		return nil, fmt.Errorf("failed to create receipt cache: %w", err)
	}
	if m == nil {
		m = NopMetrics()
	}
	return &Executor{
		cfg:      cfg,
		chainID:  new(big.Int).SetUint64(chainID),
		client:   client,
		nonces:   nonces,
		limiter:  limiter,
		logger:   logger,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		contract: contract,
		receipts: receipts,
		metrics:  m,
	}, nil
}

// From returns the signer address.
func (e *Executor) From() common.Address {
	return e.from
}

// Submit builds, signs and broadcasts the transaction for an execution
// context. The nonce is reserved only once every fallible precondition
// (calldata, fee lookup, rate limiter) has passed, so a failure before
// broadcast never consumes a nonce; sign and send failures re-anchor the
// sequence against the chain.
func (e *Executor) Submit(ctx context.Context, ec *types.ExecutionContext) (common.Hash, *types.StageError) {
	if ec.CallData == nil {
		return common.Hash{}, types.NewStageError(types.StageExecuting, types.ErrValidation, false,
			"execution context has no calldata")
	}

	tip, feeCap, serr := e.feeCaps(ctx)
	if serr != nil {
		return common.Hash{}, serr
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return common.Hash{}, types.NewStageError(types.StageExecuting, types.ErrExecution, true,
				"rate limiter: %v", err)
		}
	}

	n, err := e.nonces.Reserve(ctx, e.from)
	if err != nil {
		return common.Hash{}, types.NewStageError(types.StageExecuting, types.ErrExecution, true,
			"failed to reserve nonce: %v", err)
	}

	contract := e.contract
	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     n,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       ec.GasLimit,
		To:        &contract,
		Data:      ec.CallData,
	})

	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(e.chainID), e.key)
	if err != nil {
		e.resyncNonce(ctx)
		return common.Hash{}, types.NewStageError(types.StageExecuting, types.ErrExecution, false,
			"failed to sign transaction: %v", err)
	}

	if err := e.client.SendTransaction(ctx, signed); err != nil {
		e.resyncNonce(ctx)
		return common.Hash{}, types.NewStageError(types.StageExecuting, types.ErrExecution, true,
			"broadcast failed: %v", err)
	}

	e.metrics.submissions.Inc()
	hash := signed.Hash()
	ec.TxHash = hash

	e.logger.Info("Submitted transaction",
		zap.String("tx_hash", hash.Hex()),
		zap.Uint64("nonce", n),
		zap.Uint64("gas_limit", ec.GasLimit),
	)
	return hash, nil
}

// resyncNonce re-anchors the local nonce sequence after a reserved nonce was
// not broadcast.
func (e *Executor) resyncNonce(ctx context.Context) {
	if _, err := e.nonces.SyncWithChain(ctx, e.from); err != nil {
		e.logger.Error("Failed to re-anchor nonce after submit failure", zap.Error(err))
	}
}

// WaitReceipt polls for the transaction receipt until the confirmation
// timeout elapses. A timeout is a recoverable failure; a receipt with status
// zero is a revert and is not retried.
func (e *Executor) WaitReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, *types.StageError) {
	if cached, ok := e.receipts.Get(txHash); ok {
		return cached.(*ethtypes.Receipt), nil
	}

	start := time.Now()
	deadline := start.Add(e.cfg.ConfirmationTimeout)
	ticker := time.NewTicker(e.cfg.ConfirmationPoll)
	defer ticker.Stop()

	for {
		receipt, err := e.client.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			e.receipts.Add(txHash, receipt)
			e.metrics.confirmationSeconds.Observe(time.Since(start).Seconds())

			if receipt.Status == ethtypes.ReceiptStatusFailed {
				e.metrics.reverts.Inc()
				return receipt, types.NewStageError(types.StageMonitoring, types.ErrExecution, false,
					"transaction %s reverted", txHash.Hex())
			}
			e.metrics.confirmations.Inc()
			return receipt, nil
		}

		if time.Now().After(deadline) {
			return nil, types.NewStageError(types.StageMonitoring, types.ErrExecution, true,
				"no receipt for %s within %s", txHash.Hex(), e.cfg.ConfirmationTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, types.NewStageError(types.StageMonitoring, types.ErrExecution, true,
				"confirmation wait cancelled: %v", ctx.Err())
		case <-ticker.C:
		}
	}
}

// feeCaps derives the EIP-1559 tip and fee cap: tip from the node's
// suggestion, fee cap at tip plus twice the latest base fee.
func (e *Executor) feeCaps(ctx context.Context) (tip, feeCap *big.Int, serr *types.StageError) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, nil, types.NewStageError(types.StageExecuting, types.ErrExecution, true,
				"rate limiter: %v", err)
		}
	}
	tip, err := e.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, types.NewStageError(types.StageExecuting, types.ErrEstimation, true,
			"failed to fetch gas tip: %v", err)
	}
	header, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, types.NewStageError(types.StageExecuting, types.ErrEstimation, true,
			"failed to fetch latest header: %v", err)
	}

	feeCap = new(big.Int).Set(tip)
	if header.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(header.BaseFee, big.NewInt(2)))
	}
	return tip, feeCap, nil
}
