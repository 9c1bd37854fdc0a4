package executor

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"github.com/metalxalloy/axionarb/config"
	"github.com/metalxalloy/axionarb/nonce"
	"github.com/metalxalloy/axionarb/types"
)

// Throwaway test key, never funded.
const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var testContract = common.HexToAddress("0x00000000000000000000000000000000000000C0")

// mockClient implements Client and the nonce manager's client.
type mockClient struct {
	mu sync.RWMutex

	pendingNonce uint64
	sent         []*ethtypes.Transaction
	receipts     map[common.Hash]*ethtypes.Receipt
	sendError    bool
}

func newMockClient() *mockClient {
	return &mockClient{receipts: make(map[common.Hash]*ethtypes.Receipt)}
}

func (m *mockClient) setSendError(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendError = on
}

func (m *mockClient) setReceipt(hash common.Hash, status uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[hash] = &ethtypes.Receipt{Status: status, GasUsed: 210_000, TxHash: hash}
}

func (m *mockClient) sentTxs() []*ethtypes.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*ethtypes.Transaction{}, m.sent...)
}

func (m *mockClient) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendError {
		return errors.New("nonce too low")
	}
	m.sent = append(m.sent, tx)
	m.pendingNonce = tx.Nonce() + 1
	return nil
}

func (m *mockClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	receipt, ok := m.receipts[txHash]
	if !ok {
		return nil, errors.New("not found")
	}
	return receipt, nil
}

func (m *mockClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (m *mockClient) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	return &ethtypes.Header{Number: big.NewInt(1), BaseFee: big.NewInt(10_000_000_000)}, nil
}

func (m *mockClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pendingNonce, nil
}

func testConfig() config.PipelineConfig {
	return config.PipelineConfig{
		ConfirmationTimeout: 100 * time.Millisecond,
		ConfirmationPoll:    10 * time.Millisecond,
	}
}

func newTestExecutor(t *testing.T, client *mockClient) *Executor {
	t.Helper()
	log := zaptest.NewLogger(t)
	e, err := NewExecutor(testConfig(), 42161, testContract, client,
		nonce.NewManager(client, log), testKeyHex, nil, nil, log)
	require.NoError(t, err)
	return e
}

func testExecutionContext() *types.ExecutionContext {
	return &types.ExecutionContext{
		ID:       "test-exec",
		CallData: []byte{0xde, 0xad, 0xbe, 0xef},
		GasLimit: 300_000,
	}
}

func TestNewExecutorRejectsBadKey(t *testing.T) {
	log := zaptest.NewLogger(t)
	client := newMockClient()
	_, err := NewExecutor(testConfig(), 1, testContract, client,
		nonce.NewManager(client, log), "not-a-key", nil, nil, log)
	assert.Error(t, err)
}

func TestSubmitBroadcastsSignedTx(t *testing.T) {
	client := newMockClient()
	e := newTestExecutor(t, client)
	ec := testExecutionContext()

	hash, serr := e.Submit(context.Background(), ec)
	require.Nil(t, serr)
	assert.Equal(t, hash, ec.TxHash)

	sent := client.sentTxs()
	require.Len(t, sent, 1)
	tx := sent[0]
	assert.Equal(t, uint64(0), tx.Nonce())
	assert.Equal(t, testContract, *tx.To())
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, tx.Data())
	assert.Equal(t, uint64(300_000), tx.Gas())
	assert.Equal(t, ethtypes.DynamicFeeTxType, int(tx.Type()))
	// Fee cap = tip + 2x base fee.
	assert.Equal(t, big.NewInt(21_000_000_000), tx.GasFeeCap())
}

func TestSubmitSequentialNonces(t *testing.T) {
	client := newMockClient()
	e := newTestExecutor(t, client)

	for i := 0; i < 3; i++ {
		_, serr := e.Submit(context.Background(), testExecutionContext())
		require.Nil(t, serr)
	}
	sent := client.sentTxs()
	require.Len(t, sent, 3)
	for i, tx := range sent {
		assert.Equal(t, uint64(i), tx.Nonce())
	}
}

func TestSubmitRequiresCallData(t *testing.T) {
	e := newTestExecutor(t, newMockClient())
	ec := testExecutionContext()
	ec.CallData = nil

	_, serr := e.Submit(context.Background(), ec)
	require.NotNil(t, serr)
	assert.False(t, serr.Recoverable)
	assert.Equal(t, types.ErrValidation, serr.Kind)
}

func TestSubmitBroadcastFailureResyncsNonce(t *testing.T) {
	client := newMockClient()
	e := newTestExecutor(t, client)

	_, serr := e.Submit(context.Background(), testExecutionContext())
	require.Nil(t, serr)

	client.setSendError(true)
	_, serr = e.Submit(context.Background(), testExecutionContext())
	require.NotNil(t, serr)
	assert.True(t, serr.Recoverable)
	assert.Equal(t, types.ErrExecution, serr.Kind)

	// The burned nonce was re-anchored to the chain's pending value, so the
	// next broadcast does not leave a gap.
	client.setSendError(false)
	_, serr = e.Submit(context.Background(), testExecutionContext())
	require.Nil(t, serr)
	sent := client.sentTxs()
	assert.Equal(t, sent[0].Nonce()+1, sent[1].Nonce())
}

func TestSubmitPreBroadcastFailureDoesNotBurnNonce(t *testing.T) {
	client := newMockClient()
	e := newTestExecutor(t, client)
	// Burst of one: the fee lookup takes the only token and the pre-send
	// wait starves until the context deadline.
	e.limiter = rate.NewLimiter(rate.Every(time.Hour), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, serr := e.Submit(ctx, testExecutionContext())
	require.NotNil(t, serr)
	assert.True(t, serr.Recoverable)
	assert.Empty(t, client.sentTxs())

	// No nonce was consumed by the failed attempt: the next broadcast still
	// carries nonce zero, leaving no gap in the sequence.
	e.limiter = nil
	_, serr = e.Submit(context.Background(), testExecutionContext())
	require.Nil(t, serr)
	sent := client.sentTxs()
	require.Len(t, sent, 1)
	assert.Equal(t, uint64(0), sent[0].Nonce())
}

func TestWaitReceiptSuccess(t *testing.T) {
	client := newMockClient()
	e := newTestExecutor(t, client)
	hash := common.HexToHash("0x01")
	client.setReceipt(hash, ethtypes.ReceiptStatusSuccessful)

	receipt, serr := e.WaitReceipt(context.Background(), hash)
	require.Nil(t, serr)
	assert.Equal(t, uint64(210_000), receipt.GasUsed)
}

func TestWaitReceiptRevertIsFinal(t *testing.T) {
	client := newMockClient()
	e := newTestExecutor(t, client)
	hash := common.HexToHash("0x02")
	client.setReceipt(hash, ethtypes.ReceiptStatusFailed)

	receipt, serr := e.WaitReceipt(context.Background(), hash)
	require.NotNil(t, serr)
	assert.False(t, serr.Recoverable)
	assert.NotNil(t, receipt)
}

func TestWaitReceiptTimesOut(t *testing.T) {
	e := newTestExecutor(t, newMockClient())

	start := time.Now()
	_, serr := e.WaitReceipt(context.Background(), common.HexToHash("0x03"))
	require.NotNil(t, serr)
	assert.True(t, serr.Recoverable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitReceiptServedFromCache(t *testing.T) {
	client := newMockClient()
	e := newTestExecutor(t, client)
	hash := common.HexToHash("0x04")
	client.setReceipt(hash, ethtypes.ReceiptStatusSuccessful)

	_, serr := e.WaitReceipt(context.Background(), hash)
	require.Nil(t, serr)

	// Drop the receipt from the node; the cache still answers.
	client.mu.Lock()
	delete(client.receipts, hash)
	client.mu.Unlock()

	receipt, serr := e.WaitReceipt(context.Background(), hash)
	require.Nil(t, serr)
	assert.NotNil(t, receipt)
}
