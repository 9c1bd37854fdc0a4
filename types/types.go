package types

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// PoolState is an immutable snapshot of a liquidity pool, supplied by the
// external discovery collaborator once per scan cycle.
type PoolState struct {
	Address  common.Address `json:"pool_address"`
	Token0   common.Address `json:"token0"`
	Token1   common.Address `json:"token1"`
	Reserve0 *big.Int       `json:"reserve0"`
	Reserve1 *big.Int       `json:"reserve1"`
	Protocol string         `json:"protocol"`
	FeeBps   uint32         `json:"fee_bps"`
}

// HasLiquidity reports whether both reserves are strictly positive.
func (p *PoolState) HasLiquidity() bool {
	return p.Reserve0 != nil && p.Reserve1 != nil &&
		p.Reserve0.Sign() > 0 && p.Reserve1.Sign() > 0
}

// ReservesFor orients the pool's reserves for a swap that consumes tokenIn.
// ok is false when tokenIn is not one of the pool's tokens.
func (p *PoolState) ReservesFor(tokenIn common.Address) (reserveIn, reserveOut *big.Int, tokenOut common.Address, ok bool) {
	switch tokenIn {
	case p.Token0:
		return p.Reserve0, p.Reserve1, p.Token1, true
	case p.Token1:
		return p.Reserve1, p.Reserve0, p.Token0, true
	default:
		return nil, nil, common.Address{}, false
	}
}

// PathStep is one hop of a trade route.
type PathStep struct {
	Pool      common.Address `json:"pool_address"`
	Protocol  string         `json:"protocol"`
	TokenIn   common.Address `json:"token_in"`
	TokenOut  common.Address `json:"token_out"`
	AmountIn  *big.Int       `json:"amount_in"`
	AmountOut *big.Int       `json:"expected_output"`
	FeeBps    uint32         `json:"fee_bps"`
}

// TradeRoute is an ordered sequence of hops plus derived profitability fields.
// Routes are created by a path finder and treated as read-only afterward,
// except for gas/profit annotations added by later pipeline stages.
type TradeRoute struct {
	Steps          []PathStep `json:"path"`
	StartToken     common.Address
	EndToken       common.Address
	InputAmount    *big.Int
	ExpectedOutput *big.Int
	GrossProfit    *big.Int
	ProfitBps      int64
	GasEstimate    uint64
}

// Cyclic reports whether the route starts and ends on the same token.
func (r *TradeRoute) Cyclic() bool {
	return len(r.Steps) > 0 && r.StartToken == r.EndToken
}

// Validate checks hop continuity and amount sanity.
func (r *TradeRoute) Validate() error {
	if len(r.Steps) == 0 {
		return fmt.Errorf("route has no steps")
	}
	if r.InputAmount == nil || r.InputAmount.Sign() <= 0 {
		return fmt.Errorf("route input amount must be positive")
	}
	if r.Steps[0].TokenIn != r.StartToken {
		return fmt.Errorf("first step token %s does not match start token %s",
			r.Steps[0].TokenIn.Hex(), r.StartToken.Hex())
	}
	for i := 0; i < len(r.Steps)-1; i++ {
		if r.Steps[i].TokenOut != r.Steps[i+1].TokenIn {
			return fmt.Errorf("token discontinuity between steps %d and %d", i, i+1)
		}
	}
	if r.Steps[len(r.Steps)-1].TokenOut != r.EndToken {
		return fmt.Errorf("last step token does not match end token")
	}
	return nil
}

// PoolAddresses returns the pool address of every hop, in order.
func (r *TradeRoute) PoolAddresses() []common.Address {
	addrs := make([]common.Address, len(r.Steps))
	for i, s := range r.Steps {
		addrs[i] = s.Pool
	}
	return addrs
}

// ArbitrageKind classifies how a route was discovered.
type ArbitrageKind int

const (
	KindSpatial ArbitrageKind = iota
	KindTriangular
	KindMultiHop
)

func (k ArbitrageKind) String() string {
	switch k {
	case KindSpatial:
		return "spatial"
	case KindTriangular:
		return "triangular"
	case KindMultiHop:
		return "multi_hop"
	default:
		return "unknown"
	}
}

// OpportunityStatus is the lifecycle state of an opportunity.
type OpportunityStatus int

const (
	StatusIdentified OpportunityStatus = iota
	StatusSimulated
	StatusPending
	StatusExecuting
	StatusExecuted
	StatusFailed
	StatusExpired
)

func (s OpportunityStatus) String() string {
	switch s {
	case StatusIdentified:
		return "identified"
	case StatusSimulated:
		return "simulated"
	case StatusPending:
		return "pending"
	case StatusExecuting:
		return "executing"
	case StatusExecuted:
		return "executed"
	case StatusFailed:
		return "failed"
	case StatusExpired:
		return "expired"
	default:
		return "invalid"
	}
}

// Terminal reports whether no further transitions are allowed from s.
func (s OpportunityStatus) Terminal() bool {
	return s == StatusExecuted || s == StatusFailed || s == StatusExpired
}

// validTransitions is the fixed lifecycle graph. Executing may only resolve
// to Executed or Failed; the other non-terminal states may also expire.
var validTransitions = map[OpportunityStatus][]OpportunityStatus{
	StatusIdentified: {StatusSimulated, StatusExpired, StatusFailed},
	StatusSimulated:  {StatusPending, StatusExpired, StatusFailed},
	StatusPending:    {StatusExecuting, StatusExpired, StatusFailed},
	StatusExecuting:  {StatusExecuted, StatusFailed},
	StatusExecuted:   {},
	StatusFailed:     {},
	StatusExpired:    {},
}

// ArbitrageOpportunity wraps a discovered route with lifecycle status, risk
// scoring and fields filled progressively by later pipeline stages.
type ArbitrageOpportunity struct {
	ID        string            `json:"opportunity_id"`
	Kind      ArbitrageKind     `json:"arb_type"`
	Status    OpportunityStatus `json:"status"`
	CreatedAt time.Time         `json:"timestamp"`

	Route *TradeRoute `json:"route"`

	// RiskScoreBps is the composite risk score scaled to basis points:
	// 0 (negligible) to 10000 (certain loss).
	RiskScoreBps int64 `json:"risk_score_bps"`

	RequiresFlashLoan bool           `json:"requires_flash_loan"`
	FlashLoanAmount   *big.Int       `json:"flash_loan_amount,omitempty"`
	FlashLoanToken    common.Address `json:"flash_loan_token,omitempty"`
	FlashLoanPool     common.Address `json:"flash_loan_pool,omitempty"`

	// Filled by the gas/profit validation stage.
	EstimatedGas uint64   `json:"estimated_gas"`
	GasPrice     *big.Int `json:"gas_price,omitempty"`
	NetProfit    *big.Int `json:"net_profit,omitempty"`

	TxHash       common.Hash `json:"tx_hash,omitempty"`
	ActualProfit *big.Int    `json:"actual_profit,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// NewOpportunity creates an opportunity in the Identified state.
func NewOpportunity(kind ArbitrageKind, route *TradeRoute) *ArbitrageOpportunity {
	return &ArbitrageOpportunity{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    StatusIdentified,
		CreatedAt: time.Now(),
		Route:     route,
	}
}

// UpdateStatus applies a lifecycle transition, rejecting edges that are not
// in the fixed transition graph.
func (o *ArbitrageOpportunity) UpdateStatus(next OpportunityStatus) error {
	for _, allowed := range validTransitions[o.Status] {
		if next == allowed {
			o.Status = next
			return nil
		}
	}
	return fmt.Errorf("invalid status transition %s -> %s", o.Status, next)
}

// Fail marks the opportunity failed with a recorded reason. Failing an
// already-terminal opportunity is rejected like any other bad transition.
func (o *ArbitrageOpportunity) Fail(reason string) error {
	if err := o.UpdateStatus(StatusFailed); err != nil {
		return err
	}
	o.ErrorMessage = reason
	return nil
}

// Risk weights in bps. Carried over from production tuning.
const (
	riskPerHopBps      = 500
	riskPathCapBps     = 3000
	riskFlashLoanBps   = 1000
	riskUnknownBps     = 3000
	riskDefaultSlipBps = 1000
)

var protocolRiskBps = map[string]int64{
	"uniswap_v2": 1000,
	"uniswap_v3": 1500,
	"sushiswap":  2000,
	"camelot":    2500,
}

// ScoreRisk computes the composite risk score from the protocol mix, path
// length, flash-loan requirement and a slippage term, weighted 30/20/20/30.
func (o *ArbitrageOpportunity) ScoreRisk(slippageBps int64) int64 {
	if o.Route == nil || len(o.Route.Steps) == 0 {
		o.RiskScoreBps = riskUnknownBps
		return o.RiskScoreBps
	}

	var protoSum int64
	for _, step := range o.Route.Steps {
		risk, ok := protocolRiskBps[step.Protocol]
		if !ok {
			risk = riskUnknownBps
		}
		protoSum += risk
	}
	protoAvg := protoSum / int64(len(o.Route.Steps))

	pathPenalty := int64(len(o.Route.Steps)) * riskPerHopBps
	if pathPenalty > riskPathCapBps {
		pathPenalty = riskPathCapBps
	}

	var flashRisk int64
	if o.RequiresFlashLoan {
		flashRisk = riskFlashLoanBps
	}

	if slippageBps <= 0 {
		slippageBps = riskDefaultSlipBps
	}

	total := (protoAvg*30 + pathPenalty*20 + flashRisk*20 + slippageBps*30) / 100
	if total > 10000 {
		total = 10000
	}
	o.RiskScoreBps = total
	return total
}

// Stage identifies a pipeline stage.
type Stage int

const (
	StageDetecting Stage = iota
	StageValidating
	StagePreparing
	StageExecuting
	StageMonitoring
)

func (s Stage) String() string {
	switch s {
	case StageDetecting:
		return "detecting"
	case StageValidating:
		return "validating"
	case StagePreparing:
		return "preparing"
	case StageExecuting:
		return "executing"
	case StageMonitoring:
		return "monitoring"
	default:
		return "unknown"
	}
}

// ErrorKind is the machine-readable error class from the failure taxonomy.
type ErrorKind string

const (
	ErrValidation    ErrorKind = "validation"
	ErrEstimation    ErrorKind = "estimation"
	ErrProfitability ErrorKind = "profitability"
	ErrExecution     ErrorKind = "execution"
	ErrSafety        ErrorKind = "safety"
)

// StageError carries a stage tag, error kind, message and recoverability.
// Stage functions aggregate these into Checkpoints instead of panicking
// across stage boundaries.
type StageError struct {
	Stage       Stage
	Kind        ErrorKind
	Message     string
	Recoverable bool
}

func (e *StageError) Error() string {
	return fmt.Sprintf("[%s/%s] %s", e.Stage, e.Kind, e.Message)
}

// NewStageError builds a StageError.
func NewStageError(stage Stage, kind ErrorKind, recoverable bool, format string, args ...any) *StageError {
	return &StageError{
		Stage:       stage,
		Kind:        kind,
		Message:     fmt.Sprintf(format, args...),
		Recoverable: recoverable,
	}
}

// ExecutionContext is the per-attempt mutable record owned exclusively by one
// in-flight execution.
type ExecutionContext struct {
	ID          string
	Opportunity *ArbitrageOpportunity
	Route       *TradeRoute
	Stage       Stage
	Attempt     int

	GasLimit  uint64
	GasPrice  *big.Int
	NetProfit *big.Int

	CallData []byte
	TxHash   common.Hash
	GasUsed  uint64
}

// Checkpoint is the result of running one pipeline stage.
type Checkpoint struct {
	OK     bool
	Errors []*StageError
}

// TradeResult is the outcome record fed to the safety layer after each
// completed or failed execution attempt.
type TradeResult struct {
	Timestamp time.Time
	Success   bool
	// NetProfit is signed: negative for losing trades.
	NetProfit *big.Int
	GasUsed   uint64
}

// EventType enumerates the events published by the orchestrator and safety
// layer.
type EventType string

const (
	EventExecution      EventType = "execution-event"
	EventHealthCheck    EventType = "health-check"
	EventAnomaly        EventType = "anomaly-detected"
	EventCriticalHealth EventType = "critical-health"
	EventCircuitOpened  EventType = "circuit-opened"
	EventCircuitClosed  EventType = "circuit-closed"
	EventHalfOpen       EventType = "half-open"
	EventStopping       EventType = "stopping"
	EventStopped        EventType = "stopped"
	EventRecovering     EventType = "recovering"
	EventRecovered      EventType = "recovered"
)

// Event is a timestamped notification with a structured payload.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, payload any) Event {
	return Event{Type: t, Timestamp: time.Now(), Payload: payload}
}
