// Package trading provides the platform's concrete job kinds: agent
// provisioning, model training, signal prediction, strategy execution
// and market-data fetching. Each kind is a strategy object implementing
// core.Handler, simulating the platform's model workers so the engine
// can be run and exercised without the Python training stack.
package trading

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/tradehive/agentd/internal/core"
)

// Job type names registered with the engine.
const (
	TypeAgentCreate = "agent.create"
	TypeTrain       = "agent.train"
	TypePredict     = "agent.predict"
	TypeExecute     = "trade.execute"
	TypeMarketGet   = "market.fetch"
)

// decode converts an opaque job payload (raw JSON from the API, or a
// map/struct from in-process callers) into the handler's request type.
func decode(data any, v any) error {
	var raw []byte
	switch d := data.(type) {
	case nil:
		return core.NewValidationError("job payload is required", nil)
	case json.RawMessage:
		raw = d
	case []byte:
		raw = d
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return core.NewValidationError(fmt.Sprintf("payload is not serializable: %v", err), nil)
		}
		raw = b
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return core.NewValidationError(fmt.Sprintf("malformed payload: %v", err), nil)
	}
	return nil
}

// AgentCreateRequest asks for a new trading agent to be provisioned.
type AgentCreateRequest struct {
	Name      string         `json:"name"`
	Strategy  string         `json:"strategy"`   // lstm or dnn
	RiskLevel float64        `json:"risk_level"` // 0.0 to 1.0
	Metadata  map[string]any `json:"metadata"`
}

// AgentCreateResult describes the provisioned agent. MetadataHash is
// the content address of the agent's metadata document.
type AgentCreateResult struct {
	AgentID      string  `json:"agent_id"`
	Name         string  `json:"name"`
	Strategy     string  `json:"strategy"`
	RiskLevel    float64 `json:"risk_level"`
	MetadataHash string  `json:"metadata_hash"`
	CreatedAt    string  `json:"created_at"`
}

// AgentCreateHandler simulates agent provisioning: the metadata
// document is hashed so it can be pinned and verified later.
type AgentCreateHandler struct{}

// Run implements core.Handler.
func (AgentCreateHandler) Run(ctx context.Context, data any) (any, error) {
	var req AgentCreateRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, core.NewValidationError("name is required", nil)
	}
	if req.Strategy != "lstm" && req.Strategy != "dnn" {
		return nil, core.NewValidationError("strategy must be 'lstm' or 'dnn'", map[string]any{"strategy": req.Strategy})
	}
	if req.RiskLevel < 0 || req.RiskLevel > 1 {
		return nil, core.NewValidationError("risk_level must be between 0.0 and 1.0", map[string]any{"risk_level": req.RiskLevel})
	}

	res := &AgentCreateResult{
		AgentID:   uuid.NewString(),
		Name:      req.Name,
		Strategy:  req.Strategy,
		RiskLevel: req.RiskLevel,
		CreatedAt: core.NowFormatted(),
	}
	doc, err := json.Marshal(map[string]any{
		"agent_id":   res.AgentID,
		"name":       res.Name,
		"strategy":   res.Strategy,
		"risk_level": res.RiskLevel,
		"metadata":   req.Metadata,
		"created_at": res.CreatedAt,
	})
	if err != nil {
		return nil, core.NewInternalError(fmt.Sprintf("agent metadata not serializable: %v", err))
	}
	sum := sha256.Sum256(doc)
	res.MetadataHash = hex.EncodeToString(sum[:])
	return res, nil
}

// TrainingRequest asks for an agent's model to be (re)trained on
// historical data for a symbol.
type TrainingRequest struct {
	AgentID    string `json:"agent_id"`
	Symbol     string `json:"symbol"`
	Epochs     int    `json:"epochs"`
	WindowSize int    `json:"window_size"`
}

// TrainingResult reports the trained model and its performance
// metrics.
type TrainingResult struct {
	ModelID     string  `json:"model_id"`
	AgentID     string  `json:"agent_id"`
	Symbol      string  `json:"symbol"`
	Epochs      int     `json:"epochs"`
	Accuracy    float64 `json:"accuracy"`
	Loss        float64 `json:"loss"`
	WinRate     float64 `json:"win_rate"`
	SharpeRatio float64 `json:"sharpe_ratio"`
	TrainedAt   string  `json:"trained_at"`
}

// TrainingHandler simulates a training run: loss decays with epoch
// count, the remaining metrics are derived from it.
type TrainingHandler struct{}

// Run implements core.Handler.
func (TrainingHandler) Run(ctx context.Context, data any) (any, error) {
	var req TrainingRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.AgentID == "" {
		return nil, core.NewValidationError("agent_id is required", nil)
	}
	if req.Symbol == "" {
		return nil, core.NewValidationError("symbol is required", nil)
	}
	if req.Epochs <= 0 {
		req.Epochs = 50
	}
	if req.WindowSize <= 0 {
		req.WindowSize = 60
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Duration(req.Epochs) * time.Millisecond):
	}

	loss := 0.5 * math.Exp(-float64(req.Epochs)/100) * (0.9 + 0.2*rand.Float64())
	accuracy := 1 - loss
	return &TrainingResult{
		ModelID:     uuid.NewString(),
		AgentID:     req.AgentID,
		Symbol:      req.Symbol,
		Epochs:      req.Epochs,
		Accuracy:    accuracy,
		Loss:        loss,
		WinRate:     0.4 + accuracy/4,
		SharpeRatio: accuracy * 2,
		TrainedAt:   core.NowFormatted(),
	}, nil
}

// PredictionRequest asks a trained agent for a trading signal.
type PredictionRequest struct {
	AgentID string  `json:"agent_id"`
	Symbol  string  `json:"symbol"`
	Risk    float64 `json:"risk"` // 0.0 to 1.0, shifts the buy threshold
}

// PredictionResult is the agent's signal for the symbol.
type PredictionResult struct {
	AgentID     string  `json:"agent_id"`
	Symbol      string  `json:"symbol"`
	Signal      string  `json:"signal"` // buy, sell or hold
	Confidence  float64 `json:"confidence"`
	PredictedAt string  `json:"predicted_at"`
}

// PredictionHandler simulates inference: a score in [0, 1] is mapped
// to buy/sell/hold the way the platform's agents threshold their model
// output, with the risk level widening the hold band.
type PredictionHandler struct{}

// Run implements core.Handler.
func (PredictionHandler) Run(ctx context.Context, data any) (any, error) {
	var req PredictionRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.AgentID == "" {
		return nil, core.NewValidationError("agent_id is required", nil)
	}
	if req.Symbol == "" {
		return nil, core.NewValidationError("symbol is required", nil)
	}
	if req.Risk < 0 || req.Risk > 1 {
		return nil, core.NewValidationError("risk must be between 0.0 and 1.0", map[string]any{"risk": req.Risk})
	}

	score := rand.Float64()
	signal := "hold"
	switch {
	case score > 0.5+0.1*req.Risk:
		signal = "buy"
	case score < 0.5-0.1*req.Risk:
		signal = "sell"
	}
	return &PredictionResult{
		AgentID:     req.AgentID,
		Symbol:      req.Symbol,
		Signal:      signal,
		Confidence:  math.Abs(score-0.5) * 2,
		PredictedAt: core.NowFormatted(),
	}, nil
}

// ExecutionRequest asks for an order to be placed for an agent.
type ExecutionRequest struct {
	AgentID  string  `json:"agent_id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"` // buy or sell
	Quantity float64 `json:"quantity"`
}

// ExecutionResult reports the simulated fill.
type ExecutionResult struct {
	OrderID     string  `json:"order_id"`
	AgentID     string  `json:"agent_id"`
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Quantity    float64 `json:"quantity"`
	FilledPrice float64 `json:"filled_price"`
	Status      string  `json:"status"`
	ExecutedAt  string  `json:"executed_at"`
}

// ExecutionHandler simulates order placement against the paper broker.
type ExecutionHandler struct{}

// Run implements core.Handler.
func (ExecutionHandler) Run(ctx context.Context, data any) (any, error) {
	var req ExecutionRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.AgentID == "" {
		return nil, core.NewValidationError("agent_id is required", nil)
	}
	if req.Symbol == "" {
		return nil, core.NewValidationError("symbol is required", nil)
	}
	if req.Side != "buy" && req.Side != "sell" {
		return nil, core.NewValidationError("side must be 'buy' or 'sell'", map[string]any{"side": req.Side})
	}
	if req.Quantity <= 0 {
		return nil, core.NewValidationError("quantity must be positive", map[string]any{"quantity": req.Quantity})
	}

	return &ExecutionResult{
		OrderID:     uuid.NewString(),
		AgentID:     req.AgentID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Quantity:    req.Quantity,
		FilledPrice: referencePrice(req.Symbol) * (1 + (rand.Float64()-0.5)/100),
		Status:      "filled",
		ExecutedAt:  core.NowFormatted(),
	}, nil
}

// MarketDataRequest asks for recent candles for a symbol.
type MarketDataRequest struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"` // e.g. "1m", "1h"
	Limit    int    `json:"limit"`
}

// Candle is one OHLCV bar.
type Candle struct {
	Timestamp string  `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// MarketDataResult is a series of candles, newest last.
type MarketDataResult struct {
	Symbol    string   `json:"symbol"`
	Interval  string   `json:"interval"`
	Candles   []Candle `json:"candles"`
	FetchedAt string   `json:"fetched_at"`
}

// MarketDataHandler simulates the market-data fetcher with a random
// walk around a per-symbol reference price.
type MarketDataHandler struct{}

// Run implements core.Handler.
func (MarketDataHandler) Run(ctx context.Context, data any) (any, error) {
	var req MarketDataRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.Symbol == "" {
		return nil, core.NewValidationError("symbol is required", nil)
	}
	if req.Interval == "" {
		req.Interval = "1h"
	}
	if req.Limit <= 0 || req.Limit > 1000 {
		req.Limit = 100
	}

	step, err := intervalDuration(req.Interval)
	if err != nil {
		return nil, err
	}

	price := referencePrice(req.Symbol)
	now := time.Now()
	candles := make([]Candle, 0, req.Limit)
	for i := req.Limit - 1; i >= 0; i-- {
		open := price
		price *= 1 + (rand.Float64()-0.5)/50
		high := math.Max(open, price) * (1 + rand.Float64()/200)
		low := math.Min(open, price) * (1 - rand.Float64()/200)
		candles = append(candles, Candle{
			Timestamp: core.FormatTime(now.Add(-time.Duration(i) * step)),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     price,
			Volume:    1000 + rand.Float64()*9000,
		})
	}
	return &MarketDataResult{
		Symbol:    req.Symbol,
		Interval:  req.Interval,
		Candles:   candles,
		FetchedAt: core.NowFormatted(),
	}, nil
}

func intervalDuration(interval string) (time.Duration, error) {
	switch interval {
	case "1m":
		return time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	}
	return 0, core.NewValidationError(
		fmt.Sprintf("unsupported interval %q", interval),
		map[string]any{"interval": interval},
	)
}

// referencePrice anchors the simulation so repeated fetches for the
// same symbol stay in a plausible range.
func referencePrice(symbol string) float64 {
	var h uint32
	for _, c := range symbol {
		h = h*31 + uint32(c)
	}
	return 10 + float64(h%100000)/10
}
