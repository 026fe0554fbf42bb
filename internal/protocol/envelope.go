// Package protocol defines the line-delimited JSON wire format spoken
// between a Session Handle and its Worker process over stdin/stdout.
package protocol

import "encoding/json"

// Request is one line written to a Worker's stdin.
type Request struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// TerminateType is the special, non-responding request that signals
// ordered shutdown of a Worker's command loop.
const TerminateType = "terminate"

// Response is one line read from a Worker's stdout.
type Response struct {
	Type    string          `json:"type,omitempty"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// InitMessage is the first line a Worker writes after spawn, reporting
// whether vendor-library initialization succeeded.
type InitMessage struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	MT5PID  *int   `json:"mt5_pid,omitempty"`
}

// Commands is the fixed catalog of vendor-library calls a Worker knows
// how to dispatch. The switch in cmd/mt5worker is written to be easy to
// extend, but these are the five the bridge ships with.
const (
	CommandCandles      = "candles"
	CommandOrderSend    = "order_send"
	CommandQuote        = "quote"
	CommandPositionsGet = "positions_get"
	CommandSymbolSelect = "symbol_select"
)

// CandlesParams is the params object for a "candles" request.
type CandlesParams struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Count     int    `json:"count,omitempty"`
	StartTime *int64 `json:"start_time,omitempty"`
}

// Candle is one OHLC bar in a "candles" result.
type Candle struct {
	Time       int64   `json:"time"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	TickVolume int64   `json:"tick_volume"`
}

// QuoteParams is the params object for a "quote" request.
type QuoteParams struct {
	Symbol string `json:"symbol"`
}

// Quote is the result of a "quote" request.
type Quote struct {
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
	Time int64   `json:"time"`
}

// SymbolSelectParams is the params object for a "symbol_select" request.
type SymbolSelectParams struct {
	Symbol string `json:"symbol"`
	Enable bool   `json:"enable"`
}
