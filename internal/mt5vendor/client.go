// Package mt5vendor pins the contract of the vendor terminal's in-process
// client library: an external collaborator this module never implements
// itself. Only cmd/mt5worker links against a concrete Client, one per
// process, never instantiated twice — the library holds process-global
// state and is not safe to initialize more than once per process.
package mt5vendor

import "time"

// InitParams is everything Client.Initialize needs to log into a terminal.
type InitParams struct {
	// Path is the terminal executable the library should drive.
	Path string
	Login int
	// Secret is the account password. It is handed to Initialize exactly
	// once and never retained by any caller above this package.
	Secret string
	Server string
	// Portable marks the installation as self-contained.
	Portable bool
	// Timeout bounds the library's own connection handshake.
	Timeout time.Duration
	// ConfigPath is the session's data dir, used as the library's
	// configuration path.
	ConfigPath string
}

// VendorError is the (code, message) pair the library reports on
// failure, enriched by protocol.VendorErrorDetail at the point it's
// turned into a response string.
type VendorError struct {
	Code    int
	Message string
}

func (e *VendorError) Error() string {
	return e.Message
}

// Quote is one symbol's current bid/ask tick.
type Quote struct {
	Symbol string
	Bid    float64
	Ask    float64
	Time   int64
}

// Candle is one OHLC bar.
type Candle struct {
	Time       int64
	Open       float64
	High       float64
	Low        float64
	Close      float64
	TickVolume int64
}

// Position is one open position, flattened to JSON-safe fields.
type Position struct {
	Ticket     int64
	Symbol     string
	Volume     float64
	PriceOpen  float64
	PriceCurrent float64
	Profit     float64
	Type       int
}

// OrderRequest is forwarded to the vendor library's order_send call
// verbatim, as a params object.
type OrderRequest map[string]any

// OrderResult is the vendor library's order_send return, flattened to
// JSON-safe primitives by the caller.
type OrderResult struct {
	Retcode    int
	Deal       int64
	Order      int64
	Volume     float64
	Price      float64
	Comment    string
}

// Client is the in-process vendor library contract. Exactly one instance
// is ever constructed per Worker process, and it is used from a single
// goroutine only — the library is not reentrant across threads.
type Client interface {
	// Initialize logs into the terminal. Returns a *VendorError on
	// failure so the caller can report its code/message.
	Initialize(p InitParams) error

	// TerminalPID best-effort-locates the pid of the terminal application
	// the library spawned. Returns false if it could not be determined.
	TerminalPID() (pid int, ok bool)

	Quote(symbol string) (Quote, error)
	Candles(symbol, timeframe string, count int, startTime *int64) ([]Candle, error)
	PositionsGet(symbol string) ([]Position, error)
	SymbolSelect(symbol string, enable bool) error
	OrderSend(req OrderRequest) (OrderResult, error)

	// Shutdown releases the library's process-global state.
	Shutdown()
}
