package mt5vendor

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// SimulatedClient is a Client that never touches a real terminal. It
// exists so cmd/mt5worker links against something concrete: the real
// vendor library ships as a platform-specific shared object the bridge's
// operator supplies at deploy time (see DESIGN.md), and a worker built
// without it still needs to start, authenticate, and answer the wire
// protocol for local development and the test suite.
type SimulatedClient struct {
	mu          sync.Mutex
	initialized bool
	rng         *rand.Rand
}

// NewSimulatedClient constructs a SimulatedClient. seed fixes the
// pseudo-random quote/candle generator so tests can assert on output.
func NewSimulatedClient(seed int64) *SimulatedClient {
	return &SimulatedClient{rng: rand.New(rand.NewSource(seed))}
}

func (c *SimulatedClient) Initialize(p InitParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p.Login == 0 {
		return &VendorError{Code: -3, Message: "invalid login"}
	}
	if p.Secret == "" {
		return &VendorError{Code: -3, Message: "invalid account"}
	}
	c.initialized = true
	return nil
}

func (c *SimulatedClient) TerminalPID() (int, bool) {
	return 0, false
}

func (c *SimulatedClient) Quote(symbol string) (Quote, error) {
	if err := c.requireInit(); err != nil {
		return Quote{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	mid := 1.0 + c.rng.Float64()
	spread := 0.0002
	return Quote{
		Symbol: symbol,
		Bid:    mid - spread/2,
		Ask:    mid + spread/2,
		Time:   time.Now().Unix(),
	}, nil
}

func (c *SimulatedClient) Candles(symbol, timeframe string, count int, startTime *int64) ([]Candle, error) {
	if err := c.requireInit(); err != nil {
		return nil, err
	}
	if _, ok := timeframeSeconds[timeframe]; !ok {
		return nil, &VendorError{Code: -3, Message: fmt.Sprintf("invalid timeframe: %s", timeframe)}
	}
	if count <= 0 {
		count = 100
	}

	step := timeframeSeconds[timeframe]
	end := time.Now().Unix()
	if startTime != nil {
		end = *startTime
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	candles := make([]Candle, count)
	price := 1.0 + c.rng.Float64()
	for i := 0; i < count; i++ {
		open := price
		high := open + c.rng.Float64()*0.001
		low := open - c.rng.Float64()*0.001
		closeP := low + c.rng.Float64()*(high-low)
		candles[i] = Candle{
			Time:       end - int64(count-1-i)*step,
			Open:       open,
			High:       high,
			Low:        low,
			Close:      closeP,
			TickVolume: int64(100 + c.rng.Intn(900)),
		}
		price = closeP
	}
	return candles, nil
}

// timeframeSeconds maps each supported timeframe name to its length in
// seconds.
var timeframeSeconds = map[string]int64{
	"M1": 60, "M5": 300, "M15": 900, "M30": 1800,
	"H1": 3600, "H4": 14400, "D1": 86400, "W1": 604800, "MN1": 2592000,
}

func (c *SimulatedClient) PositionsGet(symbol string) ([]Position, error) {
	if err := c.requireInit(); err != nil {
		return nil, err
	}
	return []Position{}, nil
}

func (c *SimulatedClient) SymbolSelect(symbol string, enable bool) error {
	return c.requireInit()
}

func (c *SimulatedClient) OrderSend(req OrderRequest) (OrderResult, error) {
	if err := c.requireInit(); err != nil {
		return OrderResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return OrderResult{
		Retcode: 10009, // TRADE_RETCODE_DONE
		Deal:    c.rng.Int63n(1_000_000),
		Order:   c.rng.Int63n(1_000_000),
		Volume:  0,
		Price:   1.0 + c.rng.Float64(),
		Comment: "simulated fill",
	}, nil
}

func (c *SimulatedClient) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = false
}

func (c *SimulatedClient) requireInit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return &VendorError{Code: -2, Message: "terminal not initialized"}
	}
	return nil
}
