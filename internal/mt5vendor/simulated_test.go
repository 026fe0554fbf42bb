package mt5vendor

import "testing"

func TestSimulatedClientInitialize(t *testing.T) {
	c := NewSimulatedClient(1)

	if err := c.Initialize(InitParams{Login: 0, Secret: "pw"}); err == nil {
		t.Fatal("expected error for zero login")
	}
	if err := c.Initialize(InitParams{Login: 42, Secret: ""}); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if err := c.Initialize(InitParams{Login: 42, Secret: "pw", Server: "srv-A"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSimulatedClientRequiresInit(t *testing.T) {
	c := NewSimulatedClient(1)

	if _, err := c.Quote("EURUSD"); err == nil {
		t.Fatal("expected Quote before Initialize to fail")
	}
	if err := c.SymbolSelect("EURUSD", true); err == nil {
		t.Fatal("expected SymbolSelect before Initialize to fail")
	}
}

func TestSimulatedClientQuoteAndCandles(t *testing.T) {
	c := NewSimulatedClient(1)
	if err := c.Initialize(InitParams{Login: 42, Secret: "pw", Server: "srv-A"}); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	q, err := c.Quote("EURUSD")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.Ask <= q.Bid {
		t.Errorf("expected ask > bid, got ask=%v bid=%v", q.Ask, q.Bid)
	}

	candles, err := c.Candles("EURUSD", "M1", 10, nil)
	if err != nil {
		t.Fatalf("candles: %v", err)
	}
	if len(candles) != 10 {
		t.Fatalf("len(candles) = %d, want 10", len(candles))
	}

	if _, err := c.Candles("EURUSD", "bogus", 10, nil); err == nil {
		t.Fatal("expected error for invalid timeframe")
	}
}

func TestSimulatedClientShutdownRequiresReinit(t *testing.T) {
	c := NewSimulatedClient(1)
	if err := c.Initialize(InitParams{Login: 42, Secret: "pw"}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	c.Shutdown()

	if _, err := c.Quote("EURUSD"); err == nil {
		t.Fatal("expected Quote after Shutdown to fail")
	}
}

func TestVendorErrorMessage(t *testing.T) {
	err := &VendorError{Code: -3, Message: "bad params"}
	if err.Error() != "bad params" {
		t.Errorf("Error() = %q, want %q", err.Error(), "bad params")
	}
}
