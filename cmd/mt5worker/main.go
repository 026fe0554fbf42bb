// Command mt5worker is the Worker Process: one instance per session,
// spawned by mt5bridged, speaking line-delimited JSON over stdin/stdout
// and linking the vendor terminal client library directly so the daemon
// process itself never carries the library's global state.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/flowshift/mt5bridge/internal/logging"
	"github.com/flowshift/mt5bridge/internal/mt5vendor"
	"github.com/flowshift/mt5bridge/internal/platform"
	"github.com/flowshift/mt5bridge/internal/protocol"
)

var workerLog = logging.ForComponent(logging.CompWorker)

func main() {
	var (
		sessionID   = flag.String("session-id", "", "session id")
		login       = flag.Int("login", 0, "account login")
		server      = flag.String("server", "", "account server name")
		dataDir     = flag.String("data-dir", "", "per-session data directory")
		terminalExe = flag.String("terminal-exe", "", "path to the terminal executable")
		ipcPort     = flag.Int("ipc-port", 0, "optional TCP loopback port, 0 means stdio IPC")
	)
	flag.Parse()

	secret := readStartupSecret()

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	w := &worker{
		sessionID:   *sessionID,
		login:       *login,
		server:      *server,
		dataDir:     *dataDir,
		terminalExe: *terminalExe,
		ipcPort:     *ipcPort,
		out:         out,
		client:      mt5vendor.NewSimulatedClient(time.Now().UnixNano()),
	}

	if err := w.init(secret); err != nil {
		w.emitInit(false, err.Error(), nil)
		os.Exit(1)
	}

	pid, ok := w.client.TerminalPID()
	var mt5pid *int
	if ok {
		mt5pid = &pid
	}
	w.emitInit(true, "", mt5pid)

	w.loop()

	w.client.Shutdown()
}

type worker struct {
	sessionID   string
	login       int
	server      string
	dataDir     string
	terminalExe string
	ipcPort     int

	out    *bufio.Writer
	client mt5vendor.Client
}

// readStartupSecret reads the account secret the daemon set as an
// environment variable before spawning this process, so the secret never
// appears in the worker's command-line arguments or a process listing,
// and is never logged alongside the request/response stream.
func readStartupSecret() string {
	return os.Getenv("MT5WORKER_SECRET")
}

// init performs the startup protocol: isolate the wine prefix, then call
// Initialize with a 60-second timeout.
func (w *worker) init(secret string) error {
	for _, kv := range platform.WineEnv(w.dataDir) {
		key, val, _ := strings.Cut(kv, "=")
		if err := os.Setenv(key, val); err != nil {
			return err
		}
	}

	err := w.client.Initialize(mt5vendor.InitParams{
		Path:       w.terminalExe,
		Login:      w.login,
		Secret:     secret,
		Server:     w.server,
		Portable:   true,
		Timeout:    60 * time.Second,
		ConfigPath: w.dataDir,
	})
	if err != nil {
		if verr, ok := err.(*mt5vendor.VendorError); ok {
			return fmt.Errorf("%s", protocol.VendorError(verr.Code, verr.Message))
		}
		return err
	}
	return nil
}

func (w *worker) emitInit(success bool, errMsg string, mt5pid *int) {
	msg := protocol.InitMessage{Type: "init", Success: success, Error: errMsg, MT5PID: mt5pid}
	enc, _ := json.Marshal(msg)
	fmt.Fprintln(w.out, string(enc))
	w.out.Flush()
}

// loop is the steady-state loop: one request per stdin line, exactly one
// response per stdout line, strictly single-threaded because the vendor
// library is not reentrant across threads in the same process.
func (w *worker) loop() {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req protocol.Request
		if err := json.Unmarshal(line, &req); err != nil {
			w.respond(protocol.Response{Success: false, Error: "bad request json: " + err.Error()})
			continue
		}

		if req.Type == protocol.TerminateType {
			return
		}

		w.dispatch(req)
	}
}

func (w *worker) dispatch(req protocol.Request) {
	resp := w.handle(req)
	resp.Type = req.Type
	w.respond(resp)
}

func (w *worker) handle(req protocol.Request) protocol.Response {
	switch req.Type {
	case protocol.CommandQuote:
		var p protocol.QuoteParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return errResponse(err)
		}
		q, err := w.client.Quote(p.Symbol)
		if err != nil {
			return vendorErrResponse(err)
		}
		return resultResponse(protocol.Quote{Bid: q.Bid, Ask: q.Ask, Time: q.Time})

	case protocol.CommandCandles:
		var p protocol.CandlesParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return errResponse(err)
		}
		candles, err := w.client.Candles(p.Symbol, p.Timeframe, p.Count, p.StartTime)
		if err != nil {
			return vendorErrResponse(err)
		}
		out := make([]protocol.Candle, len(candles))
		for i, c := range candles {
			out[i] = protocol.Candle{
				Time: c.Time, Open: c.Open, High: c.High, Low: c.Low,
				Close: c.Close, TickVolume: c.TickVolume,
			}
		}
		return resultResponse(out)

	case protocol.CommandPositionsGet:
		var p struct {
			Symbol string `json:"symbol"`
		}
		_ = json.Unmarshal(req.Params, &p)
		positions, err := w.client.PositionsGet(p.Symbol)
		if err != nil {
			return vendorErrResponse(err)
		}
		return resultResponse(positions)

	case protocol.CommandSymbolSelect:
		var p protocol.SymbolSelectParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return errResponse(err)
		}
		if err := w.client.SymbolSelect(p.Symbol, p.Enable); err != nil {
			return vendorErrResponse(err)
		}
		return protocol.Response{Success: true}

	case protocol.CommandOrderSend:
		var params mt5vendor.OrderRequest
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(err)
		}
		result, err := w.client.OrderSend(params)
		if err != nil {
			return vendorErrResponse(err)
		}
		return resultResponse(result)

	default:
		return protocol.Response{Success: false, Error: "unknown command: " + req.Type}
	}
}

func errResponse(err error) protocol.Response {
	return protocol.Response{Success: false, Error: err.Error()}
}

func vendorErrResponse(err error) protocol.Response {
	if verr, ok := err.(*mt5vendor.VendorError); ok {
		return protocol.Response{Success: false, Error: protocol.VendorError(verr.Code, verr.Message)}
	}
	return errResponse(err)
}

func resultResponse(v any) protocol.Response {
	raw, err := json.Marshal(v)
	if err != nil {
		return errResponse(err)
	}
	return protocol.Response{Success: true, Result: raw}
}

func (w *worker) respond(resp protocol.Response) {
	enc, err := json.Marshal(resp)
	if err != nil {
		workerLog.Error("response_encode_failed", slog.String("session_id", w.sessionID), slog.String("error", err.Error()))
		enc, _ = json.Marshal(protocol.Response{Success: false, Error: "internal encoding error"})
	}
	fmt.Fprintln(w.out, string(enc))
	w.out.Flush()
}
