package registry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/flowshift/mt5bridge/internal/protocol"
)

// helperCommand builds a command that re-execs this test binary into
// TestHelperProcess, following the standard library's own os/exec test
// idiom for driving a real child process without a separate binary.
// mode selects TestHelperProcess's behavior: "ok" (default), "init-fail",
// "hang", or "never-respond"; any other mode behaves like "ok".
func helperCommand(mode string) *exec.Cmd {
	cmd := exec.Command(os.Args[0], "-test.run=TestHelperProcess", "--", mode)
	cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
	return cmd
}

func isHelperProcess() bool {
	return os.Getenv("GO_WANT_HELPER_PROCESS") == "1"
}

// runHelperProcess implements a tiny stand-in Worker: it emits an init
// line controlled by mode, then loops echoing quote responses until it
// reads "terminate", at which point it exits 0.
func runHelperProcess(mode string) {
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	switch mode {
	case "init-fail":
		enc, _ := json.Marshal(protocol.InitMessage{Type: "init", Success: false, Error: "invalid account"})
		fmt.Fprintln(w, string(enc))
		w.Flush()
		os.Exit(1)
	case "hang":
		// Never writes an init line; the caller's init timeout must fire.
		select {}
	default:
		pid := os.Getpid()
		enc, _ := json.Marshal(protocol.InitMessage{Type: "init", Success: true, MT5PID: &pid})
		fmt.Fprintln(w, string(enc))
		w.Flush()
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var req protocol.Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			enc, _ := json.Marshal(protocol.Response{Success: false, Error: "bad json"})
			fmt.Fprintln(w, string(enc))
			w.Flush()
			continue
		}
		if req.Type == protocol.TerminateType {
			os.Exit(0)
		}
		if mode == "never-respond" {
			select {} // simulate a hung command: read happened, no reply ever comes.
		}
		resp := protocol.Response{
			Type:    req.Type,
			Success: true,
			Result:  json.RawMessage(`{"bid":1.1,"ask":1.2,"time":1700000000}`),
		}
		enc, _ := json.Marshal(resp)
		fmt.Fprintln(w, string(enc))
		w.Flush()
	}
}
