package registry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// sessionIDBytes yields 128 bits of entropy, the minimum acceptable for
// an unguessable session id.
const sessionIDBytes = 16

func newSessionID() (string, error) {
	buf := make([]byte, sessionIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
