package web

import (
	"encoding/json"
	"net/http"

	"github.com/flowshift/mt5bridge/internal/registry"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorResponse{Error: apiError{Code: code, Message: message}})
}

// writeRegistryError maps a registry error's Kind to an HTTP status:
// 404 for NotFound, 5xx for everything else.
func writeRegistryError(w http.ResponseWriter, err error) {
	kind := registry.KindOf(err)
	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	switch kind {
	case registry.KindNotFound:
		status, code = http.StatusNotFound, "NOT_FOUND"
	case registry.KindTimeout:
		status, code = http.StatusGatewayTimeout, "TIMEOUT"
	case registry.KindWorkerDead:
		status, code = http.StatusBadGateway, "WORKER_DEAD"
	case registry.KindProtocolError:
		status, code = http.StatusBadGateway, "PROTOCOL_ERROR"
	case registry.KindInitError:
		status, code = http.StatusBadGateway, "INIT_ERROR"
	case registry.KindProvisionError:
		status, code = http.StatusInternalServerError, "PROVISION_ERROR"
	case registry.KindSpawnError:
		status, code = http.StatusInternalServerError, "SPAWN_ERROR"
	}
	writeAPIError(w, status, code, err.Error())
}
