package web

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flowshift/mt5bridge/internal/registry"
)

func TestWriteRegistryErrorMapsStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errors.New("plain"), http.StatusInternalServerError},
		{&registry.Error{Kind: registry.KindNotFound}, http.StatusNotFound},
		{&registry.Error{Kind: registry.KindTimeout}, http.StatusGatewayTimeout},
		{&registry.Error{Kind: registry.KindWorkerDead}, http.StatusBadGateway},
		{&registry.Error{Kind: registry.KindProtocolError}, http.StatusBadGateway},
		{&registry.Error{Kind: registry.KindInitError}, http.StatusBadGateway},
		{&registry.Error{Kind: registry.KindProvisionError}, http.StatusInternalServerError},
		{&registry.Error{Kind: registry.KindSpawnError}, http.StatusInternalServerError},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		writeRegistryError(w, c.err)
		if w.Code != c.want {
			t.Errorf("writeRegistryError(%v) = %d, want %d", c.err, w.Code, c.want)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": "abc"})

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
	if got := w.Body.String(); got != "{\"session_id\":\"abc\"}\n" {
		t.Fatalf("body = %q", got)
	}
}

