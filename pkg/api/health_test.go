package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tidewater/serialrouter/pkg/engine"
	"github.com/tidewater/serialrouter/pkg/events"
	"github.com/tidewater/serialrouter/pkg/portmanager"
)

func TestHealthHandler(t *testing.T) {
	s := NewServer(nil)

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{"GET request succeeds", http.MethodGet, http.StatusOK},
		{"POST request fails", http.MethodPost, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			rec := httptest.NewRecorder()
			s.GetHandler().ServeHTTP(rec, req)
			assert.Equal(t, tt.expectedStatus, rec.Code)
		})
	}
}

func TestReadyHandlerNotRunning(t *testing.T) {
	s := NewServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	s.GetHandler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ReadyResponse
	assert.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "not ready", resp.Status)
}

func TestStatusHandlerServesEngineStatus(t *testing.T) {
	mgr := portmanager.New(func(id portmanager.PortID, baud int) (portmanager.SerialPort, error) {
		return nil, assert.AnError
	})
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	eng := engine.New(engine.Config{
		IncomingPort:  "COMA",
		OutgoingPorts: [2]portmanager.PortID{"COM131", "COM141"},
		BaudRate:      115200,
	}, mgr, bus)

	s := NewServer(eng)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.GetHandler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var status engine.EngineStatus
	assert.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.False(t, status.Running)
}
