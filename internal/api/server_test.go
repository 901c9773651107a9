package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jellevictoor/sdm-modbus-reader/internal/config"
	"github.com/jellevictoor/sdm-modbus-reader/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *domain.ReadingStore) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Meters = []string{"SDM120:101"}
	store := domain.NewReadingStore()
	return NewServer(cfg, store), store
}

func saveReading(store *domain.ReadingStore, meterID uint8, voltage float64) {
	store.Save(domain.StoredReading{
		MeterID:   meterID,
		MeterType: domain.MeterTypeSDM120,
		MeterName: "Heat Pump",
		Slug:      "heat-pump",
		Reading:   &domain.SDM120Reading{Voltage: &voltage},
		Timestamp: time.Now(),
	})
}

func doRequest(t *testing.T, server *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&body))
	return body
}

func TestHandleStatus(t *testing.T) {
	server, store := newTestServer(t)
	saveReading(store, 101, 230.5)

	recorder := doRequest(t, server, http.MethodGet, "/api/v1/status")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

	body := decodeBody(t, recorder)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["meterCount"])
	assert.NotEmpty(t, body["uptime"])
}

func TestHandleListMetersEmpty(t *testing.T) {
	server, _ := newTestServer(t)

	recorder := doRequest(t, server, http.MethodGet, "/api/v1/meters")
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, float64(0), body["count"])
	assert.Empty(t, body["meters"])
}

func TestHandleListMetersSorted(t *testing.T) {
	server, store := newTestServer(t)
	saveReading(store, 150, 229.9)
	saveReading(store, 5, 230.5)
	saveReading(store, 42, 231.2)

	recorder := doRequest(t, server, http.MethodGet, "/api/v1/meters")
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	meters, ok := body["meters"].([]interface{})
	require.True(t, ok)
	require.Len(t, meters, 3)

	var ids []float64
	for _, entry := range meters {
		meter, ok := entry.(map[string]interface{})
		require.True(t, ok)
		ids = append(ids, meter["meter_id"].(float64))
	}
	assert.Equal(t, []float64{5, 42, 150}, ids)
}

func TestHandleGetMeter(t *testing.T) {
	server, store := newTestServer(t)
	saveReading(store, 101, 230.5)

	recorder := doRequest(t, server, http.MethodGet, "/api/v1/meters/101")
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, float64(101), body["meter_id"])
	assert.Equal(t, "SDM120", body["meter_type"])
	assert.Equal(t, "Heat Pump", body["meter_name"])
	assert.Equal(t, "heat-pump", body["slug"])

	data, ok := body["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 230.5, data["Voltage"])
}

func TestHandleGetMeterNotFound(t *testing.T) {
	server, store := newTestServer(t)
	saveReading(store, 101, 230.5)

	recorder := doRequest(t, server, http.MethodGet, "/api/v1/meters/102")
	require.Equal(t, http.StatusNotFound, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, "Meter not found", body["error"])
}

func TestHandleGetMeterInvalidID(t *testing.T) {
	server, _ := newTestServer(t)

	// 0 and 248 match the numeric route but fail address validation.
	recorder := doRequest(t, server, http.MethodGet, "/api/v1/meters/0")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = doRequest(t, server, http.MethodGet, "/api/v1/meters/248")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	// Non-numeric ids never match the route.
	recorder = doRequest(t, server, http.MethodGet, "/api/v1/meters/garage")
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestHandleFieldMetadata(t *testing.T) {
	server, _ := newTestServer(t)

	recorder := doRequest(t, server, http.MethodGet, "/api/v1/fields")
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	fields, ok := body["fields"].(map[string]interface{})
	require.True(t, ok)

	voltage, ok := fields["Voltage"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "V", voltage["unit"])
}

func TestHandleDashboard(t *testing.T) {
	server, _ := newTestServer(t)

	recorder := doRequest(t, server, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Header().Get("Content-Type"), "text/html")
	assert.True(t, strings.Contains(recorder.Body.String(), "<html"))
}

func TestMethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(t)

	recorder := doRequest(t, server, http.MethodPost, "/api/v1/meters")
	assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
}
