package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/BaSui01/routex/tee"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func teeMux(t *testing.T) (*tee.Stream, *http.ServeMux) {
	t.Helper()
	stream := tee.NewStream(tee.Config{FlushInterval: time.Hour}, zap.NewNop())
	t.Cleanup(func() { stream.Shutdown(context.Background()) })

	h := NewTeeHandler(stream, nil, zap.NewNop())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/tee/destinations", h.HandleList)
	mux.HandleFunc("POST /api/v1/tee/destinations", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/tee/destinations/{id}", h.HandleGet)
	mux.HandleFunc("PUT /api/v1/tee/destinations/{id}", h.HandleUpdate)
	mux.HandleFunc("DELETE /api/v1/tee/destinations/{id}", h.HandleDelete)
	mux.HandleFunc("GET /api/v1/tee/stats", h.HandleStats)
	return stream, mux
}

func decodeDestination(t *testing.T, body []byte) tee.Destination {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(body, &resp))
	data, _ := json.Marshal(resp.Data)
	var d tee.Destination
	require.NoError(t, json.Unmarshal(data, &d))
	return d
}

func TestTeeHandler_CRUD(t *testing.T) {
	stream, mux := teeMux(t)

	rec := do(mux, http.MethodPost, "/api/v1/tee/destinations",
		`{"name":"audit","type":"webhook","url":"https://audit.internal/hook","filter":{"success_only":true}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decodeDestination(t, rec.Body.Bytes())
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.Enabled)
	assert.True(t, created.Filter.SuccessOnly)

	require.Len(t, stream.Destinations(), 1)

	rec = do(mux, http.MethodPut, "/api/v1/tee/destinations/"+created.ID,
		`{"name":"audit","type":"webhook","url":"https://audit.internal/v2","retries":5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeDestination(t, rec.Body.Bytes())
	assert.Equal(t, "https://audit.internal/v2", updated.URL)
	assert.Equal(t, 5, updated.Retries)

	rec = do(mux, http.MethodDelete, "/api/v1/tee/destinations/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, stream.Destinations())
}

func TestTeeHandler_Validation(t *testing.T) {
	_, mux := teeMux(t)

	// webhook 必须有 url
	rec := do(mux, http.MethodPost, "/api/v1/tee/destinations", `{"name":"x","type":"webhook"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// file 必须有 file_path
	rec = do(mux, http.MethodPost, "/api/v1/tee/destinations", `{"name":"x","type":"file"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// 未知类型
	rec = do(mux, http.MethodPost, "/api/v1/tee/destinations", `{"name":"x","type":"kafka"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTeeHandler_Stats(t *testing.T) {
	_, mux := teeMux(t)

	rec := do(mux, http.MethodGet, "/api/v1/tee/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data, _ := json.Marshal(resp.Data)
	var stats tee.Stats
	require.NoError(t, json.Unmarshal(data, &stats))
	assert.Equal(t, 0, stats.QueueSize)
}
