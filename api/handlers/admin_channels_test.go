package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BaSui01/routex/channel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func channelMux(h *ChannelHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/channels", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.HandleList(w, r)
		default:
			h.HandleCreate(w, r)
		}
	})
	mux.HandleFunc("GET /api/v1/channels/stats", h.HandleStats)
	mux.HandleFunc("GET /api/v1/channels/{id}", h.HandleGet)
	mux.HandleFunc("PUT /api/v1/channels/{id}", h.HandleUpdate)
	mux.HandleFunc("DELETE /api/v1/channels/{id}", h.HandleDelete)
	mux.HandleFunc("POST /api/v1/channels/{id}/enable", h.HandleSetStatus(channel.StatusEnabled))
	mux.HandleFunc("POST /api/v1/channels/{id}/disable", h.HandleSetStatus(channel.StatusDisabled))
	mux.HandleFunc("POST /api/v1/channels/{id}/test", h.HandleTest)
	return mux
}

func newChannelFixture(t *testing.T) (*ChannelHandler, *channel.Store, *http.ServeMux) {
	t.Helper()
	cs := channel.NewStore(nil, zap.NewNop())
	h := NewChannelHandler(cs, nil, zap.NewNop())
	return h, cs, channelMux(h)
}

func do(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestChannelHandler_CreateAndGet(t *testing.T) {
	_, cs, mux := newChannelFixture(t)

	rec := do(mux, http.MethodPost, "/api/v1/channels",
		`{"name":"primary","type":"anthropic","api_key":"sk-ant-12345678","priority":1,"weight":10,"models":["claude-sonnet-4"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeResponse(t, rec)
	data, _ := json.Marshal(resp.Data)
	var created channelResponse
	require.NoError(t, json.Unmarshal(data, &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "primary", created.Name)
	// 凭据脱敏
	assert.NotContains(t, created.APIKeyMasked, "sk-ant-1234")
	assert.True(t, strings.HasSuffix(created.APIKeyMasked, "5678"))

	// 运行时注册表已更新
	c, ok := cs.GetByName("primary")
	require.True(t, ok)
	assert.Equal(t, channel.StatusEnabled, c.Status)

	rec = do(mux, http.MethodGet, "/api/v1/channels/"+created.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(mux, http.MethodGet, "/api/v1/channels/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChannelHandler_CreateValidation(t *testing.T) {
	_, _, mux := newChannelFixture(t)

	// 缺少 name
	rec := do(mux, http.MethodPost, "/api/v1/channels", `{"type":"anthropic","api_key":"k-12345"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// 未知类型
	rec = do(mux, http.MethodPost, "/api/v1/channels", `{"name":"x","type":"nope","api_key":"k-12345"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// anthropic 渠道必须有 api_key
	rec = do(mux, http.MethodPost, "/api/v1/channels", `{"name":"x","type":"anthropic"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// custom 渠道必须有 base_url
	rec = do(mux, http.MethodPost, "/api/v1/channels", `{"name":"x","type":"custom","api_key":"k-12345"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChannelHandler_DuplicateName(t *testing.T) {
	_, _, mux := newChannelFixture(t)

	body := `{"name":"dup","type":"anthropic","api_key":"k-12345678"}`
	require.Equal(t, http.StatusOK, do(mux, http.MethodPost, "/api/v1/channels", body).Code)
	assert.Equal(t, http.StatusConflict, do(mux, http.MethodPost, "/api/v1/channels", body).Code)
}

func TestChannelHandler_UpdatePreservesKeyAndCounters(t *testing.T) {
	_, cs, mux := newChannelFixture(t)

	rec := do(mux, http.MethodPost, "/api/v1/channels",
		`{"name":"primary","type":"anthropic","api_key":"sk-secret-key","priority":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var created channelResponse
	data, _ := json.Marshal(decodeResponse(t, rec).Data)
	require.NoError(t, json.Unmarshal(data, &created))

	// 模拟流量计数
	require.NoError(t, cs.MarkDispatch(created.ID))
	cs.MarkSuccess(created.ID)

	// 更新时省略 api_key
	rec = do(mux, http.MethodPut, "/api/v1/channels/"+created.ID,
		`{"name":"primary","type":"anthropic","priority":5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	c, ok := cs.Get(created.ID)
	require.True(t, ok)
	assert.Equal(t, "sk-secret-key", c.APIKey)
	assert.Equal(t, 5, c.Priority)
	assert.Equal(t, int64(1), c.RequestCount)
	assert.Equal(t, int64(1), c.SuccessCount)
}

func TestChannelHandler_DeleteAndStatus(t *testing.T) {
	_, cs, mux := newChannelFixture(t)

	rec := do(mux, http.MethodPost, "/api/v1/channels",
		`{"name":"primary","type":"anthropic","api_key":"k-12345678"}`)
	var created channelResponse
	data, _ := json.Marshal(decodeResponse(t, rec).Data)
	require.NoError(t, json.Unmarshal(data, &created))

	require.Equal(t, http.StatusOK, do(mux, http.MethodPost, "/api/v1/channels/"+created.ID+"/disable", "").Code)
	c, _ := cs.Get(created.ID)
	assert.Equal(t, channel.StatusDisabled, c.Status)

	require.Equal(t, http.StatusOK, do(mux, http.MethodPost, "/api/v1/channels/"+created.ID+"/enable", "").Code)
	c, _ = cs.Get(created.ID)
	assert.Equal(t, channel.StatusEnabled, c.Status)

	require.Equal(t, http.StatusOK, do(mux, http.MethodDelete, "/api/v1/channels/"+created.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, do(mux, http.MethodDelete, "/api/v1/channels/"+created.ID, "").Code)
}

func TestChannelHandler_Test(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-1234567", r.Header.Get("x-api-key"))
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	_, cs, mux := newChannelFixture(t)
	require.NoError(t, cs.Upsert(&channel.Channel{
		ID: "ch-1", Name: "probe-me", Type: channel.TypeAnthropic,
		BaseURL: upstream.URL, APIKey: "key-1234567",
	}))

	rec := do(mux, http.MethodPost, "/api/v1/channels/ch-1/test", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result testResult
	data, _ := json.Marshal(decodeResponse(t, rec).Data)
	require.NoError(t, json.Unmarshal(data, &result))
	assert.True(t, result.Reachable)
	assert.Equal(t, http.StatusOK, result.Status)
}
