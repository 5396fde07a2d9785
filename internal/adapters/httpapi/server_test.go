package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alejandrodnm/autopilot/internal/adapters/httpapi"
	"github.com/alejandrodnm/autopilot/internal/application/engine"
	"github.com/alejandrodnm/autopilot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	eng    *engine.Engine
	intake *httpapi.Intake
	srv    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	eng := engine.New(engine.DefaultConfig(), nil)
	intake := httpapi.NewIntake(2)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("autopilot_balance 10000\n"))
	})
	srv := httptest.NewServer(httpapi.NewServer(eng, intake, metrics).Router())
	t.Cleanup(srv.Close)
	return &fixture{eng: eng, intake: intake, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var raw json.RawMessage
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
		if len(raw) > 0 && raw[0] == '{' {
			require.NoError(t, json.Unmarshal(raw, &out))
		} else {
			out = map[string]any{"_list": raw}
		}
	}
	return resp, out
}

func (f *fixture) openManual(t *testing.T, symbol string) string {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/positions",
		`{"symbol":"`+symbol+`","direction":"long","price":100,"size_percent":10,"stop":95,"targets":[110]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	return body["id"].(string)
}

func TestPostSignal_Queued(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/signals",
		`{"symbol":"BTC-USDT","direction":"BUY","entry":50000,"stop":49000,"targets":[51000,52000],"confidence":90}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "queued", body["status"])

	select {
	case sig := <-f.intake.Signals():
		assert.Equal(t, "BTC-USDT", sig.Symbol)
		assert.Equal(t, domain.Long, sig.Direction)
		assert.InDelta(t, 0.9, sig.Confidence, 1e-9, "percent confidence is normalized")
		assert.False(t, sig.EmittedAt.IsZero())
	default:
		t.Fatal("signal not queued")
	}
}

func TestPostSignal_Invalid(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"unknown direction", `{"symbol":"BTC-USDT","direction":"UP","entry":1,"confidence":0.9}`},
		{"zero entry", `{"symbol":"BTC-USDT","direction":"LONG","entry":0,"confidence":0.9}`},
		{"targets out of order", `{"symbol":"BTC-USDT","direction":"LONG","entry":100,"targets":[120,110],"confidence":0.9}`},
		{"unknown field", `{"symbol":"BTC-USDT","direction":"LONG","entry":100,"leverage":5}`},
		{"malformed", `{"symbol":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, "/signals", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
	assert.Len(t, f.intake.Signals(), 0)
}

func TestPostSignal_IntakeFull(t *testing.T) {
	f := newFixture(t)
	body := `{"symbol":"ETH-USDT","direction":"SHORT","entry":3000,"confidence":0.95}`

	for i := 0; i < 2; i++ {
		resp, _ := f.do(t, http.MethodPost, "/signals", body)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}
	resp, out := f.do(t, http.MethodPost, "/signals", body)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "busy", out["code"])
}

func TestStatusAndPositions(t *testing.T) {
	f := newFixture(t)
	id := f.openManual(t, "SOL-USDT")

	resp, st := f.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, st["enabled"])
	assert.InDelta(t, 9000, st["balance"], 1e-9)
	assert.InDelta(t, 10000, st["equity"], 1e-9)
	assert.InDelta(t, 1, st["open_positions"], 1e-9)

	resp, out := f.do(t, http.MethodGet, "/positions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ps []map[string]any
	require.NoError(t, json.Unmarshal(out["_list"].(json.RawMessage), &ps))
	require.Len(t, ps, 1)
	assert.Equal(t, id, ps[0]["id"])
	assert.Equal(t, false, ps[0]["auto"])
	assert.InDelta(t, 95, ps[0]["stop"], 1e-9)
}

func TestOverrideAndClose(t *testing.T) {
	f := newFixture(t)
	id := f.openManual(t, "BTC-USDT")

	resp, pos := f.do(t, http.MethodPut, "/positions/"+id+"/override", `{"stop":97,"targets":[105,115]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 97, pos["stop"], 1e-9)

	resp, _ = f.do(t, http.MethodPut, "/positions/"+id+"/override", `{"targets":[115,105]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, trade := f.do(t, http.MethodPost, "/positions/"+id+"/close", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "manual", trade["reason"])
	assert.InDelta(t, 0, trade["pnl"], 1e-9)

	resp, out := f.do(t, http.MethodPost, "/positions/"+id+"/close", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", out["code"])

	resp, _ = f.do(t, http.MethodPut, "/positions/nope/override", `{"stop":1}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	for _, sym := range []string{"A-USDT", "B-USDT", "C-USDT"} {
		id := f.openManual(t, sym)
		_, err := f.eng.ClosePosition(context.Background(), id)
		require.NoError(t, err)
	}

	resp, out := f.do(t, http.MethodGet, "/history?limit=2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	trades := out["trades"].([]any)
	require.Len(t, trades, 2)
	assert.Equal(t, "B-USDT", trades[0].(map[string]any)["symbol"])
	stats := out["stats"].(map[string]any)
	assert.InDelta(t, 3, stats["trades"], 1e-9)
	assert.InDelta(t, 0, stats["profit_factor"], 1e-9, "no wins and no losses")

	resp, _ = f.do(t, http.MethodGet, "/history?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEngineControl(t *testing.T) {
	f := newFixture(t)

	resp, st := f.do(t, http.MethodPost, "/engine/disable", `{"reason":"maintenance"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, st["enabled"])
	assert.Equal(t, "maintenance", st["halt_reason"])

	resp, st = f.do(t, http.MethodPost, "/engine/enable", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, st["enabled"])

	f.openManual(t, "BTC-USDT")
	resp, st = f.do(t, http.MethodPost, "/engine/reset", `{"balance":5000}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 5000, st["balance"], 1e-9)
	assert.InDelta(t, 0, st["open_positions"], 1e-9)

	resp, _ = f.do(t, http.MethodPost, "/engine/reset", `{"balance":-1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestManualOpen_CapExceeded(t *testing.T) {
	f := newFixture(t)
	f.openManual(t, "BTC-USDT")

	resp, out := f.do(t, http.MethodPost, "/positions",
		`{"symbol":"BTC-USDT","direction":"SHORT","price":100,"size_percent":10}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "cap_exceeded", out["code"])
}

func TestMetricsAndHealth(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.srv.URL + "/signals")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
