package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hyperarena/backtest-core/internal/data"
	"github.com/hyperarena/backtest-core/internal/signals"
	"github.com/hyperarena/backtest-core/pkg/types"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	cfg := &types.ServerConfig{Host: "localhost", Port: 0, ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second}
	return NewServer(zap.NewNop(), cfg, store, nil)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("expected healthy status, got %v", body["status"])
	}
}

func TestHistoryEndpointReturnsSyntheticBars(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/v1/data/history/BTC-PERP?interval=1h", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["symbol"] != "BTC-PERP" {
		t.Fatalf("expected symbol echoed back, got %v", body["symbol"])
	}
}

func TestRunBacktestCompletesInBackground(t *testing.T) {
	s := newTestServer(t)

	cfg := types.BacktestConfig{
		Symbols:           []string{"BTC-PERP"},
		StartTimeMs:       0,
		EndTimeMs:         1,
		InitialBalance:    types.DefaultBacktestConfig().InitialBalance,
		ScheduledInterval: types.Interval1h,
	}
	body, _ := json.Marshal(cfg)
	req := httptest.NewRequest("POST", "/api/v1/backtest/run", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected the run to be accepted (validation happens inside Engine.Run), got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	id, _ := resp["id"].(string)
	if id == "" {
		t.Fatal("expected a run id in the response")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		getReq := httptest.NewRequest("GET", "/api/v1/backtest/"+id, nil)
		getW := httptest.NewRecorder()
		s.Router().ServeHTTP(getW, getReq)
		var status map[string]interface{}
		json.Unmarshal(getW.Body.Bytes(), &status)
		if status["status"] != "running" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected the background run to finish within the deadline")
}

func TestPoolDefinitionsAreWiredIntoServer(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	pools := []signals.PoolDefinition{{ID: "momentum-pool"}}
	cfg := &types.ServerConfig{Host: "localhost", Port: 0, ReadTimeout: time.Second, WriteTimeout: time.Second}
	s := NewServer(zap.NewNop(), cfg, store, pools)
	if len(s.pools) != 1 || s.pools[0].ID != "momentum-pool" {
		t.Fatalf("expected the configured pool to be retained, got %+v", s.pools)
	}
}
