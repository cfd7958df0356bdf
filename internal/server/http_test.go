package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PerpCore/internal/engine"
	"PerpCore/internal/event"
	"PerpCore/internal/oracle"
	"PerpCore/internal/server"
	"PerpCore/internal/store"
	"PerpCore/internal/vault"
)

const testTime = int64(1_700_000_000)

func newTestServer(t *testing.T) *server.Server {
	t.Helper()
	st := store.NewMemory()
	prices := oracle.NewPushSource()
	eng := engine.New(st, prices, vault.NopTransferer{}, event.NopSink{}, nil, zerolog.Nop())
	return server.New(eng, st, prices, zerolog.Nop())
}

func doJSON(t *testing.T, srv *server.Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func createMarket(t *testing.T, srv *server.Server, admin uuid.UUID) {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/v1/markets", map[string]any{
		"caller_id":                admin.String(),
		"symbol":                   "BTC-PERP",
		"virtual_base_reserve":     1_000_000_000,
		"virtual_quote_reserve":    1_000_000_000,
		"funding_interval":         3600,
		"maintenance_margin_ratio": 500,
		"initial_margin_ratio":     1000,
		"liquidation_fee_ratio":    100,
		"max_leverage":             20,
		"timestamp":                testTime,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create market: got %d, body %s", rec.Code, rec.Body)
	}
}

func createFundedAccount(t *testing.T, srv *server.Server, marginType string, amount uint64) uuid.UUID {
	t.Helper()
	owner := uuid.New()
	rec := doJSON(t, srv, http.MethodPost, "/v1/accounts", map[string]any{
		"owner":       owner.String(),
		"margin_type": marginType,
		"timestamp":   testTime,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create account: got %d, body %s", rec.Code, rec.Body)
	}
	rec = doJSON(t, srv, http.MethodPost, "/v1/accounts/"+owner.String()+"/deposit", map[string]any{
		"amount":    amount,
		"timestamp": testTime,
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("deposit: got %d, body %s", rec.Code, rec.Body)
	}
	return owner
}

func TestServer_MarketLifecycle(t *testing.T) {
	srv := newTestServer(t)
	admin := uuid.New()
	createMarket(t, srv, admin)

	rec := doJSON(t, srv, http.MethodGet, "/v1/markets/BTC-PERP", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get market: got %d", rec.Code)
	}
	var m struct {
		Symbol    string `json:"symbol"`
		SpotPrice string `json:"spot_price"`
		IsActive  bool   `json:"is_active"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode market: %v", err)
	}
	if m.Symbol != "BTC-PERP" || !m.IsActive {
		t.Errorf("got %+v, want active BTC-PERP", m)
	}
	if m.SpotPrice != "1" {
		t.Errorf("got spot price %q, want \"1\"", m.SpotPrice)
	}

	// Pausing twice conflicts; pausing as a stranger is forbidden.
	rec = doJSON(t, srv, http.MethodPost, "/v1/markets/BTC-PERP/pause", map[string]any{
		"caller_id": uuid.New().String(), "timestamp": testTime,
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("pause by stranger: got %d, want %d", rec.Code, http.StatusForbidden)
	}
	rec = doJSON(t, srv, http.MethodPost, "/v1/markets/BTC-PERP/pause", map[string]any{
		"caller_id": admin.String(), "timestamp": testTime,
	})
	if rec.Code != http.StatusNoContent {
		t.Errorf("pause: got %d, want %d", rec.Code, http.StatusNoContent)
	}
	rec = doJSON(t, srv, http.MethodPost, "/v1/markets/BTC-PERP/pause", map[string]any{
		"caller_id": admin.String(), "timestamp": testTime,
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("pause twice: got %d, want %d", rec.Code, http.StatusConflict)
	}

	rec = doJSON(t, srv, http.MethodGet, "/v1/markets/ETH-PERP", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing market: got %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestServer_OpenAndClosePosition(t *testing.T) {
	srv := newTestServer(t)
	createMarket(t, srv, uuid.New())
	owner := createFundedAccount(t, srv, "isolated", 10_000_000)

	rec := doJSON(t, srv, http.MethodPost, "/v1/positions", map[string]any{
		"caller_id": owner.String(),
		"market":    "BTC-PERP",
		"side":      "long",
		"size":      1_000_000,
		"leverage":  10,
		"timestamp": testTime,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open position: got %d, body %s", rec.Code, rec.Body)
	}
	var pos struct {
		ID   string `json:"id"`
		Side string `json:"side"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &pos); err != nil {
		t.Fatalf("decode position: %v", err)
	}
	if pos.Side != "Long" {
		t.Errorf("got side %q, want Long", pos.Side)
	}

	// Closing someone else's position is forbidden.
	rec = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/v1/positions/%s/close", pos.ID), map[string]any{
		"caller_id": uuid.New().String(), "timestamp": testTime + 10,
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("close by stranger: got %d, want %d", rec.Code, http.StatusForbidden)
	}

	rec = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/v1/positions/%s/close", pos.ID), map[string]any{
		"caller_id": owner.String(), "timestamp": testTime + 10,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("close position: got %d, body %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/v1/positions/%s/close", pos.ID), map[string]any{
		"caller_id": owner.String(), "timestamp": testTime + 20,
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("close twice: got %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestServer_InsufficientMargin(t *testing.T) {
	srv := newTestServer(t)
	createMarket(t, srv, uuid.New())
	owner := createFundedAccount(t, srv, "isolated", 1000)

	rec := doJSON(t, srv, http.MethodPost, "/v1/positions", map[string]any{
		"caller_id": owner.String(),
		"market":    "BTC-PERP",
		"side":      "long",
		"size":      1_000_000,
		"leverage":  10,
		"timestamp": testTime,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("underfunded open: got %d, want %d, body %s",
			rec.Code, http.StatusUnprocessableEntity, rec.Body)
	}
}

func TestServer_OraclePush(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/oracle/BTC-PERP", map[string]any{
		"price":        1_000_000,
		"confidence":   1000,
		"publish_time": testTime,
	})
	if rec.Code != http.StatusNoContent {
		t.Errorf("push price: got %d, want %d", rec.Code, http.StatusNoContent)
	}

	rec = doJSON(t, srv, http.MethodPost, "/v1/oracle/BTC-PERP", map[string]any{
		"price": 0, "confidence": 0, "publish_time": testTime,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("push zero price: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestServer_MalformedBody(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/accounts", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
