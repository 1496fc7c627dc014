package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/indiafolio/mfledger/internal/api"
	"github.com/indiafolio/mfledger/internal/auth"
	"github.com/indiafolio/mfledger/internal/catalog"
	"github.com/indiafolio/mfledger/internal/coordination"
	"github.com/indiafolio/mfledger/internal/model"
	"github.com/indiafolio/mfledger/internal/nav"
	"github.com/indiafolio/mfledger/internal/navrefresh"
	"github.com/indiafolio/mfledger/internal/position"
	"github.com/indiafolio/mfledger/internal/quote"
	"github.com/indiafolio/mfledger/internal/risk"
	"github.com/indiafolio/mfledger/internal/store"
	"github.com/indiafolio/mfledger/internal/valuation"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv wires a full Service against an in-memory store and a fake
// NAV provider, the way trade.newTestEnv wires a Service in the teacher.
func newTestEnv(t *testing.T) (http.Handler, *store.MemoryStore, *auth.Issuer) {
	t.Helper()

	navServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"meta":{"scheme_code":123456,"scheme_name":"Test Growth Fund","fund_house":"Test AMC"},"data":[{"date":"01-01-2026","nav":"105.5000"}]}`))
	}))
	t.Cleanup(navServer.Close)

	ms := store.NewMemoryStore()
	quoteCli := quote.New(quote.Config{BaseURL: navServer.URL, Timeout: 5 * time.Second})
	catalogSvc := catalog.New(ms, quoteCli)
	if err := ms.UpsertScheme(context.Background(), model.Scheme{SchemeCode: 123456, SchemeName: "Test Growth Fund", FundHouse: "Test AMC", Category: "Equity", Type: "Open Ended"}); err != nil {
		t.Fatalf("seed scheme: %v", err)
	}

	navSvc := nav.New(ms, quoteCli, 30)
	limiter := risk.NewConcentrationLimiter(d(0.5), d(0.9))
	valSvc := valuation.New(ms, navSvc, catalogSvc, limiter)

	locker := coordination.NewLocker()
	posEng := position.New(ms, locker)

	sentinel := coordination.NewRefreshSentinel()
	refreshEngine := navrefresh.New(ms, navSvc, quoteCli, sentinel, navrefresh.Config{Schedule: "@every 1h", Timezone: "UTC"})

	issuer := auth.New("test-secret", time.Hour)
	hub := api.NewWSHub()
	go hub.Run()

	svc := api.NewService(context.Background(), ms, posEng, valSvc, navSvc, catalogSvc, refreshEngine, issuer, hub)
	router := api.NewRouter(svc, issuer, hub)

	return router, ms, issuer
}

func authedRequest(t *testing.T, issuer *auth.Issuer, userID string, role auth.Role, method, path string, body any) *http.Request {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	token, err := issuer.Issue(userID, role)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func TestAddPosition_CreatesPortfolioAndBuysAtCurrentNav(t *testing.T) {
	router, ms, issuer := newTestEnv(t)

	req := authedRequest(t, issuer, "user-1", auth.RoleUser, http.MethodPost, "/api/portfolio/add", map[string]any{
		"schemeCode": 123456,
		"units":      10,
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if !env.Success {
		t.Fatalf("expected success=true, got %s", w.Body.String())
	}

	portfolio, err := ms.GetPortfolio(context.Background(), "user-1", 123456)
	if err != nil {
		t.Fatalf("GetPortfolio: %v", err)
	}
	if !portfolio.OpeningNav.Equal(d(105.5)) {
		t.Errorf("opening nav = %s, want 105.5", portfolio.OpeningNav)
	}
}

func TestAddPosition_RejectsNonPositiveUnits(t *testing.T) {
	router, _, issuer := newTestEnv(t)

	req := authedRequest(t, issuer, "user-1", auth.RoleUser, http.MethodPost, "/api/portfolio/add", map[string]any{
		"schemeCode": 123456,
		"units":      0,
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAddPosition_RejectsUnknownScheme(t *testing.T) {
	router, _, issuer := newTestEnv(t)

	req := authedRequest(t, issuer, "user-1", auth.RoleUser, http.MethodPost, "/api/portfolio/add", map[string]any{
		"schemeCode": 999999,
		"units":      10,
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404: %s", w.Code, w.Body.String())
	}
}

func TestAddPosition_RejectsMissingToken(t *testing.T) {
	router, _, _ := newTestEnv(t)

	body, _ := json.Marshal(map[string]any{"schemeCode": 123456, "units": 10})
	req := httptest.NewRequest(http.MethodPost, "/api/portfolio/add", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestSell_RejectsInsufficientUnits(t *testing.T) {
	router, _, issuer := newTestEnv(t)

	buyReq := authedRequest(t, issuer, "user-1", auth.RoleUser, http.MethodPost, "/api/portfolio/add", map[string]any{
		"schemeCode": 123456,
		"units":      5,
	})
	router.ServeHTTP(httptest.NewRecorder(), buyReq)

	sellReq := authedRequest(t, issuer, "user-1", auth.RoleUser, http.MethodPost, "/api/portfolio/sell", map[string]any{
		"schemeCode": 123456,
		"units":      100,
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, sellReq)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", w.Code, w.Body.String())
	}
	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	if env.Message != "InsufficientUnits" {
		t.Errorf("message = %q, want InsufficientUnits", env.Message)
	}
}

func TestSell_RecordsRealizedPLAndRemainingUnits(t *testing.T) {
	router, _, issuer := newTestEnv(t)

	buyReq := authedRequest(t, issuer, "user-1", auth.RoleUser, http.MethodPost, "/api/portfolio/add", map[string]any{
		"schemeCode": 123456,
		"units":      10,
	})
	router.ServeHTTP(httptest.NewRecorder(), buyReq)

	sellReq := authedRequest(t, issuer, "user-1", auth.RoleUser, http.MethodPost, "/api/portfolio/sell", map[string]any{
		"schemeCode": 123456,
		"units":      4,
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, sellReq)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	var data struct {
		RealizedPL     decimal.Decimal `json:"realizedPL"`
		RemainingUnits decimal.Decimal `json:"remainingUnits"`
	}
	json.Unmarshal(env.Data, &data)
	if !data.RemainingUnits.Equal(d(6)) {
		t.Errorf("remainingUnits = %s, want 6", data.RemainingUnits)
	}
}

func TestRemovePosition_RejectsNonEmptyPortfolio(t *testing.T) {
	router, _, issuer := newTestEnv(t)

	buyReq := authedRequest(t, issuer, "user-1", auth.RoleUser, http.MethodPost, "/api/portfolio/add", map[string]any{
		"schemeCode": 123456,
		"units":      10,
	})
	router.ServeHTTP(httptest.NewRecorder(), buyReq)

	removeReq := authedRequest(t, issuer, "user-1", auth.RoleUser, http.MethodDelete, "/api/portfolio/remove/123456", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, removeReq)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422: %s", w.Code, w.Body.String())
	}
}

func TestValue_ReturnsPositionsAndTotals(t *testing.T) {
	router, _, issuer := newTestEnv(t)

	buyReq := authedRequest(t, issuer, "user-1", auth.RoleUser, http.MethodPost, "/api/portfolio/add", map[string]any{
		"schemeCode": 123456,
		"units":      10,
	})
	router.ServeHTTP(httptest.NewRecorder(), buyReq)

	valueReq := authedRequest(t, issuer, "user-1", auth.RoleUser, http.MethodGet, "/api/portfolio/value", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, valueReq)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	var val model.PortfolioValuation
	json.Unmarshal(env.Data, &val)

	if len(val.Positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(val.Positions))
	}
	if !val.TotalCurrentValue.Equal(d(1055)) {
		t.Errorf("total current value = %s, want 1055", val.TotalCurrentValue)
	}
}

func TestTransactions_FiltersByType(t *testing.T) {
	router, _, issuer := newTestEnv(t)

	buyReq := authedRequest(t, issuer, "user-1", auth.RoleUser, http.MethodPost, "/api/portfolio/add", map[string]any{
		"schemeCode": 123456,
		"units":      10,
	})
	router.ServeHTTP(httptest.NewRecorder(), buyReq)

	txReq := authedRequest(t, issuer, "user-1", auth.RoleUser, http.MethodGet, "/api/transactions?type=SELL", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, txReq)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	var page struct {
		Transactions []model.Transaction `json:"transactions"`
		Total        int                 `json:"total"`
	}
	json.Unmarshal(env.Data, &page)
	if page.Total != 0 {
		t.Errorf("total = %d, want 0 (no SELLs recorded)", page.Total)
	}
}

func TestRunNavUpdate_RequiresAdminRole(t *testing.T) {
	router, _, issuer := newTestEnv(t)

	req := authedRequest(t, issuer, "user-1", auth.RoleUser, http.MethodPost, "/api/admin/cron/run-nav-update", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestRunNavUpdate_AdminTriggersAsyncRefresh(t *testing.T) {
	router, _, issuer := newTestEnv(t)

	req := authedRequest(t, issuer, "admin-1", auth.RoleAdmin, http.MethodPost, "/api/admin/cron/run-nav-update", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
}

func TestDevToken_IssuesUsableBearerToken(t *testing.T) {
	router, _, _ := newTestEnv(t)

	body, _ := json.Marshal(map[string]string{"userId": "user-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/dev-token", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	var data struct {
		Token string `json:"token"`
	}
	json.Unmarshal(env.Data, &data)
	if data.Token == "" {
		t.Error("expected a non-empty token")
	}
}
