package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/indiafolio/mfledger/internal/auth"
	"github.com/indiafolio/mfledger/internal/catalog"
	"github.com/indiafolio/mfledger/internal/model"
	"github.com/indiafolio/mfledger/internal/nav"
	"github.com/indiafolio/mfledger/internal/navrefresh"
	"github.com/indiafolio/mfledger/internal/position"
	"github.com/indiafolio/mfledger/internal/store"
	"github.com/indiafolio/mfledger/internal/valuation"
)

// Service wires the domain packages into HTTP handlers. It holds no
// business logic of its own — every handler decodes, validates, delegates
// to a domain package, and encodes the result.
type Service struct {
	store    store.Store
	posEng   *position.Engine
	valSvc   *valuation.Service
	navSvc   *nav.Service
	catalog  *catalog.Service
	refresh  *navrefresh.Engine
	issuer   *auth.Issuer
	hub      *WSHub
	bgCtx    context.Context
}

// NewService creates the HTTP service. bgCtx should be a long-lived
// context cancelled at shutdown — it outlives any individual request and
// backs the admin-triggered async refresh run.
func NewService(bgCtx context.Context, st store.Store, posEng *position.Engine, valSvc *valuation.Service, navSvc *nav.Service, cat *catalog.Service, refresh *navrefresh.Engine, issuer *auth.Issuer, hub *WSHub) *Service {
	return &Service{
		store:   st,
		posEng:  posEng,
		valSvc:  valSvc,
		navSvc:  navSvc,
		catalog: cat,
		refresh: refresh,
		issuer:  issuer,
		hub:     hub,
		bgCtx:   bgCtx,
	}
}

// --- Request/response types ---

type addPositionRequest struct {
	SchemeCode int             `json:"schemeCode"`
	Units      decimal.Decimal `json:"units"`
}

type sellRequest struct {
	SchemeCode int             `json:"schemeCode"`
	Units      decimal.Decimal `json:"units"`
}

type sellResponse struct {
	RealizedPL     decimal.Decimal `json:"realizedPL"`
	RemainingUnits decimal.Decimal `json:"remainingUnits"`
}

type devTokenRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// --- Handlers ---

// AddPosition handles POST /api/portfolio/add.
func (s *Service) AddPosition(w http.ResponseWriter, r *http.Request) {
	claims := auth.FromContext(r.Context())
	var req addPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Units.LessThanOrEqual(decimal.Zero) {
		writeError(w, http.StatusBadRequest, "units must be greater than zero")
		return
	}

	ctx := r.Context()
	if _, err := s.catalog.Get(ctx, req.SchemeCode); err != nil {
		writeDomainError(w, err)
		return
	}

	latest, err := s.navSvc.GetLatest(ctx, req.SchemeCode)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := s.posEng.Buy(ctx, claims.UserID, req.SchemeCode, req.Units, latest.Nav, time.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("position added", "user_id", claims.UserID, "scheme_code", req.SchemeCode, "units", req.Units.String(), "nav", latest.Nav.String())
	if s.hub != nil {
		s.hub.Broadcast(WSMessage{Type: "position_changed", UserID: claims.UserID, SchemeCode: req.SchemeCode, TxType: string(model.TxBuy), Units: req.Units.String()})
	}
	writeData(w, http.StatusCreated, result)
}

// Sell handles POST /api/portfolio/sell.
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	claims := auth.FromContext(r.Context())
	var req sellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Units.LessThanOrEqual(decimal.Zero) {
		writeError(w, http.StatusBadRequest, "units must be greater than zero")
		return
	}

	ctx := r.Context()
	latest, err := s.navSvc.GetLatest(ctx, req.SchemeCode)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := s.posEng.Sell(ctx, claims.UserID, req.SchemeCode, req.Units, latest.Nav, time.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("position sold", "user_id", claims.UserID, "scheme_code", req.SchemeCode, "units", req.Units.String(), "realized_pl", result.RealizedPL.String())
	if s.hub != nil {
		s.hub.Broadcast(WSMessage{Type: "position_changed", UserID: claims.UserID, SchemeCode: req.SchemeCode, TxType: string(model.TxSell), Units: req.Units.String()})
	}
	writeData(w, http.StatusOK, sellResponse{RealizedPL: result.RealizedPL, RemainingUnits: result.RemainingUnits})
}

// RemovePosition handles DELETE /api/portfolio/remove/{schemeCode}.
func (s *Service) RemovePosition(w http.ResponseWriter, r *http.Request) {
	claims := auth.FromContext(r.Context())
	schemeCode, err := strconv.Atoi(chi.URLParam(r, "schemeCode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "schemeCode must be an integer")
		return
	}

	if err := s.posEng.Remove(r.Context(), claims.UserID, schemeCode); err != nil {
		writeDomainError(w, err)
		return
	}

	writeData(w, http.StatusOK, map[string]bool{"removed": true})
}

// Value handles GET /api/portfolio/value.
func (s *Service) Value(w http.ResponseWriter, r *http.Request) {
	claims := auth.FromContext(r.Context())
	valuation, err := s.valSvc.PortfolioValue(r.Context(), claims.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, valuation)
}

// List handles GET /api/portfolio/list.
func (s *Service) List(w http.ResponseWriter, r *http.Request) {
	claims := auth.FromContext(r.Context())
	val, err := s.valSvc.PortfolioValue(r.Context(), claims.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	positions := val.Positions
	if positions == nil {
		positions = []model.ValuedPosition{}
	}
	writeData(w, http.StatusOK, positions)
}

// History handles GET /api/portfolio/history?days=30.
func (s *Service) History(w http.ResponseWriter, r *http.Request) {
	claims := auth.FromContext(r.Context())

	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}

	end := time.Now()
	start := end.AddDate(0, 0, -(days - 1))

	points, err := s.valSvc.PortfolioHistory(r.Context(), claims.UserID, start, end)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if points == nil {
		points = []model.HistoryPoint{}
	}
	writeData(w, http.StatusOK, points)
}

// Transactions handles GET /api/transactions?schemeCode?&page?&limit?&type?.
func (s *Service) Transactions(w http.ResponseWriter, r *http.Request) {
	claims := auth.FromContext(r.Context())
	q := r.URL.Query()

	var schemeCode *int
	if raw := q.Get("schemeCode"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "schemeCode must be an integer")
			return
		}
		schemeCode = &n
	}

	var txType *model.TxType
	if raw := q.Get("type"); raw != "" {
		t := model.TxType(raw)
		if t != model.TxBuy && t != model.TxSell {
			writeError(w, http.StatusBadRequest, "type must be BUY or SELL")
			return
		}
		txType = &t
	}

	page := 1
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "page must be a positive integer")
			return
		}
		page = n
	}

	limit := 20
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	txs, total, err := s.store.ListTransactionsPage(r.Context(), claims.UserID, schemeCode, txType, page, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}

	writeData(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"total":        total,
		"page":         page,
		"limit":        limit,
	})
}

// RunNavUpdate handles POST /api/admin/cron/run-nav-update. The refresh
// runs against the service's background context rather than the request's
// — the request returns 202 immediately per spec §6, well before the
// refresh itself completes.
func (s *Service) RunNavUpdate(w http.ResponseWriter, r *http.Request) {
	go func() {
		summary, err := s.refresh.RunOnce(s.bgCtx)
		if err != nil {
			slog.Warn("admin-triggered nav refresh skipped", "err", err)
			return
		}
		slog.Info("admin-triggered nav refresh complete", "total", summary.Total, "succeeded", len(summary.Successes), "failed", len(summary.Failures))
	}()
	writeData(w, http.StatusAccepted, map[string]string{"status": "refresh started"})
}

// NavRuns handles GET /api/admin/nav/runs.
func (s *Service) NavRuns(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"running": s.refresh.IsRunning(),
		"runs":    s.refresh.RecentRuns(),
	})
}

// SchemeNavHistory handles GET /api/schemes/{schemeCode}/nav-history?limit=30.
// It reads internal/nav's stored history directly rather than going through
// internal/valuation, since it reports a scheme's own NAV series and has no
// portfolio to value against.
func (s *Service) SchemeNavHistory(w http.ResponseWriter, r *http.Request) {
	schemeCode, err := strconv.Atoi(chi.URLParam(r, "schemeCode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "schemeCode must be an integer")
		return
	}
	if _, err := s.catalog.Get(r.Context(), schemeCode); err != nil {
		writeDomainError(w, err)
		return
	}

	limit := 30
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.navSvc.History(r.Context(), schemeCode, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []model.NavHistoryEntry{}
	}
	writeData(w, http.StatusOK, entries)
}

// DevToken handles POST /api/auth/dev-token. It is a development/test
// convenience only — spec §1 treats identity/auth as an external
// collaborator with no password store of its own, so this issues a token
// for any userId/role pair without verifying a credential. It has no
// place behind a production auth boundary.
func (s *Service) DevToken(w http.ResponseWriter, r *http.Request) {
	var req devTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	role := auth.RoleUser
	if req.Role == string(auth.RoleAdmin) {
		role = auth.RoleAdmin
	}
	token, err := s.issuer.Issue(req.UserID, role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeData(w, http.StatusOK, map[string]string{"token": token})
}
