package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/indiafolio/mfledger/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// local development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu sync.RWMutex

	portfolios   map[string]*model.Portfolio          // portfolioID -> Portfolio
	byUserScheme map[string]string                    // "userID:schemeCode" -> portfolioID
	positions    map[string]*model.Position           // portfolioID -> Position
	transactions map[string][]model.Transaction       // portfolioID -> transactions (append order)
	latestNav    map[int]*model.LatestNav             // schemeCode -> LatestNav
	navHistory   map[int][]model.NavHistoryEntry       // schemeCode -> history, newest first
	schemes      map[int]*model.Scheme                // schemeCode -> Scheme

	nextPortfolioID int64
	nextTxSeq       int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		portfolios:   make(map[string]*model.Portfolio),
		byUserScheme: make(map[string]string),
		positions:    make(map[string]*model.Position),
		transactions: make(map[string][]model.Transaction),
		latestNav:    make(map[int]*model.LatestNav),
		navHistory:   make(map[int][]model.NavHistoryEntry),
		schemes:      make(map[int]*model.Scheme),
	}
}

func userSchemeKey(userID string, schemeCode int) string {
	return userID + ":" + strconv.Itoa(schemeCode)
}

// --- Portfolio ---

func (s *MemoryStore) GetOrCreatePortfolio(_ context.Context, userID string, schemeCode int, openingNav decimal.Decimal, now time.Time) (model.Portfolio, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userSchemeKey(userID, schemeCode)
	if id, ok := s.byUserScheme[key]; ok {
		return *s.portfolios[id], false, nil
	}

	s.nextPortfolioID++
	id := "pf-" + strconv.FormatInt(s.nextPortfolioID, 10)
	p := model.Portfolio{
		PortfolioID: id,
		UserID:      userID,
		SchemeCode:  schemeCode,
		OpenedAt:    now,
		OpeningNav:  openingNav,
	}
	s.portfolios[id] = &p
	s.byUserScheme[key] = id
	return p, true, nil
}

func (s *MemoryStore) GetPortfolio(_ context.Context, userID string, schemeCode int) (model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUserScheme[userSchemeKey(userID, schemeCode)]
	if !ok {
		return model.Portfolio{}, model.ErrNoPosition
	}
	return *s.portfolios[id], nil
}

func (s *MemoryStore) DeletePortfolio(_ context.Context, portfolioID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.portfolios[portfolioID]
	if !ok {
		return nil
	}
	delete(s.portfolios, portfolioID)
	delete(s.byUserScheme, userSchemeKey(p.UserID, p.SchemeCode))
	delete(s.positions, portfolioID)
	delete(s.transactions, portfolioID)
	return nil
}

func (s *MemoryStore) ListPortfoliosByUser(_ context.Context, userID string) ([]model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Portfolio
	for _, p := range s.portfolios {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SchemeCode < out[j].SchemeCode })
	return out, nil
}

// --- Position ---

func (s *MemoryStore) GetPosition(_ context.Context, portfolioID string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[portfolioID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) UpsertPosition(_ context.Context, pos model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := pos
	s.positions[pos.PortfolioID] = &cp
	return nil
}

func (s *MemoryStore) DeletePosition(_ context.Context, portfolioID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, portfolioID)
	return nil
}

func (s *MemoryStore) ListActiveSchemeCodes(_ context.Context) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[int]bool)
	for id, pos := range s.positions {
		if pos.TotalUnits.IsZero() {
			continue
		}
		if p, ok := s.portfolios[id]; ok {
			seen[p.SchemeCode] = true
		}
	}
	codes := make([]int, 0, len(seen))
	for c := range seen {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	return codes, nil
}

// --- Transaction log ---

func (s *MemoryStore) NextSeqNo(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTxSeq++
	return s.nextTxSeq, nil
}

func (s *MemoryStore) AppendTransaction(_ context.Context, tx model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[tx.PortfolioID] = append(s.transactions[tx.PortfolioID], tx)
	return nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, portfolioID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs := s.transactions[portfolioID]
	out := make([]model.Transaction, len(txs))
	copy(out, txs)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.Before(out[j].Time)
		}
		return out[i].SeqNo < out[j].SeqNo
	})
	return out, nil
}

func (s *MemoryStore) ListTransactionsPage(_ context.Context, userID string, schemeCode *int, txType *model.TxType, page, limit int) ([]model.Transaction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []model.Transaction
	for id, p := range s.portfolios {
		if p.UserID != userID {
			continue
		}
		if schemeCode != nil && p.SchemeCode != *schemeCode {
			continue
		}
		for _, tx := range s.transactions[id] {
			if txType != nil && tx.Type != *txType {
				continue
			}
			all = append(all, tx)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].Time.Equal(all[j].Time) {
			return all[i].Time.Before(all[j].Time)
		}
		return all[i].SeqNo < all[j].SeqNo
	})

	total := len(all)
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	start := (page - 1) * limit
	if start >= total {
		return []model.Transaction{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

// --- NAV store ---

func (s *MemoryStore) GetLatestNav(_ context.Context, schemeCode int) (*model.LatestNav, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.latestNav[schemeCode]
	if !ok {
		return nil, nil
	}
	cp := *n
	return &cp, nil
}

func (s *MemoryStore) UpsertLatestNav(_ context.Context, nav model.LatestNav) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.latestNav[nav.SchemeCode]
	if ok {
		if nav.AsOfDate.Before(existing.AsOfDate) {
			return nil // monotone by date: never regress
		}
		if nav.AsOfDate.Equal(existing.AsOfDate) && nav.UpdatedAt.Before(existing.UpdatedAt) {
			return nil // same date: latest updatedAt wins
		}
	}
	cp := nav
	s.latestNav[nav.SchemeCode] = &cp
	return nil
}

func (s *MemoryStore) GetNavHistory(_ context.Context, schemeCode int, limit int) ([]model.NavHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hist := s.navHistory[schemeCode]
	if limit > 0 && limit < len(hist) {
		hist = hist[:limit]
	}
	out := make([]model.NavHistoryEntry, len(hist))
	copy(out, hist)
	return out, nil
}

func (s *MemoryStore) GetNavHistoryAsOf(_ context.Context, schemeCode int, asOf time.Time) (*model.NavHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// navHistory is kept newest-first; the first entry with Date <= asOf
	// is the answer.
	for _, e := range s.navHistory[schemeCode] {
		if !e.Date.After(asOf) {
			cp := e
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) InsertNavHistory(_ context.Context, schemeCode int, entry model.NavHistoryEntry, historyCap int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist := s.navHistory[schemeCode]

	for i, e := range hist {
		if e.Date.Equal(entry.Date) {
			hist[i].Nav = entry.Nav
			s.navHistory[schemeCode] = hist
			return nil
		}
	}

	hist = append(hist, entry)
	sort.Slice(hist, func(i, j int) bool { return hist[i].Date.After(hist[j].Date) })
	if historyCap > 0 && len(hist) > historyCap {
		hist = hist[:historyCap]
	}
	s.navHistory[schemeCode] = hist
	return nil
}

// --- Scheme catalog ---

func (s *MemoryStore) UpsertScheme(_ context.Context, scheme model.Scheme) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := scheme
	s.schemes[scheme.SchemeCode] = &cp
	return nil
}

func (s *MemoryStore) GetScheme(_ context.Context, schemeCode int) (*model.Scheme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schemes[schemeCode]
	if !ok {
		return nil, nil
	}
	cp := *sc
	return &cp, nil
}

func (s *MemoryStore) ListSchemes(_ context.Context) ([]model.Scheme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Scheme, 0, len(s.schemes))
	for _, sc := range s.schemes {
		out = append(out, *sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SchemeCode < out[j].SchemeCode })
	return out, nil
}
