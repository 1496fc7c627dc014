package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/indiafolio/mfledger/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// they cross the wire as text and are parsed back into decimal.Decimal.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetOrCreatePortfolio(ctx context.Context, userID string, schemeCode int, openingNav decimal.Decimal, now time.Time) (model.Portfolio, bool, error) {
	var p model.Portfolio
	var navS string

	err := s.pool.QueryRow(ctx,
		`INSERT INTO portfolios (portfolio_id, user_id, scheme_code, opened_at, opening_nav)
		 VALUES (gen_random_uuid()::text, $1, $2, $3, $4::NUMERIC)
		 ON CONFLICT (user_id, scheme_code) DO NOTHING
		 RETURNING portfolio_id, user_id, scheme_code, opened_at, opening_nav::TEXT`,
		userID, schemeCode, now, openingNav.String(),
	).Scan(&p.PortfolioID, &p.UserID, &p.SchemeCode, &p.OpenedAt, &navS)

	if err == nil {
		p.OpeningNav, _ = decimal.NewFromString(navS)
		return p, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Portfolio{}, false, fmt.Errorf("insert portfolio: %w", err)
	}

	existing, loadErr := s.GetPortfolio(ctx, userID, schemeCode)
	if loadErr != nil {
		return model.Portfolio{}, false, fmt.Errorf("load existing portfolio: %w", loadErr)
	}
	return existing, false, nil
}

func (s *PostgresStore) GetPortfolio(ctx context.Context, userID string, schemeCode int) (model.Portfolio, error) {
	var p model.Portfolio
	var navS string
	err := s.pool.QueryRow(ctx,
		`SELECT portfolio_id, user_id, scheme_code, opened_at, opening_nav::TEXT
		 FROM portfolios WHERE user_id = $1 AND scheme_code = $2`,
		userID, schemeCode,
	).Scan(&p.PortfolioID, &p.UserID, &p.SchemeCode, &p.OpenedAt, &navS)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Portfolio{}, model.ErrNoPosition
	}
	if err != nil {
		return model.Portfolio{}, fmt.Errorf("get portfolio: %w", err)
	}
	p.OpeningNav, _ = decimal.NewFromString(navS)
	return p, nil
}

func (s *PostgresStore) DeletePortfolio(ctx context.Context, portfolioID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM portfolios WHERE portfolio_id = $1`, portfolioID)
	return err
}

func (s *PostgresStore) ListPortfoliosByUser(ctx context.Context, userID string) ([]model.Portfolio, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT portfolio_id, user_id, scheme_code, opened_at, opening_nav::TEXT
		 FROM portfolios WHERE user_id = $1 ORDER BY scheme_code`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Portfolio
	for rows.Next() {
		var p model.Portfolio
		var navS string
		if err := rows.Scan(&p.PortfolioID, &p.UserID, &p.SchemeCode, &p.OpenedAt, &navS); err != nil {
			return nil, err
		}
		p.OpeningNav, _ = decimal.NewFromString(navS)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetPosition(ctx context.Context, portfolioID string) (*model.Position, error) {
	var p model.Position
	var totalS, investedS, avgS string
	err := s.pool.QueryRow(ctx,
		`SELECT portfolio_id, scheme_code, total_units::TEXT, invested_value::TEXT, avg_nav::TEXT
		 FROM positions WHERE portfolio_id = $1`, portfolioID,
	).Scan(&p.PortfolioID, &p.SchemeCode, &totalS, &investedS, &avgS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	p.TotalUnits, _ = decimal.NewFromString(totalS)
	p.InvestedValue, _ = decimal.NewFromString(investedS)
	p.AvgNav, _ = decimal.NewFromString(avgS)
	return &p, nil
}

func (s *PostgresStore) UpsertPosition(ctx context.Context, pos model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (portfolio_id, scheme_code, total_units, invested_value, avg_nav)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC)
		 ON CONFLICT (portfolio_id) DO UPDATE SET
		   total_units = EXCLUDED.total_units,
		   invested_value = EXCLUDED.invested_value,
		   avg_nav = EXCLUDED.avg_nav`,
		pos.PortfolioID, pos.SchemeCode, pos.TotalUnits.String(), pos.InvestedValue.String(), pos.AvgNav.String(),
	)
	return err
}

func (s *PostgresStore) DeletePosition(ctx context.Context, portfolioID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE portfolio_id = $1`, portfolioID)
	return err
}

func (s *PostgresStore) ListActiveSchemeCodes(ctx context.Context) ([]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT p.scheme_code FROM positions pos
		 JOIN portfolios p ON p.portfolio_id = pos.portfolio_id
		 WHERE pos.total_units > 0
		 ORDER BY p.scheme_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []int
	for rows.Next() {
		var c int
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

func (s *PostgresStore) NextSeqNo(ctx context.Context) (int64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `SELECT nextval('transaction_seq')`).Scan(&seq)
	return seq, err
}

func (s *PostgresStore) AppendTransaction(ctx context.Context, tx model.Transaction) error {
	var realizedS *string
	if tx.RealizedPL != nil {
		v := tx.RealizedPL.String()
		realizedS = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transactions (tx_id, seq_no, portfolio_id, scheme_code, type, units, nav, amount, time, realized_pl)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10::NUMERIC)`,
		tx.TxID, tx.SeqNo, tx.PortfolioID, tx.SchemeCode, tx.Type,
		tx.Units.String(), tx.Nav.String(), tx.Amount.String(), tx.Time, realizedS,
	)
	return err
}

func (s *PostgresStore) ListTransactions(ctx context.Context, portfolioID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tx_id, seq_no, portfolio_id, scheme_code, type,
		        units::TEXT, nav::TEXT, amount::TEXT, time, realized_pl::TEXT
		 FROM transactions WHERE portfolio_id = $1 ORDER BY time, seq_no`, portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (s *PostgresStore) ListTransactionsPage(ctx context.Context, userID string, schemeCode *int, txType *model.TxType, page, limit int) ([]model.Transaction, int, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions t
		 JOIN portfolios p ON p.portfolio_id = t.portfolio_id
		 WHERE p.user_id = $1
		   AND ($2::int IS NULL OR p.scheme_code = $2)
		   AND ($3::text IS NULL OR t.type = $3)`,
		userID, schemeCode, txType,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT t.tx_id, t.seq_no, t.portfolio_id, t.scheme_code, t.type,
		        t.units::TEXT, t.nav::TEXT, t.amount::TEXT, t.time, t.realized_pl::TEXT
		 FROM transactions t
		 JOIN portfolios p ON p.portfolio_id = t.portfolio_id
		 WHERE p.user_id = $1
		   AND ($2::int IS NULL OR p.scheme_code = $2)
		   AND ($3::text IS NULL OR t.type = $3)
		 ORDER BY t.time, t.seq_no
		 LIMIT $4 OFFSET $5`,
		userID, schemeCode, txType, limit, (page-1)*limit,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	txs, err := scanTransactions(rows)
	return txs, total, err
}

func (s *PostgresStore) GetLatestNav(ctx context.Context, schemeCode int) (*model.LatestNav, error) {
	var n model.LatestNav
	var navS string
	err := s.pool.QueryRow(ctx,
		`SELECT scheme_code, nav::TEXT, as_of_date, updated_at FROM latest_navs WHERE scheme_code = $1`,
		schemeCode,
	).Scan(&n.SchemeCode, &navS, &n.AsOfDate, &n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest nav: %w", err)
	}
	n.Nav, _ = decimal.NewFromString(navS)
	return &n, nil
}

func (s *PostgresStore) UpsertLatestNav(ctx context.Context, nav model.LatestNav) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO latest_navs (scheme_code, nav, as_of_date, updated_at)
		 VALUES ($1, $2::NUMERIC, $3, $4)
		 ON CONFLICT (scheme_code) DO UPDATE SET
		   nav = EXCLUDED.nav, as_of_date = EXCLUDED.as_of_date, updated_at = EXCLUDED.updated_at
		 WHERE EXCLUDED.as_of_date > latest_navs.as_of_date
		    OR (EXCLUDED.as_of_date = latest_navs.as_of_date AND EXCLUDED.updated_at >= latest_navs.updated_at)`,
		nav.SchemeCode, nav.Nav.String(), nav.AsOfDate, nav.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetNavHistory(ctx context.Context, schemeCode int, limit int) ([]model.NavHistoryEntry, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.pool.Query(ctx,
		`SELECT date, nav::TEXT FROM nav_history WHERE scheme_code = $1 ORDER BY date DESC LIMIT $2`,
		schemeCode, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.NavHistoryEntry
	for rows.Next() {
		var e model.NavHistoryEntry
		var navS string
		if err := rows.Scan(&e.Date, &navS); err != nil {
			return nil, err
		}
		e.Nav, _ = decimal.NewFromString(navS)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetNavHistoryAsOf(ctx context.Context, schemeCode int, asOf time.Time) (*model.NavHistoryEntry, error) {
	var e model.NavHistoryEntry
	var navS string
	err := s.pool.QueryRow(ctx,
		`SELECT date, nav::TEXT FROM nav_history
		 WHERE scheme_code = $1 AND date <= $2
		 ORDER BY date DESC LIMIT 1`, schemeCode, asOf,
	).Scan(&e.Date, &navS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Nav, _ = decimal.NewFromString(navS)
	return &e, nil
}

func (s *PostgresStore) InsertNavHistory(ctx context.Context, schemeCode int, entry model.NavHistoryEntry, historyCap int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO nav_history (scheme_code, date, nav)
		 VALUES ($1, $2, $3::NUMERIC)
		 ON CONFLICT (scheme_code, date) DO UPDATE SET nav = EXCLUDED.nav`,
		schemeCode, entry.Date, entry.Nav.String(),
	)
	if err != nil {
		return fmt.Errorf("insert nav history: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`DELETE FROM nav_history WHERE scheme_code = $1 AND date NOT IN (
		   SELECT date FROM nav_history WHERE scheme_code = $1 ORDER BY date DESC LIMIT $2
		 )`, schemeCode, historyCap)
	return err
}

func (s *PostgresStore) UpsertScheme(ctx context.Context, scheme model.Scheme) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO schemes (scheme_code, scheme_name, fund_house, category, type)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (scheme_code) DO UPDATE SET
		   scheme_name = EXCLUDED.scheme_name, fund_house = EXCLUDED.fund_house,
		   category = EXCLUDED.category, type = EXCLUDED.type`,
		scheme.SchemeCode, scheme.SchemeName, scheme.FundHouse, scheme.Category, scheme.Type,
	)
	return err
}

func (s *PostgresStore) GetScheme(ctx context.Context, schemeCode int) (*model.Scheme, error) {
	var sc model.Scheme
	err := s.pool.QueryRow(ctx,
		`SELECT scheme_code, scheme_name, fund_house, category, type FROM schemes WHERE scheme_code = $1`,
		schemeCode,
	).Scan(&sc.SchemeCode, &sc.SchemeName, &sc.FundHouse, &sc.Category, &sc.Type)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *PostgresStore) ListSchemes(ctx context.Context) ([]model.Scheme, error) {
	rows, err := s.pool.Query(ctx, `SELECT scheme_code, scheme_name, fund_house, category, type FROM schemes ORDER BY scheme_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Scheme
	for rows.Next() {
		var sc model.Scheme
		if err := rows.Scan(&sc.SchemeCode, &sc.SchemeName, &sc.FundHouse, &sc.Category, &sc.Type); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// pgxRows is the subset of pgx.Rows scanTransactions needs.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanTransactions(rows pgxRows) ([]model.Transaction, error) {
	var out []model.Transaction
	for rows.Next() {
		var tx model.Transaction
		var unitsS, navS, amountS string
		var realizedS *string

		if err := rows.Scan(&tx.TxID, &tx.SeqNo, &tx.PortfolioID, &tx.SchemeCode, &tx.Type,
			&unitsS, &navS, &amountS, &tx.Time, &realizedS); err != nil {
			return nil, err
		}
		tx.Units, _ = decimal.NewFromString(unitsS)
		tx.Nav, _ = decimal.NewFromString(navS)
		tx.Amount, _ = decimal.NewFromString(amountS)
		if realizedS != nil {
			v, _ := decimal.NewFromString(*realizedS)
			tx.RealizedPL = &v
		}
		out = append(out, tx)
	}
	return out, nil
}
