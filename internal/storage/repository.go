package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"swapquoter/internal/orchestrate"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertRoundSQL = `INSERT INTO quote_rounds (
        started_at,
        finished_at,
        generation,
        chain_id,
        pay_symbol,
        receive_symbol,
        pay_amount,
        include_gas,
        best_key,
        best_net_fiat
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    RETURNING id;`

	insertResultSQL = `INSERT INTO quote_results (
        round_id,
        candidate_key,
        to_amount,
        net_fiat_value,
        pass,
        reason,
        delta_from_best_pct
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    );`

	listRoundsBetweenSQL = `SELECT
        id,
        started_at,
        finished_at,
        generation,
        chain_id,
        pay_symbol,
        receive_symbol,
        pay_amount,
        include_gas,
        best_key,
        best_net_fiat,
        created_at
    FROM quote_rounds
    WHERE started_at >= $1
      AND started_at < $2
    ORDER BY started_at;`

	listRecentRoundsSQL = `SELECT
        id,
        started_at,
        finished_at,
        generation,
        chain_id,
        pay_symbol,
        receive_symbol,
        pay_amount,
        include_gas,
        best_key,
        best_net_fiat,
        created_at
    FROM quote_rounds
    ORDER BY started_at DESC
    LIMIT $1;`

	listResultsForRoundSQL = `SELECT
        id,
        round_id,
        candidate_key,
        to_amount,
        net_fiat_value,
        pass,
        reason,
        delta_from_best_pct,
        created_at
    FROM quote_results
    WHERE round_id = $1
    ORDER BY net_fiat_value DESC;`

	countRoundsSQL = `SELECT COUNT(*) FROM quote_rounds;`
)

// RoundStore defines operations for quote-round persistence.
type RoundStore interface {
	SaveRound(ctx context.Context, summary orchestrate.RoundSummary) error
	ListRoundsBetween(ctx context.Context, from, to time.Time) ([]QuoteRound, error)
	ListRecentRounds(ctx context.Context, limit int) ([]QuoteRound, error)
	ListResultsForRound(ctx context.Context, roundID int64) ([]QuoteResult, error)
	CountRounds(ctx context.Context) (int64, error)
}

// Store persists quote rounds in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// SaveRound persists a completed round and its per-candidate results.
func (s *Store) SaveRound(ctx context.Context, summary orchestrate.RoundSummary) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin round insert: %w", err)
	}
	defer tx.Rollback(ctx)

	var roundID int64
	err = tx.QueryRow(ctx, insertRoundSQL,
		summary.StartedAt,
		summary.FinishedAt,
		int64(summary.Generation),
		summary.ChainID,
		summary.PaySymbol,
		summary.ReceiveSymbol,
		summary.PayAmount.String(),
		summary.IncludeGas,
		summary.BestKey,
		summary.BestNetFiat.String(),
	).Scan(&roundID)
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}

	for _, result := range summary.Results {
		var delta interface{}
		if result.DeltaFromBestPct != nil {
			delta = result.DeltaFromBestPct.String()
		}
		if _, err := tx.Exec(ctx, insertResultSQL,
			roundID,
			result.Key,
			result.ToAmount.String(),
			result.NetFiatValue.String(),
			result.Pass,
			result.Reason,
			delta,
		); err != nil {
			return fmt.Errorf("insert result %s: %w", result.Key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit round insert: %w", err)
	}
	return nil
}

// ListRoundsBetween lists rounds within a time window.
func (s *Store) ListRoundsBetween(ctx context.Context, from, to time.Time) ([]QuoteRound, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRoundsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list rounds between: %w", queryErr)
	}
	defer rows.Close()

	return collectRounds(rows)
}

// ListRecentRounds lists the newest rounds first.
func (s *Store) ListRecentRounds(ctx context.Context, limit int) ([]QuoteRound, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRoundsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent rounds: %w", queryErr)
	}
	defer rows.Close()

	return collectRounds(rows)
}

// ListResultsForRound lists a round's candidate outcomes, best first.
func (s *Store) ListResultsForRound(ctx context.Context, roundID int64) ([]QuoteResult, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listResultsForRoundSQL, roundID)
	if queryErr != nil {
		return nil, fmt.Errorf("list results for round: %w", queryErr)
	}
	defer rows.Close()

	results := make([]QuoteResult, 0)
	for rows.Next() {
		result, scanErr := scanQuoteResult(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return results, nil
}

// CountRounds returns the number of persisted rounds.
func (s *Store) CountRounds(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var count int64
	if err := pool.QueryRow(ctx, countRoundsSQL).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rounds: %w", err)
	}
	return count, nil
}

func collectRounds(rows pgx.Rows) ([]QuoteRound, error) {
	rounds := make([]QuoteRound, 0)
	for rows.Next() {
		round, scanErr := scanQuoteRound(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		rounds = append(rounds, round)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rounds: %w", err)
	}
	return rounds, nil
}

func scanQuoteRound(row pgx.Row) (QuoteRound, error) {
	var (
		round       QuoteRound
		payAmount   string
		bestNetFiat string
	)
	if err := row.Scan(
		&round.ID,
		&round.StartedAt,
		&round.FinishedAt,
		&round.Generation,
		&round.ChainID,
		&round.PaySymbol,
		&round.ReceiveSymbol,
		&payAmount,
		&round.IncludeGas,
		&round.BestKey,
		&bestNetFiat,
		&round.CreatedAt,
	); err != nil {
		return QuoteRound{}, fmt.Errorf("scan round: %w", err)
	}

	var err error
	if round.PayAmount, err = decimal.NewFromString(payAmount); err != nil {
		return QuoteRound{}, fmt.Errorf("parse pay amount: %w", err)
	}
	if round.BestNetFiat, err = decimal.NewFromString(bestNetFiat); err != nil {
		return QuoteRound{}, fmt.Errorf("parse best net fiat: %w", err)
	}
	return round, nil
}

func scanQuoteResult(row pgx.Row) (QuoteResult, error) {
	var (
		result   QuoteResult
		toAmount string
		netFiat  string
		delta    *string
	)
	if err := row.Scan(
		&result.ID,
		&result.RoundID,
		&result.CandidateKey,
		&toAmount,
		&netFiat,
		&result.Pass,
		&result.Reason,
		&delta,
		&result.CreatedAt,
	); err != nil {
		return QuoteResult{}, fmt.Errorf("scan result: %w", err)
	}

	var err error
	if result.ToAmount, err = decimal.NewFromString(toAmount); err != nil {
		return QuoteResult{}, fmt.Errorf("parse to amount: %w", err)
	}
	if result.NetFiatValue, err = decimal.NewFromString(netFiat); err != nil {
		return QuoteResult{}, fmt.Errorf("parse net fiat: %w", err)
	}
	if delta != nil {
		parsed, parseErr := decimal.NewFromString(*delta)
		if parseErr != nil {
			return QuoteResult{}, fmt.Errorf("parse delta: %w", parseErr)
		}
		result.DeltaFromBestPct = &parsed
	}
	return result, nil
}

var _ RoundStore = (*Store)(nil)
var _ orchestrate.RoundSink = (*Store)(nil)
