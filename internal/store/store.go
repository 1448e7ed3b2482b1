// Package store persists finished sessions to PostgreSQL so assessments can
// be compared across runs and reports rebuilt later. Persistence is entirely
// optional; a session without a configured database just skips it.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harpy-cli/api/schemas"
)

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store is the PostgreSQL session repository.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New verifies connectivity and returns the repository.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// PersistSession writes the outcome, every attempt record and the audit trail
// in a single transaction. Either the whole session lands or none of it does.
func (s *Store) PersistSession(
	ctx context.Context,
	outcome *schemas.SessionOutcome,
	records []schemas.ResponseRecord,
	events []schemas.AuditEvent,
) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && rollbackErr != pgx.ErrTxClosed {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if err := s.persistOutcome(ctx, tx, outcome); err != nil {
		return err
	}
	if len(records) > 0 {
		if err := s.persistAttempts(ctx, tx, outcome.SessionID, records); err != nil {
			return err
		}
	}
	if len(events) > 0 {
		if err := s.persistAuditEvents(ctx, tx, outcome.SessionID, events); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Session persisted",
		zap.String("session_id", outcome.SessionID),
		zap.Int("attempts", len(records)),
		zap.Int("audit_events", len(events)))
	return nil
}

func (s *Store) persistOutcome(ctx context.Context, tx pgx.Tx, outcome *schemas.SessionOutcome) error {
	sql := `
        INSERT INTO sessions (id, mode, state, winning_code, guesses_issued, transport_switches, duration_ms)
        VALUES ($1, $2, $3, $4, $5, $6, $7);
    `
	var winningCode *string
	if outcome.WinningGuess != nil {
		winningCode = &outcome.WinningGuess.Code
	}
	_, err := tx.Exec(ctx, sql,
		outcome.SessionID, string(outcome.Mode), string(outcome.State),
		winningCode, outcome.GuessesIssued, outcome.TransportSwitches,
		outcome.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", outcome.SessionID, err)
	}
	return nil
}

func (s *Store) persistAttempts(ctx context.Context, tx pgx.Tx, sessionID string, records []schemas.ResponseRecord) error {
	rows := make([][]interface{}, len(records))
	for i, r := range records {
		rows[i] = []interface{}{
			r.ID, sessionID, i,
			r.Guess.Code, r.Guess.Position, string(r.Transport),
			r.LatencyMS, r.StatusCode, r.BodyLength, r.BodyFingerprint,
			r.Success, string(r.Outcome), r.ObservedAt,
		}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"otp_attempts"},
		[]string{"id", "session_id", "seq", "code", "position", "transport", "latency_ms", "status_code", "body_length", "body_fingerprint", "success", "outcome", "observed_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy attempts: %w", err)
	}
	if int(copyCount) != len(records) {
		return fmt.Errorf("mismatch in copied attempt count: expected %d, got %d", len(records), copyCount)
	}
	return nil
}

func (s *Store) persistAuditEvents(ctx context.Context, tx pgx.Tx, sessionID string, events []schemas.AuditEvent) error {
	sql := `
        INSERT INTO audit_events (session_id, kind, detail, occurred_at)
        VALUES ($1, $2, $3, $4);
    `
	for _, e := range events {
		if _, err := tx.Exec(ctx, sql, sessionID, string(e.Kind), e.Detail, e.At); err != nil {
			return fmt.Errorf("failed to insert audit event %s: %w", e.Kind, err)
		}
	}
	return nil
}

// LoadSession returns a persisted session's outcome.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (*schemas.SessionOutcome, error) {
	query := `
        SELECT id, mode, state, winning_code, guesses_issued, transport_switches, duration_ms
        FROM sessions
        WHERE id = $1;
    `
	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error during row iteration: %w", err)
		}
		return nil, fmt.Errorf("session %s not found", sessionID)
	}

	var outcome schemas.SessionOutcome
	var mode, state string
	var winningCode *string
	var durationMS int64
	err = rows.Scan(&outcome.SessionID, &mode, &state, &winningCode,
		&outcome.GuessesIssued, &outcome.TransportSwitches, &durationMS)
	if err != nil {
		return nil, fmt.Errorf("failed to scan session row: %w", err)
	}
	outcome.Mode = schemas.Mode(mode)
	outcome.State = schemas.SessionState(state)
	outcome.Duration = time.Duration(durationMS) * time.Millisecond
	if winningCode != nil {
		outcome.WinningGuess = &schemas.OtpGuess{Code: *winningCode}
	}
	return &outcome, nil
}

// LoadRecords returns a session's attempt records in dispatch order.
func (s *Store) LoadRecords(ctx context.Context, sessionID string) ([]schemas.ResponseRecord, error) {
	query := `
        SELECT id, code, position, transport, latency_ms, status_code, body_length, body_fingerprint, success, outcome, observed_at
        FROM otp_attempts
        WHERE session_id = $1
        ORDER BY seq ASC;
    `
	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var records []schemas.ResponseRecord
	for rows.Next() {
		var r schemas.ResponseRecord
		var transport, outcome string
		err := rows.Scan(
			&r.ID, &r.Guess.Code, &r.Guess.Position, &transport,
			&r.LatencyMS, &r.StatusCode, &r.BodyLength, &r.BodyFingerprint,
			&r.Success, &outcome, &r.ObservedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt row: %w", err)
		}
		r.Transport = schemas.TransportKind(transport)
		r.Outcome = schemas.Outcome(outcome)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}
