package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harpy-cli/api/schemas"
)

var attemptColumns = []string{"id", "session_id", "seq", "code", "position", "transport", "latency_ms", "status_code", "body_length", "body_fingerprint", "success", "outcome", "observed_at"}

func sampleOutcome() *schemas.SessionOutcome {
	return &schemas.SessionOutcome{
		SessionID:         uuid.NewString(),
		Mode:              schemas.ModeBruteForce,
		State:             schemas.StateSuccess,
		WinningGuess:      &schemas.OtpGuess{Code: "424242", Position: 424242},
		GuessesIssued:     43,
		TransportSwitches: 1,
		Duration:          9 * time.Second,
	}
}

func sampleRecord(code string) schemas.ResponseRecord {
	return schemas.ResponseRecord{
		ID:              uuid.NewString(),
		Guess:           schemas.OtpGuess{Code: code},
		Transport:       schemas.TransportProxy,
		LatencyMS:       102.5,
		StatusCode:      401,
		BodyLength:      40,
		BodyFingerprint: "deadbeefcafef00d",
		Outcome:         schemas.OutcomeOK,
		ObservedAt:      time.Now().UTC(),
	}
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPersistSession(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist a full session successfully", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		outcome := sampleOutcome()
		records := []schemas.ResponseRecord{sampleRecord("000000"), sampleRecord("000001")}
		events := []schemas.AuditEvent{
			{Kind: schemas.AuditTransportSwitch, At: time.Now().UTC(), Detail: "proxy lost, falling back to direct"},
		}

		mockPool.ExpectBegin()
		mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
			WithArgs(outcome.SessionID, "brute", "success", &outcome.WinningGuess.Code,
				43, 1, int64(9000)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"otp_attempts"}, attemptColumns).
			WillReturnResult(2)
		mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_events")).
			WithArgs(outcome.SessionID, "transport_switch", events[0].Detail, events[0].At).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()

		require.NoError(t, store.PersistSession(ctx, outcome, records, events))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should handle transaction begin failure", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		beginErr := errors.New("cannot begin tx")
		mockPool.ExpectBegin().WillReturnError(beginErr)

		err = store.PersistSession(ctx, sampleOutcome(), nil, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, beginErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should rollback if copying attempts fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		copyErr := errors.New("copy from failed")
		outcome := sampleOutcome()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
			WithArgs(outcome.SessionID, "brute", "success", &outcome.WinningGuess.Code,
				43, 1, int64(9000)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"otp_attempts"}, attemptColumns).
			WillReturnError(copyErr)
		mockPool.ExpectRollback()

		err = store.PersistSession(ctx, outcome, []schemas.ResponseRecord{sampleRecord("000000")}, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, copyErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should store a null winning code for exhausted sessions", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		outcome := sampleOutcome()
		outcome.State = schemas.StateExhausted
		outcome.WinningGuess = nil

		mockPool.ExpectBegin()
		mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
			WithArgs(outcome.SessionID, "brute", "exhausted", (*string)(nil),
				43, 1, int64(9000)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()

		require.NoError(t, store.PersistSession(ctx, outcome, nil, nil))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestLoadSession(t *testing.T) {
	ctx := context.Background()

	t.Run("should reconstruct a persisted outcome", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		sessionID := uuid.NewString()
		winning := "424242"
		columns := []string{"id", "mode", "state", "winning_code", "guesses_issued", "transport_switches", "duration_ms"}
		rows := pgxmock.NewRows(columns).
			AddRow(sessionID, "brute", "success", &winning, 43, 1, int64(9000))

		mockPool.ExpectQuery(`SELECT .+ FROM sessions\s+WHERE id = \$1`).
			WithArgs(sessionID).
			WillReturnRows(rows)

		outcome, err := store.LoadSession(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, schemas.ModeBruteForce, outcome.Mode)
		assert.Equal(t, schemas.StateSuccess, outcome.State)
		require.NotNil(t, outcome.WinningGuess)
		assert.Equal(t, "424242", outcome.WinningGuess.Code)
		assert.Equal(t, 9*time.Second, outcome.Duration)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should report a missing session", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		columns := []string{"id", "mode", "state", "winning_code", "guesses_issued", "transport_switches", "duration_ms"}
		mockPool.ExpectQuery(`SELECT .+ FROM sessions\s+WHERE id = \$1`).
			WithArgs("missing").
			WillReturnRows(pgxmock.NewRows(columns))

		_, err = store.LoadSession(ctx, "missing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})
}

func TestLoadRecords(t *testing.T) {
	ctx := context.Background()

	t.Run("should retrieve attempts in dispatch order", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		sessionID := uuid.NewString()
		now := time.Now().UTC()
		columns := []string{"id", "code", "position", "transport", "latency_ms", "status_code", "body_length", "body_fingerprint", "success", "outcome", "observed_at"}
		rows := pgxmock.NewRows(columns).
			AddRow("att-1", "000000", 0, "proxy", 101.0, 401, 40, "aa", false, "ok", now).
			AddRow("att-2", "000001", 1, "direct", 99.0, 200, 55, "bb", true, "ok", now)

		mockPool.ExpectQuery(`SELECT .+ FROM otp_attempts\s+WHERE session_id = \$1\s+ORDER BY seq ASC`).
			WithArgs(sessionID).
			WillReturnRows(rows)

		records, err := store.LoadRecords(ctx, sessionID)
		require.NoError(t, err)
		require.Len(t, records, 2)

		assert.Equal(t, "000000", records[0].Guess.Code)
		assert.Equal(t, schemas.TransportProxy, records[0].Transport)
		assert.True(t, records[1].Success)
		assert.Equal(t, schemas.OutcomeOK, records[1].Outcome)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
