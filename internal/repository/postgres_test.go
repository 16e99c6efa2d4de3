package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/mmeshcher/agency-ledger/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", pgx.ErrNoRows, model.ErrNotFound},
		{"serialization", &pgconn.PgError{Code: pgerrcode.SerializationFailure}, model.ErrConflict},
		{"deadlock", &pgconn.PgError{Code: pgerrcode.DeadlockDetected}, model.ErrConflict},
		{"lock not available", &pgconn.PgError{Code: pgerrcode.LockNotAvailable}, model.ErrConflict},
		{"query canceled", &pgconn.PgError{Code: pgerrcode.QueryCanceled}, model.ErrTransient},
		{"deadline", fmt.Errorf("exec: %w", context.DeadlineExceeded), model.ErrTransient},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), model.ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassify_PassesOtherErrors(t *testing.T) {
	assert.NoError(t, classify(nil))

	unique := &pgconn.PgError{Code: pgerrcode.UniqueViolation}
	got := classify(unique)
	assert.Same(t, unique, got)
	assert.False(t, model.IsRetryable(got))
}

func TestReservationWhere(t *testing.T) {
	where, args := reservationWhere(model.ReservationFilter{})
	assert.Empty(t, where)
	assert.Empty(t, args)

	where, args = reservationWhere(model.ReservationFilter{
		AgencyID:    "a1",
		ServiceType: "hotel",
		DateFrom:    "2025-01-01",
		DateTo:      "2025-12-31",
		Search:      "50%_off",
	})
	assert.Equal(t,
		" WHERE agency_id = $1 AND service_type = $2 AND date_of_service >= $3 AND date_of_service <= $4"+
			" AND (agency_name ILIKE $5 OR description ILIKE $5 OR tourist_names ILIKE $5)",
		where)
	assert.Equal(t, []any{"a1", "hotel", "2025-01-01", "2025-12-31", `%50\%\_off%`}, args)
}
