package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/agency-ledger/internal/ledger"
	"github.com/mmeshcher/agency-ledger/internal/model"
)

func TestInTx_RollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.EnsureAgency(ctx, model.Agency{ID: "a1", Name: "North"}))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.AdjustAgencyBalance(ctx, "a1", decimal.NewFromInt(100)); err != nil {
			return err
		}
		if err := tx.InsertTopUp(ctx, &model.TopUp{ID: "t1", AgencyID: "a1", Amount: decimal.NewFromInt(100)}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	a, err := s.GetAgency(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, a.Balance.IsZero())

	entries, err := s.ListTopUps(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInTx_CanceledContextDiscardsChanges(t *testing.T) {
	s := New()
	require.NoError(t, s.EnsureAgency(context.Background(), model.Agency{ID: "a1"}))

	ctx, cancel := context.WithCancel(context.Background())
	err := s.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.AdjustAgencyBalance(ctx, "a1", decimal.NewFromInt(5))
		cancel()
		return err
	})
	require.ErrorIs(t, err, context.Canceled)

	a, err := s.GetAgency(context.Background(), "a1")
	require.NoError(t, err)
	assert.True(t, a.Balance.IsZero())
}

func TestEnsureAgency_KeepsExisting(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.EnsureAgency(ctx, model.Agency{ID: "a1", Name: "First"}))
	require.NoError(t, s.EnsureAgency(ctx, model.Agency{ID: "a1", Name: "Second"}))

	a, err := s.GetAgency(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "First", a.Name)

	_, err = s.GetAgency(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func insert(t *testing.T, s *Store, id, agency, desc, service, date string, created time.Time) {
	t.Helper()
	require.NoError(t, s.InsertReservation(context.Background(), &model.Reservation{
		ID:            id,
		AgencyID:      agency,
		AgencyName:    agency + " Travel",
		Description:   desc,
		ServiceType:   service,
		DateOfService: date,
		CreatedAt:     created,
	}))
}

func ids(items []model.Reservation) []string {
	res := make([]string, 0, len(items))
	for _, r := range items {
		res = append(res, r.ID)
	}
	return res
}

func TestQueryReservations(t *testing.T) {
	s := New()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	insert(t, s, "r1", "a1", "Sea view", "hotel", "2025-04-01", base)
	insert(t, s, "r2", "a1", "City tour", "excursion", "2025-05-01", base.Add(time.Hour))
	insert(t, s, "r3", "a2", "Mountain HOTEL", "hotel", "2025-06-01", base.Add(time.Hour))
	insert(t, s, "r4", "a2", "50%_off", "flight", "2025-07-01", base.Add(2*time.Hour))

	tests := []struct {
		name   string
		filter model.ReservationFilter
		want   []string
	}{
		{"all newest first, ties by later insert", model.ReservationFilter{}, []string{"r4", "r3", "r2", "r1"}},
		{"scoped", model.ReservationFilter{AgencyID: "a1"}, []string{"r2", "r1"}},
		{"service type", model.ReservationFilter{ServiceType: "hotel"}, []string{"r3", "r1"}},
		{"date range inclusive", model.ReservationFilter{DateFrom: "2025-05-01", DateTo: "2025-06-01"}, []string{"r3", "r2"}},
		{"search is case-insensitive", model.ReservationFilter{Search: "hotel"}, []string{"r3"}},
		{"search matches agency name", model.ReservationFilter{Search: "a2 travel"}, []string{"r4", "r3"}},
		{"search treats wildcards literally", model.ReservationFilter{Search: "%_"}, []string{"r4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, total, err := s.QueryReservations(context.Background(), tt.filter, 0, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(items))
			assert.Equal(t, len(tt.want), total)
		})
	}
}

func TestQueryReservations_Paging(t *testing.T) {
	s := New()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3", "r4", "r5"} {
		insert(t, s, id, "a1", "", "", "2025-04-01", base.Add(time.Duration(i)*time.Minute))
	}

	items, total, err := s.QueryReservations(context.Background(), model.ReservationFilter{}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Equal(t, []string{"r3", "r2"}, ids(items))

	items, total, err = s.QueryReservations(context.Background(), model.ReservationFilter{}, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, items)
}

func TestReservations_NotFound(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.GetReservation(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, s.UpdateReservation(ctx, &model.Reservation{ID: "missing"}), model.ErrNotFound)
	assert.ErrorIs(t, s.DeleteReservation(ctx, "missing"), model.ErrNotFound)
}

func TestSettings(t *testing.T) {
	s := New()
	ctx := context.Background()

	got, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultSettings(), got)

	require.NoError(t, s.SaveSettings(ctx, model.Settings{UpcomingDueThresholdDays: 3}))
	got, err = s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, got.UpcomingDueThresholdDays)
}
