package validation

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/agency-ledger/internal/model"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
		ok    bool
	}{
		{
			name:  "date only",
			input: "2025-03-14",
			want:  time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
			ok:    true,
		},
		{
			name:  "rfc3339 with zulu",
			input: "2025-03-14T10:30:00Z",
			want:  time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC),
			ok:    true,
		},
		{
			name:  "rfc3339 with offset",
			input: "2025-03-14T10:30:00+03:00",
			want:  time.Date(2025, 3, 14, 7, 30, 0, 0, time.UTC),
			ok:    true,
		},
		{
			name:  "naive datetime is utc",
			input: "2025-03-14T10:30:00",
			want:  time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC),
			ok:    true,
		},
		{
			name:  "datetime without seconds",
			input: "2025-03-14T10:30",
			want:  time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC),
			ok:    true,
		},
		{
			name:  "surrounding spaces",
			input: "  2025-03-14 ",
			want:  time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
			ok:    true,
		},
		{
			name:  "empty",
			input: "",
			ok:    false,
		},
		{
			name:  "garbage",
			input: "next tuesday",
			ok:    false,
		},
		{
			name:  "day first",
			input: "14.03.2025",
			ok:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDate(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRequireDate(t *testing.T) {
	require.NoError(t, RequireDate("date_of_issue", "2025-01-01"))

	err := RequireDate("date_of_issue", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInvalidInput))

	err = RequireDate("last_date_of_payment", "soon")
	var inputErr *model.InputError
	require.True(t, errors.As(err, &inputErr))
	assert.Equal(t, "last_date_of_payment", inputErr.Field)
}

func TestOptionalDate(t *testing.T) {
	empty := ""
	bad := "31/12/2025"
	good := "2025-12-31"

	assert.NoError(t, OptionalDate("d", nil))
	assert.NoError(t, OptionalDate("d", &empty))
	assert.NoError(t, OptionalDate("d", &good))
	assert.ErrorIs(t, OptionalDate("d", &bad), model.ErrInvalidInput)
}

func TestPositiveAmount(t *testing.T) {
	assert.NoError(t, PositiveAmount("amount", decimal.NewFromFloat(0.01)))
	assert.ErrorIs(t, PositiveAmount("amount", decimal.Zero), model.ErrInvalidInput)
	assert.ErrorIs(t, PositiveAmount("amount", decimal.NewFromInt(-5)), model.ErrInvalidInput)
}

func TestNonNegativeAmount(t *testing.T) {
	assert.NoError(t, NonNegativeAmount("price", decimal.Zero))
	assert.ErrorIs(t, NonNegativeAmount("price", decimal.NewFromInt(-1)), model.ErrInvalidInput)
}

func TestDay(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"  ", ""},
		{"2025-04-01", "2025-04-01"},
		{"2025-04-01T09:00:00", "2025-04-01"},
		{"2025-04-01T23:30", "2025-04-01"},
		{"2025-04-01T23:30:00-02:00", "2025-04-02"},
		{"2025-04-01T01:00:00+03:00", "2025-03-31"},
	}

	for _, tt := range tests {
		got, err := Day("date_of_service", tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := Day("date_from", "01.04.2025")
	var inputErr *model.InputError
	require.ErrorAs(t, err, &inputErr)
	assert.Equal(t, "date_from", inputErr.Field)
}
