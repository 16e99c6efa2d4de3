package paystatus

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/mmeshcher/agency-ledger/internal/model"
)

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func TestClassify(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	tomorrow := now.Add(24 * time.Hour).Format(time.RFC3339)
	yesterday := now.Add(-24 * time.Hour).Format(time.RFC3339)
	inTenDays := now.Add(10 * 24 * time.Hour).Format(time.RFC3339)

	tests := []struct {
		name       string
		rest       decimal.Decimal
		prepayment decimal.Decimal
		due        string
		threshold  int
		want       Status
	}{
		{name: "rest zero is paid", rest: dec(0), prepayment: dec(500), due: yesterday, threshold: 7, want: Paid},
		{name: "rest zero without prepayment is paid", rest: dec(0), prepayment: dec(0), due: "", threshold: 7, want: Paid},
		{name: "rest zero with garbage date is paid", rest: dec(0), prepayment: dec(-3), due: "garbage", threshold: 7, want: Paid},
		{name: "prepaid due tomorrow is upcoming", rest: dec(100), prepayment: dec(50), due: tomorrow, threshold: 7, want: Upcoming},
		{name: "prepaid due yesterday is overdue", rest: dec(100), prepayment: dec(50), due: yesterday, threshold: 7, want: Overdue},
		{name: "prepaid due far away is prepaid", rest: dec(100), prepayment: dec(50), due: inTenDays, threshold: 7, want: Prepaid},
		{name: "prepaid without due is prepaid", rest: dec(100), prepayment: dec(50), due: "", threshold: 7, want: Prepaid},
		{name: "prepaid with unparsable due is prepaid", rest: dec(100), prepayment: dec(50), due: "someday", threshold: 7, want: Prepaid},
		{name: "threshold zero due tomorrow is prepaid", rest: dec(100), prepayment: dec(50), due: tomorrow, threshold: 0, want: Prepaid},
		{name: "threshold widens window", rest: dec(100), prepayment: dec(50), due: inTenDays, threshold: 10, want: Upcoming},
		{name: "unpaid due yesterday is overdue", rest: dec(100), prepayment: dec(0), due: yesterday, threshold: 7, want: Overdue},
		{name: "unpaid without due is unpaid", rest: dec(100), prepayment: dec(0), due: "", threshold: 7, want: Unpaid},
		{name: "unpaid with unparsable due is unpaid", rest: dec(100), prepayment: dec(0), due: "??", threshold: 7, want: Unpaid},
		{name: "unpaid due tomorrow is unpaid", rest: dec(100), prepayment: dec(0), due: tomorrow, threshold: 7, want: Unpaid},
		{name: "negative rest falls back to unpaid", rest: dec(-10), prepayment: dec(50), due: yesterday, threshold: 7, want: Unpaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.rest, tt.prepayment, tt.due, now, tt.threshold)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_TruncatesFractionalDays(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	// 7 дней и 23 часа усекаются до 7 дней.
	due := now.Add(7*24*time.Hour + 23*time.Hour).Format(time.RFC3339)

	assert.Equal(t, Upcoming, Classify(dec(100), dec(50), due, now, 7))
	assert.Equal(t, Prepaid, Classify(dec(100), dec(50), due, now, 6))
}

func TestClassify_DateOnlyDue(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, Overdue, Classify(dec(100), dec(50), "2025-06-15", now, 7))
	assert.Equal(t, Upcoming, Classify(dec(100), dec(50), "2025-06-16", now, 7))
}

func TestOf(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	r := model.Reservation{
		Price:               dec(1500),
		PrepaymentAmount:    dec(500),
		RestAmountOfPayment: dec(1000),
		LastDateOfPayment:   "2025-06-01",
	}

	assert.Equal(t, Overdue, Of(r, now, 7))
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{Paid, Prepaid, Unpaid, Overdue, Upcoming} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, Status("cancelled").Valid())
	assert.False(t, Status("").Valid())
}
