package model

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestReservationPatch_Apply(t *testing.T) {
	paid := "2025-03-20"
	r := Reservation{
		AgencyID:         "sub-1",
		Description:      "old",
		Price:            decimal.NewFromInt(100),
		PrepaymentAmount: decimal.NewFromInt(10),
	}

	desc := "new"
	price := decimal.NewFromInt(250)
	ReservationPatch{
		Description:             &desc,
		Price:                   &price,
		ActualDateOfFullPayment: &paid,
	}.Apply(&r)

	assert.Equal(t, "sub-1", r.AgencyID)
	assert.Equal(t, "new", r.Description)
	assert.True(t, r.Price.Equal(price))
	assert.True(t, r.PrepaymentAmount.Equal(decimal.NewFromInt(10)))
	if assert.NotNil(t, r.ActualDateOfFullPayment) {
		assert.Equal(t, paid, *r.ActualDateOfFullPayment)
		assert.NotSame(t, &paid, r.ActualDateOfFullPayment)
	}
	assert.Nil(t, r.ActualDateOfPrepayment)
}

func TestErrors(t *testing.T) {
	err := NewInputError("amount", "must be positive")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.EqualError(t, err, "invalid amount: must be positive")

	assert.True(t, IsRetryable(ErrConflict))
	assert.True(t, IsRetryable(ErrTransient))
	assert.False(t, IsRetryable(ErrNotFound))
	assert.False(t, IsRetryable(errors.New("boom")))
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleAdmin.Valid())
	assert.True(t, RoleSubAgency.Valid())
	assert.False(t, Role("root").Valid())
	assert.True(t, Caller{Role: RoleAdmin}.IsAdmin())
	assert.False(t, Caller{Role: RoleSubAgency}.IsAdmin())
}
