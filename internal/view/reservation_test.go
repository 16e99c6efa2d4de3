package view

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/agency-ledger/internal/model"
	"github.com/mmeshcher/agency-ledger/internal/paystatus"
)

var adminOnlyKeys = []string{
	"supplier",
	"supplier_price",
	"supplier_prepayment_amount",
	"revenue",
	"revenue_percentage",
}

func sampleReservation() model.Reservation {
	paid := "2025-05-01"
	return model.Reservation{
		ID:                       "r-1",
		AgencyID:                 "a-1",
		AgencyName:               "Sun Travel",
		DateOfIssue:              "2025-04-01",
		ServiceType:              "hotel",
		DateOfService:            "2025-07-01",
		Description:              "Sea view",
		TouristNames:             "Ivanov I., Petrova A.",
		Price:                    decimal.NewFromInt(1500),
		PrepaymentAmount:         decimal.NewFromInt(500),
		RestAmountOfPayment:      decimal.NewFromInt(1000),
		LastDateOfPayment:        "2025-06-20",
		ActualDateOfPrepayment:   &paid,
		Supplier:                 "Grand Hotel",
		SupplierPrice:            decimal.NewFromInt(1200),
		SupplierPrepaymentAmount: decimal.NewFromInt(300),
		Revenue:                  decimal.NewFromInt(300),
		RevenuePercentage:        decimal.NewFromInt(20),
		CreatedAt:                time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC),
		UpdatedAt:                time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC),
	}
}

func toMap(t *testing.T, v any) map[string]any {
	t.Helper()

	raw, err := json.Marshal(v)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestProject_SubAgencyHidesCostFields(t *testing.T) {
	v := Project(sampleReservation(), model.RoleSubAgency, paystatus.Prepaid)

	_, isAgencyView := v.(AgencyReservation)
	require.True(t, isAgencyView, "sub agency must receive AgencyReservation, got %T", v)

	m := toMap(t, v)
	for _, key := range adminOnlyKeys {
		assert.NotContains(t, m, key)
	}
	assert.Equal(t, "prepaid", m["payment_status"])
	assert.Equal(t, "Sun Travel", m["agency_name"])
}

func TestProject_AdminKeepsAllFields(t *testing.T) {
	r := sampleReservation()
	v := Project(r, model.RoleAdmin, paystatus.Upcoming)

	admin, ok := v.(AdminReservation)
	require.True(t, ok, "admin must receive AdminReservation, got %T", v)

	assert.Equal(t, r.Supplier, admin.Supplier)
	assert.True(t, r.SupplierPrice.Equal(admin.SupplierPrice))
	assert.True(t, r.SupplierPrepaymentAmount.Equal(admin.SupplierPrepaymentAmount))
	assert.True(t, r.Revenue.Equal(admin.Revenue))
	assert.True(t, r.RevenuePercentage.Equal(admin.RevenuePercentage))
	assert.Equal(t, r.TouristNames, admin.TouristNames)

	m := toMap(t, v)
	for _, key := range adminOnlyKeys {
		assert.Contains(t, m, key)
	}
}

func TestProject_UnknownRoleIsRedacted(t *testing.T) {
	v := Project(sampleReservation(), model.Role("guest"), paystatus.Unpaid)

	m := toMap(t, v)
	for _, key := range adminOnlyKeys {
		assert.NotContains(t, m, key)
	}
}

func TestProject_DoesNotAliasDates(t *testing.T) {
	r := sampleReservation()
	v := Project(r, model.RoleAdmin, paystatus.Prepaid)

	*r.ActualDateOfPrepayment = "1999-01-01"
	assert.Equal(t, "2025-05-01", *v.Base().ActualDateOfPrepayment)
}
