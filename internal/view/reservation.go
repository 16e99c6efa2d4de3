// Package view формирует представления бронирований в зависимости от роли инициатора.
//
// Субагентство получает AgencyReservation, в котором полей себестоимости и маржи нет
// совсем. Администратор получает AdminReservation: базовое представление плюс эти поля.
package view

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/agency-ledger/internal/model"
	"github.com/mmeshcher/agency-ledger/internal/paystatus"
)

// Reservation описывает общее представление бронирования на границе сервиса.
type Reservation interface {
	Base() AgencyReservation
}

// AgencyReservation содержит поля, доступные любой роли.
type AgencyReservation struct {
	ID                      string           `json:"id"`
	AgencyID                string           `json:"agency_id"`
	AgencyName              string           `json:"agency_name"`
	DateOfIssue             string           `json:"date_of_issue"`
	ServiceType             string           `json:"service_type"`
	DateOfService           string           `json:"date_of_service"`
	Description             string           `json:"description"`
	TouristNames            string           `json:"tourist_names"`
	Price                   decimal.Decimal  `json:"price"`
	PrepaymentAmount        decimal.Decimal  `json:"prepayment_amount"`
	RestAmountOfPayment     decimal.Decimal  `json:"rest_amount_of_payment"`
	LastDateOfPayment       string           `json:"last_date_of_payment"`
	ActualDateOfFullPayment *string          `json:"actual_date_of_full_payment"`
	ActualDateOfPrepayment  *string          `json:"actual_date_of_prepayment"`
	PaymentStatus           paystatus.Status `json:"payment_status"`
	CreatedAt               time.Time        `json:"created_at"`
	UpdatedAt               time.Time        `json:"updated_at"`
}

// Base возвращает само представление.
func (v AgencyReservation) Base() AgencyReservation {
	return v
}

// AdminReservation дополняет базовое представление полями себестоимости и маржи.
type AdminReservation struct {
	AgencyReservation
	Supplier                 string          `json:"supplier"`
	SupplierPrice            decimal.Decimal `json:"supplier_price"`
	SupplierPrepaymentAmount decimal.Decimal `json:"supplier_prepayment_amount"`
	Revenue                  decimal.Decimal `json:"revenue"`
	RevenuePercentage        decimal.Decimal `json:"revenue_percentage"`
}

// Project строит представление бронирования для роли. Неизвестная роль получает
// урезанное представление.
func Project(r model.Reservation, role model.Role, status paystatus.Status) Reservation {
	base := AgencyReservation{
		ID:                      r.ID,
		AgencyID:                r.AgencyID,
		AgencyName:              r.AgencyName,
		DateOfIssue:             r.DateOfIssue,
		ServiceType:             r.ServiceType,
		DateOfService:           r.DateOfService,
		Description:             r.Description,
		TouristNames:            r.TouristNames,
		Price:                   r.Price,
		PrepaymentAmount:        r.PrepaymentAmount,
		RestAmountOfPayment:     r.RestAmountOfPayment,
		LastDateOfPayment:       r.LastDateOfPayment,
		ActualDateOfFullPayment: copyString(r.ActualDateOfFullPayment),
		ActualDateOfPrepayment:  copyString(r.ActualDateOfPrepayment),
		PaymentStatus:           status,
		CreatedAt:               r.CreatedAt,
		UpdatedAt:               r.UpdatedAt,
	}

	if role != model.RoleAdmin {
		return base
	}

	return AdminReservation{
		AgencyReservation:        base,
		Supplier:                 r.Supplier,
		SupplierPrice:            r.SupplierPrice,
		SupplierPrepaymentAmount: r.SupplierPrepaymentAmount,
		Revenue:                  r.Revenue,
		RevenuePercentage:        r.RevenuePercentage,
	}
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
