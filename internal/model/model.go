// Package model содержит доменные сущности сервиса агентского баланса и бронирований.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role описывает роль агентства в сети.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleSubAgency Role = "sub_agency"
)

// Valid сообщает, является ли роль одной из известных.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleSubAgency
}

// Caller описывает уже аутентифицированного инициатора запроса.
type Caller struct {
	ID   string
	Role Role
}

// IsAdmin сообщает, действует ли инициатор от имени центрального агентства.
func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// Agency представляет агентство (администратора или субагентство) и его текущий баланс.
type Agency struct {
	ID              string
	Name            string
	Role            Role
	IsActive        bool
	Balance         decimal.Decimal
	LastTopUpAmount decimal.Decimal
	CreatedAt       time.Time
}

// TopUp описывает запись о пополнении баланса агентства.
type TopUp struct {
	ID         string
	AgencyID   string
	AgencyName string
	Amount     decimal.Decimal
	Type       string
	Date       string
	CreatedAt  time.Time
	// Seq задаёт порядок вставки и разрешает совпадения CreatedAt.
	Seq int64
}

// Reservation описывает бронирование услуги, выписанное от имени агентства.
type Reservation struct {
	ID                      string
	AgencyID                string
	AgencyName              string
	DateOfIssue             string
	ServiceType             string
	DateOfService           string
	Description             string
	TouristNames            string
	Price                   decimal.Decimal
	PrepaymentAmount        decimal.Decimal
	RestAmountOfPayment     decimal.Decimal
	LastDateOfPayment       string
	ActualDateOfFullPayment *string
	ActualDateOfPrepayment  *string

	// Поля себестоимости и маржи доступны только администратору.
	Supplier                 string
	SupplierPrice            decimal.Decimal
	SupplierPrepaymentAmount decimal.Decimal
	Revenue                  decimal.Decimal
	RevenuePercentage        decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReservationPatch содержит поля частичного обновления бронирования; nil означает «не менять».
type ReservationPatch struct {
	AgencyID                 *string
	AgencyName               *string
	DateOfIssue              *string
	ServiceType              *string
	DateOfService            *string
	Description              *string
	TouristNames             *string
	Price                    *decimal.Decimal
	PrepaymentAmount         *decimal.Decimal
	RestAmountOfPayment      *decimal.Decimal
	LastDateOfPayment        *string
	ActualDateOfFullPayment  *string
	ActualDateOfPrepayment   *string
	Supplier                 *string
	SupplierPrice            *decimal.Decimal
	SupplierPrepaymentAmount *decimal.Decimal
	Revenue                  *decimal.Decimal
	RevenuePercentage        *decimal.Decimal
}

// Apply переносит заданные поля патча в бронирование.
func (p ReservationPatch) Apply(r *Reservation) {
	setString(&r.AgencyID, p.AgencyID)
	setString(&r.AgencyName, p.AgencyName)
	setString(&r.DateOfIssue, p.DateOfIssue)
	setString(&r.ServiceType, p.ServiceType)
	setString(&r.DateOfService, p.DateOfService)
	setString(&r.Description, p.Description)
	setString(&r.TouristNames, p.TouristNames)
	setString(&r.LastDateOfPayment, p.LastDateOfPayment)
	setString(&r.Supplier, p.Supplier)
	setDecimal(&r.Price, p.Price)
	setDecimal(&r.PrepaymentAmount, p.PrepaymentAmount)
	setDecimal(&r.RestAmountOfPayment, p.RestAmountOfPayment)
	setDecimal(&r.SupplierPrice, p.SupplierPrice)
	setDecimal(&r.SupplierPrepaymentAmount, p.SupplierPrepaymentAmount)
	setDecimal(&r.Revenue, p.Revenue)
	setDecimal(&r.RevenuePercentage, p.RevenuePercentage)

	if p.ActualDateOfFullPayment != nil {
		v := *p.ActualDateOfFullPayment
		r.ActualDateOfFullPayment = &v
	}
	if p.ActualDateOfPrepayment != nil {
		v := *p.ActualDateOfPrepayment
		r.ActualDateOfPrepayment = &v
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setDecimal(dst *decimal.Decimal, src *decimal.Decimal) {
	if src != nil {
		*dst = *src
	}
}

// ReservationFilter описывает условия выборки бронирований на уровне хранилища.
type ReservationFilter struct {
	// AgencyID ограничивает выборку одним агентством; пустое значение не ограничивает выборку.
	AgencyID    string
	Search      string
	ServiceType string
	DateFrom    string
	DateTo      string
}

// DefaultUpcomingDueThresholdDays используется, если настройки ещё не сохранены.
const DefaultUpcomingDueThresholdDays = 7

// Settings содержит глобальные настройки системы.
type Settings struct {
	UpcomingDueThresholdDays int `json:"upcoming_due_threshold_days"`
}

// DefaultSettings возвращает настройки по умолчанию.
func DefaultSettings() Settings {
	return Settings{UpcomingDueThresholdDays: DefaultUpcomingDueThresholdDays}
}
