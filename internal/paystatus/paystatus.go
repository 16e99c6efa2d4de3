// Package paystatus вычисляет статус оплаты бронирования по денежным полям и сроку оплаты.
package paystatus

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/agency-ledger/internal/model"
	"github.com/mmeshcher/agency-ledger/internal/validation"
)

// Status описывает производный (не хранимый) статус оплаты.
type Status string

const (
	Paid     Status = "paid"
	Prepaid  Status = "prepaid"
	Unpaid   Status = "unpaid"
	Overdue  Status = "overdue"
	Upcoming Status = "upcoming"
)

// Valid сообщает, является ли значение одним из пяти статусов.
func (s Status) Valid() bool {
	switch s {
	case Paid, Prepaid, Unpaid, Overdue, Upcoming:
		return true
	}
	return false
}

const day = 24 * time.Hour

// Classify определяет статус оплаты. Порядок проверок важен: срабатывает первое совпадение.
// Отсутствующий или нераспознанный срок оплаты никогда не приводит к статусу Overdue.
func Classify(rest, prepayment decimal.Decimal, lastDue string, now time.Time, thresholdDays int) Status {
	if rest.IsZero() {
		return Paid
	}

	due, hasDue := validation.ParseDate(lastDue)

	if prepayment.IsPositive() && rest.IsPositive() {
		if !hasDue {
			return Prepaid
		}
		if now.After(due) {
			return Overdue
		}
		// Целые дни с отбрасыванием дробной части.
		if int(due.Sub(now)/day) <= thresholdDays {
			return Upcoming
		}
		return Prepaid
	}

	if rest.IsPositive() {
		if hasDue && now.After(due) {
			return Overdue
		}
		return Unpaid
	}

	return Unpaid
}

// Of вычисляет статус для бронирования.
func Of(r model.Reservation, now time.Time, thresholdDays int) Status {
	return Classify(r.RestAmountOfPayment, r.PrepaymentAmount, r.LastDateOfPayment, now, thresholdDays)
}
