// Package validation содержит функции разбора и проверки входных данных.
package validation

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/agency-ledger/internal/model"
)

// dateLayouts перечисляет форматы, в которых формы присылают даты.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseDate разбирает дату в одном из поддерживаемых форматов.
// Пустая или нераспознанная строка даёт ok == false; ошибка наружу не передаётся.
// Даты без часового пояса считаются UTC.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

// RequireDate проверяет обязательную дату при записи.
func RequireDate(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return model.NewInputError(field, "required")
	}
	if _, ok := ParseDate(value); !ok {
		return model.NewInputError(field, "unparsable date")
	}
	return nil
}

// OptionalDate проверяет необязательную дату: nil и пустая строка допустимы.
func OptionalDate(field string, value *string) error {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil
	}
	if _, ok := ParseDate(*value); !ok {
		return model.NewInputError(field, "unparsable date")
	}
	return nil
}

// dayLayout задаёт хранимый вид даты услуги.
const dayLayout = "2006-01-02"

// Day приводит дату к календарному дню UTC в виде 2006-01-02, чтобы даты сравнивались
// как строки. Пустая строка остаётся пустой.
func Day(field, value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	t, ok := ParseDate(value)
	if !ok {
		return "", model.NewInputError(field, "unparsable date")
	}
	return t.UTC().Format(dayLayout), nil
}

// PositiveAmount проверяет, что сумма пополнения строго больше нуля.
func PositiveAmount(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return model.NewInputError(field, "must be positive")
	}
	return nil
}

// NonNegativeAmount проверяет, что денежное поле не отрицательно.
func NonNegativeAmount(field string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return model.NewInputError(field, "must not be negative")
	}
	return nil
}
