// Package ledger ведёт баланс агентств как материализованную сумму пополнений.
//
// Каждая операция (создание, изменение, удаление пополнения) меняет запись пополнения и
// баланс агентства в одной транзакции хранилища. Поэтому после каждой операции баланс
// агентства равен сумме его текущих пополнений.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/agency-ledger/internal/metrics"
	"github.com/mmeshcher/agency-ledger/internal/model"
	"github.com/mmeshcher/agency-ledger/internal/validation"
)

// DefaultType используется, если тип пополнения не указан.
const DefaultType = "cash"

// DefaultRetryAttempts задаёт число повторов после конфликта параллельного изменения.
const DefaultRetryAttempts = 3

const retryBaseDelay = 20 * time.Millisecond

// Store описывает хранилище пополнений и балансов.
type Store interface {
	// InTx выполняет fn в одной атомарной единице: либо применяются все изменения, либо ни одно.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	ListTopUps(ctx context.Context) ([]model.TopUp, error)
}

// Tx описывает операции, доступные внутри атомарной единицы.
type Tx interface {
	// LockAgency возвращает агентство и блокирует его баланс до конца транзакции.
	LockAgency(ctx context.Context, id string) (*model.Agency, error)
	AdjustAgencyBalance(ctx context.Context, id string, delta decimal.Decimal) (decimal.Decimal, error)
	SetLastTopUpAmount(ctx context.Context, id string, amount decimal.Decimal) error
	// LockTopUp возвращает пополнение и блокирует его до конца транзакции.
	LockTopUp(ctx context.Context, id string) (*model.TopUp, error)
	InsertTopUp(ctx context.Context, t *model.TopUp) error
	UpdateTopUp(ctx context.Context, t *model.TopUp) error
	DeleteTopUp(ctx context.Context, id string) error
}

// Receipt описывает результат создания пополнения.
type Receipt struct {
	ID         string
	NewBalance decimal.Decimal
	Amount     decimal.Decimal
}

// Change описывает изменение пополнения. Пустые Type и Date оставляют прежние значения.
type Change struct {
	Amount decimal.Decimal
	Type   string
	Date   string
}

// Ledger реализует операции с пополнениями баланса.
type Ledger struct {
	store   Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	retries int
	now     func() time.Time
}

// New создаёт журнал пополнений. Отрицательное число повторов заменяется значением по умолчанию.
func New(store Store, logger *zap.Logger, m *metrics.Metrics, retries int) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retries < 0 {
		retries = DefaultRetryAttempts
	}
	return &Ledger{
		store:   store,
		logger:  logger,
		metrics: m,
		retries: retries,
		now:     time.Now,
	}
}

// Create записывает пополнение и увеличивает баланс агентства на его сумму.
func (l *Ledger) Create(ctx context.Context, agencyID string, amount decimal.Decimal, typ, date string) (*Receipt, error) {
	if err := validation.PositiveAmount("amount", amount); err != nil {
		return nil, err
	}
	if err := validation.OptionalDate("date", &date); err != nil {
		return nil, err
	}

	now := l.now().UTC()
	entry := model.TopUp{
		ID:        uuid.NewString(),
		AgencyID:  agencyID,
		Amount:    amount,
		Type:      normalizeType(typ, DefaultType),
		Date:      strings.TrimSpace(date),
		CreatedAt: now,
	}
	if entry.Date == "" {
		entry.Date = now.Format(time.RFC3339)
	}

	var receipt Receipt
	err := l.withRetry(ctx, "create", func() error {
		return l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			agency, err := tx.LockAgency(ctx, agencyID)
			if err != nil {
				return fmt.Errorf("lock agency %s: %w", agencyID, err)
			}

			e := entry
			e.AgencyName = agency.Name
			if err := tx.InsertTopUp(ctx, &e); err != nil {
				return fmt.Errorf("insert top-up: %w", err)
			}

			balance, err := tx.AdjustAgencyBalance(ctx, agencyID, amount)
			if err != nil {
				return fmt.Errorf("adjust balance: %w", err)
			}

			if err := tx.SetLastTopUpAmount(ctx, agencyID, amount); err != nil {
				return fmt.Errorf("set last top-up: %w", err)
			}

			receipt = Receipt{ID: e.ID, NewBalance: balance, Amount: amount}
			return nil
		})
	})
	l.metrics.LedgerOperation("create", err)
	if err != nil {
		return nil, err
	}

	l.logger.Info("top-up created",
		zap.String("topupID", receipt.ID),
		zap.String("agencyID", agencyID),
		zap.Stringer("amount", amount),
		zap.Stringer("balance", receipt.NewBalance),
	)

	return &receipt, nil
}

// Edit меняет пополнение и корректирует баланс владельца на разницу новой и старой сумм.
// Агентство-владелец берётся из сохранённой записи и не меняется.
func (l *Ledger) Edit(ctx context.Context, id string, c Change) (decimal.Decimal, error) {
	if err := validation.PositiveAmount("amount", c.Amount); err != nil {
		return decimal.Zero, err
	}
	if err := validation.OptionalDate("date", &c.Date); err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal
	err := l.withRetry(ctx, "edit", func() error {
		return l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			entry, err := tx.LockTopUp(ctx, id)
			if err != nil {
				return fmt.Errorf("lock top-up %s: %w", id, err)
			}

			if _, err := tx.LockAgency(ctx, entry.AgencyID); err != nil {
				return fmt.Errorf("lock agency %s: %w", entry.AgencyID, err)
			}

			delta := c.Amount.Sub(entry.Amount)

			entry.Amount = c.Amount
			entry.Type = normalizeType(c.Type, entry.Type)
			if d := strings.TrimSpace(c.Date); d != "" {
				entry.Date = d
			}
			if err := tx.UpdateTopUp(ctx, entry); err != nil {
				return fmt.Errorf("update top-up: %w", err)
			}

			balance, err = tx.AdjustAgencyBalance(ctx, entry.AgencyID, delta)
			if err != nil {
				return fmt.Errorf("adjust balance: %w", err)
			}
			return nil
		})
	})
	l.metrics.LedgerOperation("edit", err)
	if err != nil {
		return decimal.Zero, err
	}

	l.logger.Info("top-up edited", zap.String("topupID", id), zap.Stringer("balance", balance))

	return balance, nil
}

// Delete удаляет пополнение и уменьшает баланс владельца на его текущую сумму.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	err := l.withRetry(ctx, "delete", func() error {
		return l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			entry, err := tx.LockTopUp(ctx, id)
			if err != nil {
				return fmt.Errorf("lock top-up %s: %w", id, err)
			}

			if _, err := tx.LockAgency(ctx, entry.AgencyID); err != nil {
				return fmt.Errorf("lock agency %s: %w", entry.AgencyID, err)
			}

			if _, err := tx.AdjustAgencyBalance(ctx, entry.AgencyID, entry.Amount.Neg()); err != nil {
				return fmt.Errorf("adjust balance: %w", err)
			}

			if err := tx.DeleteTopUp(ctx, id); err != nil {
				return fmt.Errorf("delete top-up: %w", err)
			}
			return nil
		})
	})
	l.metrics.LedgerOperation("delete", err)
	if err != nil {
		return err
	}

	l.logger.Info("top-up deleted", zap.String("topupID", id))

	return nil
}

// List возвращает историю пополнений: сначала новые, при равном времени в порядке вставки.
func (l *Ledger) List(ctx context.Context) ([]model.TopUp, error) {
	entries, err := l.store.ListTopUps(ctx)
	if err != nil {
		return nil, fmt.Errorf("list top-ups: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].Seq < entries[j].Seq
	})

	return entries, nil
}

// withRetry повторяет fn после конфликта параллельного изменения. Прочие ошибки, в том числе
// таймауты хранилища, возвращаются без повторов.
func (l *Ledger) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, model.ErrConflict) || attempt >= l.retries {
			return err
		}

		l.metrics.LedgerRetry(op)
		l.logger.Warn("ledger conflict, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)

		timer := time.NewTimer(retryBaseDelay * time.Duration(attempt+1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", err, ctx.Err())
		case <-timer.C:
		}
	}
}

func normalizeType(typ, fallback string) string {
	if t := strings.TrimSpace(typ); t != "" {
		return t
	}
	return fallback
}
