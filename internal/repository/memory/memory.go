// Package memory содержит хранилище в памяти процесса для разработки и тестов.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/agency-ledger/internal/ledger"
	"github.com/mmeshcher/agency-ledger/internal/model"
)

var _ ledger.Store = (*Store)(nil)

// Store хранит агентства, пополнения, бронирования и настройки в памяти.
// Транзакция журнала выполняется под общей блокировкой над копией данных и
// публикуется только при успешном завершении.
type Store struct {
	mu           sync.RWMutex
	agencies     map[string]model.Agency
	topUps       map[string]model.TopUp
	reservations map[string]storedReservation
	settings     *model.Settings
	seq          int64
}

type storedReservation struct {
	model.Reservation
	seq int64
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		agencies:     make(map[string]model.Agency),
		topUps:       make(map[string]model.TopUp),
		reservations: make(map[string]storedReservation),
	}
}

// Close ничего не делает; нужен для совместимости с репозиторием PostgreSQL.
func (s *Store) Close() error {
	return nil
}

// EnsureAgency добавляет агентство, если записи с таким идентификатором ещё нет.
func (s *Store) EnsureAgency(_ context.Context, a model.Agency) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agencies[a.ID]; !ok {
		s.agencies[a.ID] = a
	}
	return nil
}

// GetAgency возвращает агентство по идентификатору.
func (s *Store) GetAgency(_ context.Context, id string) (*model.Agency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agencies[id]
	if !ok {
		return nil, fmt.Errorf("agency %s: %w", id, model.ErrNotFound)
	}
	return &a, nil
}

// InTx выполняет fn над копией данных и публикует её, если fn завершилась без ошибки.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		agencies: make(map[string]model.Agency, len(s.agencies)),
		topUps:   make(map[string]model.TopUp, len(s.topUps)),
		seq:      s.seq,
	}
	for k, v := range s.agencies {
		tx.agencies[k] = v
	}
	for k, v := range s.topUps {
		tx.topUps[k] = v
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.agencies = tx.agencies
	s.topUps = tx.topUps
	s.seq = tx.seq
	return nil
}

// ListTopUps возвращает все пополнения в порядке вставки.
func (s *Store) ListTopUps(_ context.Context) ([]model.TopUp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]model.TopUp, 0, len(s.topUps))
	for _, t := range s.topUps {
		res = append(res, t)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Seq < res[j].Seq })
	return res, nil
}

type memTx struct {
	agencies map[string]model.Agency
	topUps   map[string]model.TopUp
	seq      int64
}

func (t *memTx) LockAgency(_ context.Context, id string) (*model.Agency, error) {
	a, ok := t.agencies[id]
	if !ok {
		return nil, fmt.Errorf("agency %s: %w", id, model.ErrNotFound)
	}
	return &a, nil
}

func (t *memTx) AdjustAgencyBalance(_ context.Context, id string, delta decimal.Decimal) (decimal.Decimal, error) {
	a, ok := t.agencies[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("agency %s: %w", id, model.ErrNotFound)
	}
	a.Balance = a.Balance.Add(delta)
	t.agencies[id] = a
	return a.Balance, nil
}

func (t *memTx) SetLastTopUpAmount(_ context.Context, id string, amount decimal.Decimal) error {
	a, ok := t.agencies[id]
	if !ok {
		return fmt.Errorf("agency %s: %w", id, model.ErrNotFound)
	}
	a.LastTopUpAmount = amount
	t.agencies[id] = a
	return nil
}

func (t *memTx) LockTopUp(_ context.Context, id string) (*model.TopUp, error) {
	e, ok := t.topUps[id]
	if !ok {
		return nil, fmt.Errorf("top-up %s: %w", id, model.ErrNotFound)
	}
	return &e, nil
}

func (t *memTx) InsertTopUp(_ context.Context, e *model.TopUp) error {
	if _, exists := t.topUps[e.ID]; exists {
		return fmt.Errorf("top-up %s already exists", e.ID)
	}
	t.seq++
	e.Seq = t.seq
	t.topUps[e.ID] = *e
	return nil
}

func (t *memTx) UpdateTopUp(_ context.Context, e *model.TopUp) error {
	if _, ok := t.topUps[e.ID]; !ok {
		return fmt.Errorf("top-up %s: %w", e.ID, model.ErrNotFound)
	}
	t.topUps[e.ID] = *e
	return nil
}

func (t *memTx) DeleteTopUp(_ context.Context, id string) error {
	if _, ok := t.topUps[id]; !ok {
		return fmt.Errorf("top-up %s: %w", id, model.ErrNotFound)
	}
	delete(t.topUps, id)
	return nil
}

// GetReservation возвращает бронирование по идентификатору.
func (s *Store) GetReservation(_ context.Context, id string) (*model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
	}
	res := r.Reservation
	return &res, nil
}

// QueryReservations возвращает страницу бронирований и общее число подходящих записей.
// limit <= 0 означает «без ограничения».
func (s *Store) QueryReservations(_ context.Context, f model.ReservationFilter, skip, limit int) ([]model.Reservation, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]storedReservation, 0, len(s.reservations))
	for _, r := range s.reservations {
		if matches(r.Reservation, f) {
			matched = append(matched, r)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].seq > matched[j].seq
	})

	total := len(matched)
	if skip < 0 {
		skip = 0
	}
	if skip > total {
		skip = total
	}
	end := total
	if limit > 0 && skip+limit < total {
		end = skip + limit
	}

	res := make([]model.Reservation, 0, end-skip)
	for _, r := range matched[skip:end] {
		res = append(res, r.Reservation)
	}
	return res, total, nil
}

func matches(r model.Reservation, f model.ReservationFilter) bool {
	if f.AgencyID != "" && r.AgencyID != f.AgencyID {
		return false
	}
	if f.ServiceType != "" && r.ServiceType != f.ServiceType {
		return false
	}
	if f.DateFrom != "" && r.DateOfService < f.DateFrom {
		return false
	}
	if f.DateTo != "" && r.DateOfService > f.DateTo {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(r.AgencyName), q) &&
			!strings.Contains(strings.ToLower(r.Description), q) &&
			!strings.Contains(strings.ToLower(r.TouristNames), q) {
			return false
		}
	}
	return true
}

// InsertReservation сохраняет новое бронирование.
func (s *Store) InsertReservation(_ context.Context, r *model.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reservations[r.ID]; exists {
		return fmt.Errorf("reservation %s already exists", r.ID)
	}
	s.seq++
	s.reservations[r.ID] = storedReservation{Reservation: *r, seq: s.seq}
	return nil
}

// UpdateReservation перезаписывает существующее бронирование.
func (s *Store) UpdateReservation(_ context.Context, r *model.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.reservations[r.ID]
	if !ok {
		return fmt.Errorf("reservation %s: %w", r.ID, model.ErrNotFound)
	}
	stored.Reservation = *r
	s.reservations[r.ID] = stored
	return nil
}

// DeleteReservation удаляет бронирование.
func (s *Store) DeleteReservation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reservations[id]; !ok {
		return fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
	}
	delete(s.reservations, id)
	return nil
}

// GetSettings возвращает сохранённые настройки или значения по умолчанию.
func (s *Store) GetSettings(_ context.Context) (model.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.settings == nil {
		return model.DefaultSettings(), nil
	}
	return *s.settings, nil
}

// SaveSettings сохраняет настройки.
func (s *Store) SaveSettings(_ context.Context, settings model.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings = &settings
	return nil
}
