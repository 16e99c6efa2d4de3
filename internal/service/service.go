// Package service реализует бизнес-логику бронирований, настроек и пополнений баланса.
package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/agency-ledger/internal/ledger"
	"github.com/mmeshcher/agency-ledger/internal/model"
	"github.com/mmeshcher/agency-ledger/internal/paystatus"
	"github.com/mmeshcher/agency-ledger/internal/validation"
	"github.com/mmeshcher/agency-ledger/internal/view"
)

const (
	// DefaultPageLimit используется, если размер страницы не задан.
	DefaultPageLimit = 25
	// MaxPageLimit ограничивает размер страницы сверху.
	MaxPageLimit = 200
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	GetAgency(ctx context.Context, id string) (*model.Agency, error)
	GetReservation(ctx context.Context, id string) (*model.Reservation, error)
	QueryReservations(ctx context.Context, f model.ReservationFilter, skip, limit int) ([]model.Reservation, int, error)
	InsertReservation(ctx context.Context, r *model.Reservation) error
	UpdateReservation(ctx context.Context, r *model.Reservation) error
	DeleteReservation(ctx context.Context, id string) error
	GetSettings(ctx context.Context) (model.Settings, error)
	SaveSettings(ctx context.Context, s model.Settings) error
}

// Service содержит бизнес-логику сервиса.
type Service struct {
	repo   Repository
	ledger *ledger.Ledger
	logger *zap.Logger
	now    func() time.Time
}

// NewService создаёт новый сервис с указанным репозиторием и журналом пополнений.
func NewService(repo Repository, l *ledger.Ledger, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		ledger: l,
		logger: logger,
		now:    time.Now,
	}
}

// ListQuery описывает параметры выборки списка бронирований.
type ListQuery struct {
	Search        string
	ServiceType   string
	DateFrom      string
	DateTo        string
	PaymentStatus string
	Page          int
	Limit         int
}

// Page содержит страницу бронирований. Pages считается по общему числу без учёта фильтра статуса.
type Page struct {
	Reservations []view.Reservation `json:"reservations"`
	Total        int                `json:"total"`
	Page         int                `json:"page"`
	Limit        int                `json:"limit"`
	Pages        int                `json:"pages"`
}

// Statistics содержит агрегаты по видимым инициатору бронированиям.
// TotalRevenue заполняется только для администратора.
type Statistics struct {
	TotalReservations int              `json:"total_reservations"`
	TotalPrice        decimal.Decimal  `json:"total_price"`
	TotalPrepayment   decimal.Decimal  `json:"total_prepayment"`
	TotalRest         decimal.Decimal  `json:"total_rest"`
	TotalRevenue      *decimal.Decimal `json:"total_revenue,omitempty"`
}

func requireAdmin(caller model.Caller) error {
	if !caller.IsAdmin() {
		return fmt.Errorf("admin access required: %w", model.ErrForbidden)
	}
	return nil
}

func scopeFor(caller model.Caller) string {
	if caller.IsAdmin() {
		return ""
	}
	return caller.ID
}

func (s *Service) threshold(ctx context.Context) (int, error) {
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return 0, fmt.Errorf("get settings: %w", err)
	}
	return settings.UpcomingDueThresholdDays, nil
}

func (s *Service) project(r model.Reservation, caller model.Caller, threshold int, now time.Time) view.Reservation {
	return view.Project(r, caller.Role, paystatus.Of(r, now, threshold))
}

func (s *Service) projectOne(ctx context.Context, r model.Reservation, caller model.Caller) (view.Reservation, error) {
	threshold, err := s.threshold(ctx)
	if err != nil {
		return nil, err
	}
	return s.project(r, caller, threshold, s.now().UTC()), nil
}

func validateReservation(r *model.Reservation) error {
	if strings.TrimSpace(r.AgencyID) == "" {
		return model.NewInputError("agency_id", "required")
	}
	if err := validation.RequireDate("date_of_issue", r.DateOfIssue); err != nil {
		return err
	}
	if err := validation.RequireDate("date_of_service", r.DateOfService); err != nil {
		return err
	}
	serviceDay, err := validation.Day("date_of_service", r.DateOfService)
	if err != nil {
		return err
	}
	r.DateOfService = serviceDay
	if err := validation.RequireDate("last_date_of_payment", r.LastDateOfPayment); err != nil {
		return err
	}
	if err := validation.OptionalDate("actual_date_of_full_payment", r.ActualDateOfFullPayment); err != nil {
		return err
	}
	if err := validation.OptionalDate("actual_date_of_prepayment", r.ActualDateOfPrepayment); err != nil {
		return err
	}

	amounts := []struct {
		field string
		value decimal.Decimal
	}{
		{"price", r.Price},
		{"prepayment_amount", r.PrepaymentAmount},
		{"rest_amount_of_payment", r.RestAmountOfPayment},
		{"supplier_price", r.SupplierPrice},
		{"supplier_prepayment_amount", r.SupplierPrepaymentAmount},
	}
	for _, a := range amounts {
		if err := validation.NonNegativeAmount(a.field, a.value); err != nil {
			return err
		}
	}

	return nil
}

func isBlank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

// CreateReservation создаёт бронирование. Доступно только администратору.
// Если указана дата полной оплаты, а дата предоплаты нет, предоплата считается внесённой в дату выписки.
func (s *Service) CreateReservation(ctx context.Context, caller model.Caller, r model.Reservation) (view.Reservation, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if err := validateReservation(&r); err != nil {
		return nil, err
	}

	agency, err := s.repo.GetAgency(ctx, r.AgencyID)
	if err != nil {
		return nil, fmt.Errorf("get agency %s: %w", r.AgencyID, err)
	}
	if strings.TrimSpace(r.AgencyName) == "" {
		r.AgencyName = agency.Name
	}

	if !isBlank(r.ActualDateOfFullPayment) && isBlank(r.ActualDateOfPrepayment) {
		issued := r.DateOfIssue
		r.ActualDateOfPrepayment = &issued
	}

	now := s.now().UTC()
	r.ID = uuid.NewString()
	r.CreatedAt = now
	r.UpdatedAt = now

	if err := s.repo.InsertReservation(ctx, &r); err != nil {
		return nil, fmt.Errorf("insert reservation: %w", err)
	}

	s.logger.Info("reservation created",
		zap.String("reservationID", r.ID),
		zap.String("agencyID", r.AgencyID),
	)

	return s.projectOne(ctx, r, caller)
}

// ListReservations возвращает страницу бронирований, видимых инициатору.
// Фильтр по статусу оплаты применяется к уже выбранной странице, поэтому она может оказаться короче limit.
// Границы диапазона даты услуги приводятся к календарным дням и входят в диапазон.
func (s *Service) ListReservations(ctx context.Context, caller model.Caller, q ListQuery) (*Page, error) {
	var statusFilter paystatus.Status
	if q.PaymentStatus != "" {
		statusFilter = paystatus.Status(strings.ToLower(strings.TrimSpace(q.PaymentStatus)))
		if !statusFilter.Valid() {
			return nil, model.NewInputError("payment_status", "unknown status")
		}
	}

	page := q.Page
	if page < 1 {
		page = 1
	}
	limit := q.Limit
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	if page-1 > math.MaxInt/limit {
		return nil, model.NewInputError("page", "too large")
	}

	dateFrom, err := validation.Day("date_from", q.DateFrom)
	if err != nil {
		return nil, err
	}
	dateTo, err := validation.Day("date_to", q.DateTo)
	if err != nil {
		return nil, err
	}

	filter := model.ReservationFilter{
		AgencyID:    scopeFor(caller),
		Search:      strings.TrimSpace(q.Search),
		ServiceType: q.ServiceType,
		DateFrom:    dateFrom,
		DateTo:      dateTo,
	}

	items, total, err := s.repo.QueryReservations(ctx, filter, (page-1)*limit, limit)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}

	threshold, err := s.threshold(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	res := make([]view.Reservation, 0, len(items))
	for _, r := range items {
		v := s.project(r, caller, threshold, now)
		if statusFilter != "" && v.Base().PaymentStatus != statusFilter {
			continue
		}
		res = append(res, v)
	}

	return &Page{
		Reservations: res,
		Total:        total,
		Page:         page,
		Limit:        limit,
		Pages:        (total + limit - 1) / limit,
	}, nil
}

// GetReservation возвращает бронирование. Субагентство видит только свои записи.
func (s *Service) GetReservation(ctx context.Context, caller model.Caller, id string) (view.Reservation, error) {
	r, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get reservation %s: %w", id, err)
	}

	if !caller.IsAdmin() && r.AgencyID != caller.ID {
		return nil, fmt.Errorf("reservation %s: %w", id, model.ErrForbidden)
	}

	return s.projectOne(ctx, *r, caller)
}

// UpdateReservation частично обновляет бронирование: меняются только заданные поля.
func (s *Service) UpdateReservation(ctx context.Context, caller model.Caller, id string, patch model.ReservationPatch) (view.Reservation, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}

	r, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get reservation %s: %w", id, err)
	}

	agencyChanged := patch.AgencyID != nil && *patch.AgencyID != r.AgencyID
	patch.Apply(r)

	if err := validateReservation(r); err != nil {
		return nil, err
	}

	if agencyChanged {
		agency, err := s.repo.GetAgency(ctx, r.AgencyID)
		if err != nil {
			return nil, fmt.Errorf("get agency %s: %w", r.AgencyID, err)
		}
		if patch.AgencyName == nil {
			r.AgencyName = agency.Name
		}
	}

	r.UpdatedAt = s.now().UTC()

	if err := s.repo.UpdateReservation(ctx, r); err != nil {
		return nil, fmt.Errorf("update reservation: %w", err)
	}

	s.logger.Info("reservation updated", zap.String("reservationID", id))

	return s.projectOne(ctx, *r, caller)
}

// MarkPaid переводит бронирование в состояние «оплачено»: остаток переносится в предоплату.
func (s *Service) MarkPaid(ctx context.Context, caller model.Caller, id string) (view.Reservation, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}

	r, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get reservation %s: %w", id, err)
	}

	now := s.now().UTC()
	stamp := now.Format(time.RFC3339)

	r.PrepaymentAmount = r.PrepaymentAmount.Add(r.RestAmountOfPayment)
	r.RestAmountOfPayment = decimal.Zero
	r.ActualDateOfFullPayment = &stamp

	if isBlank(r.ActualDateOfPrepayment) {
		prepaid := r.DateOfIssue
		if strings.TrimSpace(prepaid) == "" {
			prepaid = stamp
		}
		r.ActualDateOfPrepayment = &prepaid
	}

	r.UpdatedAt = now

	if err := s.repo.UpdateReservation(ctx, r); err != nil {
		return nil, fmt.Errorf("update reservation: %w", err)
	}

	s.logger.Info("reservation marked as paid",
		zap.String("reservationID", id),
		zap.Stringer("prepayment", r.PrepaymentAmount),
	)

	return s.projectOne(ctx, *r, caller)
}

// DeleteReservation удаляет бронирование. Доступно только администратору.
func (s *Service) DeleteReservation(ctx context.Context, caller model.Caller, id string) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}

	if err := s.repo.DeleteReservation(ctx, id); err != nil {
		return fmt.Errorf("delete reservation %s: %w", id, err)
	}

	s.logger.Info("reservation deleted", zap.String("reservationID", id))

	return nil
}

// Statistics считает суммы по видимым инициатору бронированиям с банковским округлением до копеек.
func (s *Service) Statistics(ctx context.Context, caller model.Caller) (*Statistics, error) {
	items, _, err := s.repo.QueryReservations(ctx, model.ReservationFilter{AgencyID: scopeFor(caller)}, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}

	threshold, err := s.threshold(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	var price, prepayment, rest, revenue decimal.Decimal
	for _, r := range items {
		v := s.project(r, caller, threshold, now)
		base := v.Base()
		price = price.Add(base.Price)
		prepayment = prepayment.Add(base.PrepaymentAmount)
		rest = rest.Add(base.RestAmountOfPayment)

		if a, ok := v.(view.AdminReservation); ok {
			revenue = revenue.Add(a.Revenue)
		}
	}

	stats := &Statistics{
		TotalReservations: len(items),
		TotalPrice:        price.RoundBank(2),
		TotalPrepayment:   prepayment.RoundBank(2),
		TotalRest:         rest.RoundBank(2),
	}
	if caller.IsAdmin() {
		total := revenue.RoundBank(2)
		stats.TotalRevenue = &total
	}

	return stats, nil
}

// TouristNames возвращает отсортированный список имён туристов из видимых инициатору
// бронирований, начинающихся с prefix. Сравнение и удаление повторов идут без учёта регистра.
func (s *Service) TouristNames(ctx context.Context, caller model.Caller, prefix string) ([]string, error) {
	items, _, err := s.repo.QueryReservations(ctx, model.ReservationFilter{AgencyID: scopeFor(caller)}, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}

	prefix = strings.ToLower(strings.TrimSpace(prefix))
	seen := make(map[string]struct{})
	names := make([]string, 0)

	for _, r := range items {
		for _, name := range strings.Split(r.TouristNames, ",") {
			name = strings.TrimSpace(name)
			if name == "" || !strings.HasPrefix(strings.ToLower(name), prefix) {
				continue
			}
			key := strings.ToLower(name)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			names = append(names, name)
		}
	}

	sort.Strings(names)
	return names, nil
}

// GetSettings возвращает глобальные настройки.
func (s *Service) GetSettings(ctx context.Context) (model.Settings, error) {
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return model.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	return settings, nil
}

// UpdateSettings сохраняет порог «скорого» срока оплаты. Доступно только администратору.
func (s *Service) UpdateSettings(ctx context.Context, caller model.Caller, days int) (model.Settings, error) {
	if err := requireAdmin(caller); err != nil {
		return model.Settings{}, err
	}
	if days < 0 {
		return model.Settings{}, model.NewInputError("upcoming_due_threshold_days", "must not be negative")
	}

	settings := model.Settings{UpcomingDueThresholdDays: days}
	if err := s.repo.SaveSettings(ctx, settings); err != nil {
		return model.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	s.logger.Info("settings updated", zap.Int("upcomingDueThresholdDays", days))

	return settings, nil
}

// GetAgency возвращает агентство с балансом. Субагентство может запросить только себя.
func (s *Service) GetAgency(ctx context.Context, caller model.Caller, id string) (*model.Agency, error) {
	if !caller.IsAdmin() && caller.ID != id {
		return nil, fmt.Errorf("agency %s: %w", id, model.ErrForbidden)
	}

	a, err := s.repo.GetAgency(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get agency %s: %w", id, err)
	}
	return a, nil
}

// CreateTopUp пополняет баланс агентства. Доступно только администратору.
func (s *Service) CreateTopUp(ctx context.Context, caller model.Caller, agencyID string, amount decimal.Decimal, typ, date string) (*ledger.Receipt, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	return s.ledger.Create(ctx, agencyID, amount, typ, date)
}

// EditTopUp изменяет пополнение и возвращает новый баланс агентства. Доступно только администратору.
func (s *Service) EditTopUp(ctx context.Context, caller model.Caller, id string, c ledger.Change) (decimal.Decimal, error) {
	if err := requireAdmin(caller); err != nil {
		return decimal.Zero, err
	}
	return s.ledger.Edit(ctx, id, c)
}

// DeleteTopUp удаляет пополнение. Доступно только администратору.
func (s *Service) DeleteTopUp(ctx context.Context, caller model.Caller, id string) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	return s.ledger.Delete(ctx, id)
}

// ListTopUps возвращает историю пополнений. Доступно только администратору.
func (s *Service) ListTopUps(ctx context.Context, caller model.Caller) ([]model.TopUp, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	return s.ledger.List(ctx)
}
