// Package handler содержит HTTP-обработчики API сервиса агентского баланса и бронирований.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/agency-ledger/internal/ledger"
	"github.com/mmeshcher/agency-ledger/internal/metrics"
	"github.com/mmeshcher/agency-ledger/internal/middleware"
	"github.com/mmeshcher/agency-ledger/internal/model"
	"github.com/mmeshcher/agency-ledger/internal/service"
	"github.com/mmeshcher/agency-ledger/internal/view"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateTopUp(ctx context.Context, caller model.Caller, agencyID string, amount decimal.Decimal, typ, date string) (*ledger.Receipt, error)
	EditTopUp(ctx context.Context, caller model.Caller, id string, c ledger.Change) (decimal.Decimal, error)
	DeleteTopUp(ctx context.Context, caller model.Caller, id string) error
	ListTopUps(ctx context.Context, caller model.Caller) ([]model.TopUp, error)
	GetAgency(ctx context.Context, caller model.Caller, id string) (*model.Agency, error)

	CreateReservation(ctx context.Context, caller model.Caller, r model.Reservation) (view.Reservation, error)
	ListReservations(ctx context.Context, caller model.Caller, q service.ListQuery) (*service.Page, error)
	GetReservation(ctx context.Context, caller model.Caller, id string) (view.Reservation, error)
	UpdateReservation(ctx context.Context, caller model.Caller, id string, patch model.ReservationPatch) (view.Reservation, error)
	MarkPaid(ctx context.Context, caller model.Caller, id string) (view.Reservation, error)
	DeleteReservation(ctx context.Context, caller model.Caller, id string) error
	Statistics(ctx context.Context, caller model.Caller) (*service.Statistics, error)
	TouristNames(ctx context.Context, caller model.Caller, prefix string) ([]string, error)

	GetSettings(ctx context.Context) (model.Settings, error)
	UpdateSettings(ctx context.Context, caller model.Caller, days int) (model.Settings, error)
}

// Handler реализует HTTP-обработчики API.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	metrics        *metrics.Metrics
	validate       *validator.Validate
	corsOrigins    []string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, m *metrics.Metrics, corsOrigins []string) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		metrics:        m,
		validate:       v,
		corsOrigins:    corsOrigins,
	}
}

type errorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, details map[string]string) {
	writeJSON(w, status, errorResponse{Error: http.StatusText(status), Details: details})
}

// writeError переводит доменную ошибку в HTTP-статус. Ответы 5xx пишутся в лог.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var inputErr *model.InputError

	switch {
	case errors.As(err, &inputErr):
		writeErrorMessage(w, http.StatusBadRequest, map[string]string{inputErr.Field: inputErr.Reason})
	case errors.Is(err, model.ErrInvalidInput):
		writeErrorMessage(w, http.StatusBadRequest, nil)
	case errors.Is(err, model.ErrNotFound):
		writeErrorMessage(w, http.StatusNotFound, nil)
	case errors.Is(err, model.ErrForbidden):
		writeErrorMessage(w, http.StatusForbidden, nil)
	case errors.Is(err, model.ErrTransient):
		h.logger.Warn(op+" transient error", zap.Error(err), zap.String("path", r.URL.Path))
		w.Header().Set("Retry-After", "1")
		writeErrorMessage(w, http.StatusServiceUnavailable, nil)
	default:
		h.logger.Error(op+" error", zap.Error(err), zap.String("path", r.URL.Path))
		writeErrorMessage(w, http.StatusInternalServerError, nil)
	}
}

// decode читает JSON-тело запроса и проверяет его по тегам validate.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, map[string]string{"body": "malformed JSON"})
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeErrorMessage(w, http.StatusBadRequest, nil)
			return false
		}
		details := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			details[fe.Field()] = "failed on '" + fe.Tag() + "'"
		}
		writeErrorMessage(w, http.StatusBadRequest, details)
		return false
	}

	return true
}

func callerFrom(w http.ResponseWriter, r *http.Request) (model.Caller, bool) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return model.Caller{}, false
	}
	return caller, true
}

type topUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Type   string          `json:"type" validate:"max=64"`
	Date   string          `json:"date" validate:"max=64"`
}

type topUpReceiptResponse struct {
	TopUpID     string          `json:"topup_id"`
	NewBalance  decimal.Decimal `json:"new_balance"`
	TopUpAmount decimal.Decimal `json:"topup_amount"`
}

// CreateTopUp пополняет баланс агентства.
func (h *Handler) CreateTopUp(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var req topUpRequest
	if !h.decode(w, r, &req) {
		return
	}

	receipt, err := h.service.CreateTopUp(r.Context(), caller, chi.URLParam(r, "id"), req.Amount, req.Type, req.Date)
	if err != nil {
		h.writeError(w, r, "create top-up", err)
		return
	}

	writeJSON(w, http.StatusOK, topUpReceiptResponse{
		TopUpID:     receipt.ID,
		NewBalance:  receipt.NewBalance,
		TopUpAmount: receipt.Amount,
	})
}

type topUpResponse struct {
	ID         string          `json:"id"`
	AgencyID   string          `json:"agency_id"`
	AgencyName string          `json:"agency_name"`
	Amount     decimal.Decimal `json:"amount"`
	Type       string          `json:"type"`
	Date       string          `json:"date"`
	CreatedAt  string          `json:"created_at"`
}

// ListTopUps возвращает историю пополнений.
func (h *Handler) ListTopUps(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	entries, err := h.service.ListTopUps(r.Context(), caller)
	if err != nil {
		h.writeError(w, r, "list top-ups", err)
		return
	}

	resp := make([]topUpResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, topUpResponse{
			ID:         e.ID,
			AgencyID:   e.AgencyID,
			AgencyName: e.AgencyName,
			Amount:     e.Amount,
			Type:       e.Type,
			Date:       e.Date,
			CreatedAt:  e.CreatedAt.Format(time.RFC3339Nano),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type balanceResponse struct {
	NewBalance decimal.Decimal `json:"new_balance"`
}

// EditTopUp изменяет сумму, тип или дату пополнения.
func (h *Handler) EditTopUp(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var req topUpRequest
	if !h.decode(w, r, &req) {
		return
	}

	balance, err := h.service.EditTopUp(r.Context(), caller, chi.URLParam(r, "id"), ledger.Change{
		Amount: req.Amount,
		Type:   req.Type,
		Date:   req.Date,
	})
	if err != nil {
		h.writeError(w, r, "edit top-up", err)
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{NewBalance: balance})
}

// DeleteTopUp удаляет пополнение.
func (h *Handler) DeleteTopUp(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteTopUp(r.Context(), caller, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, "delete top-up", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type agencyResponse struct {
	ID              string          `json:"id"`
	AgencyName      string          `json:"agency_name"`
	Role            model.Role      `json:"role"`
	IsActive        bool            `json:"is_active"`
	Balance         decimal.Decimal `json:"balance"`
	LastTopUpAmount decimal.Decimal `json:"last_topup_amount"`
	CreatedAt       string          `json:"created_at"`
}

// GetAgency возвращает агентство с текущим балансом.
func (h *Handler) GetAgency(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	a, err := h.service.GetAgency(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "get agency", err)
		return
	}

	writeJSON(w, http.StatusOK, agencyResponse{
		ID:              a.ID,
		AgencyName:      a.Name,
		Role:            a.Role,
		IsActive:        a.IsActive,
		Balance:         a.Balance,
		LastTopUpAmount: a.LastTopUpAmount,
		CreatedAt:       a.CreatedAt.Format(time.RFC3339),
	})
}

type reservationRequest struct {
	AgencyID                 string          `json:"agency_id" validate:"required,max=64"`
	AgencyName               string          `json:"agency_name" validate:"max=255"`
	DateOfIssue              string          `json:"date_of_issue" validate:"required"`
	ServiceType              string          `json:"service_type" validate:"max=64"`
	DateOfService            string          `json:"date_of_service" validate:"required"`
	Description              string          `json:"description" validate:"max=4000"`
	TouristNames             string          `json:"tourist_names" validate:"max=4000"`
	Price                    decimal.Decimal `json:"price"`
	PrepaymentAmount         decimal.Decimal `json:"prepayment_amount"`
	RestAmountOfPayment      decimal.Decimal `json:"rest_amount_of_payment"`
	LastDateOfPayment        string          `json:"last_date_of_payment" validate:"required"`
	ActualDateOfFullPayment  *string         `json:"actual_date_of_full_payment"`
	ActualDateOfPrepayment   *string         `json:"actual_date_of_prepayment"`
	Supplier                 string          `json:"supplier" validate:"max=255"`
	SupplierPrice            decimal.Decimal `json:"supplier_price"`
	SupplierPrepaymentAmount decimal.Decimal `json:"supplier_prepayment_amount"`
	Revenue                  decimal.Decimal `json:"revenue"`
	RevenuePercentage        decimal.Decimal `json:"revenue_percentage"`
}

func (req reservationRequest) toModel() model.Reservation {
	return model.Reservation{
		AgencyID:                 req.AgencyID,
		AgencyName:               req.AgencyName,
		DateOfIssue:              req.DateOfIssue,
		ServiceType:              req.ServiceType,
		DateOfService:            req.DateOfService,
		Description:              req.Description,
		TouristNames:             req.TouristNames,
		Price:                    req.Price,
		PrepaymentAmount:         req.PrepaymentAmount,
		RestAmountOfPayment:      req.RestAmountOfPayment,
		LastDateOfPayment:        req.LastDateOfPayment,
		ActualDateOfFullPayment:  req.ActualDateOfFullPayment,
		ActualDateOfPrepayment:   req.ActualDateOfPrepayment,
		Supplier:                 req.Supplier,
		SupplierPrice:            req.SupplierPrice,
		SupplierPrepaymentAmount: req.SupplierPrepaymentAmount,
		Revenue:                  req.Revenue,
		RevenuePercentage:        req.RevenuePercentage,
	}
}

// CreateReservation создаёт бронирование.
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var req reservationRequest
	if !h.decode(w, r, &req) {
		return
	}

	v, err := h.service.CreateReservation(r.Context(), caller, req.toModel())
	if err != nil {
		h.writeError(w, r, "create reservation", err)
		return
	}

	writeJSON(w, http.StatusCreated, v)
}

func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, map[string]string{name: "must be an integer"})
		return 0, false
	}
	return n, true
}

// ListReservations возвращает страницу бронирований с фильтрами из строки запроса.
func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	page, ok := queryInt(w, r, "page")
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}

	q := r.URL.Query()
	res, err := h.service.ListReservations(r.Context(), caller, service.ListQuery{
		Search:        q.Get("search"),
		ServiceType:   q.Get("service_type"),
		DateFrom:      q.Get("date_from"),
		DateTo:        q.Get("date_to"),
		PaymentStatus: q.Get("payment_status"),
		Page:          page,
		Limit:         limit,
	})
	if err != nil {
		h.writeError(w, r, "list reservations", err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// GetReservation возвращает бронирование по идентификатору.
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	v, err := h.service.GetReservation(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "get reservation", err)
		return
	}

	writeJSON(w, http.StatusOK, v)
}

type reservationPatchRequest struct {
	AgencyID                 *string          `json:"agency_id" validate:"omitempty,max=64"`
	AgencyName               *string          `json:"agency_name" validate:"omitempty,max=255"`
	DateOfIssue              *string          `json:"date_of_issue"`
	ServiceType              *string          `json:"service_type" validate:"omitempty,max=64"`
	DateOfService            *string          `json:"date_of_service"`
	Description              *string          `json:"description" validate:"omitempty,max=4000"`
	TouristNames             *string          `json:"tourist_names" validate:"omitempty,max=4000"`
	Price                    *decimal.Decimal `json:"price"`
	PrepaymentAmount         *decimal.Decimal `json:"prepayment_amount"`
	RestAmountOfPayment      *decimal.Decimal `json:"rest_amount_of_payment"`
	LastDateOfPayment        *string          `json:"last_date_of_payment"`
	ActualDateOfFullPayment  *string          `json:"actual_date_of_full_payment"`
	ActualDateOfPrepayment   *string          `json:"actual_date_of_prepayment"`
	Supplier                 *string          `json:"supplier" validate:"omitempty,max=255"`
	SupplierPrice            *decimal.Decimal `json:"supplier_price"`
	SupplierPrepaymentAmount *decimal.Decimal `json:"supplier_prepayment_amount"`
	Revenue                  *decimal.Decimal `json:"revenue"`
	RevenuePercentage        *decimal.Decimal `json:"revenue_percentage"`
}

func (req reservationPatchRequest) toModel() model.ReservationPatch {
	return model.ReservationPatch(req)
}

// UpdateReservation частично обновляет бронирование.
func (h *Handler) UpdateReservation(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var req reservationPatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	v, err := h.service.UpdateReservation(r.Context(), caller, chi.URLParam(r, "id"), req.toModel())
	if err != nil {
		h.writeError(w, r, "update reservation", err)
		return
	}

	writeJSON(w, http.StatusOK, v)
}

// MarkPaid отмечает бронирование полностью оплаченным.
func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	v, err := h.service.MarkPaid(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "mark paid", err)
		return
	}

	writeJSON(w, http.StatusOK, v)
}

// DeleteReservation удаляет бронирование.
func (h *Handler) DeleteReservation(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteReservation(r.Context(), caller, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, "delete reservation", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TouristNames возвращает имена туристов для автодополнения.
func (h *Handler) TouristNames(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	names, err := h.service.TouristNames(r.Context(), caller, r.URL.Query().Get("q"))
	if err != nil {
		h.writeError(w, r, "tourist names", err)
		return
	}

	writeJSON(w, http.StatusOK, names)
}

// Statistics возвращает агрегаты по бронированиям.
func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	stats, err := h.service.Statistics(r.Context(), caller)
	if err != nil {
		h.writeError(w, r, "statistics", err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// GetSettings возвращает глобальные настройки.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.GetSettings(r.Context())
	if err != nil {
		h.writeError(w, r, "get settings", err)
		return
	}

	writeJSON(w, http.StatusOK, settings)
}

type settingsRequest struct {
	UpcomingDueThresholdDays *int `json:"upcoming_due_threshold_days" validate:"required,min=0"`
}

// UpdateSettings сохраняет глобальные настройки.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var req settingsRequest
	if !h.decode(w, r, &req) {
		return
	}

	settings, err := h.service.UpdateSettings(r.Context(), caller, *req.UpcomingDueThresholdDays)
	if err != nil {
		h.writeError(w, r, "update settings", err)
		return
	}

	writeJSON(w, http.StatusOK, settings)
}

// Health сообщает, что процесс принимает запросы.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
