// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/agency-ledger/internal/ledger"
	"github.com/mmeshcher/agency-ledger/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultTimeout ограничивает длительность одного обращения к БД.
const DefaultTimeout = 5 * time.Second

const settingsID = "default"

var _ ledger.Store = (*PostgresRepository)(nil)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string, timeout time.Duration) (*PostgresRepository, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool, timeout: timeout}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// classify приводит ошибки драйвера к доменным: отсутствие строки, конфликт или временный сбой.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", model.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable:
			return fmt.Errorf("%w: %w", model.ErrConflict, err)
		case pgerrcode.QueryCanceled, pgerrcode.AdminShutdown, pgerrcode.CannotConnectNow:
			return fmt.Errorf("%w: %w", model.ErrTransient, err)
		}
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || isConnectionError(err) {
		return fmt.Errorf("%w: %w", model.ErrTransient, err)
	}

	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// EnsureAgency создаёт агентство, если его ещё нет.
func (r *PostgresRepository) EnsureAgency(ctx context.Context, a model.Agency) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO agencies (id, agency_name, role, is_active)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		a.ID, a.Name, string(a.Role), a.IsActive,
	)
	if err != nil {
		return fmt.Errorf("ensure agency: %w", classify(err))
	}
	return nil
}

const agencyColumns = `id, agency_name, role, is_active, balance, last_topup_amount, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAgency(row scanner) (*model.Agency, error) {
	var (
		a    model.Agency
		role string
	)
	if err := row.Scan(&a.ID, &a.Name, &role, &a.IsActive, &a.Balance, &a.LastTopUpAmount, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Role = model.Role(role)
	return &a, nil
}

// GetAgency возвращает агентство по идентификатору.
func (r *PostgresRepository) GetAgency(ctx context.Context, id string) (*model.Agency, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	a, err := scanAgency(r.pool.QueryRow(ctx,
		`SELECT `+agencyColumns+` FROM agencies WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get agency %s: %w", id, classify(err))
	}
	return a, nil
}

// InTx выполняет fn в транзакции БД. Ошибка fn или отмена контекста откатывают все изменения.
func (r *PostgresRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", classify(err))
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", classify(err))
	}

	return nil
}

const topUpColumns = `id, seq, agency_id, agency_name, amount, type, date, created_at`

func scanTopUp(row scanner) (*model.TopUp, error) {
	var t model.TopUp
	if err := row.Scan(&t.ID, &t.Seq, &t.AgencyID, &t.AgencyName, &t.Amount, &t.Type, &t.Date, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTopUps возвращает историю пополнений, начиная с последних.
func (r *PostgresRepository) ListTopUps(ctx context.Context) ([]model.TopUp, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT `+topUpColumns+`
		 FROM top_ups
		 ORDER BY created_at DESC, seq ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select top-ups: %w", classify(err))
	}
	defer rows.Close()

	var res []model.TopUp
	for rows.Next() {
		t, err := scanTopUp(rows)
		if err != nil {
			return nil, fmt.Errorf("scan top-up: %w", err)
		}
		res = append(res, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", classify(err))
	}

	return res, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockAgency(ctx context.Context, id string) (*model.Agency, error) {
	a, err := scanAgency(t.tx.QueryRow(ctx,
		`SELECT `+agencyColumns+` FROM agencies WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, classify(err)
	}
	return a, nil
}

func (t *pgTx) AdjustAgencyBalance(ctx context.Context, id string, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := t.tx.QueryRow(ctx,
		`UPDATE agencies SET balance = balance + $2 WHERE id = $1 RETURNING balance`,
		id, delta,
	).Scan(&balance)
	if err != nil {
		return decimal.Zero, classify(err)
	}
	return balance, nil
}

func (t *pgTx) SetLastTopUpAmount(ctx context.Context, id string, amount decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE agencies SET last_topup_amount = $2 WHERE id = $1`, id, amount)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agency %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func (t *pgTx) LockTopUp(ctx context.Context, id string) (*model.TopUp, error) {
	e, err := scanTopUp(t.tx.QueryRow(ctx,
		`SELECT `+topUpColumns+` FROM top_ups WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, classify(err)
	}
	return e, nil
}

func (t *pgTx) InsertTopUp(ctx context.Context, e *model.TopUp) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO top_ups (id, agency_id, agency_name, amount, type, date, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING seq`,
		e.ID, e.AgencyID, e.AgencyName, e.Amount, e.Type, e.Date, e.CreatedAt,
	).Scan(&e.Seq)
	if err != nil {
		return classify(err)
	}
	return nil
}

func (t *pgTx) UpdateTopUp(ctx context.Context, e *model.TopUp) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE top_ups SET amount = $2, type = $3, date = $4 WHERE id = $1`,
		e.ID, e.Amount, e.Type, e.Date,
	)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("top-up %s: %w", e.ID, model.ErrNotFound)
	}
	return nil
}

func (t *pgTx) DeleteTopUp(ctx context.Context, id string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM top_ups WHERE id = $1`, id)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("top-up %s: %w", id, model.ErrNotFound)
	}
	return nil
}

const reservationColumns = `id, agency_id, agency_name, date_of_issue, service_type, date_of_service,
	description, tourist_names, price, prepayment_amount, rest_amount_of_payment,
	last_date_of_payment, actual_date_of_full_payment, actual_date_of_prepayment,
	supplier, supplier_price, supplier_prepayment_amount, revenue, revenue_percentage,
	created_at, updated_at`

func scanReservation(row scanner) (*model.Reservation, error) {
	var r model.Reservation
	err := row.Scan(
		&r.ID, &r.AgencyID, &r.AgencyName, &r.DateOfIssue, &r.ServiceType, &r.DateOfService,
		&r.Description, &r.TouristNames, &r.Price, &r.PrepaymentAmount, &r.RestAmountOfPayment,
		&r.LastDateOfPayment, &r.ActualDateOfFullPayment, &r.ActualDateOfPrepayment,
		&r.Supplier, &r.SupplierPrice, &r.SupplierPrepaymentAmount, &r.Revenue, &r.RevenuePercentage,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func reservationArgs(r *model.Reservation) []any {
	return []any{
		r.ID, r.AgencyID, r.AgencyName, r.DateOfIssue, r.ServiceType, r.DateOfService,
		r.Description, r.TouristNames, r.Price, r.PrepaymentAmount, r.RestAmountOfPayment,
		r.LastDateOfPayment, r.ActualDateOfFullPayment, r.ActualDateOfPrepayment,
		r.Supplier, r.SupplierPrice, r.SupplierPrepaymentAmount, r.Revenue, r.RevenuePercentage,
		r.CreatedAt, r.UpdatedAt,
	}
}

// GetReservation возвращает бронирование по идентификатору.
func (r *PostgresRepository) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := scanReservation(r.pool.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get reservation %s: %w", id, classify(err))
	}
	return res, nil
}

// QueryReservations возвращает страницу бронирований и общее число подходящих записей.
// limit <= 0 означает «без ограничения».
func (r *PostgresRepository) QueryReservations(ctx context.Context, f model.ReservationFilter, skip, limit int) ([]model.Reservation, int, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	where, args := reservationWhere(f)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM reservations`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count reservations: %w", classify(err))
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations` + where +
		` ORDER BY created_at DESC, seq DESC`
	if skip > 0 {
		args = append(args, skip)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("select reservations: %w", classify(err))
	}
	defer rows.Close()

	res := make([]model.Reservation, 0)
	for rows.Next() {
		item, err := scanReservation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan reservation: %w", err)
		}
		res = append(res, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", classify(err))
	}

	return res, total, nil
}

func reservationWhere(f model.ReservationFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.AgencyID != "" {
		add("agency_id = $%d", f.AgencyID)
	}
	if f.ServiceType != "" {
		add("service_type = $%d", f.ServiceType)
	}
	if f.DateFrom != "" {
		add("date_of_service >= $%d", f.DateFrom)
	}
	if f.DateTo != "" {
		add("date_of_service <= $%d", f.DateTo)
	}
	if f.Search != "" {
		add("(agency_name ILIKE $%[1]d OR description ILIKE $%[1]d OR tourist_names ILIKE $%[1]d)",
			"%"+escapeLike(f.Search)+"%")
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// InsertReservation сохраняет новое бронирование.
func (r *PostgresRepository) InsertReservation(ctx context.Context, res *model.Reservation) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO reservations (`+reservationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		reservationArgs(res)...,
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", classify(err))
	}
	return nil
}

// UpdateReservation перезаписывает существующее бронирование.
func (r *PostgresRepository) UpdateReservation(ctx context.Context, res *model.Reservation) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx,
		`UPDATE reservations SET
			agency_id = $2, agency_name = $3, date_of_issue = $4, service_type = $5, date_of_service = $6,
			description = $7, tourist_names = $8, price = $9, prepayment_amount = $10, rest_amount_of_payment = $11,
			last_date_of_payment = $12, actual_date_of_full_payment = $13, actual_date_of_prepayment = $14,
			supplier = $15, supplier_price = $16, supplier_prepayment_amount = $17, revenue = $18,
			revenue_percentage = $19, created_at = $20, updated_at = $21
		 WHERE id = $1`,
		reservationArgs(res)...,
	)
	if err != nil {
		return fmt.Errorf("update reservation: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reservation %s: %w", res.ID, model.ErrNotFound)
	}
	return nil
}

// DeleteReservation удаляет бронирование.
func (r *PostgresRepository) DeleteReservation(ctx context.Context, id string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM reservations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete reservation: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// GetSettings возвращает сохранённые настройки или значения по умолчанию.
func (r *PostgresRepository) GetSettings(ctx context.Context) (model.Settings, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var s model.Settings
	err := r.pool.QueryRow(ctx,
		`SELECT upcoming_due_threshold_days FROM settings WHERE id = $1`, settingsID,
	).Scan(&s.UpcomingDueThresholdDays)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DefaultSettings(), nil
	}
	if err != nil {
		return model.Settings{}, fmt.Errorf("get settings: %w", classify(err))
	}
	return s, nil
}

// SaveSettings сохраняет настройки.
func (r *PostgresRepository) SaveSettings(ctx context.Context, s model.Settings) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO settings (id, upcoming_due_threshold_days) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET upcoming_due_threshold_days = EXCLUDED.upcoming_due_threshold_days`,
		settingsID, s.UpcomingDueThresholdDays,
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", classify(err))
	}
	return nil
}
