package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"coffeepay/internal/model"
)

type OrderStore struct {
	db *sql.DB
}

func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{db: db}
}

const orderColumns = `id, device_uuid, merchant_id, drink_id, drink_name, size, price,
	status, status_check_type, payment_reference_id, payment_started_at, expires_at,
	next_check_at, last_check_at, check_attempts, failed_presentation_desc, created_at, updated_at`

func (s *OrderStore) Get(ctx context.Context, id string) (*model.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// GetByReference resolves the order a provider notification belongs to when
// the payload carries only the payment reference id.
func (s *OrderStore) GetByReference(ctx context.Context, referenceID string) (*model.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_reference_id = $1`, referenceID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order by reference: %w", err)
	}
	return o, nil
}

func (s *OrderStore) Create(ctx context.Context, o *model.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, device_uuid, merchant_id, drink_id, drink_name, size, price, status, status_check_type, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			device_uuid = EXCLUDED.device_uuid,
			merchant_id = EXCLUDED.merchant_id,
			drink_id = EXCLUDED.drink_id,
			drink_name = EXCLUDED.drink_name,
			size = EXCLUDED.size,
			price = EXCLUDED.price,
			status = EXCLUDED.status,
			status_check_type = EXCLUDED.status_check_type,
			payment_reference_id = NULL,
			payment_started_at = NULL,
			expires_at = EXCLUDED.expires_at,
			next_check_at = NULL,
			last_check_at = NULL,
			check_attempts = 0,
			failed_presentation_desc = NULL,
			updated_at = NOW()
	`, o.ID, o.DeviceUUID, o.MerchantID, o.DrinkID, o.DrinkName, o.Size, o.Price, o.Status, o.StatusCheckType, o.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// Update applies a partial update. When expected statuses are given the row is
// touched only while its status still matches one of them; a mismatch comes
// back as ErrStatusConflict so the caller can abort instead of clobbering a
// racing write.
func (s *OrderStore) Update(ctx context.Context, id string, patch model.OrderPatch, expected ...model.OrderStatus) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{id}

	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.StatusCheckType != nil {
		add("status_check_type", *patch.StatusCheckType)
	}
	if patch.PaymentReferenceID != nil {
		add("payment_reference_id", *patch.PaymentReferenceID)
	}
	if patch.PaymentStartedAt != nil {
		add("payment_started_at", *patch.PaymentStartedAt)
	}
	if patch.ClearNextCheck {
		sets = append(sets, "next_check_at = NULL")
	} else if patch.NextCheckAt != nil {
		add("next_check_at", *patch.NextCheckAt)
	}
	if patch.FailedPresentationDesc != nil {
		add("failed_presentation_desc", *patch.FailedPresentationDesc)
	}

	query := fmt.Sprintf("UPDATE orders SET %s WHERE id = $1", strings.Join(sets, ", "))
	if len(expected) > 0 {
		placeholders := make([]string, len(expected))
		for i, st := range expected {
			args = append(args, st)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		query += fmt.Sprintf(" AND status IN (%s)", strings.Join(placeholders, ", "))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order rows affected: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check order existence: %w", err)
		}
		if exists {
			return model.ErrStatusConflict
		}
		return model.ErrOrderNotFound
	}
	return nil
}

// GetDueForCheck selects pending polling orders whose next check has come due
// and whose deadline has not passed.
func (s *OrderStore) GetDueForCheck(ctx context.Context, now time.Time, limit int) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = 'pending'
		  AND status_check_type = 'polling'
		  AND next_check_at IS NOT NULL
		  AND next_check_at <= $1
		  AND expires_at > $1
		ORDER BY payment_started_at DESC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}
	return orders, nil
}

// MarkChecked stamps the check bookkeeping before the actual provider query so
// a crash mid-check still counts as an attempt. Returns the new attempt count.
func (s *OrderStore) MarkChecked(ctx context.Context, id string, now time.Time) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx, `
		UPDATE orders SET last_check_at = $2, check_attempts = check_attempts + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING check_attempts
	`, id, now).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, model.ErrOrderNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("mark checked: %w", err)
	}
	return attempts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		o          model.Order
		refID      sql.NullString
		startedAt  sql.NullTime
		nextCheck  sql.NullTime
		lastCheck  sql.NullTime
		failedDesc sql.NullString
	)
	err := row.Scan(
		&o.ID, &o.DeviceUUID, &o.MerchantID, &o.DrinkID, &o.DrinkName, &o.Size, &o.Price,
		&o.Status, &o.StatusCheckType, &refID, &startedAt, &o.ExpiresAt,
		&nextCheck, &lastCheck, &o.CheckAttempts, &failedDesc, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if refID.Valid {
		o.PaymentReferenceID = refID.String
	}
	if startedAt.Valid {
		o.PaymentStartedAt = &startedAt.Time
	}
	if nextCheck.Valid {
		o.NextCheckAt = &nextCheck.Time
	}
	if lastCheck.Valid {
		o.LastCheckAt = &lastCheck.Time
	}
	if failedDesc.Valid {
		o.FailedPresentationDesc = failedDesc.String
	}
	return &o, nil
}
