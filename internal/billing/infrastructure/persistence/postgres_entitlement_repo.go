package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/coachpage/internal/billing/domain"
	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/database"
)

const pgColumns = `user_id, is_pro, pro_expires_at, override_pro, stripe_customer_id, notes, updated_at`

// PostgresEntitlementRepository stores records in the hosted database.
type PostgresEntitlementRepository struct {
	conn database.Connection
}

func NewPostgresEntitlementRepository(conn database.Connection) *PostgresEntitlementRepository {
	return &PostgresEntitlementRepository{conn: conn}
}

func (r *PostgresEntitlementRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.EntitlementRecord, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+pgColumns+` FROM pro_entitlements WHERE user_id = $1`, userID)
	return scanPostgresOptional(row)
}

func (r *PostgresEntitlementRepository) FindBasicByUserID(ctx context.Context, userID uuid.UUID) (*domain.EntitlementRecord, error) {
	rec := &domain.EntitlementRecord{}
	err := r.conn.QueryRow(ctx,
		`SELECT user_id, is_pro, updated_at FROM pro_entitlements WHERE user_id = $1`, userID,
	).Scan(&rec.UserID, &rec.IsPro, &rec.UpdatedAt)
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *PostgresEntitlementRepository) FindByStripeCustomerID(ctx context.Context, customerID string) (*domain.EntitlementRecord, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT `+pgColumns+` FROM pro_entitlements
		WHERE stripe_customer_id = $1
		ORDER BY updated_at DESC
		LIMIT 1`, customerID)
	return scanPostgresOptional(row)
}

func (r *PostgresEntitlementRepository) InsertTrial(ctx context.Context, userID uuid.UUID, expiresAt, now time.Time) (*domain.EntitlementRecord, bool, error) {
	row := r.conn.QueryRow(ctx, `
		INSERT INTO pro_entitlements (user_id, is_pro, pro_expires_at, override_pro, updated_at)
		VALUES ($1, TRUE, $2, FALSE, $3)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING `+pgColumns,
		userID, expiresAt.UTC(), now.UTC())
	return r.writtenOrCurrent(ctx, userID, row)
}

func (r *PostgresEntitlementRepository) UpsertSubscription(ctx context.Context, snap domain.SubscriptionSnapshot, now time.Time) (*domain.EntitlementRecord, bool, error) {
	row := r.conn.QueryRow(ctx, `
		INSERT INTO pro_entitlements (user_id, is_pro, pro_expires_at, override_pro, stripe_customer_id, updated_at)
		VALUES ($1, $2, $3, FALSE, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			is_pro             = EXCLUDED.is_pro,
			pro_expires_at     = EXCLUDED.pro_expires_at,
			stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, pro_entitlements.stripe_customer_id),
			updated_at         = EXCLUDED.updated_at
		WHERE pro_entitlements.override_pro = FALSE
		RETURNING `+pgColumns,
		snap.UserID, snap.IsActive, snap.CurrentPeriodEnd, nullString(snap.StripeCustomerID), now.UTC())
	return r.writtenOrCurrent(ctx, snap.UserID, row)
}

func (r *PostgresEntitlementRepository) ExpireDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.conn.Query(ctx, `
		UPDATE pro_entitlements
		SET is_pro = FALSE, updated_at = $1
		WHERE user_id IN (
			SELECT user_id FROM pro_entitlements
			WHERE override_pro = FALSE AND pro_expires_at IS NOT NULL AND pro_expires_at < $1 AND is_pro = TRUE
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		AND override_pro = FALSE AND pro_expires_at IS NOT NULL AND pro_expires_at < $1 AND is_pro = TRUE
		RETURNING user_id`,
		now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresEntitlementRepository) ApplyOverride(ctx context.Context, edit domain.OverrideEdit, now time.Time) (*domain.EntitlementRecord, error) {
	row := r.conn.QueryRow(ctx, `
		INSERT INTO pro_entitlements (user_id, is_pro, pro_expires_at, override_pro, notes, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			is_pro         = EXCLUDED.is_pro,
			pro_expires_at = EXCLUDED.pro_expires_at,
			override_pro   = EXCLUDED.override_pro,
			notes          = COALESCE(EXCLUDED.notes, pro_entitlements.notes),
			updated_at     = EXCLUDED.updated_at
		RETURNING `+pgColumns,
		edit.UserID, edit.IsPro, edit.ExpiresAt, edit.Override, edit.Notes, now.UTC())
	return scanPostgres(row)
}

func (r *PostgresEntitlementRepository) ListOverrides(ctx context.Context, limit int) ([]domain.EntitlementRecord, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+pgColumns+` FROM pro_entitlements
		WHERE override_pro = TRUE
		ORDER BY updated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EntitlementRecord
	for rows.Next() {
		rec, err := scanPostgres(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *PostgresEntitlementRepository) writtenOrCurrent(ctx context.Context, userID uuid.UUID, row database.Row) (*domain.EntitlementRecord, bool, error) {
	rec, err := scanPostgresOptional(row)
	if err != nil {
		return nil, false, err
	}
	if rec != nil {
		return rec, true, nil
	}
	rec, err = r.FindByUserID(ctx, userID)
	return rec, false, err
}

func scanPostgresOptional(row database.Row) (*domain.EntitlementRecord, error) {
	rec, err := scanPostgres(row)
	if database.IsNoRows(err) {
		return nil, nil
	}
	return rec, err
}

func scanPostgres(row database.Row) (*domain.EntitlementRecord, error) {
	rec := &domain.EntitlementRecord{}
	err := row.Scan(
		&rec.UserID,
		&rec.IsPro,
		&rec.ProExpiresAt,
		&rec.OverridePro,
		&rec.StripeCustomerID,
		&rec.Notes,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, classify(err)
	}
	if rec.ProExpiresAt != nil {
		utc := rec.ProExpiresAt.UTC()
		rec.ProExpiresAt = &utc
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

var _ domain.EntitlementRepository = (*PostgresEntitlementRepository)(nil)
