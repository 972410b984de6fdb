package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/coachpage/internal/billing/domain"
	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/database/sqlite"
)

const sqliteColumns = `user_id, is_pro, pro_expires_at, override_pro, stripe_customer_id, notes, updated_at`

// SQLiteEntitlementRepository stores records in local mode. Timestamps are
// fixed-width UTC text so the sweep can compare them as strings.
type SQLiteEntitlementRepository struct {
	conn database.Connection
}

func NewSQLiteEntitlementRepository(conn database.Connection) *SQLiteEntitlementRepository {
	return &SQLiteEntitlementRepository{conn: conn}
}

func (r *SQLiteEntitlementRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.EntitlementRecord, error) {
	row := r.conn.QueryRow(ctx,
		`SELECT `+sqliteColumns+` FROM pro_entitlements WHERE user_id = ?`, userID.String())
	return scanSQLiteOptional(row)
}

func (r *SQLiteEntitlementRepository) FindBasicByUserID(ctx context.Context, userID uuid.UUID) (*domain.EntitlementRecord, error) {
	var (
		id      string
		isPro   bool
		updated string
	)
	err := r.conn.QueryRow(ctx,
		`SELECT user_id, is_pro, updated_at FROM pro_entitlements WHERE user_id = ?`, userID.String(),
	).Scan(&id, &isPro, &updated)
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec := &domain.EntitlementRecord{IsPro: isPro}
	if rec.UserID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	if rec.UpdatedAt, err = sqlite.ParseTime(updated); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *SQLiteEntitlementRepository) FindByStripeCustomerID(ctx context.Context, customerID string) (*domain.EntitlementRecord, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT `+sqliteColumns+` FROM pro_entitlements
		WHERE stripe_customer_id = ?
		ORDER BY updated_at DESC
		LIMIT 1`, customerID)
	return scanSQLiteOptional(row)
}

func (r *SQLiteEntitlementRepository) InsertTrial(ctx context.Context, userID uuid.UUID, expiresAt, now time.Time) (*domain.EntitlementRecord, bool, error) {
	row := r.conn.QueryRow(ctx, `
		INSERT INTO pro_entitlements (user_id, is_pro, pro_expires_at, override_pro, updated_at)
		VALUES (?, 1, ?, 0, ?)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING `+sqliteColumns,
		userID.String(), sqlite.FormatTime(expiresAt), sqlite.FormatTime(now))
	return r.writtenOrCurrent(ctx, userID, row)
}

func (r *SQLiteEntitlementRepository) UpsertSubscription(ctx context.Context, snap domain.SubscriptionSnapshot, now time.Time) (*domain.EntitlementRecord, bool, error) {
	row := r.conn.QueryRow(ctx, `
		INSERT INTO pro_entitlements (user_id, is_pro, pro_expires_at, override_pro, stripe_customer_id, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			is_pro             = excluded.is_pro,
			pro_expires_at     = excluded.pro_expires_at,
			stripe_customer_id = COALESCE(excluded.stripe_customer_id, pro_entitlements.stripe_customer_id),
			updated_at         = excluded.updated_at
		WHERE pro_entitlements.override_pro = 0
		RETURNING `+sqliteColumns,
		snap.UserID.String(),
		snap.IsActive,
		sqlite.FormatNullTime(snap.CurrentPeriodEnd),
		nullString(snap.StripeCustomerID),
		sqlite.FormatTime(now),
	)
	return r.writtenOrCurrent(ctx, snap.UserID, row)
}

func (r *SQLiteEntitlementRepository) ExpireDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	ts := sqlite.FormatTime(now)
	rows, err := r.conn.Query(ctx, `
		UPDATE pro_entitlements
		SET is_pro = 0, updated_at = ?
		WHERE user_id IN (
			SELECT user_id FROM pro_entitlements
			WHERE override_pro = 0 AND pro_expires_at IS NOT NULL AND pro_expires_at < ? AND is_pro = 1
			LIMIT ?
		)
		AND override_pro = 0 AND pro_expires_at IS NOT NULL AND pro_expires_at < ? AND is_pro = 1
		RETURNING user_id`,
		ts, ts, limit, ts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse user_id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SQLiteEntitlementRepository) ApplyOverride(ctx context.Context, edit domain.OverrideEdit, now time.Time) (*domain.EntitlementRecord, error) {
	row := r.conn.QueryRow(ctx, `
		INSERT INTO pro_entitlements (user_id, is_pro, pro_expires_at, override_pro, notes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			is_pro         = excluded.is_pro,
			pro_expires_at = excluded.pro_expires_at,
			override_pro   = excluded.override_pro,
			notes          = COALESCE(excluded.notes, pro_entitlements.notes),
			updated_at     = excluded.updated_at
		RETURNING `+sqliteColumns,
		edit.UserID.String(),
		edit.IsPro,
		sqlite.FormatNullTime(edit.ExpiresAt),
		edit.Override,
		nullStringPtr(edit.Notes),
		sqlite.FormatTime(now),
	)
	return scanSQLite(row)
}

func (r *SQLiteEntitlementRepository) ListOverrides(ctx context.Context, limit int) ([]domain.EntitlementRecord, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+sqliteColumns+` FROM pro_entitlements
		WHERE override_pro = 1
		ORDER BY updated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EntitlementRecord
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// writtenOrCurrent resolves a conditional write: a returned row means the
// statement wrote it, no row means the condition skipped the write and the
// stored record is loaded instead.
func (r *SQLiteEntitlementRepository) writtenOrCurrent(ctx context.Context, userID uuid.UUID, row database.Row) (*domain.EntitlementRecord, bool, error) {
	rec, err := scanSQLiteOptional(row)
	if err != nil {
		return nil, false, err
	}
	if rec != nil {
		return rec, true, nil
	}
	rec, err = r.FindByUserID(ctx, userID)
	return rec, false, err
}

func scanSQLiteOptional(row database.Row) (*domain.EntitlementRecord, error) {
	rec, err := scanSQLite(row)
	if database.IsNoRows(err) {
		return nil, nil
	}
	return rec, err
}

func scanSQLite(row database.Row) (*domain.EntitlementRecord, error) {
	var (
		id       string
		isPro    bool
		expires  sql.NullString
		override bool
		customer sql.NullString
		notes    sql.NullString
		updated  string
	)
	if err := row.Scan(&id, &isPro, &expires, &override, &customer, &notes, &updated); err != nil {
		return nil, classify(err)
	}

	rec := &domain.EntitlementRecord{
		IsPro:            isPro,
		OverridePro:      override,
		StripeCustomerID: stringPtr(customer),
		Notes:            stringPtr(notes),
	}
	var err error
	if rec.UserID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	if rec.ProExpiresAt, err = sqlite.ParseNullTime(expires); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = sqlite.ParseTime(updated); err != nil {
		return nil, err
	}
	return rec, nil
}

var _ domain.EntitlementRepository = (*SQLiteEntitlementRepository)(nil)
