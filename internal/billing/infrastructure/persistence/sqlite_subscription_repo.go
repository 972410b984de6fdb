package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/coachpage/internal/billing/domain"
	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/database/sqlite"
)

// SQLiteSubscriptionRepository keeps provider snapshots in local mode.
type SQLiteSubscriptionRepository struct {
	conn database.Connection
}

func NewSQLiteSubscriptionRepository(conn database.Connection) *SQLiteSubscriptionRepository {
	return &SQLiteSubscriptionRepository{conn: conn}
}

func (r *SQLiteSubscriptionRepository) Save(ctx context.Context, sub *domain.Subscription) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO stripe_subscriptions (user_id, subscription_id, customer_id, status, current_period_end, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			subscription_id    = excluded.subscription_id,
			customer_id        = excluded.customer_id,
			status             = excluded.status,
			current_period_end = excluded.current_period_end,
			updated_at         = excluded.updated_at`,
		sub.UserID.String(),
		sub.SubscriptionID,
		sub.CustomerID,
		string(sub.Status),
		sqlite.FormatNullTime(sub.CurrentPeriodEnd),
		sqlite.FormatTime(sub.UpdatedAt),
	)
	return err
}

func (r *SQLiteSubscriptionRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	var (
		id        string
		status    string
		periodEnd sql.NullString
		updated   string
	)
	sub := &domain.Subscription{}
	err := r.conn.QueryRow(ctx, `
		SELECT user_id, subscription_id, customer_id, status, current_period_end, updated_at
		FROM stripe_subscriptions
		WHERE user_id = ?`, userID.String(),
	).Scan(&id, &sub.SubscriptionID, &sub.CustomerID, &status, &periodEnd, &updated)
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sub.Status = domain.SubscriptionStatus(status)
	if sub.UserID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	if sub.CurrentPeriodEnd, err = sqlite.ParseNullTime(periodEnd); err != nil {
		return nil, err
	}
	if sub.UpdatedAt, err = sqlite.ParseTime(updated); err != nil {
		return nil, err
	}
	return sub, nil
}

var _ domain.SubscriptionRepository = (*SQLiteSubscriptionRepository)(nil)
