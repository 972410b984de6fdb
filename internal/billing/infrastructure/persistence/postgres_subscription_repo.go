package persistence

import (
	"context"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/coachpage/internal/billing/domain"
	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/database"
)

// PostgresSubscriptionRepository keeps provider snapshots in the hosted database.
type PostgresSubscriptionRepository struct {
	conn database.Connection
}

func NewPostgresSubscriptionRepository(conn database.Connection) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{conn: conn}
}

func (r *PostgresSubscriptionRepository) Save(ctx context.Context, sub *domain.Subscription) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO stripe_subscriptions (user_id, subscription_id, customer_id, status, current_period_end, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			subscription_id    = EXCLUDED.subscription_id,
			customer_id        = EXCLUDED.customer_id,
			status             = EXCLUDED.status,
			current_period_end = EXCLUDED.current_period_end,
			updated_at         = EXCLUDED.updated_at`,
		sub.UserID, sub.SubscriptionID, sub.CustomerID, string(sub.Status), sub.CurrentPeriodEnd, sub.UpdatedAt.UTC())
	return err
}

func (r *PostgresSubscriptionRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	var status string
	sub := &domain.Subscription{}
	err := r.conn.QueryRow(ctx, `
		SELECT user_id, subscription_id, customer_id, status, current_period_end, updated_at
		FROM stripe_subscriptions
		WHERE user_id = $1`, userID,
	).Scan(&sub.UserID, &sub.SubscriptionID, &sub.CustomerID, &status, &sub.CurrentPeriodEnd, &sub.UpdatedAt)
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sub.Status = domain.SubscriptionStatus(status)
	if sub.CurrentPeriodEnd != nil {
		utc := sub.CurrentPeriodEnd.UTC()
		sub.CurrentPeriodEnd = &utc
	}
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	return sub, nil
}

var _ domain.SubscriptionRepository = (*PostgresSubscriptionRepository)(nil)
