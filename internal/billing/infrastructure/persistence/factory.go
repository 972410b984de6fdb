package persistence

import (
	"fmt"

	"github.com/felixgeelhaar/coachpage/internal/billing/domain"
	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/database"
)

// NewEntitlementRepository returns the repository matching the connection's backend.
func NewEntitlementRepository(conn database.Connection) (domain.EntitlementRepository, error) {
	switch conn.Driver() {
	case database.DriverPostgres:
		return NewPostgresEntitlementRepository(conn), nil
	case database.DriverSQLite:
		return NewSQLiteEntitlementRepository(conn), nil
	default:
		return nil, fmt.Errorf("no entitlement repository for driver %s", conn.Driver())
	}
}

// NewSubscriptionRepository returns the subscription store for the connection's backend.
func NewSubscriptionRepository(conn database.Connection) (domain.SubscriptionRepository, error) {
	switch conn.Driver() {
	case database.DriverPostgres:
		return NewPostgresSubscriptionRepository(conn), nil
	case database.DriverSQLite:
		return NewSQLiteSubscriptionRepository(conn), nil
	default:
		return nil, fmt.Errorf("no subscription repository for driver %s", conn.Driver())
	}
}
