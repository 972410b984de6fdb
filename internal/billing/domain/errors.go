package domain

import "errors"

var (
	// ErrInvalidUserID is returned for the zero identity.
	ErrInvalidUserID = errors.New("billing: user id is required")

	// ErrSchemaOutdated means the store lacks the lifecycle columns
	// (expiry, override, customer id, notes); only the basic model is readable.
	ErrSchemaOutdated = errors.New("billing: entitlement schema is not migrated")

	// ErrProRequired is returned when a gated feature is used without effective Pro.
	ErrProRequired = errors.New("billing: pro plan required")
)
