package persistence

import (
	"database/sql"
	"fmt"

	"github.com/felixgeelhaar/coachpage/internal/billing/domain"
	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/database"
)

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// classify maps a missing lifecycle column to domain.ErrSchemaOutdated.
func classify(err error) error {
	if database.IsUndefinedColumn(err) {
		return fmt.Errorf("%w: %v", domain.ErrSchemaOutdated, err)
	}
	return err
}
