package store

import (
	"context"
	"fmt"
)

// Migrate brings the api_keys table up to date. Statements that fail because
// their object already exists count as applied. Optional statements that
// fail for any other reason are logged and skipped; required ones abort.
func (s *SQLStore) Migrate(ctx context.Context) error {
	applied := 0
	for i, m := range s.dialect.Migrations {
		if _, err := s.db.ExecContext(ctx, m.SQL); err != nil {
			if s.dialect.IsAlreadyApplied != nil && s.dialect.IsAlreadyApplied(err) {
				continue
			}
			if m.Optional {
				s.logger.Warn("optional migration step skipped",
					"store", s.dialect.Name,
					"step", i+1,
					"error", err,
				)
				continue
			}
			return fmt.Errorf("migration step %d failed: %w\nSQL: %s", i+1, err, m.SQL)
		}
		applied++
	}

	s.logger.Debug("store migrated", "store", s.dialect.Name, "steps", len(s.dialect.Migrations), "applied", applied)
	return nil
}
