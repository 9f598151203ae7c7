package storage

import "context"

// CountRoles exposes the role row count for cascade tests.
func (s *SQLiteStore) CountRoles(ctx context.Context, id string) (int, error) {
	return s.countRoles(ctx, id)
}
