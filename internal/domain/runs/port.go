package runs

import "context"

// Repository persists the run ledger.
type Repository interface {
	Save(ctx context.Context, r *Record) error
	// Latest returns up to limit records for userID, newest first. An empty
	// userID selects records saved without a user.
	Latest(ctx context.Context, userID string, limit int) ([]*Record, error)
}
