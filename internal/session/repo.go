package session

import "context"

// Repo is durable keyed storage for one TaskSession per user.
type Repo interface {
	Get(ctx context.Context, userID string) (TaskSession, bool, error)
	Upsert(ctx context.Context, userID string, s TaskSession) error
	Delete(ctx context.Context, userID string) error
}
