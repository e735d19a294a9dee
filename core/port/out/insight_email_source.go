package out

import (
	"context"
	"time"

	"insight_server/core/domain"
)

// EmailSource returns the complete mailbox window. Pagination is internal.
type EmailSource interface {
	FetchAllSince(ctx context.Context, window time.Duration) ([]*domain.RawEmail, error)
}

// EmailParser turns a raw provider message into an EmailRecord.
// Parse is total: missing fields become empty strings.
type EmailParser interface {
	Parse(raw *domain.RawEmail) domain.EmailRecord
}
