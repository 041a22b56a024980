package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"unicity-proxy.backend/internal/domain/entities"
)

type PaymentSessionRepository interface {
	// Create inserts a pending session. ErrPendingSession when the per-key
	// pending-unique index rejects a second concurrent session.
	Create(ctx context.Context, session *entities.PaymentSession) error
	FindByID(ctx context.Context, id uuid.UUID) (*entities.PaymentSession, error)
	// FindByIDForUpdate takes the session row lock with NOWAIT semantics;
	// ErrLockNotAvailable on contention.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entities.PaymentSession, error)
	Update(ctx context.Context, session *entities.PaymentSession) error
	// CancelPendingForKey moves every pending session of the key to
	// cancelled and stamps CancelledAt.
	CancelPendingForKey(ctx context.Context, apiKey string, now time.Time) error
	// RecordCompletionRequest stores the blockchain request id and the raw
	// completion payload iff the row carries no different values yet.
	// Returns false when the session exists but already stores a different
	// completion request. ErrDuplicateRequestID when the request id is
	// taken by another session.
	RecordCompletionRequest(ctx context.Context, id uuid.UUID, requestID, requestJSON string, now time.Time) (bool, error)
	// ExpirePendingBefore marks pending sessions whose ExpiresAt has passed
	// as expired and returns how many rows changed.
	ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
