package repositories

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"unicity-proxy.backend/internal/domain/entities"
	domainerrors "unicity-proxy.backend/internal/domain/errors"
	"unicity-proxy.backend/internal/infrastructure/models"
)

// PaymentSessionRepository implements payment session data operations
type PaymentSessionRepository struct {
	db *gorm.DB
}

// NewPaymentSessionRepository creates a new payment session repository
func NewPaymentSessionRepository(db *gorm.DB) *PaymentSessionRepository {
	return &PaymentSessionRepository{db: db}
}

func (r *PaymentSessionRepository) Create(ctx context.Context, session *entities.PaymentSession) error {
	m := sessionToModel(session)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrPendingSession
		}
		return err
	}
	session.CreatedAt = m.CreatedAt
	return nil
}

func (r *PaymentSessionRepository) FindByID(ctx context.Context, id uuid.UUID) (*entities.PaymentSession, error) {
	var m models.PaymentSession
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return sessionToEntity(&m)
}

func (r *PaymentSessionRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entities.PaymentSession, error) {
	var m models.PaymentSession
	db := GetDB(ctx, r.db)
	q := db.WithContext(ctx).Where("id = ?", id)
	if db.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "NOWAIT"})
	}
	if err := q.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		if isLockNotAvailable(err) {
			return nil, domainerrors.ErrLockNotAvailable
		}
		return nil, err
	}
	return sessionToEntity(&m)
}

func (r *PaymentSessionRepository) Update(ctx context.Context, session *entities.PaymentSession) error {
	m := sessionToModel(session)
	db := GetDB(ctx, r.db)
	res := db.WithContext(ctx).Model(&models.PaymentSession{}).Where("id = ?", session.ID).
		Updates(map[string]interface{}{
			"api_key":        m.ApiKey,
			"status":         m.Status,
			"token_received": m.TokenReceived,
			"completed_at":   m.CompletedAt,
			"cancelled_at":   m.CancelledAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	return nil
}

func (r *PaymentSessionRepository) CancelPendingForKey(ctx context.Context, apiKey string, now time.Time) error {
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Model(&models.PaymentSession{}).
		Where("api_key = ? AND status = ?", apiKey, string(entities.SessionStatusPending)).
		Updates(map[string]interface{}{
			"status":       string(entities.SessionStatusCancelled),
			"cancelled_at": now,
		}).Error
}

// RecordCompletionRequest is the idempotent phase-1 write of completePayment.
// The WHERE clause only matches when the row holds no conflicting values, so
// a verbatim retry matches again while a different payload matches nothing.
func (r *PaymentSessionRepository) RecordCompletionRequest(ctx context.Context, id uuid.UUID, requestID, requestJSON string, now time.Time) (bool, error) {
	db := GetDB(ctx, r.db)
	res := db.WithContext(ctx).Model(&models.PaymentSession{}).
		Where("id = ?", id).
		Where("request_id IS NULL OR request_id = ?", requestID).
		Where("completion_request_json IS NULL OR completion_request_json = ?", requestJSON).
		Updates(map[string]interface{}{
			"request_id":                   requestID,
			"completion_request_json":      requestJSON,
			"completion_request_timestamp": now,
		})
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return false, domainerrors.ErrDuplicateRequestID
		}
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := db.WithContext(ctx).Model(&models.PaymentSession{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return false, err
		}
		if count == 0 {
			return false, domainerrors.ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

func (r *PaymentSessionRepository) ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	db := GetDB(ctx, r.db)
	res := db.WithContext(ctx).Model(&models.PaymentSession{}).
		Where("status = ? AND expires_at < ?", string(entities.SessionStatusPending), cutoff).
		Update("status", string(entities.SessionStatusExpired))
	return res.RowsAffected, res.Error
}

func sessionToEntity(m *models.PaymentSession) (*entities.PaymentSession, error) {
	amount, ok := new(big.Int).SetString(m.AmountRequired, 10)
	if !ok {
		return nil, fmt.Errorf("session %s: malformed amount %q", m.ID, m.AmountRequired)
	}
	refund, ok := new(big.Int).SetString(m.RefundAmount, 10)
	if !ok {
		return nil, fmt.Errorf("session %s: malformed refund %q", m.ID, m.RefundAmount)
	}
	return &entities.PaymentSession{
		ID:                         m.ID,
		ApiKey:                     null.StringFromPtr(m.ApiKey),
		PaymentAddress:             m.PaymentAddress,
		ReceiverNonce:              m.ReceiverNonce,
		Status:                     entities.SessionStatus(m.Status),
		TargetPlanID:               m.TargetPlanID,
		AmountRequired:             amount,
		TokenReceived:              null.StringFromPtr(m.TokenReceived),
		CreatedAt:                  m.CreatedAt,
		CompletedAt:                null.TimeFromPtr(m.CompletedAt),
		CancelledAt:                null.TimeFromPtr(m.CancelledAt),
		ExpiresAt:                  m.ExpiresAt,
		ShouldCreateKey:            m.ShouldCreateKey,
		RefundAmount:               refund,
		RequestID:                  null.StringFromPtr(m.RequestID),
		CompletionRequestJSON:      null.StringFromPtr(m.CompletionRequestJSON),
		CompletionRequestTimestamp: null.TimeFromPtr(m.CompletionRequestTimestamp),
	}, nil
}

func sessionToModel(e *entities.PaymentSession) *models.PaymentSession {
	refund := "0"
	if e.RefundAmount != nil {
		refund = e.RefundAmount.String()
	}
	amount := "0"
	if e.AmountRequired != nil {
		amount = e.AmountRequired.String()
	}
	return &models.PaymentSession{
		ID:                         e.ID,
		ApiKey:                     e.ApiKey.Ptr(),
		PaymentAddress:             e.PaymentAddress,
		ReceiverNonce:              e.ReceiverNonce,
		Status:                     string(e.Status),
		TargetPlanID:               e.TargetPlanID,
		AmountRequired:             amount,
		TokenReceived:              e.TokenReceived.Ptr(),
		CreatedAt:                  e.CreatedAt,
		CompletedAt:                e.CompletedAt.Ptr(),
		CancelledAt:                e.CancelledAt.Ptr(),
		ExpiresAt:                  e.ExpiresAt,
		ShouldCreateKey:            e.ShouldCreateKey,
		RefundAmount:               refund,
		RequestID:                  e.RequestID.Ptr(),
		CompletionRequestJSON:      e.CompletionRequestJSON.Ptr(),
		CompletionRequestTimestamp: e.CompletionRequestTimestamp.Ptr(),
	}
}
