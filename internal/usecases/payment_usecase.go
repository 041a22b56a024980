package usecases

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
	"go.uber.org/zap"
	"unicity-proxy.backend/internal/domain/entities"
	domainerrors "unicity-proxy.backend/internal/domain/errors"
	"unicity-proxy.backend/internal/domain/repositories"
	"unicity-proxy.backend/internal/infrastructure/blockchain"
	"unicity-proxy.backend/pkg/clock"
	"unicity-proxy.backend/pkg/logger"
	"unicity-proxy.backend/pkg/metrics"
	"unicity-proxy.backend/pkg/utils"
)

const (
	// SessionValidity is the payment window of a pending session.
	SessionValidity = 15 * time.Minute
	// SubscriptionDuration is how long a paid subscription runs.
	SubscriptionDuration = 30 * 24 * time.Hour

	submitTimeout    = 30 * time.Second
	inclusionTimeout = 60 * time.Second
)

// PaymentConfig carries the chain-facing knobs of the payment engine.
type PaymentConfig struct {
	ServerSecret   []byte
	AcceptedCoinID blockchain.CoinID
	MinimumPayment *big.Int
	TokenTypeName  string
}

// PaymentUsecase owns the payment session lifecycle: initiation with
// pro-rated upgrade pricing and the two-phase on-chain completion.
type PaymentUsecase struct {
	keys      repositories.ApiKeyRepository
	plans     repositories.PricingPlanRepository
	sessions  repositories.PaymentSessionRepository
	uow       repositories.UnitOfWork
	sdk       blockchain.TokenSDK
	trustBase *blockchain.TrustBase
	cfg       PaymentConfig
	clk       clock.Clock
	// onKeyChanged is called after a key gains or changes its plan so the
	// auth cache can drop stale (often negative) entries.
	onKeyChanged func(key string)
}

func NewPaymentUsecase(
	keys repositories.ApiKeyRepository,
	plans repositories.PricingPlanRepository,
	sessions repositories.PaymentSessionRepository,
	uow repositories.UnitOfWork,
	sdk blockchain.TokenSDK,
	trustBase *blockchain.TrustBase,
	cfg PaymentConfig,
	clk clock.Clock,
	onKeyChanged func(key string),
) *PaymentUsecase {
	if clk == nil {
		clk = clock.System()
	}
	if cfg.MinimumPayment == nil {
		cfg.MinimumPayment = big.NewInt(0)
	}
	if onKeyChanged == nil {
		onKeyChanged = func(string) {}
	}
	return &PaymentUsecase{
		keys:         keys,
		plans:        plans,
		sessions:     sessions,
		uow:          uow,
		sdk:          sdk,
		trustBase:    trustBase,
		cfg:          cfg,
		clk:          clk,
		onKeyChanged: onKeyChanged,
	}
}

// InitiatePaymentInput starts a purchase (ApiKey empty) or an upgrade.
type InitiatePaymentInput struct {
	ApiKey       string
	TargetPlanID int64
}

// InitiatePaymentOutput is the client's payment instruction.
type InitiatePaymentOutput struct {
	SessionID      uuid.UUID `json:"sessionId"`
	PaymentAddress string    `json:"paymentAddress"`
	AmountRequired *big.Int  `json:"amountRequired"`
	RefundAmount   *big.Int  `json:"refundAmount"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// InitiatePayment opens a pending payment session. For an upgrade the caller's
// key row is locked first so concurrent initiations serialize, any previous
// pending session of the key is cancelled, and the unused remainder of the
// current subscription is credited against the new plan's price.
func (uc *PaymentUsecase) InitiatePayment(ctx context.Context, input InitiatePaymentInput) (*InitiatePaymentOutput, error) {
	var out *InitiatePaymentOutput
	err := uc.uow.Do(ctx, func(txCtx context.Context) error {
		now := uc.clk.Now()

		var existing *entities.ApiKey
		if input.ApiKey != "" {
			key, err := uc.keys.LockForUpdate(txCtx, input.ApiKey)
			if err != nil {
				switch {
				case errors.Is(err, domainerrors.ErrNotFound):
					return domainerrors.BadRequest("Unknown API key")
				case errors.Is(err, domainerrors.ErrLockNotAvailable):
					return domainerrors.Conflict("API key is busy with another payment operation")
				}
				return err
			}
			if key.Status == entities.ApiKeyStatusRevoked {
				return domainerrors.BadRequest("API key is revoked")
			}
			existing = key
		}

		plan, err := uc.plans.FindByID(txCtx, input.TargetPlanID)
		if err != nil {
			if errors.Is(err, domainerrors.ErrNotFound) {
				return domainerrors.BadRequest("Unknown pricing plan")
			}
			return err
		}

		if existing != nil {
			if err := uc.sessions.CancelPendingForKey(txCtx, existing.Key, now); err != nil {
				return err
			}
		}

		nonce, err := utils.RandomBytes(32)
		if err != nil {
			return err
		}
		predicate := blockchain.DeriveMaskedPredicate(uc.cfg.ServerSecret, nonce, uc.cfg.TokenTypeName)

		expiresAt := now.Add(SessionValidity)
		refund := uc.proRatedRefund(txCtx, existing, expiresAt)
		amount := new(big.Int).Sub(plan.Price, refund)
		if amount.Cmp(uc.cfg.MinimumPayment) < 0 {
			amount = new(big.Int).Set(uc.cfg.MinimumPayment)
		}

		session := &entities.PaymentSession{
			ID:              utils.GenerateUUIDv7(),
			PaymentAddress:  predicate.Address(),
			ReceiverNonce:   nonce,
			Status:          entities.SessionStatusPending,
			TargetPlanID:    plan.ID,
			AmountRequired:  amount,
			CreatedAt:       now,
			ExpiresAt:       expiresAt,
			ShouldCreateKey: existing == nil,
			RefundAmount:    refund,
		}
		if existing != nil {
			session.ApiKey = null.StringFrom(existing.Key)
		}

		if err := uc.sessions.Create(txCtx, session); err != nil {
			if errors.Is(err, domainerrors.ErrPendingSession) {
				return domainerrors.Conflict("A pending payment session already exists for this API key")
			}
			return err
		}

		out = &InitiatePaymentOutput{
			SessionID:      session.ID,
			PaymentAddress: session.PaymentAddress,
			AmountRequired: session.AmountRequired,
			RefundAmount:   session.RefundAmount,
			ExpiresAt:      session.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// proRatedRefund credits the unused subscription time of the caller's current
// plan, measured from the moment the payment window closes so the credit never
// exceeds what will actually remain.
func (uc *PaymentUsecase) proRatedRefund(ctx context.Context, key *entities.ApiKey, sessionEnd time.Time) *big.Int {
	zero := new(big.Int)
	if key == nil || !key.PricingPlanID.Valid || !key.ActiveUntil.Valid {
		return zero
	}
	remaining := key.ActiveUntil.Time.Sub(sessionEnd)
	if remaining <= 0 {
		return zero
	}
	currentPlan, err := uc.plans.FindByID(ctx, key.PricingPlanID.Int64)
	if err != nil {
		logger.Warn(ctx, "refund skipped, current plan unavailable",
			zap.Int64("planId", key.PricingPlanID.Int64), zap.Error(err))
		return zero
	}
	refund := new(big.Int).Mul(currentPlan.Price, big.NewInt(remaining.Milliseconds()))
	return refund.Div(refund, big.NewInt(SubscriptionDuration.Milliseconds()))
}

// CompletePaymentInput carries the raw client payloads of completePayment.
type CompletePaymentInput struct {
	SessionID              uuid.UUID
	TransferCommitmentJSON []byte
	SourceTokenJSON        []byte
}

// CompletePaymentOutput is the final verdict of a completion attempt. Success
// false with a message maps to a payment-required response, not an error.
type CompletePaymentOutput struct {
	Success      bool      `json:"success"`
	Message      string    `json:"message"`
	ApiKey       string    `json:"apiKey,omitempty"`
	TargetPlanID int64     `json:"targetPlanId,omitempty"`
	ActiveUntil  time.Time `json:"activeUntil,omitempty"`
}

// CompletePayment settles a pending session against the chain in two phases.
// Phase one durably binds the blockchain request id and the verbatim payload
// to the session, so a crashed attempt can be retried with the same input and
// any other input is rejected. Phase two locks api_keys before
// payment_sessions, drives the token SDK, and persists the outcome in the
// same transaction.
func (uc *PaymentUsecase) CompletePayment(ctx context.Context, input CompletePaymentInput) (*CompletePaymentOutput, error) {
	commitment, err := blockchain.ParseTransferCommitment(input.TransferCommitmentJSON)
	if err != nil {
		return nil, domainerrors.BadRequest(err.Error())
	}
	sourceToken, err := blockchain.ParseToken(input.SourceTokenJSON)
	if err != nil {
		return nil, domainerrors.BadRequest(err.Error())
	}

	// Phase one: record the completion request before any chain interaction.
	err = uc.uow.Do(ctx, func(txCtx context.Context) error {
		matched, err := uc.sessions.RecordCompletionRequest(
			txCtx, input.SessionID, commitment.RequestID, string(input.TransferCommitmentJSON), uc.clk.Now())
		if err != nil {
			switch {
			case errors.Is(err, domainerrors.ErrNotFound):
				return domainerrors.NotFound("Unknown payment session")
			case errors.Is(err, domainerrors.ErrDuplicateRequestID):
				return domainerrors.Conflict("Token has already been used for another payment")
			}
			return err
		}
		if !matched {
			return domainerrors.Conflict("A different completion request is already recorded for this session")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Phase two: settle under locks.
	var out *CompletePaymentOutput
	err = uc.uow.Do(ctx, func(txCtx context.Context) error {
		preview, err := uc.sessions.FindByID(txCtx, input.SessionID)
		if err != nil {
			if errors.Is(err, domainerrors.ErrNotFound) {
				return domainerrors.NotFound("Unknown payment session")
			}
			return err
		}

		// Lock order is api_keys first, then payment_sessions. Every writer
		// follows it, so NOWAIT failures mean contention, never deadlock.
		if preview.ApiKey.Valid {
			if _, err := uc.keys.LockForUpdate(txCtx, preview.ApiKey.String); err != nil {
				if errors.Is(err, domainerrors.ErrLockNotAvailable) {
					return domainerrors.Conflict("Payment is already being processed")
				}
				return err
			}
		}
		session, err := uc.sessions.FindByIDForUpdate(txCtx, input.SessionID)
		if err != nil {
			if errors.Is(err, domainerrors.ErrLockNotAvailable) {
				return domainerrors.Conflict("Payment is already being processed")
			}
			return err
		}

		if session.Status != entities.SessionStatusPending {
			if session.Status == entities.SessionStatusCompleted {
				// Verbatim retry of an already settled session replays the
				// stored outcome.
				out = &CompletePaymentOutput{
					Success:      true,
					Message:      "Payment already completed",
					ApiKey:       session.ApiKey.String,
					TargetPlanID: session.TargetPlanID,
				}
				return nil
			}
			out = &CompletePaymentOutput{Success: false, Message: "Session is not pending"}
			return nil
		}

		now := uc.clk.Now()
		if session.ExpiredAt(now) {
			session.Status = entities.SessionStatusExpired
			if err := uc.sessions.Update(txCtx, session); err != nil {
				return err
			}
			out = &CompletePaymentOutput{Success: false, Message: "Payment session has expired"}
			return nil
		}

		received, failMsg, err := uc.settleOnChain(txCtx, session, commitment, sourceToken)
		if err != nil {
			return err
		}
		if failMsg != "" {
			session.Status = entities.SessionStatusFailed
			if err := uc.sessions.Update(txCtx, session); err != nil {
				return err
			}
			logger.Warn(txCtx, "payment completion failed",
				zap.String("sessionId", session.ID.String()), zap.String("reason", failMsg))
			out = &CompletePaymentOutput{Success: false, Message: failMsg}
			return nil
		}

		activeUntil := now.Add(SubscriptionDuration)
		finalKey, err := uc.activateSubscription(txCtx, session, activeUntil, now)
		if err != nil {
			return err
		}

		session.Status = entities.SessionStatusCompleted
		session.CompletedAt = null.TimeFrom(now)
		session.TokenReceived = null.StringFrom(string(received.Raw))
		if err := uc.sessions.Update(txCtx, session); err != nil {
			return err
		}

		out = &CompletePaymentOutput{
			Success:      true,
			Message:      "Payment completed",
			ApiKey:       finalKey,
			TargetPlanID: session.TargetPlanID,
			ActiveUntil:  activeUntil,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Success && out.ApiKey != "" {
		uc.onKeyChanged(out.ApiKey)
		metrics.PaymentOutcomes.WithLabelValues("completed").Inc()
		logger.Info(ctx, "payment completed",
			zap.String("sessionId", input.SessionID.String()),
			zap.Int64("planId", out.TargetPlanID))
	} else if !out.Success {
		metrics.PaymentOutcomes.WithLabelValues("failed").Inc()
	}
	return out, nil
}

// settleOnChain runs the SDK sequence and verifies the received payment.
// A non-empty failMsg is a business rejection to persist as failed; err is an
// infrastructure fault that must roll the transaction back.
func (uc *PaymentUsecase) settleOnChain(ctx context.Context, session *entities.PaymentSession, commitment *blockchain.TransferCommitment, sourceToken *blockchain.Token) (received *blockchain.Token, failMsg string, err error) {
	submitCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()
	status, err := uc.sdk.SubmitCommitment(submitCtx, commitment)
	if err != nil || status != blockchain.SubmitSuccess {
		if err != nil {
			logger.Warn(ctx, "commitment submission failed", zap.Error(err))
		}
		return nil, "Commitment submission failed", nil
	}

	proofCtx, cancel := context.WithTimeout(ctx, inclusionTimeout)
	defer cancel()
	proof, err := uc.sdk.WaitInclusionProof(proofCtx, commitment)
	if err != nil {
		logger.Warn(ctx, "inclusion proof not received", zap.Error(err))
		return nil, "Inclusion proof not received in time", nil
	}

	predicate := blockchain.DeriveMaskedPredicate(uc.cfg.ServerSecret, session.ReceiverNonce, uc.cfg.TokenTypeName)
	received, err = uc.sdk.FinalizeTransaction(ctx, sourceToken, commitment, proof, predicate)
	if err != nil {
		logger.Warn(ctx, "transfer finalization failed", zap.Error(err))
		return nil, "Failed to finalize token transfer", nil
	}

	if err := uc.sdk.Verify(ctx, received, uc.trustBase); err != nil {
		logger.Warn(ctx, "token verification failed", zap.Error(err))
		return nil, "Token verification failed", nil
	}
	if !received.OnlyCoin(uc.cfg.AcceptedCoinID) {
		return nil, fmt.Sprintf("Payment must consist solely of coin %s", uc.cfg.AcceptedCoinID), nil
	}

	paid := received.SumCoins(uc.cfg.AcceptedCoinID)
	switch paid.Cmp(session.AmountRequired) {
	case -1:
		return nil, fmt.Sprintf("Insufficient payment: received %s, required %s", paid, session.AmountRequired), nil
	case 1:
		return nil, "Overpayment not accepted. Please send the exact amount", nil
	}
	return received, "", nil
}

// activateSubscription creates or re-plans the key under the already held
// locks. ActiveUntil is set absolutely, never extended, so back-to-back
// upgrades cannot stack subscription time.
func (uc *PaymentUsecase) activateSubscription(ctx context.Context, session *entities.PaymentSession, activeUntil, now time.Time) (string, error) {
	if session.ShouldCreateKey {
		keyString, err := utils.GenerateApiKey()
		if err != nil {
			return "", err
		}
		apiKey := &entities.ApiKey{
			Key:           keyString,
			Description:   "created by payment session " + session.ID.String(),
			Status:        entities.ApiKeyStatusActive,
			PricingPlanID: null.Int64From(session.TargetPlanID),
			ActiveUntil:   null.TimeFrom(activeUntil),
			CreatedAt:     now,
		}
		if err := uc.keys.Create(ctx, apiKey); err != nil {
			return "", err
		}
		session.ApiKey = null.StringFrom(keyString)
		return keyString, nil
	}

	apiKey, err := uc.keys.FindByKey(ctx, session.ApiKey.String)
	if err != nil {
		return "", err
	}
	apiKey.PricingPlanID = null.Int64From(session.TargetPlanID)
	apiKey.ActiveUntil = null.TimeFrom(activeUntil)
	if err := uc.keys.Update(ctx, apiKey); err != nil {
		return "", err
	}
	return apiKey.Key, nil
}

// ListPlans returns every plan with the price floored at the minimum payment,
// so clients always see the amount a fresh purchase would actually require.
func (uc *PaymentUsecase) ListPlans(ctx context.Context) ([]*entities.PricingPlan, error) {
	plans, err := uc.plans.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range plans {
		if p.Price.Cmp(uc.cfg.MinimumPayment) < 0 {
			p.Price = new(big.Int).Set(uc.cfg.MinimumPayment)
		}
	}
	return plans, nil
}

// KeyStatusOutput is the public view of one API key's subscription.
type KeyStatusOutput struct {
	Key         string     `json:"key"`
	Status      string     `json:"status"`
	PlanID      *int64     `json:"planId,omitempty"`
	ActiveUntil *time.Time `json:"activeUntil,omitempty"`
	Effective   bool       `json:"effective"`
}

// KeyStatus reports the subscription state of a key. Revoked keys are
// indistinguishable from unknown ones.
func (uc *PaymentUsecase) KeyStatus(ctx context.Context, key string) (*KeyStatusOutput, error) {
	apiKey, err := uc.keys.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) {
			return nil, domainerrors.NotFound("Unknown API key")
		}
		return nil, err
	}
	if apiKey.Status == entities.ApiKeyStatusRevoked {
		return nil, domainerrors.NotFound("Unknown API key")
	}

	out := &KeyStatusOutput{
		Key:       apiKey.Key,
		Status:    string(apiKey.Status),
		Effective: apiKey.EffectiveAt(uc.clk.Now()),
	}
	if apiKey.PricingPlanID.Valid {
		out.PlanID = &apiKey.PricingPlanID.Int64
	}
	if apiKey.ActiveUntil.Valid {
		t := apiKey.ActiveUntil.Time
		out.ActiveUntil = &t
	}
	return out, nil
}
