package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/studkg/cashier/internal/app/service/referral"
	models "github.com/studkg/cashier/internal/models"
	"github.com/studkg/cashier/pkg/config"
	"github.com/studkg/cashier/pkg/logctx"
	"github.com/studkg/cashier/pkg/tool"
	types "github.com/studkg/cashier/pkg/types"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrUserNotFound         = errors.New("user not found")
	// ErrNoOwner means a succeeded payment has neither a user nor a pending registration.
	ErrNoOwner = errors.New("subscription has no owner")
)

// errNotPending aborts a transition whose compare-and-set found the row
// already finalized.
var errNotPending = errors.New("subscription is not pending")

type Service struct {
	cfg       *config.Config
	db        *gorm.DB
	log       *zap.SugaredLogger
	referrals *referral.Service
	now       func() time.Time
}

func NewService(cfg *config.Config, db *gorm.DB, log *zap.SugaredLogger, referrals *referral.Service) *Service {
	return &Service{
		cfg:       cfg,
		db:        db,
		log:       log,
		referrals: referrals,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// TransitionResult describes a status change attempt. Applied is false when
// another delivery already finalized the row; nothing was changed then.
type TransitionResult struct {
	Applied      bool
	Subscription *models.Subscription
	User         *models.User
	// UserCreated is set when a pending registration became a user.
	UserCreated bool
}

// Lookup is the outcome of matching a notification to a stored payment.
type Lookup struct {
	Subscription *models.Subscription
	// Conflict is set when the two identifiers pointed at different rows.
	Conflict bool
}

func (s *Service) findOne(ctx context.Context, query string, arg string) (*models.Subscription, error) {
	if arg == "" {
		return nil, nil
	}
	var sub models.Subscription
	err := s.db.WithContext(ctx).Where(query, arg).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return &sub, nil
}

// FindForNotification resolves the payment a notification refers to. The
// gateway may echo either identifier; a transaction id match wins when the
// two disagree.
func (s *Service) FindForNotification(ctx context.Context, id, transactionID string) (*Lookup, error) {
	byTransaction, err := s.findOne(ctx, "transaction_id = ?", transactionID)
	if err != nil {
		return nil, err
	}
	byPayment, err := s.findOne(ctx, "payment_id = ?", id)
	if err != nil {
		return nil, err
	}
	if byPayment == nil && transactionID != id {
		if byPayment, err = s.findOne(ctx, "payment_id = ?", transactionID); err != nil {
			return nil, err
		}
	}

	switch {
	case byTransaction != nil && byPayment != nil && byTransaction.ID != byPayment.ID:
		logctx.FromCtx(ctx, s.log).Warnw("notification_ids_disagree",
			"id", id, "transaction_id", transactionID,
			"by_transaction", byTransaction.ID, "by_payment", byPayment.ID)
		return &Lookup{Subscription: byTransaction, Conflict: true}, nil
	case byTransaction != nil:
		return &Lookup{Subscription: byTransaction}, nil
	case byPayment != nil:
		return &Lookup{Subscription: byPayment}, nil
	}
	return nil, ErrSubscriptionNotFound
}

func (s *Service) GetByPaymentID(ctx context.Context, paymentID string) (*models.Subscription, error) {
	sub, err := s.findOne(ctx, "payment_id = ?", paymentID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

// CreatePending stores a subscription awaiting gateway confirmation.
func (s *Service) CreatePending(ctx context.Context, sub *models.Subscription) error {
	if sub.ID == "" {
		sub.ID = tool.GenerateUUIDV7()
	}
	sub.PaymentStatus = types.PaymentStatusPending
	sub.IsActive = false
	if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("failed to create pending subscription: %w", err)
	}
	return nil
}

// DeletePending removes a pending row whose gateway call failed.
func (s *Service) DeletePending(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).
		Where("id = ? AND payment_status = ?", id, types.PaymentStatusPending).
		Delete(&models.Subscription{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete pending subscription: %w", err)
	}
	return nil
}

// SetPaymentURL records where the payer was sent. Best effort.
func (s *Service) SetPaymentURL(ctx context.Context, sub *models.Subscription, url, gatewayPaymentID string) error {
	extra := sub.Extra.Data()
	extra.PaymentURL = url
	extra.GatewayPaymentID = gatewayPaymentID
	sub.Extra = datatypes.NewJSONType(extra)
	return s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ?", sub.ID).
		Update("extra", sub.Extra).Error
}

// ConfirmPayment moves a pending subscription to succeeded and activates the
// owner's entitlement, all in one transaction.
func (s *Service) ConfirmPayment(ctx context.Context, subscriptionID, transactionID string) (*TransitionResult, error) {
	log := logctx.FromCtx(ctx, s.log).With("subscription_id", subscriptionID)
	result := &TransitionResult{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		before, err := loadForUpdate(tx, subscriptionID)
		if err != nil {
			return err
		}

		updates := map[string]any{"payment_status": types.PaymentStatusSucceeded}
		if transactionID != "" {
			updates["transaction_id"] = transactionID
		}
		res := tx.Model(&models.Subscription{}).
			Where("id = ? AND payment_status = ?", subscriptionID, types.PaymentStatusPending).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to mark subscription succeeded: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errNotPending
		}

		sub, err := loadForUpdate(tx, subscriptionID)
		if err != nil {
			return err
		}

		user, created, err := s.resolveOwner(ctx, tx, sub)
		if err != nil {
			return err
		}
		result.User, result.UserCreated = user, created

		if err := s.activate(ctx, tx, sub, user); err != nil {
			return err
		}
		result.Subscription = sub

		return writeLog(tx, before, sub, types.SubscriptionChangeReasonPaymentSucceeded, map[string]any{
			"transaction_id": transactionID,
			"user_created":   created,
		})
	})
	if errors.Is(err, errNotPending) {
		log.Infow("confirm_payment_duplicate")
		return &TransitionResult{Applied: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to confirm payment: %w", err)
	}
	result.Applied = true
	log.Infow("confirm_payment_applied", "user_id", result.User.ID, "end_date", result.Subscription.EndDate)
	return result, nil
}

// FailPayment moves a pending subscription to failed. The entitlement is untouched.
func (s *Service) FailPayment(ctx context.Context, subscriptionID, transactionID string) (*TransitionResult, error) {
	result := &TransitionResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		before, err := loadForUpdate(tx, subscriptionID)
		if err != nil {
			return err
		}
		updates := map[string]any{"payment_status": types.PaymentStatusFailed, "is_active": false}
		if transactionID != "" {
			updates["transaction_id"] = transactionID
		}
		res := tx.Model(&models.Subscription{}).
			Where("id = ? AND payment_status = ?", subscriptionID, types.PaymentStatusPending).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to mark subscription failed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errNotPending
		}
		after, err := loadForUpdate(tx, subscriptionID)
		if err != nil {
			return err
		}
		result.Subscription = after
		return writeLog(tx, before, after, types.SubscriptionChangeReasonPaymentFailed, map[string]any{
			"transaction_id": transactionID,
		})
	})
	if errors.Is(err, errNotPending) {
		return &TransitionResult{Applied: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fail payment: %w", err)
	}
	result.Applied = true
	return result, nil
}

// RecordTransactionID stores the gateway id of a payment still in progress.
func (s *Service) RecordTransactionID(ctx context.Context, subscriptionID, transactionID string) error {
	if transactionID == "" {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND payment_status = ?", subscriptionID, types.PaymentStatusPending).
		Update("transaction_id", transactionID).Error
	if err != nil {
		return fmt.Errorf("failed to record transaction id: %w", err)
	}
	return nil
}

// CountOtherSucceeded counts the user's succeeded subscriptions except excludeID.
func (s *Service) CountOtherSucceeded(ctx context.Context, userID, excludeID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("user_id = ? AND id <> ? AND payment_status = ?", userID, excludeID, types.PaymentStatusSucceeded).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	return n, nil
}

// CreatePrepaid stores a subscription fully covered by discounts and bonus
// and activates it immediately.
func (s *Service) CreatePrepaid(ctx context.Context, sub *models.Subscription) (*TransitionResult, error) {
	if sub.UserID == nil {
		return nil, ErrNoOwner
	}
	if sub.ID == "" {
		sub.ID = tool.GenerateUUIDV7()
	}
	sub.PaymentStatus = types.PaymentStatusSucceeded

	result := &TransitionResult{Applied: true, Subscription: sub}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, "id = ?", *sub.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("failed to load user: %w", err)
		}
		if err := tx.Create(sub).Error; err != nil {
			return fmt.Errorf("failed to create subscription: %w", err)
		}
		if err := s.activate(ctx, tx, sub, &user); err != nil {
			return err
		}
		result.User = &user
		return writeLog(tx, nil, sub, types.SubscriptionChangeReasonBonusPurchase, nil)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetUserEntitlement reads the user's current paid window.
func (s *Service) GetUserEntitlement(ctx context.Context, userID string) (*types.UserEntitlement, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &types.UserEntitlement{
		UserID:       user.ID,
		IsSubscribed: user.IsSubscribed,
		EndDate:      user.SubscriptionEndDate,
		Active:       user.Entitled(s.now()),
	}, nil
}

func loadForUpdate(tx *gorm.DB, id string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := tx.First(&sub, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return &sub, nil
}

// resolveOwner returns the paying user, creating it from the pending
// registration when the payment was made before signing up.
func (s *Service) resolveOwner(ctx context.Context, tx *gorm.DB, sub *models.Subscription) (*models.User, bool, error) {
	if sub.UserID != nil && *sub.UserID != "" {
		var user models.User
		if err := tx.First(&user, "id = ?", *sub.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, false, ErrUserNotFound
			}
			return nil, false, fmt.Errorf("failed to load user: %w", err)
		}
		return &user, false, nil
	}

	reg := sub.Extra.Data().Registration
	if reg == nil {
		return nil, false, ErrNoOwner
	}

	// an account registered meanwhile with the same email takes the payment
	var existing models.User
	err := tx.First(&existing, "email = ?", reg.Email).Error
	if err == nil {
		sub.UserID = &existing.ID
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to load user by email: %w", err)
	}

	user := &models.User{
		ID:           tool.GenerateUUIDV7(),
		Nickname:     reg.Nickname,
		Email:        reg.Email,
		PasswordHash: reg.PasswordHash,
	}
	if err := tx.Create(user).Error; err != nil {
		return nil, false, fmt.Errorf("failed to create user from registration: %w", err)
	}
	sub.UserID = &user.ID

	if reg.ReferralCode != "" && s.referrals != nil {
		if _, err := s.referrals.CreateReferralWithTx(ctx, tx, reg.ReferralCode, user.ID); err != nil {
			logctx.FromCtx(ctx, s.log).Warnw("registration_referral_failed",
				"user_id", user.ID, "code", reg.ReferralCode, "error", err.Error())
		}
	}

	// the registration data has served its purpose, drop the password hash
	extra := sub.Extra.Data()
	extra.Registration = nil
	sub.Extra = datatypes.NewJSONType(extra)
	return user, true, nil
}

// activate opens the entitlement window for sub, extending any window the
// user still has, and debits the bonus the purchase reserved.
func (s *Service) activate(ctx context.Context, tx *gorm.DB, sub *models.Subscription, user *models.User) error {
	now := s.now()
	start := now
	if user.SubscriptionEndDate != nil && user.SubscriptionEndDate.After(now) {
		start = *user.SubscriptionEndDate
	}
	end := start.AddDate(0, sub.DurationMonths, 0)

	sub.UserID = &user.ID
	sub.StartDate = &start
	sub.EndDate = &end
	sub.IsActive = true
	if err := tx.Model(&models.Subscription{}).Where("id = ?", sub.ID).Updates(map[string]any{
		"user_id":    user.ID,
		"start_date": start,
		"end_date":   end,
		"is_active":  true,
		"extra":      sub.Extra,
	}).Error; err != nil {
		return fmt.Errorf("failed to activate subscription: %w", err)
	}

	if sub.BonusUsed > 0 {
		debit := min(sub.BonusUsed, user.BonusBalance)
		if debit < sub.BonusUsed {
			logctx.FromCtx(ctx, s.log).Warnw("bonus_debit_capped",
				"user_id", user.ID, "reserved", sub.BonusUsed, "balance", user.BonusBalance)
		}
		if debit > 0 {
			if err := tx.Model(&models.User{}).Where("id = ?", user.ID).
				Update("bonus_balance", gorm.Expr("bonus_balance - ?", debit)).Error; err != nil {
				return fmt.Errorf("failed to debit bonus: %w", err)
			}
			user.BonusBalance -= debit
			if err := tx.Create(&models.BonusTransaction{
				ID:             tool.GenerateUUIDV7(),
				UserID:         user.ID,
				Amount:         -debit,
				Type:           types.BonusTypeSubscriptionPayment,
				Description:    fmt.Sprintf("Subscription paid with bonus (%s, %d months)", sub.PlanType, sub.DurationMonths),
				SubscriptionID: &sub.ID,
			}).Error; err != nil {
				return fmt.Errorf("failed to write bonus ledger: %w", err)
			}
		}
	}

	user.IsSubscribed = true
	user.SubscriptionEndDate = &end
	if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Updates(map[string]any{
		"is_subscribed":         true,
		"subscription_end_date": end,
	}).Error; err != nil {
		return fmt.Errorf("failed to update user entitlement: %w", err)
	}
	return nil
}

func writeLog(tx *gorm.DB, before, after *models.Subscription, reason types.SubscriptionChangeReason, extra map[string]any) error {
	if extra == nil {
		extra = map[string]any{}
	}
	entry := &models.SubscriptionLog{
		ID:             tool.GenerateUUIDV7(),
		SubscriptionID: after.ID,
		UserID:         after.UserID,
		Reason:         reason,
		Before:         datatypes.NewJSONType(before),
		After:          datatypes.NewJSONType(after),
		Extra:          datatypes.JSONMap(extra),
	}
	if err := tx.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to save subscription log: %w", err)
	}
	return nil
}
