package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/studkg/cashier/internal/models"
	"github.com/studkg/cashier/pkg/config"
	"github.com/studkg/cashier/pkg/logctx"
	"github.com/studkg/cashier/pkg/tool"
	"github.com/studkg/cashier/pkg/types"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidCode     = errors.New("referral code not found")
	ErrSelfReferral    = errors.New("own referral code cannot be used")
	ErrCodeAlreadyUsed = errors.New("referral code was already used for a previous purchase")
)

const (
	codeLength       = 12
	codeAttempts     = 8
	defaultBonus     = 50
	defaultDiscount  = 50
	defaultLinkTTL   = 7 * 24 * time.Hour
	defaultBonusTTLM = 6
)

type Service struct {
	cfg *config.Config
	db  *gorm.DB
	log *zap.SugaredLogger
	now func() time.Time
}

func NewService(cfg *config.Config, db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{cfg: cfg, db: db, log: log, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) BonusAmount() int {
	if s.cfg != nil && s.cfg.Referral.BonusAmount > 0 {
		return s.cfg.Referral.BonusAmount
	}
	return defaultBonus
}

func (s *Service) Discount() int {
	if s.cfg != nil && s.cfg.Referral.Discount > 0 {
		return s.cfg.Referral.Discount
	}
	return defaultDiscount
}

func (s *Service) linkTTL() time.Duration {
	if s.cfg != nil && s.cfg.Referral.LinkTTL > 0 {
		return s.cfg.Referral.LinkTTL
	}
	return defaultLinkTTL
}

func (s *Service) bonusTTLMonths() int {
	if s.cfg != nil && s.cfg.Referral.BonusTTLMonths > 0 {
		return s.cfg.Referral.BonusTTLMonths
	}
	return defaultBonusTTLM
}

// NormalizeCode is the form codes are stored and compared in.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func newCode() string {
	return tool.RandomCode(codeLength)
}

// GetOrCreateReferralCode returns the user's code, assigning a fresh unique one on first use.
func (s *Service) GetOrCreateReferralCode(ctx context.Context, userID string) (string, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("failed to load user: %w", err)
	}
	if user.ReferralCode != nil && *user.ReferralCode != "" {
		return *user.ReferralCode, nil
	}

	for i := 0; i < codeAttempts; i++ {
		code := newCode()
		var taken int64
		if err := s.db.WithContext(ctx).Model(&models.User{}).Where("referral_code = ?", code).Count(&taken).Error; err != nil {
			return "", fmt.Errorf("failed to check referral code: %w", err)
		}
		if taken > 0 {
			continue
		}
		// only assign when still empty, a concurrent call may have won
		res := s.db.WithContext(ctx).Model(&models.User{}).
			Where("id = ? AND referral_code IS NULL", userID).
			Update("referral_code", code)
		if res.Error != nil {
			return "", fmt.Errorf("failed to save referral code: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return code, nil
		}
		if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
			return "", fmt.Errorf("failed to reload user: %w", err)
		}
		if user.ReferralCode != nil {
			return *user.ReferralCode, nil
		}
	}
	return "", errors.New("could not allocate a unique referral code")
}

func (s *Service) findReferrer(ctx context.Context, tx *gorm.DB, code string) (*models.User, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrInvalidCode
	}
	var referrer models.User
	if err := tx.WithContext(ctx).First(&referrer, "referral_code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, fmt.Errorf("failed to load referrer: %w", err)
	}
	return &referrer, nil
}

// CreateReferral links referredUserID to the owner of code. An existing link
// between the pair is returned unchanged.
func (s *Service) CreateReferral(ctx context.Context, code, referredUserID string) (*models.Referral, error) {
	return s.CreateReferralWithTx(ctx, s.db, code, referredUserID)
}

func (s *Service) CreateReferralWithTx(ctx context.Context, tx *gorm.DB, code, referredUserID string) (*models.Referral, error) {
	referrer, err := s.findReferrer(ctx, tx, code)
	if err != nil {
		return nil, err
	}
	if referrer.ID == referredUserID {
		return nil, ErrSelfReferral
	}

	var existing models.Referral
	err = tx.WithContext(ctx).
		Where("referrer_id = ? AND referred_id = ?", referrer.ID, referredUserID).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load referral: %w", err)
	}

	link := &models.Referral{
		ID:           tool.GenerateUUIDV7(),
		ReferrerID:   referrer.ID,
		ReferredID:   referredUserID,
		ReferralCode: NormalizeCode(code),
		IsActive:     true,
		ExpiresAt:    s.now().Add(s.linkTTL()),
	}
	if err := tx.WithContext(ctx).Create(link).Error; err != nil {
		return nil, fmt.Errorf("failed to create referral: %w", err)
	}
	logctx.FromCtx(ctx, s.log).Infow("referral_created",
		"referral_id", link.ID, "referrer_id", link.ReferrerID, "referred_id", link.ReferredID)
	return link, nil
}

// HasOpenReferral reports whether the user has a live link that has not
// been consumed by a purchase.
func (s *Service) HasOpenReferral(ctx context.Context, userID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Referral{}).
		Where("referred_id = ? AND is_active = ? AND has_purchased = ? AND expires_at > ?", userID, true, false, s.now()).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("failed to count referrals: %w", err)
	}
	return n > 0, nil
}

type CheckResult struct {
	Valid    bool   `json:"valid"`
	Bonus    int    `json:"bonus"`
	Discount int    `json:"discount"`
	Referrer string `json:"referrer,omitempty"`
}

// CheckReferralCode validates a code for userID without creating anything.
// An empty userID checks a code entered before registration.
func (s *Service) CheckReferralCode(ctx context.Context, code, userID string) (*CheckResult, error) {
	referrer, err := s.findReferrer(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if userID != "" {
		if referrer.ID == userID {
			return nil, ErrSelfReferral
		}
		var existing models.Referral
		err := s.db.WithContext(ctx).
			Where("referrer_id = ? AND referred_id = ?", referrer.ID, userID).
			First(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to load referral: %w", err)
		}
		if err == nil && existing.HasPurchased {
			return nil, ErrCodeAlreadyUsed
		}
	}
	return &CheckResult{Valid: true, Bonus: s.BonusAmount(), Discount: s.Discount(), Referrer: referrer.Nickname}, nil
}

type AwardOutcome string

const (
	AwardOutcomePaid             AwardOutcome = "paid"
	AwardOutcomeNotFirstPurchase AwardOutcome = "not_first_purchase"
	AwardOutcomeNoReferral       AwardOutcome = "no_referral"
	AwardOutcomeExpired          AwardOutcome = "expired"
	AwardOutcomeAlreadyPaid      AwardOutcome = "already_paid"
)

type AwardResult struct {
	Outcome    AwardOutcome
	ReferralID string
	Amount     int
}

var errLinkClaimed = errors.New("referral bonus already claimed")

// AwardReferralBonuses credits both sides of the user's open referral link,
// once, on the user's first successful payment.
func (s *Service) AwardReferralBonuses(ctx context.Context, userID, subscriptionID string) (*AwardResult, error) {
	log := logctx.FromCtx(ctx, s.log).With("user_id", userID, "subscription_id", subscriptionID)

	var others int64
	if err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("user_id = ? AND id <> ? AND payment_status = ?", userID, subscriptionID, types.PaymentStatusSucceeded).
		Count(&others).Error; err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	if others > 0 {
		return &AwardResult{Outcome: AwardOutcomeNotFirstPurchase}, nil
	}

	var link models.Referral
	err := s.db.WithContext(ctx).
		Where("referred_id = ? AND is_active = ? AND has_purchased = ? AND bonus_paid = ?", userID, true, false, false).
		Order("created_at desc").
		First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &AwardResult{Outcome: AwardOutcomeNoReferral}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load referral: %w", err)
	}

	now := s.now()
	if link.Expired(now) {
		if err := s.db.WithContext(ctx).Model(&models.Referral{}).
			Where("id = ?", link.ID).
			Update("is_active", false).Error; err != nil {
			return nil, fmt.Errorf("failed to deactivate referral: %w", err)
		}
		log.Infow("referral_expired_on_purchase", "referral_id", link.ID)
		return &AwardResult{Outcome: AwardOutcomeExpired, ReferralID: link.ID}, nil
	}

	amount := s.BonusAmount()
	expiresAt := now.AddDate(0, s.bonusTTLMonths(), 0)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Referral{}).
			Where("id = ? AND bonus_paid = ? AND has_purchased = ?", link.ID, false, false).
			Updates(map[string]any{"has_purchased": true, "bonus_paid": true})
		if res.Error != nil {
			return fmt.Errorf("failed to claim referral: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errLinkClaimed
		}

		credits := []struct {
			userID string
			kind   types.BonusTransactionType
			desc   string
		}{
			{link.ReferrerID, types.BonusTypeReferralBonus, "Referral bonus for an invited user"},
			{link.ReferredID, types.BonusTypeReferralReceived, "Bonus for signing up with a referral link"},
		}
		for _, c := range credits {
			res := tx.Model(&models.User{}).
				Where("id = ?", c.userID).
				Update("bonus_balance", gorm.Expr("bonus_balance + ?", amount))
			if res.Error != nil {
				return fmt.Errorf("failed to credit user %s: %w", c.userID, res.Error)
			}
			if res.RowsAffected == 0 {
				log.Warnw("referral_credit_user_missing", "credit_user_id", c.userID)
				continue
			}
			entry := &models.BonusTransaction{
				ID:             tool.GenerateUUIDV7(),
				UserID:         c.userID,
				Amount:         amount,
				Type:           c.kind,
				Description:    c.desc,
				ReferralID:     &link.ID,
				SubscriptionID: &subscriptionID,
				ExpiresAt:      &expiresAt,
			}
			if err := tx.Create(entry).Error; err != nil {
				return fmt.Errorf("failed to write bonus ledger: %w", err)
			}
		}
		return nil
	})
	if errors.Is(err, errLinkClaimed) {
		return &AwardResult{Outcome: AwardOutcomeAlreadyPaid, ReferralID: link.ID}, nil
	}
	if err != nil {
		return nil, err
	}

	log.Infow("referral_bonus_paid", "referral_id", link.ID, "referrer_id", link.ReferrerID, "amount", amount)
	return &AwardResult{Outcome: AwardOutcomePaid, ReferralID: link.ID, Amount: amount}, nil
}

// CleanupExpiredReferrals deactivates links that expired without a purchase.
func (s *Service) CleanupExpiredReferrals(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Referral{}).
		Where("is_active = ? AND has_purchased = ? AND expires_at < ?", true, false, s.now()).
		Update("is_active", false)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to deactivate expired referrals: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ExpireOldBonuses writes off credits past their validity. Each credit is
// handled in its own transaction and flagged before the debit, so a rerun
// never expires the same credit twice.
func (s *Service) ExpireOldBonuses(ctx context.Context) (int, error) {
	var due []*models.BonusTransaction
	if err := s.db.WithContext(ctx).
		Where("is_expired = ? AND amount > ? AND expires_at < ?", false, 0, s.now()).
		Order("expires_at asc").
		Find(&due).Error; err != nil {
		return 0, fmt.Errorf("failed to load expired bonuses: %w", err)
	}

	expired := 0
	for _, credit := range due {
		applied, err := s.expireCredit(ctx, credit)
		if err != nil {
			return expired, err
		}
		if applied {
			expired++
		}
	}
	return expired, nil
}

func (s *Service) expireCredit(ctx context.Context, credit *models.BonusTransaction) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.BonusTransaction{}).
			Where("id = ? AND is_expired = ?", credit.ID, false).
			Update("is_expired", true)
		if res.Error != nil {
			return fmt.Errorf("failed to flag bonus %s: %w", credit.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true

		var user models.User
		if err := tx.First(&user, "id = ?", credit.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("failed to load user %s: %w", credit.UserID, err)
		}

		debit := min(credit.Amount, user.BonusBalance)
		if debit > 0 {
			if err := tx.Model(&models.User{}).
				Where("id = ?", user.ID).
				Update("bonus_balance", gorm.Expr("bonus_balance - ?", debit)).Error; err != nil {
				return fmt.Errorf("failed to debit user %s: %w", user.ID, err)
			}
		}
		return tx.Create(&models.BonusTransaction{
			ID:          tool.GenerateUUIDV7(),
			UserID:      user.ID,
			Amount:      -debit,
			Type:        types.BonusTypeExpiration,
			Description: "Expiration of bonus credited on " + credit.CreatedAt.Format(time.DateOnly),
			ReferralID:  credit.ReferralID,
		}).Error
	})
	return applied, err
}

type SweepResult struct {
	DeactivatedReferrals int64 `json:"deactivated_referrals"`
	ExpiredBonuses       int   `json:"expired_bonuses"`
}

// RunSweep performs the periodic referral maintenance once.
func (s *Service) RunSweep(ctx context.Context) (*SweepResult, error) {
	deactivated, err := s.CleanupExpiredReferrals(ctx)
	if err != nil {
		return nil, err
	}
	expired, err := s.ExpireOldBonuses(ctx)
	if err != nil {
		return &SweepResult{DeactivatedReferrals: deactivated, ExpiredBonuses: expired}, err
	}
	return &SweepResult{DeactivatedReferrals: deactivated, ExpiredBonuses: expired}, nil
}
