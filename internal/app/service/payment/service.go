package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/studkg/cashier/internal/app/service/referral"
	"github.com/studkg/cashier/internal/app/service/subscription"
	"github.com/studkg/cashier/internal/models"
	"github.com/studkg/cashier/internal/platform/finik"
	"github.com/studkg/cashier/pkg/config"
	"github.com/studkg/cashier/pkg/logctx"
	"github.com/studkg/cashier/pkg/tool"
	"github.com/studkg/cashier/pkg/types"
)

var (
	ErrInvalidPlan          = errors.New("unknown subscription plan")
	ErrUserNotFound         = errors.New("user not found")
	ErrRegistrationRequired = errors.New("either a user or registration data is required")
	ErrRegistrationInvalid  = errors.New("nickname, email and password are required")
	ErrRegistrationConflict = errors.New("nickname or email is already registered")
	ErrPaymentNotFound      = errors.New("payment not found")
)

// Gateway starts a hosted payment. *finik.Client implements it.
type Gateway interface {
	CreatePayment(ctx context.Context, req *finik.PaymentRequest) (finik.PaymentResult, error)
}

// Registration is an account to create once the payment succeeds.
type Registration struct {
	Nickname     string `json:"nickname"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	ReferralCode string `json:"referral_code,omitempty"`
}

type CreatePaymentRequest struct {
	// UserID is the paying user; empty when paying before registration.
	UserID         string         `json:"-"`
	Registration   *Registration  `json:"registration,omitempty"`
	PlanType       types.PlanType `json:"plan_type"`
	DurationMonths int            `json:"duration_months"`
	// BonusAmount is how much of the bonus balance the user wants to spend.
	BonusAmount  int    `json:"bonus_amount"`
	ReferralCode string `json:"referral_code,omitempty"`
}

type CreatePaymentResult struct {
	SubscriptionID string `json:"subscription_id"`
	PaymentID      string `json:"payment_id"`
	// PaymentURL is empty when discounts and bonus covered the whole price.
	PaymentURL string `json:"payment_url,omitempty"`
	Paid       bool   `json:"paid"`
	BasePrice  int    `json:"base_price"`
	Discount   int    `json:"discount"`
	BonusUsed  int    `json:"bonus_used"`
	Amount     int    `json:"amount"`
}

type StatusResult struct {
	PaymentID      string              `json:"payment_id"`
	Status         types.PaymentStatus `json:"status"`
	IsActive       bool                `json:"is_active"`
	PlanType       types.PlanType      `json:"plan_type"`
	DurationMonths int                 `json:"duration_months"`
	Amount         int                 `json:"amount"`
	EndDate        *time.Time          `json:"end_date,omitempty"`
	PaymentURL     string              `json:"payment_url,omitempty"`
}

type Service struct {
	cfg           *config.Config
	opts          finik.Options
	gateway       Gateway
	db            *gorm.DB
	subscriptions *subscription.Service
	referrals     *referral.Service
	log           *zap.SugaredLogger
	bcryptCost    int
}

func NewService(
	cfg *config.Config,
	opts finik.Options,
	gateway Gateway,
	db *gorm.DB,
	subscriptions *subscription.Service,
	referrals *referral.Service,
	log *zap.SugaredLogger,
) *Service {
	return &Service{
		cfg:           cfg,
		opts:          opts,
		gateway:       gateway,
		db:            db,
		subscriptions: subscriptions,
		referrals:     referrals,
		log:           log,
		bcryptCost:    bcrypt.DefaultCost,
	}
}

// quote is the price breakdown of one purchase.
type quote struct {
	discount   int
	bonus      int
	final      int
	referralID *string
}

// CreatePayment prices the plan for the caller and either activates it
// directly, when nothing is left to pay, or starts a gateway payment.
func (s *Service) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*CreatePaymentResult, error) {
	log := logctx.FromCtx(ctx, s.log)

	plan := s.cfg.GetPlan(req.PlanType, req.DurationMonths)
	if plan == nil {
		return nil, ErrInvalidPlan
	}

	var (
		user *models.User
		reg  *models.PendingRegistration
		q    *quote
		err  error
	)
	switch {
	case req.UserID != "":
		if user, err = s.loadUser(ctx, req.UserID); err != nil {
			return nil, err
		}
		q = s.quoteForUser(ctx, plan, user, req)
	case req.Registration != nil:
		if reg, err = s.prepareRegistration(ctx, req.Registration); err != nil {
			return nil, err
		}
		q = s.quoteForRegistration(ctx, plan, reg)
		if q.final == 0 {
			// nothing to charge means no notification would ever create the account
			return nil, ErrInvalidPlan
		}
	default:
		return nil, ErrRegistrationRequired
	}

	sub := &models.Subscription{
		PlanType:         plan.Type,
		DurationMonths:   plan.DurationMonths,
		BasePrice:        plan.Price,
		Amount:           q.final,
		BonusUsed:        q.bonus,
		ReferralDiscount: q.discount,
		ReferralID:       q.referralID,
		PaymentID:        tool.NewPaymentID(),
		Extra:            datatypes.NewJSONType(models.SubscriptionExtra{Registration: reg}),
	}
	if user != nil {
		sub.UserID = lo.ToPtr(user.ID)
	}
	result := &CreatePaymentResult{
		PaymentID: sub.PaymentID,
		BasePrice: plan.Price,
		Discount:  q.discount,
		BonusUsed: q.bonus,
		Amount:    q.final,
	}

	if q.final == 0 {
		if _, err := s.subscriptions.CreatePrepaid(ctx, sub); err != nil {
			return nil, fmt.Errorf("failed to activate prepaid subscription: %w", err)
		}
		if _, err := s.referrals.AwardReferralBonuses(ctx, user.ID, sub.ID); err != nil {
			log.Errorw("referral_award_failed", "subscription_id", sub.ID, "error", err.Error())
		}
		log.Infow("payment_covered_by_bonus", "subscription_id", sub.ID, "bonus_used", q.bonus)
		result.SubscriptionID = sub.ID
		result.Paid = true
		return result, nil
	}

	if err := s.subscriptions.CreatePending(ctx, sub); err != nil {
		return nil, err
	}
	result.SubscriptionID = sub.ID

	url, gatewayID, err := s.startGatewayPayment(ctx, sub, plan, user, reg)
	if err != nil {
		// the caller may be gone by now; the pending row must still go
		if delErr := s.subscriptions.DeletePending(context.WithoutCancel(ctx), sub.ID); delErr != nil {
			log.Errorw("pending_rollback_failed", "subscription_id", sub.ID, "error", delErr.Error())
		}
		return nil, err
	}
	if err := s.subscriptions.SetPaymentURL(ctx, sub, url, gatewayID); err != nil {
		log.Warnw("payment_url_save_failed", "subscription_id", sub.ID, "error", err.Error())
	}
	result.PaymentURL = url
	log.Infow("payment_created", "subscription_id", sub.ID, "payment_id", sub.PaymentID, "amount", q.final)
	return result, nil
}

func (s *Service) startGatewayPayment(
	ctx context.Context,
	sub *models.Subscription,
	plan *types.Plan,
	user *models.User,
	reg *models.PendingRegistration,
) (string, string, error) {
	req := s.buildGatewayRequest(sub, plan, user, reg)
	res, err := s.gateway.CreatePayment(ctx, req)
	if err != nil {
		return "", "", err
	}
	if failed, ok := res.(finik.Failed); ok {
		return "", "", failed.Err()
	}
	url, ok := finik.PaymentURL(res)
	if !ok {
		return "", "", &finik.GatewayError{Message: "gateway response carries no payment url"}
	}
	gatewayID := ""
	if created, ok := res.(finik.Created); ok {
		gatewayID = created.PaymentID
	}
	return url, gatewayID, nil
}

func (s *Service) buildGatewayRequest(sub *models.Subscription, plan *types.Plan, user *models.User, reg *models.PendingRegistration) *finik.PaymentRequest {
	data := finik.PaymentData{
		AccountID:            s.opts.AccountID,
		MerchantCategoryCode: s.opts.MerchantCategoryCode,
		NameEn:               fmt.Sprintf("Subscription %s %d months", plan.Type, plan.DurationMonths),
		WebhookURL:           s.opts.WebhookURL,
		Description:          Description(plan),
		SubscriptionID:       sub.ID,
	}
	if user != nil {
		data.UserID = user.ID
	}
	if reg != nil {
		data.RegistrationData = &finik.RegistrationData{
			Nickname:     reg.Nickname,
			Email:        reg.Email,
			ReferralCode: reg.ReferralCode,
		}
	}
	return &finik.PaymentRequest{
		Amount:      sub.Amount,
		CardType:    s.opts.CardType,
		PaymentId:   sub.PaymentID,
		RedirectUrl: redirectURL(s.opts.RedirectURL, sub.PaymentID),
		Data:        data,
	}
}

func redirectURL(base, paymentID string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "paymentId=" + paymentID
}

// Description is the payer-facing purchase title, in Russian.
func Description(plan *types.Plan) string {
	kind := "Индивидуальная"
	if plan.Type == types.PlanTypeGroup {
		kind = "Групповая"
	}
	return fmt.Sprintf("Подписка %s на %d %s", kind, plan.DurationMonths, pluralMonths(plan.DurationMonths))
}

func pluralMonths(n int) string {
	switch {
	case n%10 == 1 && n%100 != 11:
		return "месяц"
	case n%10 >= 2 && n%10 <= 4 && (n%100 < 12 || n%100 > 14):
		return "месяца"
	default:
		return "месяцев"
	}
}

func (s *Service) loadUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

// quoteForUser applies the referral discount and the bonus the user chose
// to spend. Referral problems never block the purchase.
func (s *Service) quoteForUser(ctx context.Context, plan *types.Plan, user *models.User, req *CreatePaymentRequest) *quote {
	log := logctx.FromCtx(ctx, s.log).With("user_id", user.ID)
	q := &quote{}

	open, err := s.referrals.HasOpenReferral(ctx, user.ID)
	if err != nil {
		log.Warnw("referral_lookup_failed", "error", err.Error())
	}
	switch {
	case open:
		q.discount = s.referrals.Discount()
	case req.ReferralCode != "":
		link, err := s.referrals.CreateReferral(ctx, req.ReferralCode, user.ID)
		if err != nil {
			log.Infow("referral_not_applied", "code", req.ReferralCode, "error", err.Error())
			break
		}
		if link.HasPurchased {
			log.Infow("referral_already_used", "referral_id", link.ID)
			break
		}
		q.discount = s.referrals.Discount()
		q.referralID = lo.ToPtr(link.ID)
	}
	q.discount = min(q.discount, plan.Price)

	q.bonus = max(0, min(req.BonusAmount, user.BonusBalance, plan.Price-q.discount))
	q.final = max(0, plan.Price-q.discount-q.bonus)
	return q
}

func (s *Service) quoteForRegistration(ctx context.Context, plan *types.Plan, reg *models.PendingRegistration) *quote {
	q := &quote{}
	if reg.ReferralCode != "" {
		if _, err := s.referrals.CheckReferralCode(ctx, reg.ReferralCode, ""); err != nil {
			logctx.FromCtx(ctx, s.log).Infow("referral_not_applied", "code", reg.ReferralCode, "error", err.Error())
			reg.ReferralCode = ""
		} else {
			q.discount = min(s.referrals.Discount(), plan.Price)
		}
	}
	q.final = plan.Price - q.discount
	return q
}

// prepareRegistration validates the sign-up data and hashes the password
// so only the hash is ever stored.
func (s *Service) prepareRegistration(ctx context.Context, r *Registration) (*models.PendingRegistration, error) {
	nickname := strings.TrimSpace(r.Nickname)
	email := strings.ToLower(strings.TrimSpace(r.Email))
	if nickname == "" || email == "" || r.Password == "" {
		return nil, ErrRegistrationInvalid
	}

	var taken int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("nickname = ? OR email = ?", nickname, email).
		Count(&taken).Error; err != nil {
		return nil, fmt.Errorf("failed to check registration: %w", err)
	}
	if taken > 0 {
		return nil, ErrRegistrationConflict
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(r.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return &models.PendingRegistration{
		Nickname:     nickname,
		Email:        email,
		PasswordHash: string(hash),
		ReferralCode: referral.NormalizeCode(r.ReferralCode),
	}, nil
}

// GetPaymentStatus reports a payment by its local payment id. A non-empty
// userID must own the payment.
func (s *Service) GetPaymentStatus(ctx context.Context, paymentID, userID string) (*StatusResult, error) {
	sub, err := s.subscriptions.GetByPaymentID(ctx, paymentID)
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	if userID != "" && (sub.UserID == nil || *sub.UserID != userID) {
		return nil, ErrPaymentNotFound
	}
	return &StatusResult{
		PaymentID:      sub.PaymentID,
		Status:         sub.PaymentStatus,
		IsActive:       sub.IsActive,
		PlanType:       sub.PlanType,
		DurationMonths: sub.DurationMonths,
		Amount:         sub.Amount,
		EndDate:        sub.EndDate,
		PaymentURL:     sub.Extra.Data().PaymentURL,
	}, nil
}
