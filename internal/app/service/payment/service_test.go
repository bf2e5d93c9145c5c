package payment

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/studkg/cashier/internal/app/service/referral"
	"github.com/studkg/cashier/internal/app/service/subscription"
	"github.com/studkg/cashier/internal/models"
	"github.com/studkg/cashier/internal/platform/db/dbtest"
	"github.com/studkg/cashier/internal/platform/finik"
	"github.com/studkg/cashier/pkg/config"
	"github.com/studkg/cashier/pkg/tool"
	"github.com/studkg/cashier/pkg/types"
)

type fakeGateway struct {
	result finik.PaymentResult
	err    error
	calls  []*finik.PaymentRequest
	// onCall runs before the canned reply is returned.
	onCall func()
}

func (g *fakeGateway) CreatePayment(_ context.Context, req *finik.PaymentRequest) (finik.PaymentResult, error) {
	g.calls = append(g.calls, req)
	if g.onCall != nil {
		g.onCall()
	}
	return g.result, g.err
}

type fixture struct {
	svc      *Service
	db       *gorm.DB
	gateway  *fakeGateway
	referral *referral.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := dbtest.New(t)
	log := zap.NewNop().Sugar()
	cfg := &config.Config{
		Plans: []*types.Plan{
			{Type: types.PlanTypeIndividual, DurationMonths: 1, Price: 1000},
			{Type: types.PlanTypeGroup, DurationMonths: 3, Price: 2400},
			{Type: types.PlanTypeIndividual, DurationMonths: 12, Price: 40},
		},
		Referral: config.ReferralConfig{BonusAmount: 50, Discount: 50, LinkTTL: 7 * 24 * time.Hour, BonusTTLMonths: 6},
	}
	refs := referral.NewService(cfg, gdb, log)
	subs := subscription.NewService(cfg, gdb, log, refs)
	gw := &fakeGateway{result: finik.Redirect{URL: "https://pay.example/qr/1", Status: http.StatusFound}}
	opts := finik.Options{
		AccountID:            "acc-1",
		MerchantCategoryCode: "0742",
		CardType:             "FINIK_QR",
		RedirectURL:          "https://stud.kg/payment/success",
		WebhookURL:           "https://stud.kg/webhooks/finik",
	}
	svc := NewService(cfg, opts, gw, gdb, subs, refs, log)
	svc.bcryptCost = bcrypt.MinCost
	return &fixture{svc: svc, db: gdb, gateway: gw, referral: refs}
}

func (f *fixture) user(t *testing.T, nickname string, balance int) *models.User {
	t.Helper()
	u := &models.User{ID: tool.GenerateUUIDV7(), Nickname: nickname, Email: nickname + "@stud.kg", PasswordHash: "x", BonusBalance: balance}
	require.NoError(t, f.db.Create(u).Error)
	return u
}

func (f *fixture) subscriptionCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Subscription{}).Count(&n).Error)
	return n
}

func TestService_CreatePayment_ExistingUser(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "alice", 0)

	res, err := f.svc.CreatePayment(context.Background(), &CreatePaymentRequest{
		UserID: u.ID, PlanType: types.PlanTypeIndividual, DurationMonths: 1,
	})
	require.NoError(t, err)
	require.Equal(t, "https://pay.example/qr/1", res.PaymentURL)
	require.False(t, res.Paid)
	require.Equal(t, 1000, res.Amount)

	require.Len(t, f.gateway.calls, 1)
	req := f.gateway.calls[0]
	require.Equal(t, 1000, req.Amount)
	require.Equal(t, res.PaymentID, req.PaymentId)
	require.Equal(t, "https://stud.kg/payment/success?paymentId="+res.PaymentID, req.RedirectUrl)
	require.Equal(t, "Subscription individual 1 months", req.Data.NameEn)
	require.Equal(t, "Подписка Индивидуальная на 1 месяц", req.Data.Description)
	require.Equal(t, res.SubscriptionID, req.Data.SubscriptionID)
	require.Equal(t, u.ID, req.Data.UserID)
	require.Equal(t, "https://stud.kg/webhooks/finik", req.Data.WebhookURL)
	require.Nil(t, req.Data.RegistrationData)

	status, err := f.svc.GetPaymentStatus(context.Background(), res.PaymentID, u.ID)
	require.NoError(t, err)
	require.Equal(t, types.PaymentStatusPending, status.Status)
	require.Equal(t, res.PaymentURL, status.PaymentURL)

	_, err = f.svc.GetPaymentStatus(context.Background(), res.PaymentID, "someone-else")
	require.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestService_CreatePayment_InvalidPlan(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "alice", 0)
	_, err := f.svc.CreatePayment(context.Background(), &CreatePaymentRequest{
		UserID: u.ID, PlanType: types.PlanTypeGroup, DurationMonths: 1,
	})
	require.ErrorIs(t, err, ErrInvalidPlan)
	require.Empty(t, f.gateway.calls)
}

func TestService_CreatePayment_GatewayFailureRollsBack(t *testing.T) {
	cases := map[string]struct {
		result finik.PaymentResult
		err    error
	}{
		"rejected":       {result: finik.Failed{Status: http.StatusForbidden, Message: "Forbidden"}},
		"transport":      {err: &finik.GatewayError{Err: errors.New("dial tcp: refused")}},
		"no url":         {result: finik.Created{PaymentID: "gw-1"}},
		"empty redirect": {result: finik.Redirect{Status: http.StatusFound}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			u := f.user(t, "alice", 0)
			f.gateway.result, f.gateway.err = tc.result, tc.err

			_, err := f.svc.CreatePayment(context.Background(), &CreatePaymentRequest{
				UserID: u.ID, PlanType: types.PlanTypeIndividual, DurationMonths: 1,
			})
			var gwErr *finik.GatewayError
			require.ErrorAs(t, err, &gwErr)
			require.Zero(t, f.subscriptionCount(t))
		})
	}
}

func TestService_CreatePayment_RollbackSurvivesCancelledRequest(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "alice", 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.gateway.onCall = cancel
	f.gateway.err = &finik.GatewayError{Err: context.Canceled}

	_, err := f.svc.CreatePayment(ctx, &CreatePaymentRequest{
		UserID: u.ID, PlanType: types.PlanTypeIndividual, DurationMonths: 1,
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Error(t, ctx.Err())
	require.Zero(t, f.subscriptionCount(t))
}

func TestService_CreatePayment_ReferralDiscountAndBonus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	referrer := f.user(t, "alice", 0)
	u := f.user(t, "bob", 120)
	code, err := f.referral.GetOrCreateReferralCode(ctx, referrer.ID)
	require.NoError(t, err)

	res, err := f.svc.CreatePayment(ctx, &CreatePaymentRequest{
		UserID: u.ID, PlanType: types.PlanTypeIndividual, DurationMonths: 1,
		BonusAmount: 500, ReferralCode: code,
	})
	require.NoError(t, err)
	require.Equal(t, 50, res.Discount)
	// capped by the balance
	require.Equal(t, 120, res.BonusUsed)
	require.Equal(t, 830, res.Amount)
	require.Equal(t, 830, f.gateway.calls[0].Amount)

	// the bonus is only reserved until the payment is confirmed
	var stored models.User
	require.NoError(t, f.db.First(&stored, "id = ?", u.ID).Error)
	require.Equal(t, 120, stored.BonusBalance)

	open, err := f.referral.HasOpenReferral(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, open)
}

func TestService_CreatePayment_BadReferralCodeDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "bob", 0)

	res, err := f.svc.CreatePayment(context.Background(), &CreatePaymentRequest{
		UserID: u.ID, PlanType: types.PlanTypeIndividual, DurationMonths: 1, ReferralCode: "NOSUCHCODE",
	})
	require.NoError(t, err)
	require.Zero(t, res.Discount)
	require.Equal(t, 1000, res.Amount)
}

func TestService_CreatePayment_CoveredByBonus(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "bob", 5000)

	res, err := f.svc.CreatePayment(context.Background(), &CreatePaymentRequest{
		UserID: u.ID, PlanType: types.PlanTypeIndividual, DurationMonths: 1, BonusAmount: 5000,
	})
	require.NoError(t, err)
	require.True(t, res.Paid)
	require.Zero(t, res.Amount)
	require.Equal(t, 1000, res.BonusUsed)
	require.Empty(t, f.gateway.calls)

	var stored models.User
	require.NoError(t, f.db.First(&stored, "id = ?", u.ID).Error)
	require.Equal(t, 4000, stored.BonusBalance)
	require.True(t, stored.IsSubscribed)

	var debit models.BonusTransaction
	require.NoError(t, f.db.First(&debit, "user_id = ? AND type = ?", u.ID, types.BonusTypeSubscriptionPayment).Error)
	require.Equal(t, -1000, debit.Amount)
}

func TestService_CreatePayment_Registration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	referrer := f.user(t, "alice", 0)
	code, err := f.referral.GetOrCreateReferralCode(ctx, referrer.ID)
	require.NoError(t, err)

	res, err := f.svc.CreatePayment(ctx, &CreatePaymentRequest{
		Registration:   &Registration{Nickname: " carol ", Email: "Carol@Stud.kg", Password: "s3cret", ReferralCode: code},
		PlanType:       types.PlanTypeGroup,
		DurationMonths: 3,
	})
	require.NoError(t, err)
	require.Equal(t, 2350, res.Amount)

	req := f.gateway.calls[0]
	require.Empty(t, req.Data.UserID)
	require.Equal(t, &finik.RegistrationData{Nickname: "carol", Email: "carol@stud.kg", ReferralCode: code}, req.Data.RegistrationData)
	require.Equal(t, "Подписка Групповая на 3 месяца", req.Data.Description)

	var sub models.Subscription
	require.NoError(t, f.db.First(&sub, "id = ?", res.SubscriptionID).Error)
	reg := sub.Extra.Data().Registration
	require.NotNil(t, reg)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(reg.PasswordHash), []byte("s3cret")))

	_, err = f.svc.CreatePayment(ctx, &CreatePaymentRequest{
		Registration: &Registration{Nickname: "alice", Email: "new@stud.kg", Password: "x"},
		PlanType:     types.PlanTypeIndividual, DurationMonths: 1,
	})
	require.ErrorIs(t, err, ErrRegistrationConflict)

	_, err = f.svc.CreatePayment(ctx, &CreatePaymentRequest{PlanType: types.PlanTypeIndividual, DurationMonths: 1})
	require.ErrorIs(t, err, ErrRegistrationRequired)

	_, err = f.svc.CreatePayment(ctx, &CreatePaymentRequest{
		Registration: &Registration{Nickname: "dave", Email: "dave@stud.kg"},
		PlanType:     types.PlanTypeIndividual, DurationMonths: 1,
	})
	require.ErrorIs(t, err, ErrRegistrationInvalid)
}

func TestService_CreatePayment_RegistrationFullyDiscounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	referrer := f.user(t, "alice", 0)
	code, err := f.referral.GetOrCreateReferralCode(ctx, referrer.ID)
	require.NoError(t, err)

	_, err = f.svc.CreatePayment(ctx, &CreatePaymentRequest{
		Registration:   &Registration{Nickname: "carol", Email: "carol@stud.kg", Password: "x", ReferralCode: code},
		PlanType:       types.PlanTypeIndividual,
		DurationMonths: 12,
	})
	require.ErrorIs(t, err, ErrInvalidPlan)
}

func TestDescription_Plurals(t *testing.T) {
	cases := map[int]string{1: "месяц", 3: "месяца", 6: "месяцев", 11: "месяцев", 12: "месяцев", 21: "месяц", 22: "месяца"}
	for n, want := range cases {
		require.Equal(t, want, pluralMonths(n), "n=%d", n)
	}
	require.Equal(t, "Подписка Индивидуальная на 6 месяцев",
		Description(&types.Plan{Type: types.PlanTypeIndividual, DurationMonths: 6}))
}
