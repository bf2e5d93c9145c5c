package notification_handler

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	notificationlog "github.com/studkg/cashier/internal/app/service/notification_log"
	"github.com/studkg/cashier/internal/app/service/referral"
	"github.com/studkg/cashier/internal/app/service/subscription"
	"github.com/studkg/cashier/internal/models"
	"github.com/studkg/cashier/internal/platform/cache"
	"github.com/studkg/cashier/internal/platform/db/dbtest"
	"github.com/studkg/cashier/internal/platform/finik"
	"github.com/studkg/cashier/pkg/config"
	"github.com/studkg/cashier/pkg/metrics"
	"github.com/studkg/cashier/pkg/tool"
	"github.com/studkg/cashier/pkg/types"
)

var (
	keyOnce    sync.Once
	gatewayKey *rsa.PrivateKey
	strangeKey *rsa.PrivateKey
)

func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		if gatewayKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
		if strangeKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
	})
	return gatewayKey, strangeKey
}

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type fixture struct {
	h        *NotificationHandler
	db       *gorm.DB
	logs     *notificationlog.Service
	referral *referral.Service
	reg      *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, _ := testKeys(t)
	gdb := dbtest.New(t)
	log := zap.NewNop().Sugar()
	cfg := &config.Config{Finik: config.FinikConfig{TimestampTolerance: 5 * time.Minute}}

	refs := referral.NewService(cfg, gdb, log)
	subs := subscription.NewService(cfg, gdb, log, refs)
	logs := notificationlog.New(gdb, log)
	t.Cleanup(logs.Close)

	reg := prometheus.NewRegistry()
	rec, err := metrics.NewRecorder(reg)
	require.NoError(t, err)

	h := NewNotificationHandler(cfg, finik.NewVerifier(&key.PublicKey, log), cache.NewMemoryGuard(), logs, subs, refs, rec, log)
	h.now = func() time.Time { return fixedNow }
	return &fixture{h: h, db: gdb, logs: logs, referral: refs, reg: reg}
}

// signed builds a request carrying body, signed the way the gateway does.
func signed(t *testing.T, body string, at time.Time, key *rsa.PrivateKey) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "https://stud.kg/webhooks/finik", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-Api-Timestamp", strconv.FormatInt(at.UnixMilli(), 10))

	cr, err := finik.NewCanonicalRequestFromHTTP(r, []byte(body))
	require.NoError(t, err)
	canonical, err := cr.String()
	require.NoError(t, err)
	sig, err := finik.NewSigner(key).Sign(canonical)
	require.NoError(t, err)
	r.Header.Set("Signature", sig)
	return r
}

func (f *fixture) deliver(t *testing.T, body string, at time.Time, key *rsa.PrivateKey) *Result {
	t.Helper()
	return f.h.HandleNotification(context.Background(), signed(t, body, at, key), []byte(body))
}

func (f *fixture) user(t *testing.T, nickname string) *models.User {
	t.Helper()
	u := &models.User{ID: tool.GenerateUUIDV7(), Nickname: nickname, Email: nickname + "@stud.kg", PasswordHash: "x"}
	require.NoError(t, f.db.Create(u).Error)
	return u
}

func (f *fixture) pending(t *testing.T, userID *string) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		ID:             tool.GenerateUUIDV7(),
		UserID:         userID,
		PlanType:       types.PlanTypeIndividual,
		DurationMonths: 1,
		BasePrice:      1000,
		Amount:         1000,
		PaymentID:      tool.GenerateUUIDV7(),
		PaymentStatus:  types.PaymentStatusPending,
	}
	require.NoError(t, f.db.Create(sub).Error)
	return sub
}

func (f *fixture) reloadSub(t *testing.T, id string) *models.Subscription {
	t.Helper()
	var sub models.Subscription
	require.NoError(t, f.db.First(&sub, "id = ?", id).Error)
	return &sub
}

func (f *fixture) reloadUser(t *testing.T, id string) *models.User {
	t.Helper()
	var u models.User
	require.NoError(t, f.db.First(&u, "id = ?", id).Error)
	return &u
}

func notification(id, transactionID, status string) string {
	return `{"id":"` + id + `","transactionId":"` + transactionID + `","status":"` + status +
		`","amount":1000,"accountId":"acc-1","fields":{"source":"qr"},"requestDate":1746352800000}`
}

func TestNotificationHandler_RejectsBeforeSideEffects(t *testing.T) {
	f := newFixture(t)
	key, other := testKeys(t)
	u := f.user(t, "alice")
	sub := f.pending(t, &u.ID)
	body := notification(sub.PaymentID, "tx-1", "SUCCEEDED")

	t.Run("missing headers", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "https://stud.kg/webhooks/finik", strings.NewReader(body))
		res := f.h.HandleNotification(context.Background(), r, []byte(body))
		require.Equal(t, http.StatusBadRequest, res.Status)
		require.Equal(t, OutcomeMissingHeaders, res.Outcome)
	})
	t.Run("invalid timestamp", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "https://stud.kg/webhooks/finik", strings.NewReader(body))
		r.Header.Set(HeaderSignature, "sig")
		r.Header.Set(HeaderTimestamp, "yesterday")
		res := f.h.HandleNotification(context.Background(), r, []byte(body))
		require.Equal(t, http.StatusBadRequest, res.Status)
		require.Equal(t, OutcomeInvalidTimestamp, res.Outcome)
	})
	t.Run("stale", func(t *testing.T) {
		res := f.deliver(t, body, fixedNow.Add(-6*time.Minute), key)
		require.Equal(t, http.StatusRequestTimeout, res.Status)
	})
	t.Run("from the future", func(t *testing.T) {
		res := f.deliver(t, body, fixedNow.Add(6*time.Minute), key)
		require.Equal(t, http.StatusRequestTimeout, res.Status)
	})
	t.Run("stale unknown payment", func(t *testing.T) {
		res := f.deliver(t, notification("nope", "nope", "SUCCEEDED"), fixedNow.Add(-time.Hour), key)
		require.Equal(t, http.StatusRequestTimeout, res.Status)
	})
	t.Run("foreign key", func(t *testing.T) {
		res := f.deliver(t, body, fixedNow, other)
		require.Equal(t, http.StatusUnauthorized, res.Status)
		require.Equal(t, "Invalid signature", res.Body)
	})
	t.Run("invalid json", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "https://stud.kg/webhooks/finik", strings.NewReader("{"))
		r.Header.Set("X-Api-Timestamp", strconv.FormatInt(fixedNow.UnixMilli(), 10))
		r.Header.Set("Signature", "c2ln")
		res := f.h.HandleNotification(context.Background(), r, []byte("{"))
		require.Equal(t, http.StatusBadRequest, res.Status)
	})

	require.Equal(t, types.PaymentStatusPending, f.reloadSub(t, sub.ID).PaymentStatus)
	require.False(t, f.reloadUser(t, u.ID).IsSubscribed)
}

func TestNotificationHandler_TamperedBody(t *testing.T) {
	f := newFixture(t)
	key, _ := testKeys(t)
	u := f.user(t, "alice")
	sub := f.pending(t, &u.ID)

	body := notification(sub.PaymentID, "tx-1", "FAILED")
	r := httptest.NewRequest(http.MethodPost, "https://stud.kg/webhooks/finik", strings.NewReader(body))
	r.Header.Set("X-Api-Timestamp", strconv.FormatInt(fixedNow.UnixMilli(), 10))
	cr, err := finik.NewCanonicalRequestFromHTTP(r, []byte(body))
	require.NoError(t, err)
	canonical, err := cr.String()
	require.NoError(t, err)
	sig, err := finik.NewSigner(key).Sign(canonical)
	require.NoError(t, err)
	r.Header.Set("Signature", sig)

	tampered := strings.Replace(body, "FAILED", "SUCCEEDED", 1)
	res := f.h.HandleNotification(context.Background(), r, []byte(tampered))
	require.Equal(t, http.StatusUnauthorized, res.Status)
	require.Equal(t, types.PaymentStatusPending, f.reloadSub(t, sub.ID).PaymentStatus)
}

func TestNotificationHandler_UnknownPayment(t *testing.T) {
	f := newFixture(t)
	key, _ := testKeys(t)
	res := f.deliver(t, notification("nope", "nope-tx", "SUCCEEDED"), fixedNow, key)
	require.Equal(t, http.StatusNotFound, res.Status)
	require.Equal(t, OutcomeNotFound, res.Outcome)
}

func TestNotificationHandler_Succeeded(t *testing.T) {
	f := newFixture(t)
	key, _ := testKeys(t)
	u := f.user(t, "alice")
	sub := f.pending(t, &u.ID)
	body := notification(sub.PaymentID, "tx-1", "SUCCEEDED")

	res := f.deliver(t, body, fixedNow.Add(-time.Minute), key)
	require.Equal(t, &Result{Status: http.StatusOK, Body: "OK", Outcome: OutcomeSucceeded}, res)

	stored := f.reloadSub(t, sub.ID)
	require.Equal(t, types.PaymentStatusSucceeded, stored.PaymentStatus)
	require.Equal(t, "tx-1", *stored.TransactionID)
	user := f.reloadUser(t, u.ID)
	require.True(t, user.IsSubscribed)
	end := *user.SubscriptionEndDate

	// a byte-identical retry is absorbed by the replay guard
	res = f.deliver(t, body, fixedNow.Add(-time.Minute), key)
	require.Equal(t, OutcomeReplay, res.Outcome)
	require.Equal(t, http.StatusOK, res.Status)

	// a fresh delivery of the same event hits the status guard
	res = f.deliver(t, body, fixedNow, key)
	require.Equal(t, OutcomeDuplicate, res.Outcome)
	require.True(t, f.reloadUser(t, u.ID).SubscriptionEndDate.Equal(end))

	f.logs.Flush()
	var entries []models.PaymentNotificationLog
	require.NoError(t, f.db.Order("created_at asc").Find(&entries).Error)
	require.Len(t, entries, 2)
	var outcomes []string
	for _, e := range entries {
		require.Equal(t, models.PaymentNotificationLogStatusHandled, e.Status)
		require.Equal(t, sub.PaymentID, e.PaymentID)
		require.Equal(t, "SUCCEEDED", e.GatewayStatus)
		require.Equal(t, http.StatusOK, e.ResponseStatus)
		outcomes = append(outcomes, e.Outcome)
	}
	require.ElementsMatch(t, []string{string(OutcomeSucceeded), string(OutcomeDuplicate)}, outcomes)

	require.Equal(t, 1.0, counterValue(t, f.reg, string(OutcomeSucceeded)))
	require.Equal(t, 1.0, counterValue(t, f.reg, string(OutcomeReplay)))
}

func TestNotificationHandler_MatchesByTransactionID(t *testing.T) {
	f := newFixture(t)
	key, _ := testKeys(t)
	u := f.user(t, "alice")
	sub := f.pending(t, &u.ID)

	// only our payment id, echoed in transactionId
	res := f.deliver(t, notification("gw-777", sub.PaymentID, "SUCCEEDED"), fixedNow, key)
	require.Equal(t, OutcomeSucceeded, res.Outcome)
	require.Equal(t, types.PaymentStatusSucceeded, f.reloadSub(t, sub.ID).PaymentStatus)
}

func TestNotificationHandler_FailedIsTerminal(t *testing.T) {
	f := newFixture(t)
	key, _ := testKeys(t)
	u := f.user(t, "alice")
	sub := f.pending(t, &u.ID)

	res := f.deliver(t, notification(sub.PaymentID, "tx-1", "FAILED"), fixedNow, key)
	require.Equal(t, OutcomeFailed, res.Outcome)
	require.Equal(t, types.PaymentStatusFailed, f.reloadSub(t, sub.ID).PaymentStatus)

	res = f.deliver(t, notification(sub.PaymentID, "tx-1", "SUCCEEDED"), fixedNow.Add(time.Second), key)
	require.Equal(t, http.StatusOK, res.Status)
	require.Equal(t, OutcomeRejectedTransition, res.Outcome)
	require.Equal(t, types.PaymentStatusFailed, f.reloadSub(t, sub.ID).PaymentStatus)
	require.False(t, f.reloadUser(t, u.ID).IsSubscribed)
}

func TestNotificationHandler_InProgressStatus(t *testing.T) {
	f := newFixture(t)
	key, _ := testKeys(t)
	u := f.user(t, "alice")
	sub := f.pending(t, &u.ID)

	res := f.deliver(t, notification(sub.PaymentID, "tx-9", "PROCESSING"), fixedNow, key)
	require.Equal(t, OutcomeInProgress, res.Outcome)
	stored := f.reloadSub(t, sub.ID)
	require.Equal(t, types.PaymentStatusPending, stored.PaymentStatus)
	require.Equal(t, "tx-9", *stored.TransactionID)
}

func TestNotificationHandler_ReferralBonusPaidOnce(t *testing.T) {
	f := newFixture(t)
	key, _ := testKeys(t)
	ctx := context.Background()
	referrer := f.user(t, "alice")
	u := f.user(t, "bob")
	code, err := f.referral.GetOrCreateReferralCode(ctx, referrer.ID)
	require.NoError(t, err)
	_, err = f.referral.CreateReferral(ctx, code, u.ID)
	require.NoError(t, err)

	first := f.pending(t, &u.ID)
	second := f.pending(t, &u.ID)

	require.Equal(t, OutcomeSucceeded, f.deliver(t, notification(first.PaymentID, "tx-1", "SUCCEEDED"), fixedNow, key).Outcome)
	require.Equal(t, OutcomeSucceeded, f.deliver(t, notification(second.PaymentID, "tx-2", "SUCCEEDED"), fixedNow, key).Outcome)
	require.Equal(t, OutcomeDuplicate, f.deliver(t, notification(first.PaymentID, "tx-1", "SUCCEEDED"), fixedNow.Add(time.Second), key).Outcome)

	require.Equal(t, 50, f.reloadUser(t, referrer.ID).BonusBalance)
	require.Equal(t, 50, f.reloadUser(t, u.ID).BonusBalance)

	var credits int64
	require.NoError(t, f.db.Model(&models.BonusTransaction{}).Where("amount > 0").Count(&credits).Error)
	require.EqualValues(t, 2, credits)
}

func TestNotificationHandler_ConcurrentDeliveries(t *testing.T) {
	f := newFixture(t)
	key, _ := testKeys(t)
	ctx := context.Background()
	referrer := f.user(t, "alice")
	u := f.user(t, "bob")
	code, err := f.referral.GetOrCreateReferralCode(ctx, referrer.ID)
	require.NoError(t, err)
	_, err = f.referral.CreateReferral(ctx, code, u.ID)
	require.NoError(t, err)
	sub := f.pending(t, &u.ID)
	body := notification(sub.PaymentID, "tx-1", "SUCCEEDED")

	// distinct timestamps keep the replay guard out of the way
	const n = 8
	reqs := make([]*http.Request, n)
	for i := range reqs {
		reqs[i] = signed(t, body, fixedNow.Add(time.Duration(i)*time.Millisecond), key)
	}

	outcomes := make([]Outcome, n)
	var wg sync.WaitGroup
	for i, r := range reqs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = f.h.HandleNotification(ctx, r, []byte(body)).Outcome
		}()
	}
	wg.Wait()

	var succeeded int
	for _, o := range outcomes {
		switch o {
		case OutcomeSucceeded:
			succeeded++
		case OutcomeDuplicate:
		default:
			t.Fatalf("unexpected outcome %q", o)
		}
	}
	require.Equal(t, 1, succeeded)

	require.Equal(t, types.PaymentStatusSucceeded, f.reloadSub(t, sub.ID).PaymentStatus)
	require.Equal(t, 50, f.reloadUser(t, referrer.ID).BonusBalance)
	require.Equal(t, 50, f.reloadUser(t, u.ID).BonusBalance)
	var credits int64
	require.NoError(t, f.db.Model(&models.BonusTransaction{}).Where("amount > 0").Count(&credits).Error)
	require.EqualValues(t, 2, credits)
}

func TestNotificationHandler_RegistrationCreatesUser(t *testing.T) {
	f := newFixture(t)
	key, _ := testKeys(t)
	sub := f.pending(t, nil)
	require.NoError(t, f.db.Model(sub).Update("extra", datatypes.NewJSONType(models.SubscriptionExtra{
		Registration: &models.PendingRegistration{Nickname: "carol", Email: "carol@stud.kg", PasswordHash: "h"},
	})).Error)

	res := f.deliver(t, notification(sub.PaymentID, "tx-1", "SUCCEEDED"), fixedNow, key)
	require.Equal(t, OutcomeSucceeded, res.Outcome)

	var user models.User
	require.NoError(t, f.db.First(&user, "email = ?", "carol@stud.kg").Error)
	require.True(t, user.IsSubscribed)
	require.Equal(t, user.ID, *f.reloadSub(t, sub.ID).UserID)
}

func TestNotificationHandler_InternalErrorStillAcknowledged(t *testing.T) {
	f := newFixture(t)
	key, _ := testKeys(t)
	// no owner and no registration: confirmation cannot complete
	sub := f.pending(t, nil)
	body := notification(sub.PaymentID, "tx-1", "SUCCEEDED")

	res := f.deliver(t, body, fixedNow, key)
	require.Equal(t, http.StatusOK, res.Status)
	require.Equal(t, "Error processed", res.Body)
	require.Equal(t, types.PaymentStatusPending, f.reloadSub(t, sub.ID).PaymentStatus)

	// not remembered, the same delivery is processed again
	res = f.deliver(t, body, fixedNow, key)
	require.Equal(t, OutcomeError, res.Outcome)

	f.logs.Flush()
	var entry models.PaymentNotificationLog
	require.NoError(t, f.db.First(&entry).Error)
	require.Equal(t, models.PaymentNotificationLogStatusHandleFailed, entry.Status)
}

func TestParseNotification(t *testing.T) {
	n, err := ParseNotification([]byte(`{"id":" p-1 ","transactionId":"t-1","status":"succeeded","amount":"1000.00"}`))
	require.NoError(t, err)
	require.Equal(t, "p-1", n.ID)
	require.Equal(t, types.GatewayStatusSucceeded, n.GatewayStatus())

	_, ok := parseTimestamp("abc")
	require.False(t, ok)
	ts, ok := parseTimestamp("1700000000000")
	require.True(t, ok)
	require.Equal(t, int64(1700000000000), ts.UnixMilli())
}

func TestProbeInfo(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/webhooks/finik", nil)
	info := ProbeInfo(r)
	require.Equal(t, "ok", info["status"])
	require.Equal(t, "/webhooks/finik", info["path"])
}

func counterValue(t *testing.T, reg *prometheus.Registry, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "finik_webhook_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
