package notification_handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	notificationlog "github.com/studkg/cashier/internal/app/service/notification_log"
	"github.com/studkg/cashier/internal/app/service/referral"
	"github.com/studkg/cashier/internal/app/service/subscription"
	"github.com/studkg/cashier/internal/models"
	"github.com/studkg/cashier/internal/platform/cache"
	"github.com/studkg/cashier/internal/platform/finik"
	"github.com/studkg/cashier/pkg/config"
	"github.com/studkg/cashier/pkg/logctx"
	"github.com/studkg/cashier/pkg/metrics"
	"github.com/studkg/cashier/pkg/types"
)

const (
	providerFinik             = "finik"
	defaultTimestampTolerance = 5 * time.Minute
)

// Outcome labels one processed delivery in logs and metrics.
type Outcome string

const (
	OutcomeMissingHeaders     Outcome = "missing_headers"
	OutcomeInvalidTimestamp   Outcome = "invalid_timestamp"
	OutcomeStale              Outcome = "stale"
	OutcomeInvalidPayload     Outcome = "invalid_payload"
	OutcomeBadSignature       Outcome = "bad_signature"
	OutcomeReplay             Outcome = "replay"
	OutcomeNotFound           Outcome = "not_found"
	OutcomeSucceeded          Outcome = "succeeded"
	OutcomeFailed             Outcome = "failed"
	OutcomeDuplicate          Outcome = "duplicate"
	OutcomeRejectedTransition Outcome = "rejected_transition"
	OutcomeInProgress         Outcome = "in_progress"
	OutcomeError              Outcome = "error"
)

// Result is the reply owed to the gateway. Body is plain text.
type Result struct {
	Status  int
	Body    string
	Outcome Outcome
}

const (
	replyOK        = "OK"
	replyProcessed = "Error processed"
)

func reply(status int, body string, outcome Outcome) *Result {
	return &Result{Status: status, Body: body, Outcome: outcome}
}

// NotificationHandler verifies Finik notifications and applies the payment
// transition they carry. Every rejection happens before any state changes.
type NotificationHandler struct {
	cfg       *config.Config
	verifier  *finik.Verifier
	replay    cache.ReplayGuard
	notifSvc  *notificationlog.Service
	subSvc    *subscription.Service
	referrals *referral.Service
	metrics   *metrics.Recorder
	Logger    *zap.SugaredLogger
	now       func() time.Time
}

func NewNotificationHandler(
	cfg *config.Config,
	verifier *finik.Verifier,
	replay cache.ReplayGuard,
	notif *notificationlog.Service,
	sub *subscription.Service,
	referrals *referral.Service,
	rec *metrics.Recorder,
	log *zap.SugaredLogger,
) *NotificationHandler {
	if replay == nil {
		replay = cache.NoopGuard{}
	}
	return &NotificationHandler{
		cfg:       cfg,
		verifier:  verifier,
		replay:    replay,
		notifSvc:  notif,
		subSvc:    sub,
		referrals: referrals,
		metrics:   rec,
		Logger:    log,
		now:       time.Now,
	}
}

func (h *NotificationHandler) tolerance() time.Duration {
	if h.cfg != nil && h.cfg.Finik.TimestampTolerance > 0 {
		return h.cfg.Finik.TimestampTolerance
	}
	return defaultTimestampTolerance
}

// HandleNotification processes one delivery. r supplies the method, path,
// query and headers the signature covers; body is the raw request body.
func (h *NotificationHandler) HandleNotification(ctx context.Context, r *http.Request, body []byte) *Result {
	res := h.handle(ctx, r, body)
	h.metrics.WebhookOutcome(string(res.Outcome))
	return res
}

func (h *NotificationHandler) handle(ctx context.Context, r *http.Request, body []byte) *Result {
	log := logctx.FromCtx(ctx, h.Logger)

	signature := r.Header.Get(HeaderSignature)
	timestamp := r.Header.Get(HeaderTimestamp)
	if signature == "" || timestamp == "" {
		log.Warnw("finik_webhook_missing_headers", "has_signature", signature != "", "has_timestamp", timestamp != "")
		return reply(http.StatusBadRequest, "Missing signature or timestamp", OutcomeMissingHeaders)
	}

	sentAt, ok := parseTimestamp(timestamp)
	if !ok {
		log.Warnw("finik_webhook_invalid_timestamp", "timestamp", timestamp)
		return reply(http.StatusBadRequest, "Invalid timestamp", OutcomeInvalidTimestamp)
	}
	// checked before any lookup so a stale delivery reveals nothing
	if skew := h.now().Sub(sentAt).Abs(); skew > h.tolerance() {
		log.Warnw("finik_webhook_stale", "timestamp", timestamp, "skew", skew.String())
		return reply(http.StatusRequestTimeout, "Request timestamp expired", OutcomeStale)
	}

	canonical, err := finik.NewCanonicalRequestFromHTTP(r, body)
	if err != nil {
		log.Warnw("finik_webhook_invalid_json", "error", err.Error())
		return reply(http.StatusBadRequest, "Invalid JSON", OutcomeInvalidPayload)
	}
	payload, err := canonical.String()
	if err != nil {
		log.Errorw("finik_webhook_canonical_failed", "error", err.Error())
		return reply(http.StatusBadRequest, "Invalid JSON", OutcomeInvalidPayload)
	}
	if !h.verifier.Verify(payload, signature) {
		return reply(http.StatusUnauthorized, "Invalid signature", OutcomeBadSignature)
	}

	replayKey := cache.ReplayKey(timestamp, signature)
	if seen, err := h.replay.Seen(ctx, replayKey); err != nil {
		log.Warnw("finik_replay_guard_unavailable", "error", err.Error())
	} else if seen {
		log.Infow("finik_webhook_replayed")
		return reply(http.StatusOK, replyOK, OutcomeReplay)
	}

	n, err := ParseNotification(body)
	if err != nil {
		log.Warnw("finik_webhook_invalid_payload", "error", err.Error())
		return reply(http.StatusBadRequest, "Invalid JSON", OutcomeInvalidPayload)
	}
	log = log.With("notification_id", n.ID, "transaction_id", n.TransactionID, "status", n.Status)

	entry := &models.PaymentNotificationLog{
		ProviderID:       providerFinik,
		PaymentID:        n.ID,
		TransactionID:    n.TransactionID,
		TraceID:          logctx.TraceID(ctx),
		NotificationTime: sentAt.UTC(),
		Data:             datatypes.JSON(body),
		Status:           models.PaymentNotificationLogStatusReceived,
		GatewayStatus:    string(n.GatewayStatus()),
	}
	h.notifSvc.Save(ctx, entry)

	res, detail, procErr := h.apply(ctx, log, n)

	resultMap := map[string]any{"outcome": res.Outcome, "detail": detail}
	entry.Status = models.PaymentNotificationLogStatusHandled
	entry.Outcome = string(res.Outcome)
	entry.ResponseStatus = res.Status
	if procErr != nil {
		resultMap["error"] = procErr.Error()
		entry.Status = models.PaymentNotificationLogStatusHandleFailed
	}
	resultBytes, _ := json.Marshal(resultMap)
	result := datatypes.JSON(resultBytes)
	entry.Result = &result
	h.notifSvc.Save(ctx, entry)

	// a delivery that failed internally may be retried by the gateway
	if procErr == nil && res.Status == http.StatusOK {
		if err := h.replay.Remember(ctx, replayKey, 2*h.tolerance()); err != nil {
			log.Warnw("finik_replay_remember_failed", "error", err.Error())
		}
	}
	return res
}

// apply maps the notification to a stored payment and performs its
// transition. detail is recorded in the notification log.
func (h *NotificationHandler) apply(ctx context.Context, log *zap.SugaredLogger, n *Notification) (*Result, map[string]any, error) {
	lookup, err := h.subSvc.FindForNotification(ctx, n.ID, n.TransactionID)
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		log.Warnw("finik_webhook_unknown_payment")
		return reply(http.StatusNotFound, "Payment not found", OutcomeNotFound), nil, nil
	}
	if err != nil {
		log.Errorw("finik_webhook_lookup_failed", "error", err.Error())
		return reply(http.StatusOK, replyProcessed, OutcomeError), nil, err
	}
	sub := lookup.Subscription
	detail := map[string]any{"subscription_id": sub.ID, "conflict": lookup.Conflict}
	log = log.With("subscription_id", sub.ID)

	target, known := targetStatus(n.GatewayStatus())
	if !known {
		if err := h.subSvc.RecordTransactionID(ctx, sub.ID, n.TransactionID); err != nil {
			log.Errorw("finik_webhook_record_failed", "error", err.Error())
			return reply(http.StatusOK, replyProcessed, OutcomeError), detail, err
		}
		log.Infow("finik_webhook_in_progress")
		return reply(http.StatusOK, replyOK, OutcomeInProgress), detail, nil
	}

	if sub.PaymentStatus.IsTerminal() {
		if sub.PaymentStatus == target {
			log.Infow("finik_webhook_duplicate")
			return reply(http.StatusOK, replyOK, OutcomeDuplicate), detail, nil
		}
		log.Warnw("finik_webhook_transition_rejected", "current", sub.PaymentStatus, "requested", target)
		detail["current"] = sub.PaymentStatus
		return reply(http.StatusOK, replyOK, OutcomeRejectedTransition), detail, nil
	}

	if target == types.PaymentStatusFailed {
		tr, err := h.subSvc.FailPayment(ctx, sub.ID, n.TransactionID)
		if err != nil {
			log.Errorw("finik_webhook_fail_failed", "error", err.Error())
			return reply(http.StatusOK, replyProcessed, OutcomeError), detail, err
		}
		if !tr.Applied {
			return reply(http.StatusOK, replyOK, OutcomeDuplicate), detail, nil
		}
		log.Infow("finik_payment_failed")
		return reply(http.StatusOK, replyOK, OutcomeFailed), detail, nil
	}

	tr, err := h.subSvc.ConfirmPayment(ctx, sub.ID, n.TransactionID)
	if err != nil {
		log.Errorw("finik_webhook_confirm_failed", "error", err.Error())
		return reply(http.StatusOK, replyProcessed, OutcomeError), detail, err
	}
	if !tr.Applied {
		log.Infow("finik_webhook_duplicate")
		return reply(http.StatusOK, replyOK, OutcomeDuplicate), detail, nil
	}
	detail["user_id"] = tr.User.ID
	detail["user_created"] = tr.UserCreated
	detail["end_date"] = tr.Subscription.EndDate
	h.awardFirstPurchase(ctx, log, tr, detail)
	return reply(http.StatusOK, replyOK, OutcomeSucceeded), detail, nil
}

// awardFirstPurchase credits referral bonuses after a confirmed payment.
// Failures are logged only; the confirmation already stands.
func (h *NotificationHandler) awardFirstPurchase(ctx context.Context, log *zap.SugaredLogger, tr *subscription.TransitionResult, detail map[string]any) {
	others, err := h.subSvc.CountOtherSucceeded(ctx, tr.User.ID, tr.Subscription.ID)
	if err != nil {
		log.Errorw("finik_referral_count_failed", "error", err.Error())
		return
	}
	if others > 0 {
		return
	}
	award, err := h.referrals.AwardReferralBonuses(ctx, tr.User.ID, tr.Subscription.ID)
	if err != nil {
		log.Errorw("finik_referral_award_failed", "error", err.Error())
		detail["referral_error"] = err.Error()
		return
	}
	detail["referral"] = award.Outcome
}

func targetStatus(s types.GatewayStatus) (types.PaymentStatus, bool) {
	switch s {
	case types.GatewayStatusSucceeded:
		return types.PaymentStatusSucceeded, true
	case types.GatewayStatusFailed:
		return types.PaymentStatusFailed, true
	}
	return "", false
}

// ProbeInfo is the reply to a GET on the webhook path, used to check the
// endpoint is reachable.
func ProbeInfo(r *http.Request) map[string]any {
	return map[string]any{
		"status":    "ok",
		"message":   "Finik webhook endpoint is reachable. Notifications must be sent with POST.",
		"method":    r.Method,
		"path":      r.URL.Path,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
}
