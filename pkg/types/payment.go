package types

import "time"

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusFailed
}

// GatewayStatus is the status string the gateway sends in notifications.
type GatewayStatus string

const (
	GatewayStatusSucceeded GatewayStatus = "SUCCEEDED"
	GatewayStatusFailed    GatewayStatus = "FAILED"
)

type BonusTransactionType string

const (
	BonusTypeReferralBonus       BonusTransactionType = "referral_bonus"
	BonusTypeReferralReceived    BonusTransactionType = "referral_received"
	BonusTypeSubscriptionPayment BonusTransactionType = "subscription_payment"
	BonusTypeExpiration          BonusTransactionType = "expiration"
)

type SubscriptionChangeReason string

const (
	SubscriptionChangeReasonPaymentSucceeded SubscriptionChangeReason = "payment_succeeded"
	SubscriptionChangeReasonPaymentFailed    SubscriptionChangeReason = "payment_failed"
	SubscriptionChangeReasonBonusPurchase    SubscriptionChangeReason = "bonus_purchase"
)

type UserEntitlement struct {
	UserID       string     `json:"user_id"`
	IsSubscribed bool       `json:"is_subscribed"`
	EndDate      *time.Time `json:"end_date"`
	Active       bool       `json:"active"`
}
