package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/studkg/cashier/pkg/types"
)

// PendingRegistration holds an account to create once the payment that
// carries it succeeds.
type PendingRegistration struct {
	Nickname     string `json:"nickname"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
	ReferralCode string `json:"referral_code,omitempty"`
}

type SubscriptionExtra struct {
	Registration *PendingRegistration `json:"registration,omitempty"`
	// PaymentURL is the hosted page the gateway returned.
	PaymentURL       string `json:"payment_url,omitempty"`
	GatewayPaymentID string `json:"gateway_payment_id,omitempty"`
	// LastGatewayStatus is the latest status string seen in a notification.
	LastGatewayStatus string `json:"last_gateway_status,omitempty"`
}

// Subscription is one purchase attempt. It starts pending and is moved to
// succeeded or failed exactly once by a verified gateway notification.
type Subscription struct {
	ID             string         `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID         *string        `gorm:"column:user_id;type:varchar(64);index;default:null" json:"user_id"`
	PlanType       types.PlanType `gorm:"column:plan_type;type:varchar(32);not null" json:"plan_type"`
	DurationMonths int            `gorm:"column:duration_months;not null" json:"duration_months"`
	BasePrice      int            `gorm:"column:base_price;not null" json:"base_price"`
	// Amount is what the payer is charged after discount and bonus.
	Amount           int        `gorm:"column:amount;not null" json:"amount"`
	BonusUsed        int        `gorm:"column:bonus_used;not null;default:0" json:"bonus_used"`
	ReferralDiscount int        `gorm:"column:referral_discount;not null;default:0" json:"referral_discount"`
	ReferralID       *string    `gorm:"column:referral_id;type:varchar(64);default:null" json:"referral_id"`
	StartDate        *time.Time `gorm:"column:start_date;default:null" json:"start_date"`
	EndDate          *time.Time `gorm:"column:end_date;default:null" json:"end_date"`
	IsActive         bool       `gorm:"column:is_active;not null" json:"is_active"`
	// PaymentID is generated locally and is the primary correlation key to the gateway.
	PaymentID     string                                `gorm:"column:payment_id;type:varchar(64);not null;uniqueIndex" json:"payment_id"`
	TransactionID *string                               `gorm:"column:transaction_id;type:varchar(128);index;default:null" json:"transaction_id"`
	PaymentStatus types.PaymentStatus                   `gorm:"column:payment_status;type:varchar(32);not null;index" json:"payment_status"`
	Extra         datatypes.JSONType[SubscriptionExtra] `gorm:"column:extra;type:jsonb" json:"extra"`
	CreatedAt     time.Time                             `json:"created_at"`
	UpdatedAt     time.Time                             `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscription"
}

func (s *Subscription) Pending() bool {
	return s != nil && s.PaymentStatus == types.PaymentStatusPending
}
