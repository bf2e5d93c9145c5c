package models

import (
	"time"

	"github.com/studkg/cashier/pkg/types"
)

// BonusTransaction is an immutable bonus ledger entry. Amount is positive
// for credits and negative for debits and expirations.
type BonusTransaction struct {
	ID             string                     `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID         string                     `gorm:"column:user_id;type:varchar(64);not null;index" json:"user_id"`
	Amount         int                        `gorm:"column:amount;not null" json:"amount"`
	Type           types.BonusTransactionType `gorm:"column:type;type:varchar(32);not null" json:"type"`
	Description    string                     `gorm:"column:description;type:varchar(255)" json:"description"`
	ReferralID     *string                    `gorm:"column:referral_id;type:varchar(64);default:null" json:"referral_id"`
	SubscriptionID *string                    `gorm:"column:subscription_id;type:varchar(64);default:null" json:"subscription_id"`
	// ExpiresAt is set on credits only.
	ExpiresAt *time.Time `gorm:"column:expires_at;default:null;index" json:"expires_at"`
	IsExpired bool       `gorm:"column:is_expired;not null" json:"is_expired"`
	CreatedAt time.Time  `json:"created_at"`
}

func (BonusTransaction) TableName() string {
	return "bonus_transaction"
}
