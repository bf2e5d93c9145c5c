package models

import "time"

// Referral links an inviting user to the user who signed up with their code.
type Referral struct {
	ID           string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	ReferrerID   string `gorm:"column:referrer_id;type:varchar(64);not null;index" json:"referrer_id"`
	ReferredID   string `gorm:"column:referred_id;type:varchar(64);not null;index" json:"referred_id"`
	ReferralCode string `gorm:"column:referral_code;type:varchar(16);not null" json:"referral_code"`
	IsActive     bool   `gorm:"column:is_active;not null" json:"is_active"`
	// HasPurchased and BonusPaid flip together, in the transaction that credits the bonuses.
	HasPurchased bool      `gorm:"column:has_purchased;not null" json:"has_purchased"`
	BonusPaid    bool      `gorm:"column:bonus_paid;not null" json:"bonus_paid"`
	ExpiresAt    time.Time `gorm:"column:expires_at;not null" json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Referral) TableName() string {
	return "referral"
}

func (r *Referral) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
