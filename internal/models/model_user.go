package models

import (
	"time"
)

// User is the account an entitlement and bonus balance belong to.
type User struct {
	ID           string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Nickname     string `gorm:"column:nickname;type:varchar(64);not null;uniqueIndex" json:"nickname"`
	Email        string `gorm:"column:email;type:varchar(255);not null;uniqueIndex" json:"email"`
	PasswordHash string `gorm:"column:password_hash;type:varchar(255);not null" json:"-"`
	IsSubscribed bool   `gorm:"column:is_subscribed;not null" json:"is_subscribed"`
	// SubscriptionEndDate is the end of the paid window, nil if never subscribed.
	SubscriptionEndDate *time.Time `gorm:"column:subscription_end_date;default:null" json:"subscription_end_date"`
	ReferralCode        *string    `gorm:"column:referral_code;type:varchar(16);uniqueIndex;default:null" json:"referral_code"`
	// BonusBalance is never negative; debits are capped by the current value.
	BonusBalance int       `gorm:"column:bonus_balance;not null;default:0" json:"bonus_balance"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// Entitled reports whether the paid window is open at now.
func (u *User) Entitled(now time.Time) bool {
	return u != nil &&
		u.IsSubscribed &&
		u.SubscriptionEndDate != nil &&
		u.SubscriptionEndDate.After(now)
}
