package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/studkg/cashier/pkg/types"
)

// SubscriptionLog records every payment status transition.
// Use case: troubleshooting.
type SubscriptionLog struct {
	ID             string                         `gorm:"column:id;type:uuid;primary_key" json:"id"`
	SubscriptionID string                         `gorm:"column:subscription_id;type:varchar(64);index;not null"`
	UserID         *string                        `gorm:"column:user_id;type:varchar(64);index"`
	Reason         types.SubscriptionChangeReason `gorm:"column:reason;type:varchar(64);not null"`
	// Before stores the row before the change in JSON format.
	Before datatypes.JSONType[*Subscription] `gorm:"column:before;type:jsonb"`
	// After stores the row after the change in JSON format.
	After datatypes.JSONType[*Subscription] `gorm:"column:after;type:jsonb"`
	// Extra stores context such as the notification id and trigger source.
	Extra     datatypes.JSONMap `gorm:"column:extra;type:jsonb"`
	CreatedAt time.Time
}

func (SubscriptionLog) TableName() string {
	return "subscription_log"
}
