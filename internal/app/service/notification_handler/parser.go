package notification_handler

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/studkg/cashier/pkg/types"
)

const (
	HeaderSignature = "signature"
	HeaderTimestamp = "x-api-timestamp"
)

// Notification is the payload Finik posts when a payment changes state.
type Notification struct {
	// ID is usually our PaymentId; TransactionID is the gateway's own id.
	// Either one may carry the value we stored.
	ID              string         `json:"id"`
	TransactionID   string         `json:"transactionId"`
	Status          string         `json:"status"`
	Amount          any            `json:"amount"`
	AccountID       string         `json:"accountId"`
	Fields          map[string]any `json:"fields"`
	RequestDate     any            `json:"requestDate"`
	TransactionDate any            `json:"transactionDate"`
}

func ParseNotification(body []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, err
	}
	n.ID = strings.TrimSpace(n.ID)
	n.TransactionID = strings.TrimSpace(n.TransactionID)
	return &n, nil
}

func (n *Notification) GatewayStatus() types.GatewayStatus {
	return types.GatewayStatus(strings.ToUpper(strings.TrimSpace(n.Status)))
}

// parseTimestamp reads x-api-timestamp, epoch milliseconds.
func parseTimestamp(v string) (time.Time, bool) {
	ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
