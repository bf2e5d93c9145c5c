package tool

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateUUIDV7 returns a time-ordered id for primary keys.
func GenerateUUIDV7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewPaymentID returns a random v4 id. Payment ids travel to the gateway
// and back in redirect URLs, so they must not leak creation order.
func NewPaymentID() string {
	return uuid.NewString()
}

// RandomCode returns n upper-case hex characters, n at most 32.
func RandomCode(n int) string {
	s := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	if n < len(s) {
		s = s[:n]
	}
	return s
}
