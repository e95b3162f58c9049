package domain

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/cockroachdb/errors"
)

const ticketNumberPrefix = "TKT-"

// NewTicketNumber returns a 64-bit random, upper-case hex ticket number.
func NewTicketNumber() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "generate ticket number")
	}
	return ticketNumberPrefix + strings.ToUpper(hex.EncodeToString(b)), nil
}

func NormalizeTicketNumber(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
