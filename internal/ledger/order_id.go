package ledger

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	orderIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	orderIDLength   = 8
)

// NewOrderID returns a short, human-readable order id such as "K3Q9ZT1M".
func NewOrderID() (string, error) {
	var b strings.Builder
	b.Grow(orderIDLength)
	base := big.NewInt(int64(len(orderIDAlphabet)))
	for i := 0; i < orderIDLength; i++ {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", fmt.Errorf("generate order id: %w", err)
		}
		b.WriteByte(orderIDAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func normalizeOrderID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
