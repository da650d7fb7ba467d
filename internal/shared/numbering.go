package shared

import (
	"crypto/rand"
	"fmt"
)

// Document number prefixes, one per lifecycle entity.
const (
	PrefixPurchaseRequest  = "PR"
	PrefixQuotation        = "QT"
	PrefixPurchaseOrder    = "PO"
	PrefixGoodsReceipt     = "GR"
	PrefixGoodsReturn      = "RT"
	PrefixMaterialIssuance = "MI"
	PrefixChangeOrder      = "CO"
)

const numberAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const numberSuffixLen = 8

// DocumentNumber generates a human-readable identifier of the form
// <PREFIX>-<8 random upper alphanumerics>. A unique index on the number
// column is the final arbiter; collisions are not retried, the insert fails.
func DocumentNumber(prefix string) string {
	b := make([]byte, numberSuffixLen)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("shared: document number entropy unavailable: %v", err))
	}
	for i := range b {
		b[i] = numberAlphabet[int(b[i])%len(numberAlphabet)]
	}
	return fmt.Sprintf("%s-%s", prefix, string(b))
}
