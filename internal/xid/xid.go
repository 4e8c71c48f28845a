package xid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// New returns a prefixed random identifier such as "sale-1f0c...".
func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// Invoice returns a human-facing invoice number derived from a fresh UUID.
func Invoice() string {
	id := uuid.New()
	return fmt.Sprintf("INV-%s", strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:10]))
}
