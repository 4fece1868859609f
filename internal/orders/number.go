package orders

import (
	"crypto/rand"
	"encoding/base32"
	"time"
)

// NewOrderNumber returns ORD-YYYYMMDD-XXXXXX with six random base32 characters.
func NewOrderNumber(now time.Time) (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	suffix := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)[:6]
	return "ORD-" + now.UTC().Format("20060102") + "-" + suffix, nil
}
