package identity

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a 26-char ULID stamped with now (UTC now when zero).
// IDs minted in the same millisecond sort in mint order.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), ulid.DefaultEntropy())
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
