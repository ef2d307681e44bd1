package guard

import (
	"errors"
	"time"

	volumedomain "github.com/smallbiznis/uplink/internal/volume/domain"
)

var ErrPeriodOpen = errors.New("period_not_closed")

// EnsurePeriodClosed rejects periods that are malformed or have not ended
// as of now.
func EnsurePeriodClosed(period volumedomain.Period, now time.Time) error {
	if !period.Valid() {
		return volumedomain.ErrInvalidPeriod
	}
	if now.Before(period.End) {
		return ErrPeriodOpen
	}
	return nil
}
