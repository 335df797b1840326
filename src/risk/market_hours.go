package risk

import (
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
)

// MarketCalendar answers whether the exchange is open for regular trading.
// It models the NSE equity session: 09:15 to 15:30 IST, Monday to Friday,
// minus configured holidays. Live orders outside the session are rejected
// up front instead of bouncing off the broker.
type MarketCalendar struct {
	loc      *time.Location
	open     int // minutes from midnight
	close    int
	holidays map[string]bool // yyyy-mm-dd in exchange local time
}

// NewMarketCalendar builds the NSE session calendar. Holidays are local
// dates formatted yyyy-mm-dd.
func NewMarketCalendar(holidays []string) *MarketCalendar {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// IST has no DST; a fixed offset is an exact fallback.
		loc = time.FixedZone("IST", 5*3600+1800)
	}

	hs := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		hs[h] = true
	}

	return &MarketCalendar{
		loc:      loc,
		open:     9*60 + 15,
		close:    15*60 + 30,
		holidays: hs,
	}
}

// IsOpen reports whether the exchange trades at the given instant. Both
// session boundaries are inclusive.
func (c *MarketCalendar) IsOpen(t time.Time) bool {
	local := t.In(c.loc)

	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	if c.holidays[local.Format("2006-01-02")] {
		return false
	}

	minutes := local.Hour()*60 + local.Minute()
	return minutes >= c.open && minutes <= c.close
}

// Guard returns a risk rejection when the market is closed at the given
// instant, nil when it is open.
func (c *MarketCalendar) Guard(t time.Time) error {
	if c.IsOpen(t) {
		return nil
	}

	local := t.In(c.loc)

	logger.WithFields(map[string]interface{}{
		"module":     "risk",
		"op":         "MarketCalendar.Guard",
		"local_time": local.Format(time.RFC3339),
	}).Info("Market closed, rejecting intent")

	return &RejectionError{
		Code:   ReasonMarketClosed,
		Detail: fmt.Sprintf("market closed at %s", local.Format("2006-01-02 15:04 MST")),
	}
}
