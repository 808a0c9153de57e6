package gate

import (
	"fmt"
	"time"
)

// Trigger is a cron expression (five fields, or an @every descriptor) in
// the scheduler's location.
type Trigger string

// DailyAt fires once a day at c, or Monday-Friday only.
func DailyAt(c Clock, weekdaysOnly bool) Trigger {
	dow := "*"
	if weekdaysOnly {
		dow = "1-5"
	}
	return Trigger(fmt.Sprintf("%d %d * * %s", c.Minute, c.Hour, dow))
}

// Every fires every d. Whole-minute intervals that divide an hour align to
// the clock (":00, :30"); anything else counts from scheduler start.
// Intervals below a minute are raised to a minute.
func Every(d time.Duration) Trigger {
	if d < time.Minute {
		d = time.Minute
	}
	if d%time.Minute == 0 {
		switch n := int(d / time.Minute); {
		case n == 60:
			return "0 * * * *"
		case 60%n == 0:
			return Trigger(fmt.Sprintf("*/%d * * * *", n))
		}
	}
	return Trigger("@every " + d.String())
}

func (t Trigger) String() string {
	return string(t)
}
